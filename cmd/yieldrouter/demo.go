package main

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/openyield/yieldrouter/engine"
)

// Fixed addresses of the in-memory demo deployment. Programs run with --mem
// reference these.
var (
	demoRouter  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	demoCaller  = common.HexToAddress("0x1000000000000000000000000000000000000002")
	demoAsset   = common.HexToAddress("0x1000000000000000000000000000000000000010")
	demoVault   = common.HexToAddress("0x1000000000000000000000000000000000000011")
	demoAdapter = common.HexToAddress("0x1000000000000000000000000000000000000012")
	demoPT      = common.HexToAddress("0x1000000000000000000000000000000000000013")
	demoYT      = common.HexToAddress("0x1000000000000000000000000000000000000014")
	demoPool    = common.HexToAddress("0x1000000000000000000000000000000000000015")
	demoMarket  = common.HexToAddress("0x1000000000000000000000000000000000000016")
	demoMktRtr  = common.HexToAddress("0x1000000000000000000000000000000000000017")
)

// demoWorld builds a deterministic in-memory deployment: an 18-decimal asset,
// a 1:1 vault, a 2:1 wrapper adapter, a 1:1 principal token, a fee-free
// IBT/PT pool at parity and a 2:1 single-token market. The caller starts
// funded and pre-approved.
func demoWorld() (*engine.MemWorld, engine.Config) {
	one := big.NewInt(1)
	two := big.NewInt(2)
	grand := new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

	w := engine.NewMemWorld()
	w.CreateToken(demoAsset, 18)
	w.CreateVault(demoVault, demoAsset, one, one, 18)
	w.CreateAdapter(demoAdapter, demoVault, two, one, 18)
	w.CreatePrincipalToken(demoPT, demoVault, demoAsset, demoYT, one, one, 0, 18)
	w.CreatePool(demoPool, demoVault, demoPT, one, one, 0)
	w.CreateMarket(demoMarket, demoPT, two, one, 18)
	w.SetMarketRouter(demoMktRtr)

	// Liquidity and caller funding.
	w.Mint(demoVault, demoPool, grand)
	w.Mint(demoPT, demoPool, grand)
	w.Mint(demoVault, demoPT, grand)
	w.Mint(demoPT, demoMarket, grand)
	w.Mint(demoAsset, demoCaller, grand)
	w.Mint(demoVault, demoCaller, grand)
	w.Mint(demoMarket, demoRouter, grand)
	for _, token := range []common.Address{demoAsset, demoVault} {
		if err := w.Approve(token, demoCaller, demoRouter, new(big.Int).Set(engine.UseFullBalance)); err != nil {
			log.Crit("Demo approval failed", "token", token, "err", err)
		}
	}

	reg := engine.NewMemRegistry()
	reg.RegisterPT(demoPT)

	log.Info("Demo world ready",
		"router", demoRouter, "caller", demoCaller, "asset", demoAsset,
		"vault", demoVault, "adapter", demoAdapter, "pt", demoPT,
		"pool", demoPool, "market", demoMarket)

	return w, engine.Config{
		Self:         demoRouter,
		KyberRouter:  common.Address{},
		MarketRouter: demoMktRtr,
		Registry:     reg,
	}
}
