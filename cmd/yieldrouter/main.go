// yieldrouter previews command programs against yield-protocol liquidity.
// It never sends a transaction: programs are priced through view and preview
// entry points only, either over RPC or against a built-in demo world.
package main

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/urfave/cli/v2"

	"github.com/openyield/yieldrouter/engine"
	"github.com/openyield/yieldrouter/onchain"
)

var (
	programFlag = &cli.PathFlag{
		Name:     "program",
		Aliases:  []string{"p"},
		Usage:    "JSON program file: [{\"op\": \"CURVE_SWAP\", \"input\": \"0x...\"}, ...]",
		Required: true,
	}
	rpcFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "RPC endpoint to read chain state from",
	}
	memFlag = &cli.BoolFlag{
		Name:  "mem",
		Usage: "run against the built-in in-memory demo world instead of RPC",
	}
	spotFlag = &cli.BoolFlag{
		Name:  "spot",
		Usage: "price one base unit per step instead of the supplied amounts",
	}
	ledgerCapFlag = &cli.IntFlag{
		Name:  "ledger-cap",
		Usage: "max distinct tokens a full-mode preview may involve",
		Value: 8,
	}
	routerFlag = &cli.StringFlag{
		Name:  "router",
		Usage: "deployed router address (the program's SELF)",
	}
	kyberRouterFlag = &cli.StringFlag{
		Name:  "kyber-router",
		Usage: "aggregation router address forwarded to by KYBER_SWAP",
	}
	marketRouterFlag = &cli.StringFlag{
		Name:  "market-router",
		Usage: "liquidity-market router address",
	}
	trustedFlag = &cli.StringSliceFlag{
		Name:  "trusted",
		Usage: "spender granted the persistent allowance policy (repeatable)",
	}
	ptFlag = &cli.StringSliceFlag{
		Name:  "pt",
		Usage: "registered principal-token address (repeatable)",
	}
	blockFlag = &cli.Int64Flag{
		Name:  "block",
		Usage: "block number to pin reads to (0 = latest)",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0=silent, 5=trace)",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:  "yieldrouter",
		Usage: "preview command programs against yield-protocol liquidity",
		Commands: []*cli.Command{
			previewCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var previewCommand = &cli.Command{
	Name:  "preview",
	Usage: "simulate a program and report its end-to-end exchange rate",
	Flags: []cli.Flag{
		programFlag, rpcFlag, memFlag, spotFlag, ledgerCapFlag,
		routerFlag, kyberRouterFlag, marketRouterFlag,
		trustedFlag, ptFlag, blockFlag, verbosityFlag,
	},
	Action: runPreview,
}

func setupLogging(verbosity int) {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(verbosity), false)
	log.SetDefault(log.NewLogger(handler))
}

func registryFromFlags(ctx *cli.Context) *engine.MemRegistry {
	reg := engine.NewMemRegistry()
	for _, s := range ctx.StringSlice(trustedFlag.Name) {
		reg.Trust(common.HexToAddress(s))
	}
	for _, s := range ctx.StringSlice(ptFlag.Name) {
		reg.RegisterPT(common.HexToAddress(s))
	}
	return reg
}

func runPreview(ctx *cli.Context) error {
	setupLogging(ctx.Int(verbosityFlag.Name))

	tags, inputs, err := loadProgramFile(ctx.Path(programFlag.Name))
	if err != nil {
		return err
	}

	mode := engine.FullRate
	if ctx.Bool(spotFlag.Name) {
		mode = engine.SpotRate
	}

	var (
		reader engine.StateReader
		cfg    engine.Config
	)
	if ctx.Bool(memFlag.Name) {
		world, demoCfg := demoWorld()
		reader, cfg = world, demoCfg
	} else {
		if ctx.String(rpcFlag.Name) == "" {
			return fmt.Errorf("either --rpc or --mem is required")
		}
		rpcClient, err := rpc.DialContext(ctx.Context, ctx.String(rpcFlag.Name))
		if err != nil {
			return fmt.Errorf("dial %s: %w", ctx.String(rpcFlag.Name), err)
		}
		defer rpcClient.Close()
		var block *big.Int
		if n := ctx.Int64(blockFlag.Name); n > 0 {
			block = big.NewInt(n)
		}
		reader = onchain.NewReader(ctx.Context, ethclient.NewClient(rpcClient), block)
		cfg = engine.Config{
			Self:         common.HexToAddress(ctx.String(routerFlag.Name)),
			KyberRouter:  common.HexToAddress(ctx.String(kyberRouterFlag.Name)),
			MarketRouter: common.HexToAddress(ctx.String(marketRouterFlag.Name)),
			Registry:     registryFromFlags(ctx),
		}
	}

	sim := engine.NewSimulator(reader, cfg, mode, ctx.Int(ledgerCapFlag.Name))
	rate, steps, err := sim.PreviewSteps(tags, inputs)
	if err != nil {
		return err
	}
	for i, step := range steps {
		log.Info("Step rate", "index", i, "op", engine.Opcode(tags[i]&engine.CommandTypeMask).String(),
			"rate", formatRay(step))
	}
	fmt.Printf("rate: %s (%s)\n", rate, formatRay(rate))

	if ctx.Bool(memFlag.Name) {
		// Self check: the same program must execute cleanly on the demo
		// world the preview just priced.
		world, demoCfg := demoWorld()
		router := engine.New(world, demoCfg)
		if err := router.Execute(demoCaller, tags, inputs); err != nil {
			log.Warn("Demo execution diverged from preview", "err", err)
			return nil
		}
		log.Info("Demo execution matched preview", "caller", demoCaller)
	}
	return nil
}

// formatRay renders a RAY-scaled rate as a decimal with trailing zeros
// trimmed.
func formatRay(rate *big.Int) string {
	quo := new(big.Int)
	rem := new(big.Int)
	quo.QuoRem(rate, engine.Ray, rem)
	frac := strings.TrimRight(fmt.Sprintf("%027d", rem), "0")
	if frac == "" {
		return quo.String()
	}
	return quo.String() + "." + frac
}
