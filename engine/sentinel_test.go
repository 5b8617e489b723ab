package engine

import (
	"math/big"
	"testing"
)

func TestResolveAddress(t *testing.T) {
	e := newTestEnv()
	e.router.ctx.msgSender = addrAlice

	if got := e.router.resolveAddress(UseCaller); got != addrAlice {
		t.Fatalf("USE_CALLER resolved to %s", got)
	}
	if got := e.router.resolveAddress(UseSelf); got != addrSelf {
		t.Fatalf("USE_SELF resolved to %s", got)
	}
	// Resolution is idempotent: concrete addresses pass through.
	if got := e.router.resolveAddress(addrBob); got != addrBob {
		t.Fatalf("concrete address resolved to %s", got)
	}
	if got := e.router.resolveAddress(e.router.resolveAddress(UseSelf)); got != addrSelf {
		t.Fatalf("double resolution yielded %s", got)
	}
}

func TestResolveValueReadsLiveBalance(t *testing.T) {
	e := newTestEnv()
	e.world.Mint(addrVault, addrSelf, big.NewInt(77))
	e.world.MintNative(addrSelf, big.NewInt(33))

	got, err := e.router.resolveValue(addrVault, UseFullBalance)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	assertBig(t, "full token balance", got, 77)

	got, err = e.router.resolveValue(NativeToken, UseFullBalance)
	if err != nil {
		t.Fatalf("resolve native: %v", err)
	}
	assertBig(t, "full native balance", got, 33)

	literal := big.NewInt(5)
	got, err = e.router.resolveValue(addrVault, literal)
	if err != nil {
		t.Fatalf("resolve literal: %v", err)
	}
	if got != literal {
		t.Fatal("literal amount was not passed through")
	}
}

func TestIsFullBalance(t *testing.T) {
	if !isFullBalance(new(big.Int).Set(UseFullBalance)) {
		t.Fatal("copy of the sentinel not recognized")
	}
	almost := new(big.Int).Sub(UseFullBalance, big.NewInt(1))
	if isFullBalance(almost) || isFullBalance(nil) || isFullBalance(big.NewInt(0)) {
		t.Fatal("non-sentinel value recognized as full balance")
	}
}
