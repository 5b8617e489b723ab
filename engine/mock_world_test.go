package engine

import (
	"math/big"
	"testing"
)

func TestMemWorldSnapshotRevert(t *testing.T) {
	e := newTestEnv()
	e.world.Mint(addrDAI, addrAlice, big.NewInt(100))
	e.world.MintNative(addrAlice, big.NewInt(10))

	snap := e.world.Snapshot()

	if err := e.world.Transfer(addrDAI, addrAlice, addrBob, big.NewInt(60)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := e.world.Approve(addrDAI, addrAlice, addrBob, big.NewInt(5)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := e.world.TransferNative(addrAlice, addrBob, big.NewInt(10)); err != nil {
		t.Fatalf("native transfer: %v", err)
	}
	if _, err := e.world.Deposit(addrVault, addrAlice, big.NewInt(1), addrAlice); err == nil {
		t.Fatal("deposit without allowance succeeded")
	}

	e.world.RevertToSnapshot(snap)

	assertBig(t, "alice DAI", e.balance(t, addrDAI, addrAlice), 100)
	assertBig(t, "bob DAI", e.balance(t, addrDAI, addrBob), 0)
	assertBig(t, "alice->bob allowance", e.allowance(t, addrDAI, addrAlice, addrBob), 0)
	native, err := e.world.NativeBalanceOf(addrAlice)
	if err != nil {
		t.Fatalf("native balance: %v", err)
	}
	assertBig(t, "alice native", native, 10)
}

func TestMemWorldNestedSnapshots(t *testing.T) {
	e := newTestEnv()
	e.world.Mint(addrDAI, addrAlice, big.NewInt(100))

	outer := e.world.Snapshot()
	if err := e.world.Transfer(addrDAI, addrAlice, addrBob, big.NewInt(10)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	inner := e.world.Snapshot()
	if err := e.world.Transfer(addrDAI, addrAlice, addrBob, big.NewInt(20)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	e.world.RevertToSnapshot(inner)
	assertBig(t, "bob DAI after inner revert", e.balance(t, addrDAI, addrBob), 10)

	e.world.RevertToSnapshot(outer)
	assertBig(t, "bob DAI after outer revert", e.balance(t, addrDAI, addrBob), 0)
}

func TestMemWorldUnboundedAllowanceNotConsumed(t *testing.T) {
	e := newTestEnv()
	e.world.Mint(addrDAI, addrAlice, big.NewInt(100))
	if err := e.world.Approve(addrDAI, addrAlice, addrBob, new(big.Int).Set(UseFullBalance)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := e.world.TransferFrom(addrDAI, addrBob, addrAlice, addrBob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if got := e.allowance(t, addrDAI, addrAlice, addrBob); got.Cmp(UseFullBalance) != 0 {
		t.Fatalf("unbounded allowance was decremented to %v", got)
	}
}

func TestMemWorldExchangeConservesReserves(t *testing.T) {
	e := newTestEnv()
	e.seedPool(1000, 1000)
	e.world.Mint(addrVault, addrAlice, big.NewInt(100))
	if err := e.world.Approve(addrVault, addrAlice, addrPool, big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	dy, err := e.world.Exchange(addrPool, addrAlice, 0, 1, big.NewInt(100), big.NewInt(0), addrAlice)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	assertBig(t, "dy", dy, 100)
	assertBig(t, "pool coin0", e.balance(t, addrVault, addrPool), 1100)
	assertBig(t, "pool coin1", e.balance(t, addrPT, addrPool), 900)
	assertBig(t, "alice coin1", e.balance(t, addrPT, addrAlice), 100)
}
