package engine

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestLedgerTracksFirstSeenOrder(t *testing.T) {
	l := NewBalanceLedger(4)
	a := common.HexToAddress("0xaa")
	b := common.HexToAddress("0xbb")

	if err := l.Increase(a, big.NewInt(10)); err != nil {
		t.Fatalf("increase a: %v", err)
	}
	if err := l.Increase(b, big.NewInt(20)); err != nil {
		t.Fatalf("increase b: %v", err)
	}
	if err := l.Increase(a, big.NewInt(5)); err != nil {
		t.Fatalf("increase a again: %v", err)
	}

	tokens := l.Tokens()
	if len(tokens) != 2 || tokens[0] != a || tokens[1] != b {
		t.Fatalf("unexpected token order: %v", tokens)
	}
	if bal, ok := l.Balance(a); !ok || bal.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("balance a = %v, %v", bal, ok)
	}

	// Credits minus debits equals the tracked balance.
	if _, err := l.Decrease(a, big.NewInt(4)); err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if bal, _ := l.Balance(a); bal.Cmp(big.NewInt(11)) != 0 {
		t.Fatalf("balance a after debit = %v", bal)
	}
	entries := l.Entries()
	if len(entries) != 2 || entries[0].Token != a || entries[0].Amount.Cmp(big.NewInt(11)) != 0 {
		t.Fatalf("entries = %v", entries)
	}
}

func TestLedgerCapacityBound(t *testing.T) {
	l := NewBalanceLedger(2)
	for i := 0; i < 2; i++ {
		token := common.BigToAddress(big.NewInt(int64(i + 1)))
		if err := l.Increase(token, big.NewInt(1)); err != nil {
			t.Fatalf("increase %d: %v", i, err)
		}
	}
	// Re-touching a tracked token consumes no capacity.
	if err := l.Increase(common.BigToAddress(big.NewInt(1)), big.NewInt(1)); err != nil {
		t.Fatalf("re-increase: %v", err)
	}
	err := l.Increase(common.BigToAddress(big.NewInt(3)), big.NewInt(1))
	if !errors.Is(err, ErrMaxInvolvedTokensExceeded) {
		t.Fatalf("want ErrMaxInvolvedTokensExceeded, got %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("len = %d after failed insert", l.Len())
	}
}

func TestLedgerDecreaseUnderflow(t *testing.T) {
	l := NewBalanceLedger(2)
	token := common.HexToAddress("0xaa")

	if _, err := l.Decrease(token, big.NewInt(1)); !errors.Is(err, ErrBalanceUnderflow) {
		t.Fatalf("untracked decrease: want ErrBalanceUnderflow, got %v", err)
	}

	if err := l.Increase(token, big.NewInt(10)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if _, err := l.Decrease(token, big.NewInt(11)); !errors.Is(err, ErrBalanceUnderflow) {
		t.Fatalf("overspend: want ErrBalanceUnderflow, got %v", err)
	}
	if bal, _ := l.Balance(token); bal.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balance changed by failed decrease: %v", bal)
	}
}

func TestLedgerFullBalanceDrains(t *testing.T) {
	l := NewBalanceLedger(1)
	token := common.HexToAddress("0xaa")
	if err := l.Increase(token, big.NewInt(42)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	spent, err := l.Decrease(token, UseFullBalance)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if spent.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("drained %v, want 42", spent)
	}
	if bal, ok := l.Balance(token); !ok || bal.Sign() != 0 {
		t.Fatalf("post-drain balance %v, tracked %v", bal, ok)
	}
	// A drained token stays tracked, so draining again yields zero.
	if spent, err = l.Decrease(token, UseFullBalance); err != nil || spent.Sign() != 0 {
		t.Fatalf("second drain: %v, %v", spent, err)
	}
}

func TestLedgerRejectsNegativeAmounts(t *testing.T) {
	l := NewBalanceLedger(1)
	token := common.HexToAddress("0xaa")
	if err := l.Increase(token, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative increase: want ErrInvalidAmount, got %v", err)
	}
}
