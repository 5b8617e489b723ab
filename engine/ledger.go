package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// balanceEntry tracks the simulated holdings of one token. Amounts are
// 256-bit words; they never go negative and never silently saturate.
type balanceEntry struct {
	token  common.Address
	amount uint256.Int
}

// BalanceLedger is the bounded token ledger a full-mode simulation threads
// its intermediate balances through. Entries keep first-seen order; no two
// entries share a token. The capacity is fixed by the caller and sized to
// the number of distinct tokens the command sequence is expected to touch.
type BalanceLedger struct {
	entries []balanceEntry
	cap     int
}

// NewBalanceLedger returns an empty ledger holding at most capacity distinct
// tokens.
func NewBalanceLedger(capacity int) *BalanceLedger {
	if capacity < 0 {
		capacity = 0
	}
	return &BalanceLedger{
		entries: make([]balanceEntry, 0, capacity),
		cap:     capacity,
	}
}

func (l *BalanceLedger) find(token common.Address) *balanceEntry {
	for i := range l.entries {
		if l.entries[i].token == token {
			return &l.entries[i]
		}
	}
	return nil
}

// Increase credits amount to token, inserting a new entry for a first-seen
// token. Inserting beyond capacity fails with ErrMaxInvolvedTokensExceeded.
func (l *BalanceLedger) Increase(token common.Address, amount *big.Int) error {
	word, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if e := l.find(token); e != nil {
		if _, carry := e.amount.AddOverflow(&e.amount, word); carry {
			return fmt.Errorf("%w: ledger overflow for %s", ErrInvalidAmount, token)
		}
		return nil
	}
	if len(l.entries) >= l.cap {
		return fmt.Errorf("%w: capacity %d", ErrMaxInvolvedTokensExceeded, l.cap)
	}
	l.entries = append(l.entries, balanceEntry{token: token, amount: *word})
	return nil
}

// Decrease debits amount from token and returns the amount actually spent.
// The full-balance sentinel drains the tracked balance. Spending more than
// tracked, or spending a never-tracked token, fails with ErrBalanceUnderflow.
func (l *BalanceLedger) Decrease(token common.Address, amount *big.Int) (*big.Int, error) {
	e := l.find(token)
	if e == nil {
		return nil, fmt.Errorf("%w: token %s never tracked", ErrBalanceUnderflow, token)
	}
	if isFullBalance(amount) {
		drained := e.amount.ToBig()
		e.amount.Clear()
		return drained, nil
	}
	word, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if e.amount.Lt(word) {
		return nil, fmt.Errorf("%w: token %s tracked %v, want %v",
			ErrBalanceUnderflow, token, e.amount.ToBig(), amount)
	}
	e.amount.Sub(&e.amount, word)
	return new(big.Int).Set(amount), nil
}

// Balance reports the tracked amount for token and whether it has ever been
// tracked.
func (l *BalanceLedger) Balance(token common.Address) (*big.Int, bool) {
	if e := l.find(token); e != nil {
		return e.amount.ToBig(), true
	}
	return nil, false
}

// Entry is one observable ledger row.
type Entry struct {
	Token  common.Address
	Amount *big.Int
}

// Entries returns the ledger rows in first-seen order.
func (l *BalanceLedger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i := range l.entries {
		out[i] = Entry{Token: l.entries[i].token, Amount: l.entries[i].amount.ToBig()}
	}
	return out
}

// Tokens returns the tracked tokens in first-seen order.
func (l *BalanceLedger) Tokens() []common.Address {
	out := make([]common.Address, len(l.entries))
	for i := range l.entries {
		out[i] = l.entries[i].token
	}
	return out
}

// Len is the number of distinct tokens tracked so far.
func (l *BalanceLedger) Len() int {
	return len(l.entries)
}
