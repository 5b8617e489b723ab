package engine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Every error below is fatal to the invocation that raised it: the
// dispatcher reverts the world to its pre-invocation snapshot and returns
// the error unchanged, so callers always observe all-or-nothing semantics.
var (
	ErrInvalidCommandType = errors.New("invalid command type")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrCallFailed         = errors.New("forwarded call failed")
	ErrPermitFailed       = errors.New("permit failed")

	ErrMaxInvolvedTokensExceeded = errors.New("max involved tokens exceeded")
	ErrBalanceUnderflow          = errors.New("balance underflow")

	ErrInvalidFlashloanLender = errors.New("invalid flashloan lender")
	ErrInvalidTokenIndex      = errors.New("invalid token index")
)

// MinimumBalanceError is returned by the ASSERT_MIN_BALANCE guard. It carries
// the live balance so callers can tell how far short the assertion fell.
type MinimumBalanceError struct {
	Token   common.Address
	Owner   common.Address
	Minimum *big.Int
	Actual  *big.Int
}

func (e *MinimumBalanceError) Error() string {
	return fmt.Sprintf("minimum balance not reached: token %s owner %s minimum %v actual %v",
		e.Token, e.Owner, e.Minimum, e.Actual)
}
