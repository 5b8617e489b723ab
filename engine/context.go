package engine

import "github.com/ethereum/go-ethereum/common"

// execContext is the transient, invocation-scoped state of the router. It is
// owned by exactly one invocation; both fields must read as zero whenever no
// invocation (or no flash-loan callback) is in flight, so nothing can leak
// into a later invocation or be impersonated by a nested call.
type execContext struct {
	// msgSender is the logical initiator of the current invocation.
	msgSender common.Address

	// flashLender is non-zero only while a flash-loan callback is in
	// flight; it names the one lender allowed to call back into the
	// router.
	flashLender common.Address
}

func (c *execContext) reset() {
	c.msgSender = common.Address{}
	c.flashLender = common.Address{}
}
