package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Reserved argument values. None of them can collide with a real deployed
// contract, so they are substituted at resolution time rather than rejected
// at decode time.
var (
	// NativeToken is the conventional pseudo-address for the chain's gas
	// token.
	NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

	// UseCaller resolves to the invocation's initiator.
	UseCaller = common.HexToAddress("0x0000000000000000000000000000000000000001")

	// UseSelf resolves to the router's own address.
	UseSelf = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

// UseFullBalance is the reserved amount meaning "spend everything currently
// held". It aliases math.MaxBig256 and must never be mutated.
var UseFullBalance = math.MaxBig256

func isFullBalance(v *big.Int) bool {
	return v != nil && v.Cmp(UseFullBalance) == 0
}

// resolveAddress maps sentinel addresses onto concrete ones. Non-sentinel
// inputs pass through untouched, which makes resolution idempotent.
func (r *Router) resolveAddress(addr common.Address) common.Address {
	switch addr {
	case UseCaller:
		return r.ctx.msgSender
	case UseSelf:
		return r.cfg.Self
	default:
		return addr
	}
}

// resolveValue substitutes the full-balance sentinel with the router's live
// holdings of token. A zero result is valid; spending opcodes treat it as a
// no-op.
func (r *Router) resolveValue(token common.Address, value *big.Int) (*big.Int, error) {
	if !isFullBalance(value) {
		return value, nil
	}
	if token == NativeToken {
		return r.world.NativeBalanceOf(r.cfg.Self)
	}
	return r.world.BalanceOf(token, r.cfg.Self)
}
