package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// approveSpend authorizes spender to pull amount of token from the router.
// Registry-trusted spenders get a one-time unbounded grant that is never
// revoked; everyone else gets an exact grant that revokeSpend zeroes after
// the call, keeping standing exposure at zero between invocations.
func (r *Router) approveSpend(token, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if r.cfg.Registry.IsTrusted(spender) {
		current, err := r.world.Allowance(token, r.cfg.Self, spender)
		if err != nil {
			return err
		}
		if current.Cmp(amount) >= 0 {
			return nil
		}
		return r.world.Approve(token, r.cfg.Self, spender, new(big.Int).Set(UseFullBalance))
	}
	return r.world.Approve(token, r.cfg.Self, spender, amount)
}

// revokeSpend tears down an ad-hoc grant. Trusted spenders keep theirs.
func (r *Router) revokeSpend(token, spender common.Address) error {
	if r.cfg.Registry.IsTrusted(spender) {
		return nil
	}
	return r.world.Approve(token, r.cfg.Self, spender, new(big.Int))
}
