package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StateReader is the read-only view of the external world the simulator runs
// against. Every method maps onto a view/preview entry point of the
// corresponding on-chain primitive; none of them mutate anything. All
// collaborators are keyed by address, the way a StateDB keys accounts.
type StateReader interface {
	// ERC-20 views.
	BalanceOf(token, owner common.Address) (*big.Int, error)
	NativeBalanceOf(owner common.Address) (*big.Int, error)
	Allowance(token, owner, spender common.Address) (*big.Int, error)
	Decimals(token common.Address) (uint8, error)
	TotalSupply(token common.Address) (*big.Int, error)

	// AMM pool views. Coin index mapping is the source of truth for which
	// token a pool operation spends; an index outside the pool's
	// composition yields ErrInvalidTokenIndex.
	PoolCoin(pool common.Address, i int) (common.Address, error)
	PoolLPToken(pool common.Address) (common.Address, error)
	PoolBalance(pool common.Address, i int) (*big.Int, error)
	GetDy(pool common.Address, i, j int, dx *big.Int) (*big.Int, error)
	CalcTokenAmount(pool common.Address, amounts [2]*big.Int) (*big.Int, error)
	CalcWithdrawOneCoin(pool common.Address, lpAmount *big.Int, i int) (*big.Int, error)

	// ERC-4626 vault views. Vault shares are the vault's own address as a
	// token.
	VaultAsset(vault common.Address) (common.Address, error)
	PreviewDeposit(vault common.Address, assets *big.Int) (*big.Int, error)
	PreviewRedeem(vault common.Address, shares *big.Int) (*big.Int, error)

	// 4626 wrapper adapter views.
	AdapterVault(adapter common.Address) (common.Address, error)
	PreviewWrap(adapter common.Address, vaultShares *big.Int) (*big.Int, error)
	PreviewUnwrap(adapter common.Address, wrapperShares *big.Int) (*big.Int, error)

	// Principal-token views.
	PTIBT(pt common.Address) (common.Address, error)
	PTUnderlying(pt common.Address) (common.Address, error)
	PTPreviewDeposit(pt common.Address, assets *big.Int) (*big.Int, error)
	PTPreviewDepositIBT(pt common.Address, ibtAmount *big.Int) (*big.Int, error)
	PTPreviewRedeem(pt common.Address, shares *big.Int) (*big.Int, error)
	PTPreviewRedeemForIBT(pt common.Address, shares *big.Int) (*big.Int, error)

	// Liquidity-market views. Market LP shares are the market's own
	// address as a token.
	PreviewRemoveLiquiditySingleToken(market, tokenOut common.Address, lpAmount *big.Int) (*big.Int, error)
}

// World extends StateReader with the state-mutating entry points the
// interpreter drives, plus snapshot/revert so an invocation can be abolished
// as a unit. Implementations decide what a snapshot identifier means; the
// router only pairs each Snapshot with at most one RevertToSnapshot.
type World interface {
	StateReader

	Snapshot() int
	RevertToSnapshot(id int)

	// ERC-20 operations. TransferFrom consumes spender's allowance granted
	// by owner; Permit is an opaque pre-authorization of spender by owner
	// and may fail without invalidating an already-sufficient allowance.
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error
	Approve(token, owner, spender common.Address, amount *big.Int) error
	Permit(token, owner, spender common.Address, value, deadline *big.Int, v uint8, rSig, sSig [32]byte) error
	TransferNative(from, to common.Address, amount *big.Int) error

	// ForwardCall relays an opaque, externally constructed payload to
	// target, optionally attaching native value taken from caller.
	ForwardCall(caller, target common.Address, payload []byte, value *big.Int) error

	// AMM pool operations. The pool pulls spent coins from caller, so the
	// caller must have approved the pool beforehand.
	Exchange(pool, caller common.Address, i, j int, dx, minDy *big.Int, receiver common.Address) (*big.Int, error)
	AddLiquidity(pool, caller common.Address, amounts [2]*big.Int, minMintAmount *big.Int, receiver common.Address) (*big.Int, error)
	RemoveLiquidity(pool, caller common.Address, lpAmount *big.Int, minAmounts [2]*big.Int, receiver common.Address) ([2]*big.Int, error)
	RemoveLiquidityOneCoin(pool, caller common.Address, lpAmount *big.Int, i int, minAmount *big.Int, receiver common.Address) (*big.Int, error)

	// ERC-4626 vault operations.
	Deposit(vault, caller common.Address, assets *big.Int, receiver common.Address) (*big.Int, error)
	Redeem(vault, caller common.Address, shares *big.Int, receiver common.Address) (*big.Int, error)

	// 4626 wrapper adapter operations.
	Wrap(adapter, caller common.Address, vaultShares *big.Int, receiver common.Address) (*big.Int, error)
	Unwrap(adapter, caller common.Address, wrapperShares *big.Int, receiver common.Address) (*big.Int, error)

	// Principal-token operations.
	PTDeposit(pt, caller common.Address, assets *big.Int, ptReceiver, ytReceiver common.Address) (*big.Int, error)
	PTDepositIBT(pt, caller common.Address, ibtAmount *big.Int, ptReceiver, ytReceiver common.Address) (*big.Int, error)
	PTRedeem(pt, caller common.Address, shares *big.Int, receiver common.Address) (*big.Int, error)
	PTRedeemForIBT(pt, caller common.Address, shares *big.Int, receiver common.Address) (*big.Int, error)

	// FlashLoan lends amount of token to the borrower, invokes its
	// callback, and pulls repayment (plus fee) before returning.
	FlashLoan(lender common.Address, borrower FlashBorrower, token common.Address, amount *big.Int, data []byte) error

	// Liquidity-market exit. The market pulls LP shares from caller via
	// the market router's allowance.
	RemoveLiquiditySingleToken(market, caller, receiver common.Address, lpAmount *big.Int, output TokenOutput, limitOrderData []byte) (*big.Int, error)
}

// TokenOutput describes the single-token side of a liquidity-market exit.
type TokenOutput struct {
	TokenOut    common.Address
	MinTokenOut *big.Int
}

// FlashBorrower is the callback surface a flash-loan lender drives. The
// router implements it; Address is the account the loan is credited to.
type FlashBorrower interface {
	Address() common.Address
	OnFlashLoan(lender, initiator, token common.Address, amount, fee *big.Int, data []byte) error
}

// Registry classifies external counterparties. Its rules are an external
// collaborator decision; the engine only consumes the two predicates.
type Registry interface {
	// IsTrusted selects the persistent unbounded-allowance policy for a
	// spender. Everything else gets the grant/revoke ad-hoc policy.
	IsTrusted(addr common.Address) bool

	// IsRegisteredPT reports whether addr is a protocol-native
	// principal-token contract, the only kind accepted as a flash-loan
	// lender.
	IsRegisteredPT(addr common.Address) bool
}
