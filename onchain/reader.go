// Package onchain implements the engine's read-only state view over live
// contracts. Every StateReader method maps to one eth_call against the
// corresponding view or preview entry point; nothing here signs or sends.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/openyield/yieldrouter/engine"
)

// Backend is the slice of an RPC client the reader needs. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractCaller
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

var (
	erc20ABI = mustABI(`[
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]},
		{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
	]`)

	poolABI = mustABI(`[
		{"type":"function","name":"coins","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[{"type":"address"}]},
		{"type":"function","name":"balances","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"get_dy","stateMutability":"view","inputs":[{"name":"i","type":"int128"},{"name":"j","type":"int128"},{"name":"dx","type":"uint256"}],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"calc_token_amount","stateMutability":"view","inputs":[{"name":"amounts","type":"uint256[2]"},{"name":"is_deposit","type":"bool"}],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"calc_withdraw_one_coin","stateMutability":"view","inputs":[{"name":"burn_amount","type":"uint256"},{"name":"i","type":"int128"}],"outputs":[{"type":"uint256"}]}
	]`)

	vaultABI = mustABI(`[
		{"type":"function","name":"asset","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
		{"type":"function","name":"previewDeposit","stateMutability":"view","inputs":[{"name":"assets","type":"uint256"}],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"previewRedeem","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"type":"uint256"}]}
	]`)

	adapterABI = mustABI(`[
		{"type":"function","name":"vault","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
		{"type":"function","name":"previewWrap","stateMutability":"view","inputs":[{"name":"vaultShares","type":"uint256"}],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"previewUnwrap","stateMutability":"view","inputs":[{"name":"wrapperShares","type":"uint256"}],"outputs":[{"type":"uint256"}]}
	]`)

	ptABI = mustABI(`[
		{"type":"function","name":"getIBT","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
		{"type":"function","name":"underlying","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
		{"type":"function","name":"previewDeposit","stateMutability":"view","inputs":[{"name":"assets","type":"uint256"}],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"previewDepositIBT","stateMutability":"view","inputs":[{"name":"ibtAmount","type":"uint256"}],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"previewRedeem","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"type":"uint256"}]},
		{"type":"function","name":"previewRedeemForIBT","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"type":"uint256"}]}
	]`)

	marketABI = mustABI(`[
		{"type":"function","name":"removeLiquiditySingleTokenStatic","stateMutability":"view","inputs":[{"name":"netLpToRemove","type":"uint256"},{"name":"tokenOut","type":"address"}],"outputs":[{"name":"netTokenOut","type":"uint256"},{"name":"netSyFee","type":"uint256"},{"name":"priceImpact","type":"uint256"}]}
	]`)
)

// Reader satisfies engine.StateReader against a live chain at a pinned block.
// A nil block reads latest.
type Reader struct {
	backend Backend
	ctx     context.Context
	block   *big.Int
}

var _ engine.StateReader = (*Reader)(nil)

// NewReader binds a reader to backend. The context bounds every call the
// reader issues.
func NewReader(ctx context.Context, backend Backend, block *big.Int) *Reader {
	return &Reader{backend: backend, ctx: ctx, block: block}
}

func (r *Reader) call(target common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &target, Data: input}
	res, err := r.backend.CallContract(r.ctx, msg, r.block)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, target, err)
	}
	vals, err := contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s on %s: %w", method, target, err)
	}
	return vals, nil
}

func (r *Reader) callBig(target common.Address, contract *abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	vals, err := r.call(target, contract, method, args...)
	if err != nil {
		return nil, err
	}
	out, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s on %s: unexpected return type %T", method, target, vals[0])
	}
	return out, nil
}

func (r *Reader) callAddress(target common.Address, contract *abi.ABI, method string, args ...interface{}) (common.Address, error) {
	vals, err := r.call(target, contract, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	out, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s on %s: unexpected return type %T", method, target, vals[0])
	}
	return out, nil
}

func (r *Reader) BalanceOf(token, owner common.Address) (*big.Int, error) {
	return r.callBig(token, &erc20ABI, "balanceOf", owner)
}

func (r *Reader) NativeBalanceOf(owner common.Address) (*big.Int, error) {
	return r.backend.BalanceAt(r.ctx, owner, r.block)
}

func (r *Reader) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	return r.callBig(token, &erc20ABI, "allowance", owner, spender)
}

func (r *Reader) Decimals(token common.Address) (uint8, error) {
	vals, err := r.call(token, &erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	out, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals on %s: unexpected return type %T", token, vals[0])
	}
	return out, nil
}

func (r *Reader) TotalSupply(token common.Address) (*big.Int, error) {
	return r.callBig(token, &erc20ABI, "totalSupply")
}

func (r *Reader) PoolCoin(pool common.Address, i int) (common.Address, error) {
	return r.callAddress(pool, &poolABI, "coins", big.NewInt(int64(i)))
}

// PoolLPToken returns the pool itself: stableswap-NG pools are their own LP
// token.
func (r *Reader) PoolLPToken(pool common.Address) (common.Address, error) {
	return pool, nil
}

func (r *Reader) PoolBalance(pool common.Address, i int) (*big.Int, error) {
	return r.callBig(pool, &poolABI, "balances", big.NewInt(int64(i)))
}

func (r *Reader) GetDy(pool common.Address, i, j int, dx *big.Int) (*big.Int, error) {
	return r.callBig(pool, &poolABI, "get_dy", big.NewInt(int64(i)), big.NewInt(int64(j)), dx)
}

func (r *Reader) CalcTokenAmount(pool common.Address, amounts [2]*big.Int) (*big.Int, error) {
	return r.callBig(pool, &poolABI, "calc_token_amount", amounts, true)
}

func (r *Reader) CalcWithdrawOneCoin(pool common.Address, lpAmount *big.Int, i int) (*big.Int, error) {
	return r.callBig(pool, &poolABI, "calc_withdraw_one_coin", lpAmount, big.NewInt(int64(i)))
}

func (r *Reader) VaultAsset(vault common.Address) (common.Address, error) {
	return r.callAddress(vault, &vaultABI, "asset")
}

func (r *Reader) PreviewDeposit(vault common.Address, assets *big.Int) (*big.Int, error) {
	return r.callBig(vault, &vaultABI, "previewDeposit", assets)
}

func (r *Reader) PreviewRedeem(vault common.Address, shares *big.Int) (*big.Int, error) {
	return r.callBig(vault, &vaultABI, "previewRedeem", shares)
}

func (r *Reader) AdapterVault(adapter common.Address) (common.Address, error) {
	return r.callAddress(adapter, &adapterABI, "vault")
}

func (r *Reader) PreviewWrap(adapter common.Address, vaultShares *big.Int) (*big.Int, error) {
	return r.callBig(adapter, &adapterABI, "previewWrap", vaultShares)
}

func (r *Reader) PreviewUnwrap(adapter common.Address, wrapperShares *big.Int) (*big.Int, error) {
	return r.callBig(adapter, &adapterABI, "previewUnwrap", wrapperShares)
}

func (r *Reader) PTIBT(pt common.Address) (common.Address, error) {
	return r.callAddress(pt, &ptABI, "getIBT")
}

func (r *Reader) PTUnderlying(pt common.Address) (common.Address, error) {
	return r.callAddress(pt, &ptABI, "underlying")
}

func (r *Reader) PTPreviewDeposit(pt common.Address, assets *big.Int) (*big.Int, error) {
	return r.callBig(pt, &ptABI, "previewDeposit", assets)
}

func (r *Reader) PTPreviewDepositIBT(pt common.Address, ibtAmount *big.Int) (*big.Int, error) {
	return r.callBig(pt, &ptABI, "previewDepositIBT", ibtAmount)
}

func (r *Reader) PTPreviewRedeem(pt common.Address, shares *big.Int) (*big.Int, error) {
	return r.callBig(pt, &ptABI, "previewRedeem", shares)
}

func (r *Reader) PTPreviewRedeemForIBT(pt common.Address, shares *big.Int) (*big.Int, error) {
	return r.callBig(pt, &ptABI, "previewRedeemForIBT", shares)
}

func (r *Reader) PreviewRemoveLiquiditySingleToken(market, tokenOut common.Address, lpAmount *big.Int) (*big.Int, error) {
	vals, err := r.call(market, &marketABI, "removeLiquiditySingleTokenStatic", lpAmount, tokenOut)
	if err != nil {
		return nil, err
	}
	out, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("removeLiquiditySingleTokenStatic on %s: unexpected return type %T", market, vals[0])
	}
	return out, nil
}
