package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// poolIndex narrows an ABI-decoded coin index. Range against the actual pool
// composition is checked by PoolCoin.
func poolIndex(v *big.Int) (int, error) {
	if v == nil || v.Sign() < 0 || !v.IsInt64() || v.Int64() > 255 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTokenIndex, v)
	}
	return int(v.Int64()), nil
}

// checkMin enforces a caller-supplied slippage floor on a call result.
func checkMin(got, min *big.Int) error {
	if min != nil && got.Cmp(min) < 0 {
		return fmt.Errorf("%w: received %v below minimum %v", ErrInvalidAmount, got, min)
	}
	return nil
}

func opTransferFrom(r *Router, args interface{}) error {
	a := args.(*TransferFromArgs)
	if a.Token == NativeToken {
		return fmt.Errorf("%w: cannot pull the native token", ErrInvalidAddress)
	}
	if a.Amount.Sign() == 0 {
		return nil
	}
	return r.world.TransferFrom(a.Token, r.cfg.Self, r.ctx.msgSender, r.cfg.Self, a.Amount)
}

func opTransferFromWithPermit(r *Router, args interface{}) error {
	a := args.(*TransferFromWithPermitArgs)
	if a.Token == NativeToken {
		return fmt.Errorf("%w: cannot pull the native token", ErrInvalidAddress)
	}
	// A failed permit is recoverable when a sufficient authorization is
	// already standing (consumed permit, front-run permit). Only then is
	// the failure final.
	if err := r.world.Permit(a.Token, r.ctx.msgSender, r.cfg.Self, a.Amount, a.Deadline, a.V, a.R, a.S); err != nil {
		current, aerr := r.world.Allowance(a.Token, r.ctx.msgSender, r.cfg.Self)
		if aerr != nil {
			return aerr
		}
		if current.Cmp(a.Amount) < 0 {
			return fmt.Errorf("%w: %v", ErrPermitFailed, err)
		}
	}
	if a.Amount.Sign() == 0 {
		return nil
	}
	return r.world.TransferFrom(a.Token, r.cfg.Self, r.ctx.msgSender, r.cfg.Self, a.Amount)
}

func opTransfer(r *Router, args interface{}) error {
	a := args.(*TransferArgs)
	recipient := r.resolveAddress(a.Recipient)
	amount, err := r.resolveValue(a.Token, a.Amount)
	if err != nil {
		return err
	}
	if amount.Sign() == 0 || recipient == r.cfg.Self {
		return nil
	}
	if a.Token == NativeToken {
		return r.world.TransferNative(r.cfg.Self, recipient, amount)
	}
	return r.world.Transfer(a.Token, r.cfg.Self, recipient, amount)
}

func opCurveSwap(r *Router, args interface{}) error {
	a := args.(*CurveSwapArgs)
	i, err := poolIndex(a.InIndex)
	if err != nil {
		return err
	}
	j, err := poolIndex(a.OutIndex)
	if err != nil {
		return err
	}
	tokenIn, err := r.world.PoolCoin(a.Pool, i)
	if err != nil {
		return err
	}
	if _, err := r.world.PoolCoin(a.Pool, j); err != nil {
		return err
	}
	dx, err := r.resolveValue(tokenIn, a.AmountIn)
	if err != nil {
		return err
	}
	if dx.Sign() == 0 {
		return nil
	}
	recipient := r.resolveAddress(a.Recipient)
	if err := r.approveSpend(tokenIn, a.Pool, dx); err != nil {
		return err
	}
	if _, err := r.world.Exchange(a.Pool, r.cfg.Self, i, j, dx, a.MinOut, recipient); err != nil {
		return err
	}
	return r.revokeSpend(tokenIn, a.Pool)
}

func opWrapVaultInAdapter(r *Router, args interface{}) error {
	a := args.(*WrapVaultArgs)
	vault, err := r.world.AdapterVault(a.Adapter)
	if err != nil {
		return err
	}
	shares, err := r.resolveValue(vault, a.VaultShares)
	if err != nil {
		return err
	}
	if shares.Sign() == 0 {
		return nil
	}
	recipient := r.resolveAddress(a.Recipient)
	if err := r.approveSpend(vault, a.Adapter, shares); err != nil {
		return err
	}
	out, err := r.world.Wrap(a.Adapter, r.cfg.Self, shares, recipient)
	if err != nil {
		return err
	}
	if err := checkMin(out, a.MinWrapperShares); err != nil {
		return err
	}
	return r.revokeSpend(vault, a.Adapter)
}

func opUnwrapVaultFromAdapter(r *Router, args interface{}) error {
	a := args.(*UnwrapVaultArgs)
	// Wrapper shares are the adapter's own token; redeeming our own
	// holding needs no allowance.
	shares, err := r.resolveValue(a.Adapter, a.WrapperShares)
	if err != nil {
		return err
	}
	if shares.Sign() == 0 {
		return nil
	}
	recipient := r.resolveAddress(a.Recipient)
	out, err := r.world.Unwrap(a.Adapter, r.cfg.Self, shares, recipient)
	if err != nil {
		return err
	}
	return checkMin(out, a.MinVaultShares)
}

func opDepositAssetInIBT(r *Router, args interface{}) error {
	a := args.(*DepositAssetInIBTArgs)
	asset, err := r.world.VaultAsset(a.Vault)
	if err != nil {
		return err
	}
	assets, err := r.resolveValue(asset, a.Assets)
	if err != nil {
		return err
	}
	if assets.Sign() == 0 {
		return nil
	}
	recipient := r.resolveAddress(a.Recipient)
	if err := r.approveSpend(asset, a.Vault, assets); err != nil {
		return err
	}
	if _, err := r.world.Deposit(a.Vault, r.cfg.Self, assets, recipient); err != nil {
		return err
	}
	return r.revokeSpend(asset, a.Vault)
}

func opDepositAssetInPT(r *Router, args interface{}) error {
	a := args.(*DepositAssetInPTArgs)
	asset, err := r.world.PTUnderlying(a.PT)
	if err != nil {
		return err
	}
	assets, err := r.resolveValue(asset, a.Assets)
	if err != nil {
		return err
	}
	if assets.Sign() == 0 {
		return nil
	}
	ptRecipient := r.resolveAddress(a.PTRecipient)
	ytRecipient := r.resolveAddress(a.YTRecipient)
	if err := r.approveSpend(asset, a.PT, assets); err != nil {
		return err
	}
	shares, err := r.world.PTDeposit(a.PT, r.cfg.Self, assets, ptRecipient, ytRecipient)
	if err != nil {
		return err
	}
	if err := checkMin(shares, a.MinShares); err != nil {
		return err
	}
	return r.revokeSpend(asset, a.PT)
}

func opDepositIBTInPT(r *Router, args interface{}) error {
	a := args.(*DepositIBTInPTArgs)
	ibt, err := r.world.PTIBT(a.PT)
	if err != nil {
		return err
	}
	amount, err := r.resolveValue(ibt, a.IBTAmount)
	if err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	ptRecipient := r.resolveAddress(a.PTRecipient)
	ytRecipient := r.resolveAddress(a.YTRecipient)
	if err := r.approveSpend(ibt, a.PT, amount); err != nil {
		return err
	}
	shares, err := r.world.PTDepositIBT(a.PT, r.cfg.Self, amount, ptRecipient, ytRecipient)
	if err != nil {
		return err
	}
	if err := checkMin(shares, a.MinShares); err != nil {
		return err
	}
	return r.revokeSpend(ibt, a.PT)
}

func opRedeemIBTForAsset(r *Router, args interface{}) error {
	a := args.(*RedeemIBTForAssetArgs)
	shares, err := r.resolveValue(a.Vault, a.Shares)
	if err != nil {
		return err
	}
	if shares.Sign() == 0 {
		return nil
	}
	recipient := r.resolveAddress(a.Recipient)
	_, err = r.world.Redeem(a.Vault, r.cfg.Self, shares, recipient)
	return err
}

func opRedeemPTForAsset(r *Router, args interface{}) error {
	a := args.(*RedeemPTForAssetArgs)
	shares, err := r.resolveValue(a.PT, a.Shares)
	if err != nil {
		return err
	}
	if shares.Sign() == 0 {
		return nil
	}
	recipient := r.resolveAddress(a.Recipient)
	assets, err := r.world.PTRedeem(a.PT, r.cfg.Self, shares, recipient)
	if err != nil {
		return err
	}
	return checkMin(assets, a.MinAssets)
}

func opRedeemPTForIBT(r *Router, args interface{}) error {
	a := args.(*RedeemPTForIBTArgs)
	shares, err := r.resolveValue(a.PT, a.Shares)
	if err != nil {
		return err
	}
	if shares.Sign() == 0 {
		return nil
	}
	recipient := r.resolveAddress(a.Recipient)
	out, err := r.world.PTRedeemForIBT(a.PT, r.cfg.Self, shares, recipient)
	if err != nil {
		return err
	}
	return checkMin(out, a.MinIBT)
}

func opFlashLoan(r *Router, args interface{}) error {
	a := args.(*FlashLoanArgs)
	if !r.cfg.Registry.IsRegisteredPT(a.Lender) {
		return fmt.Errorf("%w: %s", ErrInvalidFlashloanLender, a.Lender)
	}
	amount, err := r.resolveValue(a.Token, a.Amount)
	if err != nil {
		return err
	}
	// The lender stays authorized only for the duration of the callback.
	r.ctx.flashLender = a.Lender
	err = r.world.FlashLoan(a.Lender, r, a.Token, amount, a.Data)
	r.ctx.flashLender = common.Address{}
	return err
}

func opCurveSplitIBTLiquidity(r *Router, args interface{}) error {
	a := args.(*CurveSplitIBTLiquidityArgs)
	ibt, err := r.world.PoolCoin(a.Pool, 0)
	if err != nil {
		return err
	}
	pt, err := r.world.PoolCoin(a.Pool, 1)
	if err != nil {
		return err
	}
	amount, err := r.resolveValue(ibt, a.IBTAmount)
	if err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	toTokenize, err := splitTokenizeAmount(r.world, a.Pool, amount)
	if err != nil {
		return err
	}
	recipient := r.resolveAddress(a.Recipient)
	ytRecipient := r.resolveAddress(a.YTRecipient)
	if toTokenize.Sign() > 0 {
		if err := r.approveSpend(ibt, pt, toTokenize); err != nil {
			return err
		}
		shares, err := r.world.PTDepositIBT(pt, r.cfg.Self, toTokenize, recipient, ytRecipient)
		if err != nil {
			return err
		}
		if err := checkMin(shares, a.MinPTShares); err != nil {
			return err
		}
		if err := r.revokeSpend(ibt, pt); err != nil {
			return err
		}
	}
	remainder := new(big.Int).Sub(amount, toTokenize)
	if remainder.Sign() > 0 && recipient != r.cfg.Self {
		return r.world.Transfer(ibt, r.cfg.Self, recipient, remainder)
	}
	return nil
}

// splitTokenizeAmount computes the slice of an IBT amount to tokenize into
// principal-token shares so the remainder matches the pool's current balance
// ratio. An empty pool splits evenly.
func splitTokenizeAmount(sr StateReader, pool common.Address, amount *big.Int) (*big.Int, error) {
	b0, err := sr.PoolBalance(pool, 0)
	if err != nil {
		return nil, err
	}
	b1, err := sr.PoolBalance(pool, 1)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(b0, b1)
	if total.Sign() == 0 {
		return new(big.Int).Rsh(amount, 1), nil
	}
	out := new(big.Int).Mul(amount, b1)
	return out.Quo(out, total), nil
}

func opCurveAddLiquidity(r *Router, args interface{}) error {
	a := args.(*CurveAddLiquidityArgs)
	var (
		coins   [2]common.Address
		amounts [2]*big.Int
	)
	for i := 0; i < 2; i++ {
		coin, err := r.world.PoolCoin(a.Pool, i)
		if err != nil {
			return err
		}
		amount, err := r.resolveValue(coin, a.Amounts[i])
		if err != nil {
			return err
		}
		coins[i], amounts[i] = coin, amount
	}
	if amounts[0].Sign() == 0 && amounts[1].Sign() == 0 {
		return nil
	}
	recipient := r.resolveAddress(a.Recipient)
	for i := 0; i < 2; i++ {
		if err := r.approveSpend(coins[i], a.Pool, amounts[i]); err != nil {
			return err
		}
	}
	if _, err := r.world.AddLiquidity(a.Pool, r.cfg.Self, amounts, a.MinMintAmount, recipient); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if err := r.revokeSpend(coins[i], a.Pool); err != nil {
			return err
		}
	}
	return nil
}

func opCurveRemoveLiquidity(r *Router, args interface{}) error {
	a := args.(*CurveRemoveLiquidityArgs)
	lpToken, err := r.world.PoolLPToken(a.Pool)
	if err != nil {
		return err
	}
	lpAmount, err := r.resolveValue(lpToken, a.LPAmount)
	if err != nil {
		return err
	}
	if lpAmount.Sign() == 0 {
		return nil
	}
	recipient := r.resolveAddress(a.Recipient)
	_, err = r.world.RemoveLiquidity(a.Pool, r.cfg.Self, lpAmount, a.MinAmounts, recipient)
	return err
}

func opCurveRemoveLiquidityOneCoin(r *Router, args interface{}) error {
	a := args.(*CurveRemoveLiquidityOneCoinArgs)
	i, err := poolIndex(a.CoinIndex)
	if err != nil {
		return err
	}
	if _, err := r.world.PoolCoin(a.Pool, i); err != nil {
		return err
	}
	lpToken, err := r.world.PoolLPToken(a.Pool)
	if err != nil {
		return err
	}
	lpAmount, err := r.resolveValue(lpToken, a.LPAmount)
	if err != nil {
		return err
	}
	if lpAmount.Sign() == 0 {
		return nil
	}
	recipient := r.resolveAddress(a.Recipient)
	_, err = r.world.RemoveLiquidityOneCoin(a.Pool, r.cfg.Self, lpAmount, i, a.MinAmount, recipient)
	return err
}

func opKyberSwap(r *Router, args interface{}) error {
	a := args.(*KyberSwapArgs)
	if r.cfg.KyberRouter == (common.Address{}) {
		return fmt.Errorf("%w: no aggregation router configured", ErrInvalidAddress)
	}
	amountIn, err := r.resolveValue(a.TokenIn, a.AmountIn)
	if err != nil {
		return err
	}
	if amountIn.Sign() == 0 {
		return nil
	}
	if a.TokenIn == NativeToken {
		if err := r.world.ForwardCall(r.cfg.Self, r.cfg.KyberRouter, a.Payload, amountIn); err != nil {
			return fmt.Errorf("%w: %v", ErrCallFailed, err)
		}
		return nil
	}
	if err := r.approveSpend(a.TokenIn, r.cfg.KyberRouter, amountIn); err != nil {
		return err
	}
	if err := r.world.ForwardCall(r.cfg.Self, r.cfg.KyberRouter, a.Payload, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	return r.revokeSpend(a.TokenIn, r.cfg.KyberRouter)
}

func opAssertMinBalance(r *Router, args interface{}) error {
	a := args.(*AssertMinBalanceArgs)
	owner := r.resolveAddress(a.Owner)
	var (
		actual *big.Int
		err    error
	)
	if a.Token == NativeToken {
		actual, err = r.world.NativeBalanceOf(owner)
	} else {
		actual, err = r.world.BalanceOf(a.Token, owner)
	}
	if err != nil {
		return err
	}
	if actual.Cmp(a.MinAmount) < 0 {
		return &MinimumBalanceError{
			Token:   a.Token,
			Owner:   owner,
			Minimum: new(big.Int).Set(a.MinAmount),
			Actual:  actual,
		}
	}
	return nil
}

func opPendleRemoveLiquiditySingleToken(r *Router, args interface{}) error {
	a := args.(*PendleRemoveLiquidityArgs)
	if r.cfg.MarketRouter == (common.Address{}) {
		return fmt.Errorf("%w: no market router configured", ErrInvalidAddress)
	}
	// Market LP shares are the market's own token.
	lpAmount, err := r.resolveValue(a.Market, a.LPAmount)
	if err != nil {
		return err
	}
	if lpAmount.Sign() == 0 {
		return nil
	}
	receiver := r.resolveAddress(a.Receiver)
	if err := r.approveSpend(a.Market, r.cfg.MarketRouter, lpAmount); err != nil {
		return err
	}
	output := TokenOutput{TokenOut: a.TokenOut, MinTokenOut: a.MinTokenOut}
	out, err := r.world.RemoveLiquiditySingleToken(a.Market, r.cfg.Self, receiver, lpAmount, output, a.LimitOrderData)
	if err != nil {
		return err
	}
	if err := checkMin(out, a.MinTokenOut); err != nil {
		return err
	}
	return r.revokeSpend(a.Market, r.cfg.MarketRouter)
}
