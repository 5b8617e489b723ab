package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ray is the fixed-point scale of all preview rates: 10^27.
var Ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

// PreviewMode selects how the simulator prices each command.
type PreviewMode int

const (
	// SpotRate ignores supplied amounts and prices one base unit of the
	// input token, yielding the instantaneous slippage-free rate.
	SpotRate PreviewMode = iota

	// FullRate prices the actual amounts, threading intermediate balances
	// through a bounded ledger so multi-step chains compose.
	FullRate
)

// Simulator replays command programs against read-only quote entry points,
// never touching a state-mutating call. It predicts the end-to-end exchange
// rate the same program would produce under Execute.
type Simulator struct {
	reader StateReader
	cfg    Config
	mode   PreviewMode
	capn   int

	// per-preview state
	ledger *BalanceLedger
}

// NewSimulator builds a simulator over reader. ledgerCapacity bounds the
// number of distinct tokens one full-mode preview may involve.
func NewSimulator(reader StateReader, cfg Config, mode PreviewMode, ledgerCapacity int) *Simulator {
	return &Simulator{reader: reader, cfg: cfg, mode: mode, capn: ledgerCapacity}
}

// Preview returns the composed end-to-end rate (RAY scale) of the program.
func (s *Simulator) Preview(tags []byte, inputs [][]byte) (*big.Int, error) {
	rate, _, err := s.PreviewSteps(tags, inputs)
	return rate, err
}

// PreviewSteps returns the composed rate together with the individual
// per-command rates. Composition is multiplicative: each step rescales the
// running rate by step/RAY, so neutral steps leave it unchanged.
func (s *Simulator) PreviewSteps(tags []byte, inputs [][]byte) (*big.Int, []*big.Int, error) {
	cmds, err := DecodeProgram(tags, inputs)
	if err != nil {
		return nil, nil, err
	}
	s.ledger = NewBalanceLedger(s.capn)
	defer func() { s.ledger = nil }()

	rate := new(big.Int).Set(Ray)
	steps := make([]*big.Int, 0, len(cmds))
	for i, cmd := range cmds {
		step, err := jumpTable[cmd.Op].preview(s, cmd.Args)
		if err != nil {
			return nil, nil, fmt.Errorf("command %d (%s): %w", i, cmd.Op, err)
		}
		commandPreviewedCounter.Inc(1)
		steps = append(steps, step)
		rate.Mul(rate, step)
		rate.Quo(rate, Ray)
	}
	return rate, steps, nil
}

// resolveAddress is the preview counterpart of the router's resolver. The
// initiator is unknown during preview, so USE_CALLER stays a non-self
// placeholder: output sent to the caller leaves the simulated flow.
func (s *Simulator) resolveAddress(addr common.Address) common.Address {
	if addr == UseSelf {
		return s.cfg.Self
	}
	return addr
}

// unit returns one base unit (10^decimals) of token. The native token is
// priced at 18 decimals.
func (s *Simulator) unit(token common.Address) (*big.Int, error) {
	dec := uint8(18)
	if token != NativeToken {
		var err error
		dec, err = s.reader.Decimals(token)
		if err != nil {
			return nil, err
		}
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil), nil
}

// takeInput obtains the spendable amount of token for a full-mode step: from
// the ledger once the token is tracked, otherwise from the invocation
// arguments for the first command touching it. Draining an untracked token
// is unanswerable and fails with ErrBalanceUnderflow.
func (s *Simulator) takeInput(token common.Address, amount *big.Int) (*big.Int, error) {
	if _, tracked := s.ledger.Balance(token); tracked {
		return s.ledger.Decrease(token, amount)
	}
	if isFullBalance(amount) {
		return nil, fmt.Errorf("%w: token %s never tracked", ErrBalanceUnderflow, token)
	}
	return amount, nil
}

// credit records a step output in the ledger when it stays with the router
// and therefore feeds the next command.
func (s *Simulator) credit(recipient, token common.Address, amount *big.Int) error {
	if recipient != s.cfg.Self {
		return nil
	}
	return s.ledger.Increase(token, amount)
}

// ratio scales out/in to RAY. A zero input denotes a no-op step.
func ratio(out, in *big.Int) *big.Int {
	if in == nil || in.Sign() == 0 {
		return new(big.Int).Set(Ray)
	}
	r := new(big.Int).Mul(out, Ray)
	return r.Quo(r, in)
}

func neutralRate() *big.Int {
	return new(big.Int).Set(Ray)
}

// previewNeutral prices opcodes with no token-flow relevance.
func previewNeutral(*Simulator, interface{}) (*big.Int, error) {
	return neutralRate(), nil
}

func previewTransferFrom(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*TransferFromArgs)
	if s.mode == FullRate {
		if isFullBalance(a.Amount) {
			return nil, fmt.Errorf("%w: full-balance pull from initiator", ErrInvalidAmount)
		}
		if err := s.ledger.Increase(a.Token, a.Amount); err != nil {
			return nil, err
		}
	}
	return neutralRate(), nil
}

func previewTransferFromWithPermit(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*TransferFromWithPermitArgs)
	if s.mode == FullRate {
		if isFullBalance(a.Amount) {
			return nil, fmt.Errorf("%w: full-balance pull from initiator", ErrInvalidAmount)
		}
		if err := s.ledger.Increase(a.Token, a.Amount); err != nil {
			return nil, err
		}
	}
	return neutralRate(), nil
}

func previewTransfer(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*TransferArgs)
	if s.mode == FullRate {
		recipient := s.resolveAddress(a.Recipient)
		if _, tracked := s.ledger.Balance(a.Token); tracked && recipient != s.cfg.Self {
			if _, err := s.ledger.Decrease(a.Token, a.Amount); err != nil {
				return nil, err
			}
		}
	}
	return neutralRate(), nil
}

func previewCurveSwap(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*CurveSwapArgs)
	i, err := poolIndex(a.InIndex)
	if err != nil {
		return nil, err
	}
	j, err := poolIndex(a.OutIndex)
	if err != nil {
		return nil, err
	}
	tokenIn, err := s.reader.PoolCoin(a.Pool, i)
	if err != nil {
		return nil, err
	}
	tokenOut, err := s.reader.PoolCoin(a.Pool, j)
	if err != nil {
		return nil, err
	}
	if s.mode == SpotRate {
		unit, err := s.unit(tokenIn)
		if err != nil {
			return nil, err
		}
		dy, err := s.reader.GetDy(a.Pool, i, j, unit)
		if err != nil {
			return nil, err
		}
		return ratio(dy, unit), nil
	}
	dx, err := s.takeInput(tokenIn, a.AmountIn)
	if err != nil {
		return nil, err
	}
	if dx.Sign() == 0 {
		return neutralRate(), nil
	}
	dy, err := s.reader.GetDy(a.Pool, i, j, dx)
	if err != nil {
		return nil, err
	}
	if err := s.credit(s.resolveAddress(a.Recipient), tokenOut, dy); err != nil {
		return nil, err
	}
	return ratio(dy, dx), nil
}

func previewWrapVaultInAdapter(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*WrapVaultArgs)
	vault, err := s.reader.AdapterVault(a.Adapter)
	if err != nil {
		return nil, err
	}
	if s.mode == SpotRate {
		unit, err := s.unit(vault)
		if err != nil {
			return nil, err
		}
		out, err := s.reader.PreviewWrap(a.Adapter, unit)
		if err != nil {
			return nil, err
		}
		return ratio(out, unit), nil
	}
	shares, err := s.takeInput(vault, a.VaultShares)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return neutralRate(), nil
	}
	out, err := s.reader.PreviewWrap(a.Adapter, shares)
	if err != nil {
		return nil, err
	}
	if err := s.credit(s.resolveAddress(a.Recipient), a.Adapter, out); err != nil {
		return nil, err
	}
	return ratio(out, shares), nil
}

func previewUnwrapVaultFromAdapter(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*UnwrapVaultArgs)
	vault, err := s.reader.AdapterVault(a.Adapter)
	if err != nil {
		return nil, err
	}
	if s.mode == SpotRate {
		unit, err := s.unit(a.Adapter)
		if err != nil {
			return nil, err
		}
		out, err := s.reader.PreviewUnwrap(a.Adapter, unit)
		if err != nil {
			return nil, err
		}
		return ratio(out, unit), nil
	}
	shares, err := s.takeInput(a.Adapter, a.WrapperShares)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return neutralRate(), nil
	}
	out, err := s.reader.PreviewUnwrap(a.Adapter, shares)
	if err != nil {
		return nil, err
	}
	if err := s.credit(s.resolveAddress(a.Recipient), vault, out); err != nil {
		return nil, err
	}
	return ratio(out, shares), nil
}

func previewDepositAssetInIBT(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*DepositAssetInIBTArgs)
	asset, err := s.reader.VaultAsset(a.Vault)
	if err != nil {
		return nil, err
	}
	if s.mode == SpotRate {
		unit, err := s.unit(asset)
		if err != nil {
			return nil, err
		}
		out, err := s.reader.PreviewDeposit(a.Vault, unit)
		if err != nil {
			return nil, err
		}
		return ratio(out, unit), nil
	}
	assets, err := s.takeInput(asset, a.Assets)
	if err != nil {
		return nil, err
	}
	if assets.Sign() == 0 {
		return neutralRate(), nil
	}
	shares, err := s.reader.PreviewDeposit(a.Vault, assets)
	if err != nil {
		return nil, err
	}
	if err := s.credit(s.resolveAddress(a.Recipient), a.Vault, shares); err != nil {
		return nil, err
	}
	return ratio(shares, assets), nil
}

func previewDepositAssetInPT(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*DepositAssetInPTArgs)
	asset, err := s.reader.PTUnderlying(a.PT)
	if err != nil {
		return nil, err
	}
	if s.mode == SpotRate {
		unit, err := s.unit(asset)
		if err != nil {
			return nil, err
		}
		out, err := s.reader.PTPreviewDeposit(a.PT, unit)
		if err != nil {
			return nil, err
		}
		return ratio(out, unit), nil
	}
	assets, err := s.takeInput(asset, a.Assets)
	if err != nil {
		return nil, err
	}
	if assets.Sign() == 0 {
		return neutralRate(), nil
	}
	shares, err := s.reader.PTPreviewDeposit(a.PT, assets)
	if err != nil {
		return nil, err
	}
	if err := s.credit(s.resolveAddress(a.PTRecipient), a.PT, shares); err != nil {
		return nil, err
	}
	return ratio(shares, assets), nil
}

func previewDepositIBTInPT(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*DepositIBTInPTArgs)
	ibt, err := s.reader.PTIBT(a.PT)
	if err != nil {
		return nil, err
	}
	if s.mode == SpotRate {
		unit, err := s.unit(ibt)
		if err != nil {
			return nil, err
		}
		out, err := s.reader.PTPreviewDepositIBT(a.PT, unit)
		if err != nil {
			return nil, err
		}
		return ratio(out, unit), nil
	}
	amount, err := s.takeInput(ibt, a.IBTAmount)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return neutralRate(), nil
	}
	shares, err := s.reader.PTPreviewDepositIBT(a.PT, amount)
	if err != nil {
		return nil, err
	}
	if err := s.credit(s.resolveAddress(a.PTRecipient), a.PT, shares); err != nil {
		return nil, err
	}
	return ratio(shares, amount), nil
}

func previewRedeemIBTForAsset(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*RedeemIBTForAssetArgs)
	asset, err := s.reader.VaultAsset(a.Vault)
	if err != nil {
		return nil, err
	}
	if s.mode == SpotRate {
		unit, err := s.unit(a.Vault)
		if err != nil {
			return nil, err
		}
		out, err := s.reader.PreviewRedeem(a.Vault, unit)
		if err != nil {
			return nil, err
		}
		return ratio(out, unit), nil
	}
	shares, err := s.takeInput(a.Vault, a.Shares)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return neutralRate(), nil
	}
	assets, err := s.reader.PreviewRedeem(a.Vault, shares)
	if err != nil {
		return nil, err
	}
	if err := s.credit(s.resolveAddress(a.Recipient), asset, assets); err != nil {
		return nil, err
	}
	return ratio(assets, shares), nil
}

func previewRedeemPTForAsset(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*RedeemPTForAssetArgs)
	asset, err := s.reader.PTUnderlying(a.PT)
	if err != nil {
		return nil, err
	}
	if s.mode == SpotRate {
		unit, err := s.unit(a.PT)
		if err != nil {
			return nil, err
		}
		out, err := s.reader.PTPreviewRedeem(a.PT, unit)
		if err != nil {
			return nil, err
		}
		return ratio(out, unit), nil
	}
	shares, err := s.takeInput(a.PT, a.Shares)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return neutralRate(), nil
	}
	assets, err := s.reader.PTPreviewRedeem(a.PT, shares)
	if err != nil {
		return nil, err
	}
	if err := s.credit(s.resolveAddress(a.Recipient), asset, assets); err != nil {
		return nil, err
	}
	return ratio(assets, shares), nil
}

func previewRedeemPTForIBT(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*RedeemPTForIBTArgs)
	ibt, err := s.reader.PTIBT(a.PT)
	if err != nil {
		return nil, err
	}
	if s.mode == SpotRate {
		unit, err := s.unit(a.PT)
		if err != nil {
			return nil, err
		}
		out, err := s.reader.PTPreviewRedeemForIBT(a.PT, unit)
		if err != nil {
			return nil, err
		}
		return ratio(out, unit), nil
	}
	shares, err := s.takeInput(a.PT, a.Shares)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return neutralRate(), nil
	}
	out, err := s.reader.PTPreviewRedeemForIBT(a.PT, shares)
	if err != nil {
		return nil, err
	}
	if err := s.credit(s.resolveAddress(a.Recipient), ibt, out); err != nil {
		return nil, err
	}
	return ratio(out, shares), nil
}

// previewFlashLoan replays the nested callback program, since a flash loan's
// observable effect is exactly its nested commands. Full mode credits the
// borrowed amount before the replay and debits repayment after it; the
// lender's fee has no read-only quote entry point and is priced at zero.
func previewFlashLoan(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*FlashLoanArgs)
	if len(a.Data) == 0 {
		return neutralRate(), nil
	}
	cmds, err := decodeCallbackProgram(a.Data)
	if err != nil {
		return nil, err
	}
	if s.mode == FullRate {
		if isFullBalance(a.Amount) {
			return nil, fmt.Errorf("%w: full-balance flash loan", ErrInvalidAmount)
		}
		if err := s.ledger.Increase(a.Token, a.Amount); err != nil {
			return nil, err
		}
	}
	rate := neutralRate()
	for i, cmd := range cmds {
		step, err := jumpTable[cmd.Op].preview(s, cmd.Args)
		if err != nil {
			return nil, fmt.Errorf("callback command %d (%s): %w", i, cmd.Op, err)
		}
		commandPreviewedCounter.Inc(1)
		rate.Mul(rate, step)
		rate.Quo(rate, Ray)
	}
	if s.mode == FullRate {
		if _, err := s.ledger.Decrease(a.Token, a.Amount); err != nil {
			return nil, err
		}
	}
	return rate, nil
}

// previewKyberSwap trusts the off-band quote embedded in the command: an
// aggregator payload cannot be re-quoted on-chain.
func previewKyberSwap(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*KyberSwapArgs)
	if s.mode == SpotRate {
		return ratio(a.ExpectedAmountOut, a.AmountIn), nil
	}
	amountIn, err := s.takeInput(a.TokenIn, a.AmountIn)
	if err != nil {
		return nil, err
	}
	if amountIn.Sign() == 0 {
		return neutralRate(), nil
	}
	if err := s.credit(s.cfg.Self, a.TokenOut, a.ExpectedAmountOut); err != nil {
		return nil, err
	}
	return ratio(a.ExpectedAmountOut, amountIn), nil
}

func previewCurveSplitIBTLiquidity(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*CurveSplitIBTLiquidityArgs)
	ibt, err := s.reader.PoolCoin(a.Pool, 0)
	if err != nil {
		return nil, err
	}
	pt, err := s.reader.PoolCoin(a.Pool, 1)
	if err != nil {
		return nil, err
	}
	var amount *big.Int
	if s.mode == SpotRate {
		if amount, err = s.unit(ibt); err != nil {
			return nil, err
		}
	} else {
		if amount, err = s.takeInput(ibt, a.IBTAmount); err != nil {
			return nil, err
		}
	}
	if amount.Sign() == 0 {
		return neutralRate(), nil
	}
	toTokenize, err := splitTokenizeAmount(s.reader, a.Pool, amount)
	if err != nil {
		return nil, err
	}
	if toTokenize.Sign() == 0 {
		return neutralRate(), nil
	}
	shares, err := s.reader.PTPreviewDepositIBT(pt, toTokenize)
	if err != nil {
		return nil, err
	}
	if s.mode == FullRate {
		recipient := s.resolveAddress(a.Recipient)
		if err := s.credit(recipient, pt, shares); err != nil {
			return nil, err
		}
		// The remainder follows the recipient, just like the shares: it
		// stays spendable only when it stays with the router.
		remainder := new(big.Int).Sub(amount, toTokenize)
		if remainder.Sign() > 0 {
			if err := s.credit(recipient, ibt, remainder); err != nil {
				return nil, err
			}
		}
	}
	return ratio(shares, toTokenize), nil
}

func previewCurveAddLiquidity(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*CurveAddLiquidityArgs)
	var (
		coins   [2]common.Address
		amounts [2]*big.Int
		err     error
	)
	for i := 0; i < 2; i++ {
		if coins[i], err = s.reader.PoolCoin(a.Pool, i); err != nil {
			return nil, err
		}
	}
	if s.mode == SpotRate {
		for i := 0; i < 2; i++ {
			if amounts[i], err = s.unit(coins[i]); err != nil {
				return nil, err
			}
		}
	} else {
		for i := 0; i < 2; i++ {
			if amounts[i], err = s.takeInput(coins[i], a.Amounts[i]); err != nil {
				return nil, err
			}
		}
	}
	total := new(big.Int).Add(amounts[0], amounts[1])
	if total.Sign() == 0 {
		return neutralRate(), nil
	}
	lp, err := s.reader.CalcTokenAmount(a.Pool, amounts)
	if err != nil {
		return nil, err
	}
	if s.mode == FullRate {
		lpToken, err := s.reader.PoolLPToken(a.Pool)
		if err != nil {
			return nil, err
		}
		if err := s.credit(s.resolveAddress(a.Recipient), lpToken, lp); err != nil {
			return nil, err
		}
	}
	return ratio(lp, total), nil
}

func previewCurveRemoveLiquidity(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*CurveRemoveLiquidityArgs)
	lpToken, err := s.reader.PoolLPToken(a.Pool)
	if err != nil {
		return nil, err
	}
	supply, err := s.reader.TotalSupply(lpToken)
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 {
		return neutralRate(), nil
	}
	var lp *big.Int
	if s.mode == SpotRate {
		if lp, err = s.unit(lpToken); err != nil {
			return nil, err
		}
	} else {
		if lp, err = s.takeInput(lpToken, a.LPAmount); err != nil {
			return nil, err
		}
	}
	if lp.Sign() == 0 {
		return neutralRate(), nil
	}
	outTotal := new(big.Int)
	for i := 0; i < 2; i++ {
		bal, err := s.reader.PoolBalance(a.Pool, i)
		if err != nil {
			return nil, err
		}
		out := new(big.Int).Mul(bal, lp)
		out.Quo(out, supply)
		outTotal.Add(outTotal, out)
		if s.mode == FullRate {
			coin, err := s.reader.PoolCoin(a.Pool, i)
			if err != nil {
				return nil, err
			}
			if err := s.credit(s.resolveAddress(a.Recipient), coin, out); err != nil {
				return nil, err
			}
		}
	}
	return ratio(outTotal, lp), nil
}

func previewCurveRemoveLiquidityOneCoin(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*CurveRemoveLiquidityOneCoinArgs)
	i, err := poolIndex(a.CoinIndex)
	if err != nil {
		return nil, err
	}
	coin, err := s.reader.PoolCoin(a.Pool, i)
	if err != nil {
		return nil, err
	}
	lpToken, err := s.reader.PoolLPToken(a.Pool)
	if err != nil {
		return nil, err
	}
	var lp *big.Int
	if s.mode == SpotRate {
		if lp, err = s.unit(lpToken); err != nil {
			return nil, err
		}
	} else {
		if lp, err = s.takeInput(lpToken, a.LPAmount); err != nil {
			return nil, err
		}
	}
	if lp.Sign() == 0 {
		return neutralRate(), nil
	}
	out, err := s.reader.CalcWithdrawOneCoin(a.Pool, lp, i)
	if err != nil {
		return nil, err
	}
	if s.mode == FullRate {
		if err := s.credit(s.resolveAddress(a.Recipient), coin, out); err != nil {
			return nil, err
		}
	}
	return ratio(out, lp), nil
}

func previewPendleRemoveLiquidity(s *Simulator, args interface{}) (*big.Int, error) {
	a := args.(*PendleRemoveLiquidityArgs)
	var (
		lp  *big.Int
		err error
	)
	if s.mode == SpotRate {
		if lp, err = s.unit(a.Market); err != nil {
			return nil, err
		}
	} else {
		if lp, err = s.takeInput(a.Market, a.LPAmount); err != nil {
			return nil, err
		}
	}
	if lp.Sign() == 0 {
		return neutralRate(), nil
	}
	out, err := s.reader.PreviewRemoveLiquiditySingleToken(a.Market, a.TokenOut, lp)
	if err != nil {
		return nil, err
	}
	if s.mode == FullRate {
		if err := s.credit(s.resolveAddress(a.Receiver), a.TokenOut, out); err != nil {
			return nil, err
		}
	}
	return ratio(out, lp), nil
}
