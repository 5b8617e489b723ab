package engine

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// rayFrac returns n/d at RAY scale.
func rayFrac(n, d int64) *big.Int {
	r := new(big.Int).Mul(Ray, big.NewInt(n))
	return r.Quo(r, big.NewInt(d))
}

// newRateWorld builds a world whose pool prices coin1 at 3/2 per coin0 with
// no fee, so spot and full quotes agree exactly.
func newRateWorld() *MemWorld {
	w := NewMemWorld()
	w.CreateToken(addrDAI, 18)
	w.CreateVault(addrVault, addrDAI, big.NewInt(1), big.NewInt(1), 18)
	w.CreatePrincipalToken(addrPT, addrVault, addrDAI, addrYT, big.NewInt(1), big.NewInt(1), 0, 18)
	w.CreatePool(addrPool, addrVault, addrPT, big.NewInt(3), big.NewInt(2), 0)
	return w
}

func simConfig() Config {
	return Config{
		Self:         addrSelf,
		KyberRouter:  addrKyber,
		MarketRouter: addrMarketRtr,
		Registry:     NewMemRegistry(),
	}
}

func TestPreviewSpotMatchesFullOnLinearPool(t *testing.T) {
	w := newRateWorld()

	swap := mustPack(t, curveSwapSchema,
		addrPool, big.NewInt(0), big.NewInt(1), UseFullBalance, big.NewInt(0), UseSelf)

	spot := NewSimulator(w, simConfig(), SpotRate, 8)
	spotRate, err := spot.Preview([]byte{byte(OpCurveSwap)}, [][]byte{swap})
	require.NoError(t, err)
	require.Equal(t, rayFrac(3, 2), spotRate)

	pull := mustPack(t, transferFromSchema, addrVault, big.NewInt(100))
	full := NewSimulator(w, simConfig(), FullRate, 8)
	fullRate, err := full.Preview(
		[]byte{byte(OpTransferFrom), byte(OpCurveSwap)}, [][]byte{pull, swap})
	require.NoError(t, err)
	require.Equal(t, spotRate, fullRate)
}

func TestPreviewStepsCompose(t *testing.T) {
	w := NewMemWorld()
	w.CreateToken(addrDAI, 18)
	// 2 assets per vault share, 2 wrapper shares per vault share: the two
	// conversions cancel end to end.
	w.CreateVault(addrVault, addrDAI, big.NewInt(2), big.NewInt(1), 18)
	w.CreateAdapter(addrAdapter, addrVault, big.NewInt(2), big.NewInt(1), 18)

	tags := []byte{
		byte(OpTransferFrom),
		byte(OpDepositAssetInIBT),
		byte(OpWrapVaultInAdapter),
	}
	inputs := [][]byte{
		mustPack(t, transferFromSchema, addrDAI, big.NewInt(100)),
		mustPack(t, depositAssetIBTSchema, addrVault, UseFullBalance, UseSelf),
		mustPack(t, wrapVaultSchema, addrAdapter, UseFullBalance, UseSelf, big.NewInt(0)),
	}

	sim := NewSimulator(w, simConfig(), FullRate, 8)
	rate, steps, err := sim.PreviewSteps(tags, inputs)
	require.NoError(t, err)
	require.Equal(t, []*big.Int{Ray, rayFrac(1, 2), rayFrac(2, 1)}, steps)
	require.Equal(t, new(big.Int).Set(Ray), rate)
}

func TestPreviewLedgerCapacity(t *testing.T) {
	w := NewMemWorld()
	w.CreateToken(addrDAI, 18)
	w.CreateVault(addrVault, addrDAI, big.NewInt(1), big.NewInt(1), 18)

	tags := []byte{byte(OpTransferFrom), byte(OpDepositAssetInIBT)}
	inputs := [][]byte{
		mustPack(t, transferFromSchema, addrDAI, big.NewInt(100)),
		mustPack(t, depositAssetIBTSchema, addrVault, UseFullBalance, UseSelf),
	}

	sim := NewSimulator(w, simConfig(), FullRate, 1)
	_, err := sim.Preview(tags, inputs)
	require.ErrorIs(t, err, ErrMaxInvolvedTokensExceeded)
}

func TestPreviewFullBalanceOfUntrackedToken(t *testing.T) {
	w := newRateWorld()
	swap := mustPack(t, curveSwapSchema,
		addrPool, big.NewInt(0), big.NewInt(1), UseFullBalance, big.NewInt(0), UseSelf)

	sim := NewSimulator(w, simConfig(), FullRate, 8)
	_, err := sim.Preview([]byte{byte(OpCurveSwap)}, [][]byte{swap})
	require.ErrorIs(t, err, ErrBalanceUnderflow)
}

func TestPreviewRejectsFullBalancePull(t *testing.T) {
	w := newRateWorld()
	pull := mustPack(t, transferFromSchema, addrVault, UseFullBalance)

	sim := NewSimulator(w, simConfig(), FullRate, 8)
	_, err := sim.Preview([]byte{byte(OpTransferFrom)}, [][]byte{pull})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPreviewKyberSwapUsesEmbeddedQuote(t *testing.T) {
	w := NewMemWorld()
	w.CreateToken(addrDAI, 18)
	w.CreateToken(addrVault, 18)

	tags := []byte{byte(OpTransferFrom), byte(OpKyberSwap)}
	inputs := [][]byte{
		mustPack(t, transferFromSchema, addrDAI, big.NewInt(100)),
		mustPack(t, kyberSwapSchema,
			addrDAI, UseFullBalance, addrVault, big.NewInt(250), []byte{}),
	}

	sim := NewSimulator(w, simConfig(), FullRate, 8)
	rate, err := sim.Preview(tags, inputs)
	require.NoError(t, err)
	require.Equal(t, rayFrac(5, 2), rate)
}

func TestPreviewPendleRemoveLiquiditySpot(t *testing.T) {
	w := NewMemWorld()
	w.CreateToken(addrPT, 18)
	w.CreateMarket(addrMarket, addrPT, big.NewInt(2), big.NewInt(1), 18)

	input := mustPack(t, pendleRemoveSchema,
		UseCaller, addrMarket, UseFullBalance, addrPT, big.NewInt(0), []byte{})

	sim := NewSimulator(w, simConfig(), SpotRate, 8)
	rate, err := sim.Preview([]byte{byte(OpPendleRemoveLiquiditySingleToken)}, [][]byte{input})
	require.NoError(t, err)
	require.Equal(t, rayFrac(2, 1), rate)
}

func TestPreviewSplitRemainderFollowsRecipient(t *testing.T) {
	w := newRateWorld()
	w.Mint(addrVault, addrPool, big.NewInt(1000))
	w.Mint(addrPT, addrPool, big.NewInt(1000))

	// Shares and remainder both go to bob, so nothing stays with the
	// router: the trailing swap has no tracked input and prices neutral.
	tags := []byte{
		byte(OpTransferFrom),
		byte(OpCurveSplitIBTLiquidity),
		byte(OpCurveSwap),
	}
	inputs := [][]byte{
		mustPack(t, transferFromSchema, addrVault, big.NewInt(100)),
		mustPack(t, splitLiquiditySchema,
			addrPool, UseFullBalance, addrBob, addrBob, big.NewInt(0)),
		mustPack(t, curveSwapSchema,
			addrPool, big.NewInt(0), big.NewInt(1), UseFullBalance, big.NewInt(0), UseSelf),
	}

	sim := NewSimulator(w, simConfig(), FullRate, 8)
	rate, steps, err := sim.PreviewSteps(tags, inputs)
	require.NoError(t, err)
	require.Equal(t, []*big.Int{Ray, Ray, Ray}, steps)
	require.Equal(t, new(big.Int).Set(Ray), rate)
}

func TestPreviewFlashLoanReplaysCallback(t *testing.T) {
	w := newRateWorld()

	nested := mustPack(t, curveSwapSchema,
		addrPool, big.NewInt(0), big.NewInt(1), big.NewInt(100), big.NewInt(0), UseSelf)
	data, err := EncodeCallbackProgram([]byte{byte(OpCurveSwap)}, [][]byte{nested})
	require.NoError(t, err)

	tags := []byte{byte(OpTransferFrom), byte(OpFlashLoan)}
	inputs := [][]byte{
		mustPack(t, transferFromSchema, addrVault, big.NewInt(100)),
		mustPack(t, flashLoanSchema, addrPT, addrVault, big.NewInt(200), data),
	}

	sim := NewSimulator(w, simConfig(), FullRate, 8)
	rate, steps, err := sim.PreviewSteps(tags, inputs)
	require.NoError(t, err)
	// Borrow 200, swap 100 of the 300 on hand at 3/2, repay 200.
	require.Equal(t, []*big.Int{Ray, rayFrac(3, 2)}, steps)
	require.Equal(t, rayFrac(3, 2), rate)
}

func TestPreviewFlashLoanUnrepayable(t *testing.T) {
	w := newRateWorld()

	// The callback spends the entire holding, leaving nothing to repay.
	nested := mustPack(t, curveSwapSchema,
		addrPool, big.NewInt(0), big.NewInt(1), UseFullBalance, big.NewInt(0), UseSelf)
	data, err := EncodeCallbackProgram([]byte{byte(OpCurveSwap)}, [][]byte{nested})
	require.NoError(t, err)

	tags := []byte{byte(OpFlashLoan)}
	inputs := [][]byte{
		mustPack(t, flashLoanSchema, addrPT, addrVault, big.NewInt(200), data),
	}

	sim := NewSimulator(w, simConfig(), FullRate, 8)
	_, err = sim.Preview(tags, inputs)
	require.ErrorIs(t, err, ErrBalanceUnderflow)
}

func TestPreviewSplitLiquidityRate(t *testing.T) {
	w := newRateWorld()
	// Balanced reserves: half the input is tokenized at 1:1.
	w.Mint(addrVault, addrPool, big.NewInt(1000))
	w.Mint(addrPT, addrPool, big.NewInt(1000))

	tags := []byte{byte(OpTransferFrom), byte(OpCurveSplitIBTLiquidity)}
	inputs := [][]byte{
		mustPack(t, transferFromSchema, addrVault, big.NewInt(100)),
		mustPack(t, splitLiquiditySchema,
			addrPool, UseFullBalance, UseSelf, UseCaller, big.NewInt(0)),
	}

	sim := NewSimulator(w, simConfig(), FullRate, 8)
	rate, err := sim.Preview(tags, inputs)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Set(Ray), rate)
}
