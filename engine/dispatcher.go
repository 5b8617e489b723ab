package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// Config carries the router's deployment-time wiring. None of it changes
// between invocations.
type Config struct {
	// Self is the router's own account in the world; it holds the
	// intermediate balances a command chain threads through.
	Self common.Address

	// KyberRouter receives opaque aggregation payloads forwarded by
	// KYBER_SWAP. A zero address disables the opcode.
	KyberRouter common.Address

	// MarketRouter is the liquidity-market router that pulls LP shares on
	// PENDLE_REMOVE_LIQUIDITY_SINGLE_TOKEN exits.
	MarketRouter common.Address

	// Registry classifies counterparties for the allowance policy and the
	// flash-loan lender gate.
	Registry Registry
}

// operation is one jump-table entry: wire name, argument decoder, execution
// behavior and preview behavior of a single opcode.
type operation struct {
	name    string
	decode  func(blob []byte) (interface{}, error)
	execute func(r *Router, args interface{}) error
	preview func(s *Simulator, args interface{}) (*big.Int, error)
}

// jumpTable maps opcodes to their operations. A tag whose masked opcode has
// no entry is rejected with ErrInvalidCommandType before anything runs.
var jumpTable = [opcodeMax]operation{
	OpTransferFrom: {
		name:    "TRANSFER_FROM",
		decode:  decodeTransferFrom,
		execute: opTransferFrom,
		preview: previewTransferFrom,
	},
	OpTransferFromWithPermit: {
		name:    "TRANSFER_FROM_WITH_PERMIT",
		decode:  decodeTransferFromWithPermit,
		execute: opTransferFromWithPermit,
		preview: previewTransferFromWithPermit,
	},
	OpTransfer: {
		name:    "TRANSFER",
		decode:  decodeTransfer,
		execute: opTransfer,
		preview: previewTransfer,
	},
	OpCurveSwap: {
		name:    "CURVE_SWAP",
		decode:  decodeCurveSwap,
		execute: opCurveSwap,
		preview: previewCurveSwap,
	},
	OpWrapVaultInAdapter: {
		name:    "WRAP_VAULT_IN_4626_ADAPTER",
		decode:  decodeWrapVault,
		execute: opWrapVaultInAdapter,
		preview: previewWrapVaultInAdapter,
	},
	OpUnwrapVaultFromAdapter: {
		name:    "UNWRAP_VAULT_FROM_4626_ADAPTER",
		decode:  decodeUnwrapVault,
		execute: opUnwrapVaultFromAdapter,
		preview: previewUnwrapVaultFromAdapter,
	},
	OpDepositAssetInIBT: {
		name:    "DEPOSIT_ASSET_IN_IBT",
		decode:  decodeDepositAssetInIBT,
		execute: opDepositAssetInIBT,
		preview: previewDepositAssetInIBT,
	},
	OpDepositAssetInPT: {
		name:    "DEPOSIT_ASSET_IN_PT",
		decode:  decodeDepositAssetInPT,
		execute: opDepositAssetInPT,
		preview: previewDepositAssetInPT,
	},
	OpDepositIBTInPT: {
		name:    "DEPOSIT_IBT_IN_PT",
		decode:  decodeDepositIBTInPT,
		execute: opDepositIBTInPT,
		preview: previewDepositIBTInPT,
	},
	OpRedeemIBTForAsset: {
		name:    "REDEEM_IBT_FOR_ASSET",
		decode:  decodeRedeemIBTForAsset,
		execute: opRedeemIBTForAsset,
		preview: previewRedeemIBTForAsset,
	},
	OpRedeemPTForAsset: {
		name:    "REDEEM_PT_FOR_ASSET",
		decode:  decodeRedeemPTForAsset,
		execute: opRedeemPTForAsset,
		preview: previewRedeemPTForAsset,
	},
	OpRedeemPTForIBT: {
		name:    "REDEEM_PT_FOR_IBT",
		decode:  decodeRedeemPTForIBT,
		execute: opRedeemPTForIBT,
		preview: previewRedeemPTForIBT,
	},
	OpFlashLoan: {
		name:    "FLASH_LOAN",
		decode:  decodeFlashLoan,
		execute: opFlashLoan,
	},
	OpCurveSplitIBTLiquidity: {
		name:    "CURVE_SPLIT_IBT_LIQUIDITY",
		decode:  decodeCurveSplitIBTLiquidity,
		execute: opCurveSplitIBTLiquidity,
		preview: previewCurveSplitIBTLiquidity,
	},
	OpCurveAddLiquidity: {
		name:    "CURVE_ADD_LIQUIDITY",
		decode:  decodeCurveAddLiquidity,
		execute: opCurveAddLiquidity,
		preview: previewCurveAddLiquidity,
	},
	OpCurveRemoveLiquidity: {
		name:    "CURVE_REMOVE_LIQUIDITY",
		decode:  decodeCurveRemoveLiquidity,
		execute: opCurveRemoveLiquidity,
		preview: previewCurveRemoveLiquidity,
	},
	OpCurveRemoveLiquidityOneCoin: {
		name:    "CURVE_REMOVE_LIQUIDITY_ONE_COIN",
		decode:  decodeCurveRemoveLiquidityOneCoin,
		execute: opCurveRemoveLiquidityOneCoin,
		preview: previewCurveRemoveLiquidityOneCoin,
	},
	OpKyberSwap: {
		name:    "KYBER_SWAP",
		decode:  decodeKyberSwap,
		execute: opKyberSwap,
		preview: previewKyberSwap,
	},
	OpAssertMinBalance: {
		name:    "ASSERT_MIN_BALANCE",
		decode:  decodeAssertMinBalance,
		execute: opAssertMinBalance,
		preview: previewNeutral,
	},
	OpPendleRemoveLiquiditySingleToken: {
		name:    "PENDLE_REMOVE_LIQUIDITY_SINGLE_TOKEN",
		decode:  decodePendleRemoveLiquidity,
		execute: opPendleRemoveLiquiditySingleToken,
		preview: previewPendleRemoveLiquidity,
	},
}

// previewFlashLoan previews the callback program, which decodes against the
// jump table itself; assigning it here breaks the initialization cycle the
// compiler would otherwise reject.
func init() {
	jumpTable[OpFlashLoan].preview = previewFlashLoan
}

// Router interprets command programs against a World. It is single-threaded:
// one invocation at a time, no internal parallelism, and no state between
// invocations beyond what the world itself persists (balances, trusted
// allowances).
type Router struct {
	world World
	cfg   Config
	ctx   execContext
}

var _ FlashBorrower = (*Router)(nil)

// New returns a router bound to world. cfg.Registry must be non-nil.
func New(world World, cfg Config) *Router {
	if cfg.Registry == nil {
		panic("engine: nil registry")
	}
	return &Router{world: world, cfg: cfg}
}

// Address returns the router's own account, satisfying FlashBorrower.
func (r *Router) Address() common.Address {
	return r.cfg.Self
}

// Execute decodes and runs a program on behalf of caller. Any failure
// reverts every effect of the invocation, including allowance changes made
// by earlier commands; there is no partial commit.
func (r *Router) Execute(caller common.Address, tags []byte, inputs [][]byte) error {
	cmds, err := DecodeProgram(tags, inputs)
	if err != nil {
		return err
	}
	snap := r.world.Snapshot()
	r.ctx.msgSender = caller
	defer r.ctx.reset()

	if err := r.executeProgram(cmds); err != nil {
		r.world.RevertToSnapshot(snap)
		executionRevertedMeter.Inc(1)
		return err
	}
	return nil
}

// executeProgram runs already-decoded commands inside the current
// invocation. Flash-loan callbacks re-enter here with the outer context
// still in place.
func (r *Router) executeProgram(cmds []Command) error {
	for i, cmd := range cmds {
		if err := jumpTable[cmd.Op].execute(r, cmd.Args); err != nil {
			log.Debug("Command failed", "position", i, "op", cmd.Op.String(), "err", err)
			return fmt.Errorf("command %d (%s): %w", i, cmd.Op, err)
		}
		commandExecutedCounter.Inc(1)
	}
	return nil
}

// OnFlashLoan is the lender-driven callback entry point. Only the lender
// recorded by the FLASH_LOAN command in flight may call it, and only for a
// loan the router itself initiated; data carries a nested program executed
// within the outer invocation. Repayment (amount plus fee) is authorized
// before returning.
func (r *Router) OnFlashLoan(lender, initiator, token common.Address, amount, fee *big.Int, data []byte) error {
	if lender == (common.Address{}) || lender != r.ctx.flashLender {
		return fmt.Errorf("%w: unexpected callback from %s", ErrInvalidFlashloanLender, lender)
	}
	if initiator != r.cfg.Self {
		return fmt.Errorf("%w: loan initiated by %s", ErrInvalidFlashloanLender, initiator)
	}
	if len(data) > 0 {
		cmds, err := decodeCallbackProgram(data)
		if err != nil {
			return err
		}
		if err := r.executeProgram(cmds); err != nil {
			return err
		}
	}
	repay := new(big.Int).Add(amount, fee)
	return r.approveSpend(token, lender, repay)
}
