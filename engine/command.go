package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// CommandTypeMask extracts the opcode from a command tag byte. The high bits
// are reserved for future flags and ignored.
const CommandTypeMask byte = 0x3f

// Opcode identifies one operation of the command set.
type Opcode byte

const (
	OpTransferFrom Opcode = iota
	OpTransferFromWithPermit
	OpTransfer
	OpCurveSwap
	OpWrapVaultInAdapter
	OpUnwrapVaultFromAdapter
	OpDepositAssetInIBT
	OpDepositAssetInPT
	OpDepositIBTInPT
	OpRedeemIBTForAsset
	OpRedeemPTForAsset
	OpRedeemPTForIBT
	OpFlashLoan
	OpCurveSplitIBTLiquidity
	OpCurveAddLiquidity
	OpCurveRemoveLiquidity
	OpCurveRemoveLiquidityOneCoin
	OpKyberSwap
	OpAssertMinBalance
	OpPendleRemoveLiquiditySingleToken

	opcodeMax // keep last
)

// String returns the symbolic wire name of the opcode.
func (op Opcode) String() string {
	if int(op) < len(jumpTable) && jumpTable[op].name != "" {
		return jumpTable[op].name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", byte(op))
}

// ParseOpcode resolves a symbolic name back to its opcode.
func ParseOpcode(name string) (Opcode, bool) {
	for op := Opcode(0); op < opcodeMax; op++ {
		if jumpTable[op].name == name {
			return op, true
		}
	}
	return 0, false
}

// Command is one decoded program step: the opcode plus its typed argument
// payload, decoded exactly once at the system boundary.
type Command struct {
	Op   Opcode
	Args interface{}
}

// Typed argument payloads, one per opcode. Field order follows the wire
// schema.
type (
	TransferFromArgs struct {
		Token  common.Address
		Amount *big.Int
	}
	TransferFromWithPermitArgs struct {
		Token    common.Address
		Amount   *big.Int
		Deadline *big.Int
		V        uint8
		R        [32]byte
		S        [32]byte
	}
	TransferArgs struct {
		Token     common.Address
		Recipient common.Address
		Amount    *big.Int
	}
	CurveSwapArgs struct {
		Pool      common.Address
		InIndex   *big.Int
		OutIndex  *big.Int
		AmountIn  *big.Int
		MinOut    *big.Int
		Recipient common.Address
	}
	WrapVaultArgs struct {
		Adapter          common.Address
		VaultShares      *big.Int
		Recipient        common.Address
		MinWrapperShares *big.Int
	}
	UnwrapVaultArgs struct {
		Adapter        common.Address
		WrapperShares  *big.Int
		Recipient      common.Address
		MinVaultShares *big.Int
	}
	DepositAssetInIBTArgs struct {
		Vault     common.Address
		Assets    *big.Int
		Recipient common.Address
	}
	DepositAssetInPTArgs struct {
		PT          common.Address
		Assets      *big.Int
		PTRecipient common.Address
		YTRecipient common.Address
		MinShares   *big.Int
	}
	DepositIBTInPTArgs struct {
		PT          common.Address
		IBTAmount   *big.Int
		PTRecipient common.Address
		YTRecipient common.Address
		MinShares   *big.Int
	}
	RedeemIBTForAssetArgs struct {
		Vault     common.Address
		Shares    *big.Int
		Recipient common.Address
	}
	RedeemPTForAssetArgs struct {
		PT        common.Address
		Shares    *big.Int
		Recipient common.Address
		MinAssets *big.Int
	}
	RedeemPTForIBTArgs struct {
		PT        common.Address
		Shares    *big.Int
		Recipient common.Address
		MinIBT    *big.Int
	}
	FlashLoanArgs struct {
		Lender common.Address
		Token  common.Address
		Amount *big.Int
		Data   []byte
	}
	CurveSplitIBTLiquidityArgs struct {
		Pool        common.Address
		IBTAmount   *big.Int
		Recipient   common.Address
		YTRecipient common.Address
		MinPTShares *big.Int
	}
	CurveAddLiquidityArgs struct {
		Pool          common.Address
		Amounts       [2]*big.Int
		MinMintAmount *big.Int
		Recipient     common.Address
	}
	CurveRemoveLiquidityArgs struct {
		Pool       common.Address
		LPAmount   *big.Int
		MinAmounts [2]*big.Int
		Recipient  common.Address
	}
	CurveRemoveLiquidityOneCoinArgs struct {
		Pool      common.Address
		LPAmount  *big.Int
		CoinIndex *big.Int
		MinAmount *big.Int
		Recipient common.Address
	}
	KyberSwapArgs struct {
		TokenIn           common.Address
		AmountIn          *big.Int
		TokenOut          common.Address
		ExpectedAmountOut *big.Int
		Payload           []byte
	}
	AssertMinBalanceArgs struct {
		Token     common.Address
		Owner     common.Address
		MinAmount *big.Int
	}
	PendleRemoveLiquidityArgs struct {
		Receiver       common.Address
		Market         common.Address
		LPAmount       *big.Int
		TokenOut       common.Address
		MinTokenOut    *big.Int
		LimitOrderData []byte
	}
)

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

var (
	addressT     = mustType("address")
	uint256T     = mustType("uint256")
	uint8T       = mustType("uint8")
	bytes32T     = mustType("bytes32")
	bytesT       = mustType("bytes")
	bytesArrT    = mustType("bytes[]")
	uint256Arr2T = mustType("uint256[2]")
)

func schema(types ...abi.Type) abi.Arguments {
	out := make(abi.Arguments, len(types))
	for i, t := range types {
		out[i] = abi.Argument{Type: t}
	}
	return out
}

func unpack(args abi.Arguments, blob []byte, want int) ([]interface{}, error) {
	vals, err := args.Unpack(blob)
	if err != nil {
		return nil, err
	}
	if len(vals) != want {
		return nil, fmt.Errorf("argument count mismatch: have %d, want %d", len(vals), want)
	}
	return vals, nil
}

// DecodeProgram pairs each tag byte with its argument blob and decodes the
// blobs into typed commands. Any decode failure aborts the whole program.
func DecodeProgram(tags []byte, inputs [][]byte) ([]Command, error) {
	if len(tags) != len(inputs) {
		return nil, fmt.Errorf("%w: %d tags, %d inputs", ErrInvalidCommandType, len(tags), len(inputs))
	}
	cmds := make([]Command, len(tags))
	for i, tag := range tags {
		op := Opcode(tag & CommandTypeMask)
		if op >= opcodeMax || jumpTable[op].decode == nil {
			return nil, fmt.Errorf("%w: tag 0x%02x at position %d", ErrInvalidCommandType, tag, i)
		}
		args, err := jumpTable[op].decode(inputs[i])
		if err != nil {
			return nil, fmt.Errorf("decode %s at position %d: %w", op, i, err)
		}
		cmds[i] = Command{Op: op, Args: args}
	}
	return cmds, nil
}

var (
	transferFromSchema     = schema(addressT, uint256T)
	permitTransferSchema   = schema(addressT, uint256T, uint256T, uint8T, bytes32T, bytes32T)
	transferSchema         = schema(addressT, addressT, uint256T)
	curveSwapSchema        = schema(addressT, uint256T, uint256T, uint256T, uint256T, addressT)
	wrapVaultSchema        = schema(addressT, uint256T, addressT, uint256T)
	unwrapVaultSchema      = schema(addressT, uint256T, addressT, uint256T)
	depositAssetIBTSchema  = schema(addressT, uint256T, addressT)
	depositAssetPTSchema   = schema(addressT, uint256T, addressT, addressT, uint256T)
	depositIBTPTSchema     = schema(addressT, uint256T, addressT, addressT, uint256T)
	redeemIBTSchema        = schema(addressT, uint256T, addressT)
	redeemPTAssetSchema    = schema(addressT, uint256T, addressT, uint256T)
	redeemPTIBTSchema      = schema(addressT, uint256T, addressT, uint256T)
	flashLoanSchema        = schema(addressT, addressT, uint256T, bytesT)
	splitLiquiditySchema   = schema(addressT, uint256T, addressT, addressT, uint256T)
	addLiquiditySchema     = schema(addressT, uint256Arr2T, uint256T, addressT)
	removeLiquiditySchema  = schema(addressT, uint256T, uint256Arr2T, addressT)
	removeOneCoinSchema    = schema(addressT, uint256T, uint256T, uint256T, addressT)
	kyberSwapSchema        = schema(addressT, uint256T, addressT, uint256T, bytesT)
	assertMinBalanceSchema = schema(addressT, addressT, uint256T)
	pendleRemoveSchema     = schema(addressT, addressT, uint256T, addressT, uint256T, bytesT)

	// Flash-loan callback payloads carry a nested program.
	callbackProgramSchema = schema(bytesT, bytesArrT)
)

func decodeTransferFrom(blob []byte) (interface{}, error) {
	vals, err := unpack(transferFromSchema, blob, 2)
	if err != nil {
		return nil, err
	}
	return &TransferFromArgs{
		Token:  vals[0].(common.Address),
		Amount: vals[1].(*big.Int),
	}, nil
}

func decodeTransferFromWithPermit(blob []byte) (interface{}, error) {
	vals, err := unpack(permitTransferSchema, blob, 6)
	if err != nil {
		return nil, err
	}
	return &TransferFromWithPermitArgs{
		Token:    vals[0].(common.Address),
		Amount:   vals[1].(*big.Int),
		Deadline: vals[2].(*big.Int),
		V:        vals[3].(uint8),
		R:        vals[4].([32]byte),
		S:        vals[5].([32]byte),
	}, nil
}

func decodeTransfer(blob []byte) (interface{}, error) {
	vals, err := unpack(transferSchema, blob, 3)
	if err != nil {
		return nil, err
	}
	return &TransferArgs{
		Token:     vals[0].(common.Address),
		Recipient: vals[1].(common.Address),
		Amount:    vals[2].(*big.Int),
	}, nil
}

func decodeCurveSwap(blob []byte) (interface{}, error) {
	vals, err := unpack(curveSwapSchema, blob, 6)
	if err != nil {
		return nil, err
	}
	return &CurveSwapArgs{
		Pool:      vals[0].(common.Address),
		InIndex:   vals[1].(*big.Int),
		OutIndex:  vals[2].(*big.Int),
		AmountIn:  vals[3].(*big.Int),
		MinOut:    vals[4].(*big.Int),
		Recipient: vals[5].(common.Address),
	}, nil
}

func decodeWrapVault(blob []byte) (interface{}, error) {
	vals, err := unpack(wrapVaultSchema, blob, 4)
	if err != nil {
		return nil, err
	}
	return &WrapVaultArgs{
		Adapter:          vals[0].(common.Address),
		VaultShares:      vals[1].(*big.Int),
		Recipient:        vals[2].(common.Address),
		MinWrapperShares: vals[3].(*big.Int),
	}, nil
}

func decodeUnwrapVault(blob []byte) (interface{}, error) {
	vals, err := unpack(unwrapVaultSchema, blob, 4)
	if err != nil {
		return nil, err
	}
	return &UnwrapVaultArgs{
		Adapter:        vals[0].(common.Address),
		WrapperShares:  vals[1].(*big.Int),
		Recipient:      vals[2].(common.Address),
		MinVaultShares: vals[3].(*big.Int),
	}, nil
}

func decodeDepositAssetInIBT(blob []byte) (interface{}, error) {
	vals, err := unpack(depositAssetIBTSchema, blob, 3)
	if err != nil {
		return nil, err
	}
	return &DepositAssetInIBTArgs{
		Vault:     vals[0].(common.Address),
		Assets:    vals[1].(*big.Int),
		Recipient: vals[2].(common.Address),
	}, nil
}

func decodeDepositAssetInPT(blob []byte) (interface{}, error) {
	vals, err := unpack(depositAssetPTSchema, blob, 5)
	if err != nil {
		return nil, err
	}
	return &DepositAssetInPTArgs{
		PT:          vals[0].(common.Address),
		Assets:      vals[1].(*big.Int),
		PTRecipient: vals[2].(common.Address),
		YTRecipient: vals[3].(common.Address),
		MinShares:   vals[4].(*big.Int),
	}, nil
}

func decodeDepositIBTInPT(blob []byte) (interface{}, error) {
	vals, err := unpack(depositIBTPTSchema, blob, 5)
	if err != nil {
		return nil, err
	}
	return &DepositIBTInPTArgs{
		PT:          vals[0].(common.Address),
		IBTAmount:   vals[1].(*big.Int),
		PTRecipient: vals[2].(common.Address),
		YTRecipient: vals[3].(common.Address),
		MinShares:   vals[4].(*big.Int),
	}, nil
}

func decodeRedeemIBTForAsset(blob []byte) (interface{}, error) {
	vals, err := unpack(redeemIBTSchema, blob, 3)
	if err != nil {
		return nil, err
	}
	return &RedeemIBTForAssetArgs{
		Vault:     vals[0].(common.Address),
		Shares:    vals[1].(*big.Int),
		Recipient: vals[2].(common.Address),
	}, nil
}

func decodeRedeemPTForAsset(blob []byte) (interface{}, error) {
	vals, err := unpack(redeemPTAssetSchema, blob, 4)
	if err != nil {
		return nil, err
	}
	return &RedeemPTForAssetArgs{
		PT:        vals[0].(common.Address),
		Shares:    vals[1].(*big.Int),
		Recipient: vals[2].(common.Address),
		MinAssets: vals[3].(*big.Int),
	}, nil
}

func decodeRedeemPTForIBT(blob []byte) (interface{}, error) {
	vals, err := unpack(redeemPTIBTSchema, blob, 4)
	if err != nil {
		return nil, err
	}
	return &RedeemPTForIBTArgs{
		PT:        vals[0].(common.Address),
		Shares:    vals[1].(*big.Int),
		Recipient: vals[2].(common.Address),
		MinIBT:    vals[3].(*big.Int),
	}, nil
}

func decodeFlashLoan(blob []byte) (interface{}, error) {
	vals, err := unpack(flashLoanSchema, blob, 4)
	if err != nil {
		return nil, err
	}
	return &FlashLoanArgs{
		Lender: vals[0].(common.Address),
		Token:  vals[1].(common.Address),
		Amount: vals[2].(*big.Int),
		Data:   vals[3].([]byte),
	}, nil
}

func decodeCurveSplitIBTLiquidity(blob []byte) (interface{}, error) {
	vals, err := unpack(splitLiquiditySchema, blob, 5)
	if err != nil {
		return nil, err
	}
	return &CurveSplitIBTLiquidityArgs{
		Pool:        vals[0].(common.Address),
		IBTAmount:   vals[1].(*big.Int),
		Recipient:   vals[2].(common.Address),
		YTRecipient: vals[3].(common.Address),
		MinPTShares: vals[4].(*big.Int),
	}, nil
}

func decodeCurveAddLiquidity(blob []byte) (interface{}, error) {
	vals, err := unpack(addLiquiditySchema, blob, 4)
	if err != nil {
		return nil, err
	}
	return &CurveAddLiquidityArgs{
		Pool:          vals[0].(common.Address),
		Amounts:       vals[1].([2]*big.Int),
		MinMintAmount: vals[2].(*big.Int),
		Recipient:     vals[3].(common.Address),
	}, nil
}

func decodeCurveRemoveLiquidity(blob []byte) (interface{}, error) {
	vals, err := unpack(removeLiquiditySchema, blob, 4)
	if err != nil {
		return nil, err
	}
	return &CurveRemoveLiquidityArgs{
		Pool:       vals[0].(common.Address),
		LPAmount:   vals[1].(*big.Int),
		MinAmounts: vals[2].([2]*big.Int),
		Recipient:  vals[3].(common.Address),
	}, nil
}

func decodeCurveRemoveLiquidityOneCoin(blob []byte) (interface{}, error) {
	vals, err := unpack(removeOneCoinSchema, blob, 5)
	if err != nil {
		return nil, err
	}
	return &CurveRemoveLiquidityOneCoinArgs{
		Pool:      vals[0].(common.Address),
		LPAmount:  vals[1].(*big.Int),
		CoinIndex: vals[2].(*big.Int),
		MinAmount: vals[3].(*big.Int),
		Recipient: vals[4].(common.Address),
	}, nil
}

func decodeKyberSwap(blob []byte) (interface{}, error) {
	vals, err := unpack(kyberSwapSchema, blob, 5)
	if err != nil {
		return nil, err
	}
	return &KyberSwapArgs{
		TokenIn:           vals[0].(common.Address),
		AmountIn:          vals[1].(*big.Int),
		TokenOut:          vals[2].(common.Address),
		ExpectedAmountOut: vals[3].(*big.Int),
		Payload:           vals[4].([]byte),
	}, nil
}

func decodeAssertMinBalance(blob []byte) (interface{}, error) {
	vals, err := unpack(assertMinBalanceSchema, blob, 3)
	if err != nil {
		return nil, err
	}
	return &AssertMinBalanceArgs{
		Token:     vals[0].(common.Address),
		Owner:     vals[1].(common.Address),
		MinAmount: vals[2].(*big.Int),
	}, nil
}

func decodePendleRemoveLiquidity(blob []byte) (interface{}, error) {
	vals, err := unpack(pendleRemoveSchema, blob, 6)
	if err != nil {
		return nil, err
	}
	return &PendleRemoveLiquidityArgs{
		Receiver:       vals[0].(common.Address),
		Market:         vals[1].(common.Address),
		LPAmount:       vals[2].(*big.Int),
		TokenOut:       vals[3].(common.Address),
		MinTokenOut:    vals[4].(*big.Int),
		LimitOrderData: vals[5].([]byte),
	}, nil
}

// decodeCallbackProgram unpacks a nested program carried inside a flash-loan
// callback payload.
func decodeCallbackProgram(data []byte) ([]Command, error) {
	vals, err := unpack(callbackProgramSchema, data, 2)
	if err != nil {
		return nil, err
	}
	tags := vals[0].([]byte)
	inputs := vals[1].([][]byte)
	return DecodeProgram(tags, inputs)
}

// EncodeCallbackProgram is the inverse of decodeCallbackProgram; planners use
// it to build FLASH_LOAN payloads.
func EncodeCallbackProgram(tags []byte, inputs [][]byte) ([]byte, error) {
	return callbackProgramSchema.Pack(tags, inputs)
}
