package engine

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func mustPack(t *testing.T, s abi.Arguments, vals ...interface{}) []byte {
	t.Helper()
	blob, err := s.Pack(vals...)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return blob
}

func TestDecodeProgramRejectsUnknownOpcode(t *testing.T) {
	_, err := DecodeProgram([]byte{0x3f}, [][]byte{nil})
	if !errors.Is(err, ErrInvalidCommandType) {
		t.Fatalf("want ErrInvalidCommandType, got %v", err)
	}
}

func TestDecodeProgramMasksFlagBits(t *testing.T) {
	blob := mustPack(t, transferFromSchema, common.HexToAddress("0xaa"), big.NewInt(1))
	tag := byte(OpTransferFrom) | 0xc0
	cmds, err := DecodeProgram([]byte{tag}, [][]byte{blob})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmds[0].Op != OpTransferFrom {
		t.Fatalf("op = %v, want TRANSFER_FROM", cmds[0].Op)
	}
}

func TestDecodeProgramLengthMismatch(t *testing.T) {
	_, err := DecodeProgram([]byte{byte(OpTransfer)}, nil)
	if !errors.Is(err, ErrInvalidCommandType) {
		t.Fatalf("want ErrInvalidCommandType, got %v", err)
	}
}

func TestDecodeProgramMalformedBlob(t *testing.T) {
	_, err := DecodeProgram([]byte{byte(OpTransferFrom)}, [][]byte{{0x01, 0x02}})
	if err == nil {
		t.Fatal("truncated blob decoded without error")
	}
}

func TestOpcodeNameRoundTrip(t *testing.T) {
	for op := Opcode(0); op < opcodeMax; op++ {
		name := op.String()
		got, ok := ParseOpcode(name)
		if !ok || got != op {
			t.Fatalf("round trip of %v: got %v, ok %v", op, got, ok)
		}
	}
	if _, ok := ParseOpcode("NO_SUCH_OP"); ok {
		t.Fatal("parsed a nonexistent name")
	}
}

func TestDecodeCurveSwapArgs(t *testing.T) {
	pool := common.HexToAddress("0xd0")
	blob := mustPack(t, curveSwapSchema,
		pool, big.NewInt(0), big.NewInt(1), big.NewInt(100), big.NewInt(95), UseCaller)
	cmds, err := DecodeProgram([]byte{byte(OpCurveSwap)}, [][]byte{blob})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	a, ok := cmds[0].Args.(*CurveSwapArgs)
	if !ok {
		t.Fatalf("args type %T", cmds[0].Args)
	}
	if a.Pool != pool || a.AmountIn.Cmp(big.NewInt(100)) != 0 || a.Recipient != UseCaller {
		t.Fatalf("decoded args %+v", a)
	}
}

func TestCallbackProgramRoundTrip(t *testing.T) {
	inner := mustPack(t, transferSchema,
		common.HexToAddress("0xaa"), UseCaller, big.NewInt(7))
	data, err := EncodeCallbackProgram([]byte{byte(OpTransfer)}, [][]byte{inner})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cmds, err := decodeCallbackProgram(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Op != OpTransfer {
		t.Fatalf("decoded %v commands", cmds)
	}
	if a := cmds[0].Args.(*TransferArgs); a.Amount.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("decoded args %+v", a)
	}
}
