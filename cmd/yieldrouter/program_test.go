package main

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openyield/yieldrouter/engine"
)

func TestParseProgram(t *testing.T) {
	data := []byte(`[
		{"op": "TRANSFER_FROM", "input": "0xdeadbeef"},
		{"op": "CURVE_SWAP", "input": "0x00"},
		{"op": "ASSERT_MIN_BALANCE", "input": "0x"}
	]`)
	tags, inputs, err := parseProgram(data)
	require.NoError(t, err)
	require.Equal(t, []byte{
		byte(engine.OpTransferFrom),
		byte(engine.OpCurveSwap),
		byte(engine.OpAssertMinBalance),
	}, tags)
	require.Equal(t, [][]byte{{0xde, 0xad, 0xbe, 0xef}, {0x00}, {}}, inputs)
}

func TestParseProgramUnknownOp(t *testing.T) {
	_, _, err := parseProgram([]byte(`[{"op": "FROB", "input": "0x"}]`))
	require.ErrorContains(t, err, "unknown operation")
}

func TestParseProgramRejectsEmpty(t *testing.T) {
	_, _, err := parseProgram([]byte(`[]`))
	require.Error(t, err)
}

func TestParseProgramBadHex(t *testing.T) {
	_, _, err := parseProgram([]byte(`[{"op": "TRANSFER", "input": "zz"}]`))
	require.Error(t, err)
}

func TestFormatRay(t *testing.T) {
	require.Equal(t, "1", formatRay(new(big.Int).Set(engine.Ray)))
	half := new(big.Int).Rsh(engine.Ray, 1)
	require.Equal(t, "0.5", formatRay(half))
	two := new(big.Int).Lsh(engine.Ray, 1)
	require.Equal(t, "2", formatRay(two))
}
