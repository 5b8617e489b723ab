package onchain

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// fakeBackend answers eth_call by (target, selector) lookup.
type fakeBackend struct {
	responses map[string][]byte
	native    map[common.Address]*big.Int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		responses: make(map[string][]byte),
		native:    make(map[common.Address]*big.Int),
	}
}

func callKey(target common.Address, selector []byte) string {
	return target.Hex() + common.Bytes2Hex(selector)
}

// respond registers the packed outputs of one method on one contract.
func (f *fakeBackend) respond(t *testing.T, target common.Address, contract abi.ABI, method string, outs ...interface{}) {
	t.Helper()
	m, ok := contract.Methods[method]
	if !ok {
		t.Fatalf("no method %s", method)
	}
	data, err := m.Outputs.Pack(outs...)
	if err != nil {
		t.Fatalf("pack outputs of %s: %v", method, err)
	}
	f.responses[callKey(target, m.ID)] = data
}

func (f *fakeBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fmt.Errorf("malformed call")
	}
	if res, ok := f.responses[callKey(*msg.To, msg.Data[:4])]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("execution reverted")
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if b := f.native[account]; b != nil {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func TestReaderERC20Views(t *testing.T) {
	token := common.HexToAddress("0xaa")
	owner := common.HexToAddress("0xbb")
	backend := newFakeBackend()
	backend.respond(t, token, erc20ABI, "balanceOf", big.NewInt(42))
	backend.respond(t, token, erc20ABI, "decimals", uint8(6))
	backend.respond(t, token, erc20ABI, "totalSupply", big.NewInt(1_000_000))
	backend.native[owner] = big.NewInt(7)

	r := NewReader(context.Background(), backend, nil)

	bal, err := r.BalanceOf(token, owner)
	if err != nil {
		t.Fatalf("balanceOf: %v", err)
	}
	if bal.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("balance = %v", bal)
	}

	dec, err := r.Decimals(token)
	if err != nil || dec != 6 {
		t.Fatalf("decimals = %d, %v", dec, err)
	}

	supply, err := r.TotalSupply(token)
	if err != nil || supply.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("totalSupply = %v, %v", supply, err)
	}

	native, err := r.NativeBalanceOf(owner)
	if err != nil || native.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("native = %v, %v", native, err)
	}
}

func TestReaderPoolViews(t *testing.T) {
	pool := common.HexToAddress("0xcc")
	coin := common.HexToAddress("0xdd")
	backend := newFakeBackend()
	backend.respond(t, pool, poolABI, "coins", coin)
	backend.respond(t, pool, poolABI, "get_dy", big.NewInt(150))
	backend.respond(t, pool, poolABI, "calc_token_amount", big.NewInt(99))

	r := NewReader(context.Background(), backend, nil)

	got, err := r.PoolCoin(pool, 1)
	if err != nil || got != coin {
		t.Fatalf("poolCoin = %s, %v", got, err)
	}

	lp, err := r.PoolLPToken(pool)
	if err != nil || lp != pool {
		t.Fatalf("lpToken = %s, %v", lp, err)
	}

	dy, err := r.GetDy(pool, 0, 1, big.NewInt(100))
	if err != nil || dy.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("getDy = %v, %v", dy, err)
	}

	lpOut, err := r.CalcTokenAmount(pool, [2]*big.Int{big.NewInt(50), big.NewInt(50)})
	if err != nil || lpOut.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("calcTokenAmount = %v, %v", lpOut, err)
	}
}

func TestReaderMarketStaticPreview(t *testing.T) {
	market := common.HexToAddress("0xee")
	tokenOut := common.HexToAddress("0xff")
	backend := newFakeBackend()
	backend.respond(t, market, marketABI, "removeLiquiditySingleTokenStatic",
		big.NewInt(200), big.NewInt(1), big.NewInt(0))

	r := NewReader(context.Background(), backend, nil)
	out, err := r.PreviewRemoveLiquiditySingleToken(market, tokenOut, big.NewInt(100))
	if err != nil || out.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("preview = %v, %v", out, err)
	}
}

func TestReaderSurfacesRevert(t *testing.T) {
	r := NewReader(context.Background(), newFakeBackend(), nil)
	if _, err := r.BalanceOf(common.HexToAddress("0xaa"), common.HexToAddress("0xbb")); err == nil {
		t.Fatal("reverted call returned no error")
	}
}
