package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MemWorld is a journaled, in-memory World. It backs the engine's tests and
// the CLI's self-check mode with reference implementations of every external
// primitive: ERC-20 tokens, a linear-price stable pool, an ERC-4626 vault, a
// 4626 wrapper adapter, a principal token with flash loans, and a
// single-token liquidity market. Every mutation goes through journaled
// setters, so RevertToSnapshot restores any prior state exactly.
//
// MemWorld is not safe for concurrent use; neither is the router it backs.
type MemWorld struct {
	tokens   map[common.Address]*memToken
	native   map[common.Address]*big.Int
	pools    map[common.Address]*memPool
	vaults   map[common.Address]*memVault
	adapters map[common.Address]*memAdapter
	pts      map[common.Address]*memPT
	markets  map[common.Address]*memMarket

	// marketRouter is the spender markets pull LP shares through.
	marketRouter common.Address

	// PermitHook, when set, decides whether a permit attempt succeeds. The
	// default permit always sets the requested allowance.
	PermitHook func(token, owner, spender common.Address, value, deadline *big.Int) error

	// ForwardHook handles opaque aggregator payloads. Unset, every
	// forwarded call fails.
	ForwardHook func(caller, target common.Address, payload []byte, value *big.Int) error

	journal []func()
}

type memToken struct {
	decimals   uint8
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// memPool is a two-coin pool with a linear price (no curvature): coin1 per
// coin0 equals priceNum/priceDen, with an output fee in basis points.
// Reserves are the pool account's real token balances, so conservation holds
// by construction. The pool's own address doubles as its LP token.
type memPool struct {
	coins    [2]common.Address
	priceNum *big.Int
	priceDen *big.Int
	feeBps   int64
}

// memVault converts assets to shares at a fixed assets-per-share rate
// num/den. The vault's address doubles as its share token.
type memVault struct {
	asset common.Address
	num   *big.Int
	den   *big.Int
}

// memAdapter wraps vault shares into wrapper shares at num/den wrapper per
// vault share.
type memAdapter struct {
	vault common.Address
	num   *big.Int
	den   *big.Int
}

// memPT mints num/den principal (and yield) tokens per IBT share. Its own
// address is the PT token.
type memPT struct {
	ibt         common.Address // backing 4626 vault
	underlying  common.Address
	yt          common.Address
	num         *big.Int
	den         *big.Int
	flashFeeBps int64
}

// memMarket redeems its own LP token for tokenOut at num/den out per share.
type memMarket struct {
	tokenOut common.Address
	num      *big.Int
	den      *big.Int
}

var (
	_ World    = (*MemWorld)(nil)
	_ Registry = (*MemRegistry)(nil)
)

// NewMemWorld returns an empty world.
func NewMemWorld() *MemWorld {
	return &MemWorld{
		tokens:   make(map[common.Address]*memToken),
		native:   make(map[common.Address]*big.Int),
		pools:    make(map[common.Address]*memPool),
		vaults:   make(map[common.Address]*memVault),
		adapters: make(map[common.Address]*memAdapter),
		pts:      make(map[common.Address]*memPT),
		markets:  make(map[common.Address]*memMarket),
	}
}

// --- setup helpers (not journaled; call before snapshotting) ---

// CreateToken registers an ERC-20 with the given decimals.
func (w *MemWorld) CreateToken(addr common.Address, decimals uint8) {
	w.tokens[addr] = &memToken{
		decimals:   decimals,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits amount of token to owner, growing total supply.
func (w *MemWorld) Mint(token, owner common.Address, amount *big.Int) {
	t := w.tokens[token]
	if t == nil {
		panic(fmt.Sprintf("mint on unknown token %s", token))
	}
	t.balances[owner] = new(big.Int).Add(w.balance(t, owner), amount)
	t.supply = new(big.Int).Add(t.supply, amount)
}

// MintNative credits native currency to owner.
func (w *MemWorld) MintNative(owner common.Address, amount *big.Int) {
	cur := w.native[owner]
	if cur == nil {
		cur = new(big.Int)
	}
	w.native[owner] = new(big.Int).Add(cur, amount)
}

// CreatePool registers a two-coin pool at addr pricing coin1 at
// priceNum/priceDen per coin0, charging feeBps on output. The pool address
// becomes its LP token (18 decimals).
func (w *MemWorld) CreatePool(addr, coin0, coin1 common.Address, priceNum, priceDen *big.Int, feeBps int64) {
	w.pools[addr] = &memPool{
		coins:    [2]common.Address{coin0, coin1},
		priceNum: new(big.Int).Set(priceNum),
		priceDen: new(big.Int).Set(priceDen),
		feeBps:   feeBps,
	}
	w.CreateToken(addr, 18)
}

// CreateVault registers an ERC-4626 vault holding asset, worth num/den
// assets per share. The vault address becomes the share token.
func (w *MemWorld) CreateVault(addr, asset common.Address, num, den *big.Int, decimals uint8) {
	w.vaults[addr] = &memVault{asset: asset, num: new(big.Int).Set(num), den: new(big.Int).Set(den)}
	w.CreateToken(addr, decimals)
}

// CreateAdapter registers a 4626 wrapper over vault minting num/den wrapper
// shares per vault share.
func (w *MemWorld) CreateAdapter(addr, vault common.Address, num, den *big.Int, decimals uint8) {
	w.adapters[addr] = &memAdapter{vault: vault, num: new(big.Int).Set(num), den: new(big.Int).Set(den)}
	w.CreateToken(addr, decimals)
}

// CreatePrincipalToken registers a principal token over the vault ibt,
// minting num/den PT (and YT) per IBT share.
func (w *MemWorld) CreatePrincipalToken(addr, ibt, underlying, yt common.Address, num, den *big.Int, flashFeeBps int64, decimals uint8) {
	w.pts[addr] = &memPT{
		ibt:         ibt,
		underlying:  underlying,
		yt:          yt,
		num:         new(big.Int).Set(num),
		den:         new(big.Int).Set(den),
		flashFeeBps: flashFeeBps,
	}
	w.CreateToken(addr, decimals)
	w.CreateToken(yt, decimals)
}

// CreateMarket registers a liquidity market redeeming its LP for tokenOut at
// num/den out per share.
func (w *MemWorld) CreateMarket(addr, tokenOut common.Address, num, den *big.Int, decimals uint8) {
	w.markets[addr] = &memMarket{tokenOut: tokenOut, num: new(big.Int).Set(num), den: new(big.Int).Set(den)}
	w.CreateToken(addr, decimals)
}

// SetMarketRouter names the spender markets pull LP shares through.
func (w *MemWorld) SetMarketRouter(addr common.Address) {
	w.marketRouter = addr
}

// --- journaled primitives ---

func (w *MemWorld) balance(t *memToken, owner common.Address) *big.Int {
	if b := t.balances[owner]; b != nil {
		return b
	}
	return new(big.Int)
}

func (w *MemWorld) setBalance(t *memToken, owner common.Address, v *big.Int) {
	prev := t.balances[owner]
	w.journal = append(w.journal, func() {
		if prev == nil {
			delete(t.balances, owner)
		} else {
			t.balances[owner] = prev
		}
	})
	t.balances[owner] = new(big.Int).Set(v)
}

func (w *MemWorld) setSupply(t *memToken, v *big.Int) {
	prev := t.supply
	w.journal = append(w.journal, func() { t.supply = prev })
	t.supply = new(big.Int).Set(v)
}

func (w *MemWorld) setAllowance(t *memToken, owner, spender common.Address, v *big.Int) {
	m := t.allowances[owner]
	if m == nil {
		m = make(map[common.Address]*big.Int)
		t.allowances[owner] = m
	}
	prev := m[spender]
	w.journal = append(w.journal, func() {
		if prev == nil {
			delete(m, spender)
		} else {
			m[spender] = prev
		}
	})
	m[spender] = new(big.Int).Set(v)
}

func (w *MemWorld) setNative(owner common.Address, v *big.Int) {
	prev := w.native[owner]
	w.journal = append(w.journal, func() {
		if prev == nil {
			delete(w.native, owner)
		} else {
			w.native[owner] = prev
		}
	})
	w.native[owner] = new(big.Int).Set(v)
}

// Snapshot marks the current journal position.
func (w *MemWorld) Snapshot() int {
	return len(w.journal)
}

// RevertToSnapshot unwinds the journal back to a position returned by
// Snapshot.
func (w *MemWorld) RevertToSnapshot(id int) {
	if id < 0 || id > len(w.journal) {
		panic(fmt.Sprintf("revert to invalid snapshot %d (journal %d)", id, len(w.journal)))
	}
	for i := len(w.journal) - 1; i >= id; i-- {
		w.journal[i]()
	}
	w.journal = w.journal[:id]
}

// --- lookups ---

func (w *MemWorld) token(addr common.Address) (*memToken, error) {
	if t := w.tokens[addr]; t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("unknown token %s", addr)
}

func (w *MemWorld) pool(addr common.Address) (*memPool, error) {
	if p := w.pools[addr]; p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("unknown pool %s", addr)
}

func (w *MemWorld) vault(addr common.Address) (*memVault, error) {
	if v := w.vaults[addr]; v != nil {
		return v, nil
	}
	return nil, fmt.Errorf("unknown vault %s", addr)
}

func (w *MemWorld) adapter(addr common.Address) (*memAdapter, error) {
	if a := w.adapters[addr]; a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("unknown adapter %s", addr)
}

func (w *MemWorld) pt(addr common.Address) (*memPT, error) {
	if p := w.pts[addr]; p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("unknown principal token %s", addr)
}

func (w *MemWorld) market(addr common.Address) (*memMarket, error) {
	if m := w.markets[addr]; m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("unknown market %s", addr)
}

// --- StateReader ---

func (w *MemWorld) BalanceOf(token, owner common.Address) (*big.Int, error) {
	t, err := w.token(token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(w.balance(t, owner)), nil
}

func (w *MemWorld) NativeBalanceOf(owner common.Address) (*big.Int, error) {
	if b := w.native[owner]; b != nil {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (w *MemWorld) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	t, err := w.token(token)
	if err != nil {
		return nil, err
	}
	if m := t.allowances[owner]; m != nil && m[spender] != nil {
		return new(big.Int).Set(m[spender]), nil
	}
	return new(big.Int), nil
}

func (w *MemWorld) Decimals(token common.Address) (uint8, error) {
	t, err := w.token(token)
	if err != nil {
		return 0, err
	}
	return t.decimals, nil
}

func (w *MemWorld) TotalSupply(token common.Address) (*big.Int, error) {
	t, err := w.token(token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.supply), nil
}

func (w *MemWorld) PoolCoin(pool common.Address, i int) (common.Address, error) {
	p, err := w.pool(pool)
	if err != nil {
		return common.Address{}, err
	}
	if i < 0 || i >= len(p.coins) {
		return common.Address{}, fmt.Errorf("%w: coin %d of pool %s", ErrInvalidTokenIndex, i, pool)
	}
	return p.coins[i], nil
}

func (w *MemWorld) PoolLPToken(pool common.Address) (common.Address, error) {
	if _, err := w.pool(pool); err != nil {
		return common.Address{}, err
	}
	return pool, nil
}

func (w *MemWorld) PoolBalance(pool common.Address, i int) (*big.Int, error) {
	coin, err := w.PoolCoin(pool, i)
	if err != nil {
		return nil, err
	}
	return w.BalanceOf(coin, pool)
}

// quote converts dx of coin i into coin j at the pool's linear price.
func (p *memPool) quote(i, j int, dx *big.Int) *big.Int {
	out := new(big.Int).Set(dx)
	if i == 0 && j == 1 {
		out.Mul(out, p.priceNum)
		out.Quo(out, p.priceDen)
	} else if i == 1 && j == 0 {
		out.Mul(out, p.priceDen)
		out.Quo(out, p.priceNum)
	}
	if p.feeBps > 0 {
		fee := new(big.Int).Mul(out, big.NewInt(p.feeBps))
		fee.Quo(fee, big.NewInt(10000))
		out.Sub(out, fee)
	}
	return out
}

// valueInCoin0 expresses a pair of coin amounts in coin0 terms.
func (p *memPool) valueInCoin0(a0, a1 *big.Int) *big.Int {
	v := new(big.Int).Mul(a1, p.priceDen)
	v.Quo(v, p.priceNum)
	return v.Add(v, a0)
}

func (w *MemWorld) GetDy(pool common.Address, i, j int, dx *big.Int) (*big.Int, error) {
	p, err := w.pool(pool)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(p.coins) || j < 0 || j >= len(p.coins) || i == j {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidTokenIndex, i, j)
	}
	return p.quote(i, j, dx), nil
}

func (w *MemWorld) CalcTokenAmount(pool common.Address, amounts [2]*big.Int) (*big.Int, error) {
	p, err := w.pool(pool)
	if err != nil {
		return nil, err
	}
	lpToken, err := w.token(pool)
	if err != nil {
		return nil, err
	}
	v := p.valueInCoin0(amounts[0], amounts[1])
	if lpToken.supply.Sign() == 0 {
		return v, nil
	}
	b0, err := w.PoolBalance(pool, 0)
	if err != nil {
		return nil, err
	}
	b1, err := w.PoolBalance(pool, 1)
	if err != nil {
		return nil, err
	}
	pv := p.valueInCoin0(b0, b1)
	if pv.Sign() == 0 {
		return v, nil
	}
	lp := new(big.Int).Mul(v, lpToken.supply)
	return lp.Quo(lp, pv), nil
}

func (w *MemWorld) CalcWithdrawOneCoin(pool common.Address, lpAmount *big.Int, i int) (*big.Int, error) {
	p, err := w.pool(pool)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(p.coins) {
		return nil, fmt.Errorf("%w: coin %d", ErrInvalidTokenIndex, i)
	}
	lpToken, err := w.token(pool)
	if err != nil {
		return nil, err
	}
	if lpToken.supply.Sign() == 0 {
		return new(big.Int), nil
	}
	b0, err := w.PoolBalance(pool, 0)
	if err != nil {
		return nil, err
	}
	b1, err := w.PoolBalance(pool, 1)
	if err != nil {
		return nil, err
	}
	v := p.valueInCoin0(b0, b1)
	v.Mul(v, lpAmount)
	v.Quo(v, lpToken.supply)
	if i == 1 {
		v.Mul(v, p.priceNum)
		v.Quo(v, p.priceDen)
	}
	return v, nil
}

func (w *MemWorld) VaultAsset(vault common.Address) (common.Address, error) {
	v, err := w.vault(vault)
	if err != nil {
		return common.Address{}, err
	}
	return v.asset, nil
}

func (w *MemWorld) PreviewDeposit(vault common.Address, assets *big.Int) (*big.Int, error) {
	v, err := w.vault(vault)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(assets, v.den)
	return out.Quo(out, v.num), nil
}

func (w *MemWorld) PreviewRedeem(vault common.Address, shares *big.Int) (*big.Int, error) {
	v, err := w.vault(vault)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(shares, v.num)
	return out.Quo(out, v.den), nil
}

func (w *MemWorld) AdapterVault(adapter common.Address) (common.Address, error) {
	a, err := w.adapter(adapter)
	if err != nil {
		return common.Address{}, err
	}
	return a.vault, nil
}

func (w *MemWorld) PreviewWrap(adapter common.Address, vaultShares *big.Int) (*big.Int, error) {
	a, err := w.adapter(adapter)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(vaultShares, a.num)
	return out.Quo(out, a.den), nil
}

func (w *MemWorld) PreviewUnwrap(adapter common.Address, wrapperShares *big.Int) (*big.Int, error) {
	a, err := w.adapter(adapter)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(wrapperShares, a.den)
	return out.Quo(out, a.num), nil
}

func (w *MemWorld) PTIBT(pt common.Address) (common.Address, error) {
	p, err := w.pt(pt)
	if err != nil {
		return common.Address{}, err
	}
	return p.ibt, nil
}

func (w *MemWorld) PTUnderlying(pt common.Address) (common.Address, error) {
	p, err := w.pt(pt)
	if err != nil {
		return common.Address{}, err
	}
	return p.underlying, nil
}

func (w *MemWorld) PTPreviewDeposit(pt common.Address, assets *big.Int) (*big.Int, error) {
	p, err := w.pt(pt)
	if err != nil {
		return nil, err
	}
	ibtShares, err := w.PreviewDeposit(p.ibt, assets)
	if err != nil {
		return nil, err
	}
	return w.PTPreviewDepositIBT(pt, ibtShares)
}

func (w *MemWorld) PTPreviewDepositIBT(pt common.Address, ibtAmount *big.Int) (*big.Int, error) {
	p, err := w.pt(pt)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(ibtAmount, p.num)
	return out.Quo(out, p.den), nil
}

func (w *MemWorld) PTPreviewRedeem(pt common.Address, shares *big.Int) (*big.Int, error) {
	p, err := w.pt(pt)
	if err != nil {
		return nil, err
	}
	ibtShares, err := w.PTPreviewRedeemForIBT(pt, shares)
	if err != nil {
		return nil, err
	}
	return w.PreviewRedeem(p.ibt, ibtShares)
}

func (w *MemWorld) PTPreviewRedeemForIBT(pt common.Address, shares *big.Int) (*big.Int, error) {
	p, err := w.pt(pt)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(shares, p.den)
	return out.Quo(out, p.num), nil
}

func (w *MemWorld) PreviewRemoveLiquiditySingleToken(market, tokenOut common.Address, lpAmount *big.Int) (*big.Int, error) {
	m, err := w.market(market)
	if err != nil {
		return nil, err
	}
	if tokenOut != m.tokenOut {
		return nil, fmt.Errorf("market %s does not pay out %s", market, tokenOut)
	}
	out := new(big.Int).Mul(lpAmount, m.num)
	return out.Quo(out, m.den), nil
}

// --- World mutations ---

func (w *MemWorld) move(t *memToken, from, to common.Address, amount *big.Int) error {
	fromBal := w.balance(t, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance: have %v, want %v", fromBal, amount)
	}
	w.setBalance(t, from, new(big.Int).Sub(fromBal, amount))
	w.setBalance(t, to, new(big.Int).Add(w.balance(t, to), amount))
	return nil
}

func (w *MemWorld) mint(t *memToken, to common.Address, amount *big.Int) {
	w.setSupply(t, new(big.Int).Add(t.supply, amount))
	w.setBalance(t, to, new(big.Int).Add(w.balance(t, to), amount))
}

func (w *MemWorld) burn(t *memToken, from common.Address, amount *big.Int) error {
	bal := w.balance(t, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("burn exceeds balance: have %v, want %v", bal, amount)
	}
	w.setSupply(t, new(big.Int).Sub(t.supply, amount))
	w.setBalance(t, from, new(big.Int).Sub(bal, amount))
	return nil
}

// spendAllowance consumes spender's allowance from owner. An unbounded
// allowance is never decremented, matching common ERC-20 behavior.
func (w *MemWorld) spendAllowance(t *memToken, owner, spender common.Address, amount *big.Int) error {
	m := t.allowances[owner]
	var cur *big.Int
	if m != nil {
		cur = m[spender]
	}
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient allowance: %s -> %s", owner, spender)
	}
	if isFullBalance(cur) {
		return nil
	}
	w.setAllowance(t, owner, spender, new(big.Int).Sub(cur, amount))
	return nil
}

func (w *MemWorld) Transfer(token, from, to common.Address, amount *big.Int) error {
	t, err := w.token(token)
	if err != nil {
		return err
	}
	return w.move(t, from, to, amount)
}

func (w *MemWorld) TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error {
	t, err := w.token(token)
	if err != nil {
		return err
	}
	if err := w.spendAllowance(t, owner, spender, amount); err != nil {
		return err
	}
	return w.move(t, owner, to, amount)
}

func (w *MemWorld) Approve(token, owner, spender common.Address, amount *big.Int) error {
	t, err := w.token(token)
	if err != nil {
		return err
	}
	w.setAllowance(t, owner, spender, amount)
	return nil
}

func (w *MemWorld) Permit(token, owner, spender common.Address, value, deadline *big.Int, v uint8, rSig, sSig [32]byte) error {
	t, err := w.token(token)
	if err != nil {
		return err
	}
	if w.PermitHook != nil {
		if err := w.PermitHook(token, owner, spender, value, deadline); err != nil {
			return err
		}
	}
	w.setAllowance(t, owner, spender, value)
	return nil
}

func (w *MemWorld) TransferNative(from, to common.Address, amount *big.Int) error {
	fromBal, _ := w.NativeBalanceOf(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient native balance: have %v, want %v", fromBal, amount)
	}
	toBal, _ := w.NativeBalanceOf(to)
	w.setNative(from, new(big.Int).Sub(fromBal, amount))
	w.setNative(to, new(big.Int).Add(toBal, amount))
	return nil
}

func (w *MemWorld) ForwardCall(caller, target common.Address, payload []byte, value *big.Int) error {
	if w.ForwardHook == nil {
		return fmt.Errorf("no forwarding handler for %s", target)
	}
	if value != nil && value.Sign() > 0 {
		if err := w.TransferNative(caller, target, value); err != nil {
			return err
		}
	}
	return w.ForwardHook(caller, target, payload, value)
}

func (w *MemWorld) Exchange(pool, caller common.Address, i, j int, dx, minDy *big.Int, receiver common.Address) (*big.Int, error) {
	dy, err := w.GetDy(pool, i, j, dx)
	if err != nil {
		return nil, err
	}
	if minDy != nil && dy.Cmp(minDy) < 0 {
		return nil, fmt.Errorf("slippage: dy %v below min %v", dy, minDy)
	}
	coinIn, _ := w.PoolCoin(pool, i)
	coinOut, _ := w.PoolCoin(pool, j)
	tIn, err := w.token(coinIn)
	if err != nil {
		return nil, err
	}
	if err := w.spendAllowance(tIn, caller, pool, dx); err != nil {
		return nil, err
	}
	if err := w.move(tIn, caller, pool, dx); err != nil {
		return nil, err
	}
	tOut, err := w.token(coinOut)
	if err != nil {
		return nil, err
	}
	if err := w.move(tOut, pool, receiver, dy); err != nil {
		return nil, err
	}
	return dy, nil
}

func (w *MemWorld) AddLiquidity(pool, caller common.Address, amounts [2]*big.Int, minMintAmount *big.Int, receiver common.Address) (*big.Int, error) {
	lp, err := w.CalcTokenAmount(pool, amounts)
	if err != nil {
		return nil, err
	}
	if minMintAmount != nil && lp.Cmp(minMintAmount) < 0 {
		return nil, fmt.Errorf("slippage: lp %v below min %v", lp, minMintAmount)
	}
	for i := 0; i < 2; i++ {
		if amounts[i] == nil || amounts[i].Sign() == 0 {
			continue
		}
		coin, _ := w.PoolCoin(pool, i)
		t, err := w.token(coin)
		if err != nil {
			return nil, err
		}
		if err := w.spendAllowance(t, caller, pool, amounts[i]); err != nil {
			return nil, err
		}
		if err := w.move(t, caller, pool, amounts[i]); err != nil {
			return nil, err
		}
	}
	lpToken, err := w.token(pool)
	if err != nil {
		return nil, err
	}
	w.mint(lpToken, receiver, lp)
	return lp, nil
}

func (w *MemWorld) RemoveLiquidity(pool, caller common.Address, lpAmount *big.Int, minAmounts [2]*big.Int, receiver common.Address) ([2]*big.Int, error) {
	lpToken, err := w.token(pool)
	if err != nil {
		return [2]*big.Int{}, err
	}
	if lpToken.supply.Sign() == 0 {
		return [2]*big.Int{}, fmt.Errorf("empty pool %s", pool)
	}
	var outs [2]*big.Int
	supply := new(big.Int).Set(lpToken.supply)
	for i := 0; i < 2; i++ {
		bal, err := w.PoolBalance(pool, i)
		if err != nil {
			return [2]*big.Int{}, err
		}
		out := new(big.Int).Mul(bal, lpAmount)
		out.Quo(out, supply)
		if minAmounts[i] != nil && out.Cmp(minAmounts[i]) < 0 {
			return [2]*big.Int{}, fmt.Errorf("slippage: coin %d out %v below min %v", i, out, minAmounts[i])
		}
		outs[i] = out
	}
	if err := w.burn(lpToken, caller, lpAmount); err != nil {
		return [2]*big.Int{}, err
	}
	for i := 0; i < 2; i++ {
		coin, _ := w.PoolCoin(pool, i)
		t, _ := w.token(coin)
		if err := w.move(t, pool, receiver, outs[i]); err != nil {
			return [2]*big.Int{}, err
		}
	}
	return outs, nil
}

func (w *MemWorld) RemoveLiquidityOneCoin(pool, caller common.Address, lpAmount *big.Int, i int, minAmount *big.Int, receiver common.Address) (*big.Int, error) {
	out, err := w.CalcWithdrawOneCoin(pool, lpAmount, i)
	if err != nil {
		return nil, err
	}
	if minAmount != nil && out.Cmp(minAmount) < 0 {
		return nil, fmt.Errorf("slippage: out %v below min %v", out, minAmount)
	}
	lpToken, err := w.token(pool)
	if err != nil {
		return nil, err
	}
	if err := w.burn(lpToken, caller, lpAmount); err != nil {
		return nil, err
	}
	coin, _ := w.PoolCoin(pool, i)
	t, _ := w.token(coin)
	if err := w.move(t, pool, receiver, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *MemWorld) Deposit(vault, caller common.Address, assets *big.Int, receiver common.Address) (*big.Int, error) {
	v, err := w.vault(vault)
	if err != nil {
		return nil, err
	}
	shares, err := w.PreviewDeposit(vault, assets)
	if err != nil {
		return nil, err
	}
	asset, err := w.token(v.asset)
	if err != nil {
		return nil, err
	}
	if err := w.spendAllowance(asset, caller, vault, assets); err != nil {
		return nil, err
	}
	if err := w.move(asset, caller, vault, assets); err != nil {
		return nil, err
	}
	shareToken, err := w.token(vault)
	if err != nil {
		return nil, err
	}
	w.mint(shareToken, receiver, shares)
	return shares, nil
}

func (w *MemWorld) Redeem(vault, caller common.Address, shares *big.Int, receiver common.Address) (*big.Int, error) {
	v, err := w.vault(vault)
	if err != nil {
		return nil, err
	}
	assets, err := w.PreviewRedeem(vault, shares)
	if err != nil {
		return nil, err
	}
	shareToken, err := w.token(vault)
	if err != nil {
		return nil, err
	}
	if err := w.burn(shareToken, caller, shares); err != nil {
		return nil, err
	}
	asset, err := w.token(v.asset)
	if err != nil {
		return nil, err
	}
	if err := w.move(asset, vault, receiver, assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (w *MemWorld) Wrap(adapter, caller common.Address, vaultShares *big.Int, receiver common.Address) (*big.Int, error) {
	a, err := w.adapter(adapter)
	if err != nil {
		return nil, err
	}
	out, err := w.PreviewWrap(adapter, vaultShares)
	if err != nil {
		return nil, err
	}
	vaultToken, err := w.token(a.vault)
	if err != nil {
		return nil, err
	}
	if err := w.spendAllowance(vaultToken, caller, adapter, vaultShares); err != nil {
		return nil, err
	}
	if err := w.move(vaultToken, caller, adapter, vaultShares); err != nil {
		return nil, err
	}
	wrapperToken, err := w.token(adapter)
	if err != nil {
		return nil, err
	}
	w.mint(wrapperToken, receiver, out)
	return out, nil
}

func (w *MemWorld) Unwrap(adapter, caller common.Address, wrapperShares *big.Int, receiver common.Address) (*big.Int, error) {
	a, err := w.adapter(adapter)
	if err != nil {
		return nil, err
	}
	out, err := w.PreviewUnwrap(adapter, wrapperShares)
	if err != nil {
		return nil, err
	}
	wrapperToken, err := w.token(adapter)
	if err != nil {
		return nil, err
	}
	if err := w.burn(wrapperToken, caller, wrapperShares); err != nil {
		return nil, err
	}
	vaultToken, err := w.token(a.vault)
	if err != nil {
		return nil, err
	}
	if err := w.move(vaultToken, adapter, receiver, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *MemWorld) PTDeposit(pt, caller common.Address, assets *big.Int, ptReceiver, ytReceiver common.Address) (*big.Int, error) {
	p, err := w.pt(pt)
	if err != nil {
		return nil, err
	}
	shares, err := w.PTPreviewDeposit(pt, assets)
	if err != nil {
		return nil, err
	}
	asset, err := w.token(p.underlying)
	if err != nil {
		return nil, err
	}
	if err := w.spendAllowance(asset, caller, pt, assets); err != nil {
		return nil, err
	}
	if err := w.move(asset, caller, pt, assets); err != nil {
		return nil, err
	}
	if err := w.mintPTShares(p, pt, ptReceiver, ytReceiver, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

func (w *MemWorld) PTDepositIBT(pt, caller common.Address, ibtAmount *big.Int, ptReceiver, ytReceiver common.Address) (*big.Int, error) {
	p, err := w.pt(pt)
	if err != nil {
		return nil, err
	}
	shares, err := w.PTPreviewDepositIBT(pt, ibtAmount)
	if err != nil {
		return nil, err
	}
	ibtToken, err := w.token(p.ibt)
	if err != nil {
		return nil, err
	}
	if err := w.spendAllowance(ibtToken, caller, pt, ibtAmount); err != nil {
		return nil, err
	}
	if err := w.move(ibtToken, caller, pt, ibtAmount); err != nil {
		return nil, err
	}
	if err := w.mintPTShares(p, pt, ptReceiver, ytReceiver, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

func (w *MemWorld) mintPTShares(p *memPT, pt, ptReceiver, ytReceiver common.Address, shares *big.Int) error {
	ptToken, err := w.token(pt)
	if err != nil {
		return err
	}
	ytToken, err := w.token(p.yt)
	if err != nil {
		return err
	}
	w.mint(ptToken, ptReceiver, shares)
	w.mint(ytToken, ytReceiver, shares)
	return nil
}

func (w *MemWorld) PTRedeem(pt, caller common.Address, shares *big.Int, receiver common.Address) (*big.Int, error) {
	p, err := w.pt(pt)
	if err != nil {
		return nil, err
	}
	assets, err := w.PTPreviewRedeem(pt, shares)
	if err != nil {
		return nil, err
	}
	ptToken, err := w.token(pt)
	if err != nil {
		return nil, err
	}
	if err := w.burn(ptToken, caller, shares); err != nil {
		return nil, err
	}
	asset, err := w.token(p.underlying)
	if err != nil {
		return nil, err
	}
	if err := w.move(asset, pt, receiver, assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (w *MemWorld) PTRedeemForIBT(pt, caller common.Address, shares *big.Int, receiver common.Address) (*big.Int, error) {
	p, err := w.pt(pt)
	if err != nil {
		return nil, err
	}
	out, err := w.PTPreviewRedeemForIBT(pt, shares)
	if err != nil {
		return nil, err
	}
	ptToken, err := w.token(pt)
	if err != nil {
		return nil, err
	}
	if err := w.burn(ptToken, caller, shares); err != nil {
		return nil, err
	}
	ibtToken, err := w.token(p.ibt)
	if err != nil {
		return nil, err
	}
	if err := w.move(ibtToken, pt, receiver, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *MemWorld) FlashLoan(lender common.Address, borrower FlashBorrower, token common.Address, amount *big.Int, data []byte) error {
	p, err := w.pt(lender)
	if err != nil {
		return err
	}
	if token != p.ibt {
		return fmt.Errorf("lender %s cannot lend %s", lender, token)
	}
	t, err := w.token(token)
	if err != nil {
		return err
	}
	if err := w.move(t, lender, borrower.Address(), amount); err != nil {
		return err
	}
	fee := new(big.Int).Mul(amount, big.NewInt(p.flashFeeBps))
	fee.Quo(fee, big.NewInt(10000))
	if err := borrower.OnFlashLoan(lender, borrower.Address(), token, amount, fee, data); err != nil {
		return err
	}
	repay := new(big.Int).Add(amount, fee)
	if err := w.spendAllowance(t, borrower.Address(), lender, repay); err != nil {
		return fmt.Errorf("flash loan repayment not authorized: %v", err)
	}
	return w.move(t, borrower.Address(), lender, repay)
}

func (w *MemWorld) RemoveLiquiditySingleToken(market, caller, receiver common.Address, lpAmount *big.Int, output TokenOutput, limitOrderData []byte) (*big.Int, error) {
	m, err := w.market(market)
	if err != nil {
		return nil, err
	}
	out, err := w.PreviewRemoveLiquiditySingleToken(market, output.TokenOut, lpAmount)
	if err != nil {
		return nil, err
	}
	if output.MinTokenOut != nil && out.Cmp(output.MinTokenOut) < 0 {
		return nil, fmt.Errorf("slippage: out %v below min %v", out, output.MinTokenOut)
	}
	lpToken, err := w.token(market)
	if err != nil {
		return nil, err
	}
	if err := w.spendAllowance(lpToken, caller, w.marketRouter, lpAmount); err != nil {
		return nil, err
	}
	if err := w.burn(lpToken, caller, lpAmount); err != nil {
		return nil, err
	}
	outToken, err := w.token(m.tokenOut)
	if err != nil {
		return nil, err
	}
	if err := w.move(outToken, market, receiver, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MemRegistry is a map-backed Registry for tests and the CLI.
type MemRegistry struct {
	trusted map[common.Address]bool
	pts     map[common.Address]bool
}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		trusted: make(map[common.Address]bool),
		pts:     make(map[common.Address]bool),
	}
}

// Trust marks addr for the persistent allowance policy.
func (r *MemRegistry) Trust(addr common.Address) {
	r.trusted[addr] = true
}

// RegisterPT marks addr as a protocol-native principal token. Registered
// principal tokens are also trusted spenders.
func (r *MemRegistry) RegisterPT(addr common.Address) {
	r.pts[addr] = true
	r.trusted[addr] = true
}

func (r *MemRegistry) IsTrusted(addr common.Address) bool {
	return r.trusted[addr]
}

func (r *MemRegistry) IsRegisteredPT(addr common.Address) bool {
	return r.pts[addr]
}
