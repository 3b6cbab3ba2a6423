package fusion

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"swapnet/core/events"
	"swapnet/core/types"
	"swapnet/native/htlc"
)

type mockState struct {
	orders   map[[32]byte]*Order
	accounts map[[20]byte]*types.Account
	nonces   map[[20]byte]uint64
	vaults   map[string][20]byte
}

func newMockState() *mockState {
	return &mockState{
		orders:   make(map[[32]byte]*Order),
		accounts: make(map[[20]byte]*types.Account),
		nonces:   make(map[[20]byte]uint64),
		vaults: map[string][20]byte{
			"SWT":  newTestAddress(0xAA),
			"ZSWT": newTestAddress(0xBB),
		},
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) OrderPut(o *Order) error {
	sanitized, err := SanitizeOrder(o)
	if err != nil {
		return err
	}
	sanitized.ID = o.ID
	m.orders[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) OrderGet(id [32]byte) (*Order, bool) {
	order, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	return order.Clone(), true
}

func (m *mockState) OrderRemove(id [32]byte) (*Order, bool) {
	order, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	delete(m.orders, id)
	return order.Clone(), true
}

func (m *mockState) NextOrderID(maker [20]byte) ([32]byte, error) {
	nonce := m.nonces[maker]
	m.nonces[maker] = nonce + 1
	buf := make([]byte, len(maker)+8)
	copy(buf, maker[:])
	binary.BigEndian.PutUint64(buf[len(maker):], nonce)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id, nil
}

func (m *mockState) TokenVaultAddress(token string) ([20]byte, error) {
	normalized, err := htlc.NormalizeToken(token)
	if err != nil {
		return [20]byte{}, err
	}
	return m.vaults[normalized], nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return (&types.Account{}).EnsureBalances(), nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) fund(addr [20]byte, swt, zswt int64) {
	m.accounts[addr] = &types.Account{
		BalanceSWT:  big.NewInt(swt),
		BalanceZSWT: big.NewInt(zswt),
	}
}

func (m *mockState) balance(addr [20]byte, token string) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	acc = acc.Clone()
	if token == "ZSWT" {
		return acc.BalanceZSWT
	}
	return acc.BalanceSWT
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func newTestEngine(state *mockState, now int64) (*Engine, *recordingEmitter) {
	engine := NewEngine(Policy{MinOrderDeposit: big.NewInt(2)})
	engine.SetState(state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return now })
	return engine, emitter
}

func testTrade() TradeParams {
	return TradeParams{TargetToken: "SWT", MinOutput: big.NewInt(50), Route: []byte{0x01, 0x02}}
}

func createOrder(t *testing.T, engine *Engine, state *mockState, maker, resolver [20]byte) *Order {
	t.Helper()
	state.fund(maker, 0, 5)
	order, err := engine.Create(maker, resolver, testTrade(), big.NewInt(5), 1000)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestCreateOrderLocksDeposit(t *testing.T) {
	state := newMockState()
	engine, emitter := newTestEngine(state, 0)
	maker := newTestAddress(0x01)
	order := createOrder(t, engine, state, maker, newTestAddress(0x02))

	if order.Version != OrderVersion {
		t.Fatalf("order version = %d, want %d", order.Version, OrderVersion)
	}
	if got := state.balance(maker, "ZSWT"); got.Sign() != 0 {
		t.Fatalf("maker deposit not consumed: %s", got)
	}
	if got := state.balance(state.vaults["ZSWT"], "ZSWT"); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("vault deposit = %s, want 5", got)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != events.TypeOrderCreated {
		t.Fatalf("expected a created event, got %v", emitter.events)
	}
}

func TestCreateOrderDepositFloor(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	maker := newTestAddress(0x01)
	state.fund(maker, 0, 5)
	_, err := engine.Create(maker, newTestAddress(0x02), testTrade(), big.NewInt(1), 1000)
	if !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
	if len(state.orders) != 0 {
		t.Fatalf("order created despite deposit floor violation")
	}
}

func TestResolveHappyPath(t *testing.T) {
	state := newMockState()
	engine, emitter := newTestEngine(state, 0)
	maker := newTestAddress(0x01)
	resolver := newTestAddress(0x02)
	order := createOrder(t, engine, state, maker, resolver)

	state.fund(resolver, 60, 0)
	engine.SetNowFunc(func() int64 { return 500 })
	if _, err := engine.Resolve(order.ID, big.NewInt(60), resolver); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := state.balance(maker, "SWT"); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("maker proceeds = %s, want 60", got)
	}
	if got := state.balance(resolver, "ZSWT"); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("resolver deposit reward = %s, want 5", got)
	}
	if len(emitter.events) != 2 || emitter.events[1].EventType() != events.TypeOrderResolved {
		t.Fatalf("expected a resolved event, got %v", emitter.events)
	}
	if _, err := engine.Resolve(order.ID, big.NewInt(60), resolver); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second resolve: expected ErrNotFound, got %v", err)
	}
}

func TestResolveZeroMinOutput(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	maker := newTestAddress(0x01)
	resolver := newTestAddress(0x02)
	state.fund(maker, 0, 5)
	trade := TradeParams{TargetToken: "SWT", MinOutput: big.NewInt(0)}
	order, err := engine.Create(maker, resolver, trade, big.NewInt(5), 1000)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	engine.SetNowFunc(func() int64 { return 500 })
	if _, err := engine.Resolve(order.ID, big.NewInt(0), resolver); err != nil {
		t.Fatalf("resolve with zero proceeds: %v", err)
	}
	if got := state.balance(resolver, "ZSWT"); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("resolver deposit reward = %s, want 5", got)
	}
}

func TestResolveRejectsNegativeProceeds(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	maker := newTestAddress(0x01)
	resolver := newTestAddress(0x02)
	order := createOrder(t, engine, state, maker, resolver)

	engine.SetNowFunc(func() int64 { return 500 })
	if _, err := engine.Resolve(order.ID, big.NewInt(-1), resolver); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, ok := state.OrderGet(order.ID); !ok {
		t.Fatalf("order consumed by failed resolve")
	}
}

func TestResolveVaultResolverConservesSupply(t *testing.T) {
	// The deposit vault address is derivable, so an order may name it as
	// resolver. Paying the deposit reward then transfers the vault to
	// itself; the self-transfer must not change total supply.
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	maker := newTestAddress(0x01)
	resolver := state.vaults["ZSWT"]
	state.fund(resolver, 60, 0)
	order := createOrder(t, engine, state, maker, resolver)

	engine.SetNowFunc(func() int64 { return 500 })
	if _, err := engine.Resolve(order.ID, big.NewInt(60), resolver); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	totalSWT := new(big.Int)
	totalZSWT := new(big.Int)
	for addr := range state.accounts {
		totalSWT.Add(totalSWT, state.balance(addr, "SWT"))
		totalZSWT.Add(totalZSWT, state.balance(addr, "ZSWT"))
	}
	if totalSWT.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("SWT supply after resolve = %s, want 60", totalSWT)
	}
	if totalZSWT.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("ZSWT supply after resolve = %s, want 5", totalZSWT)
	}
	if got := state.balance(resolver, "ZSWT"); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("vault resolver ZSWT = %s, want 5", got)
	}
}

func TestResolveGates(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	maker := newTestAddress(0x01)
	resolver := newTestAddress(0x02)
	order := createOrder(t, engine, state, maker, resolver)
	state.fund(resolver, 60, 0)

	engine.SetNowFunc(func() int64 { return 1000 })
	if _, err := engine.Resolve(order.ID, big.NewInt(60), resolver); !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("expected ErrOrderExpired, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return 500 })
	if _, err := engine.Resolve(order.ID, big.NewInt(60), newTestAddress(0x09)); !errors.Is(err, ErrNotResolver) {
		t.Fatalf("expected ErrNotResolver, got %v", err)
	}
	if _, err := engine.Resolve(order.ID, big.NewInt(49), resolver); !errors.Is(err, ErrInsufficientOutput) {
		t.Fatalf("expected ErrInsufficientOutput, got %v", err)
	}
	if _, ok := state.OrderGet(order.ID); !ok {
		t.Fatalf("order consumed by failed resolve")
	}
}

func TestCancelAfterExpiry(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	maker := newTestAddress(0x01)
	order := createOrder(t, engine, state, maker, newTestAddress(0x02))

	engine.SetNowFunc(func() int64 { return 500 })
	if _, err := engine.Cancel(order.ID, maker); !errors.Is(err, ErrOrderNotExpired) {
		t.Fatalf("expected ErrOrderNotExpired, got %v", err)
	}
	if _, err := engine.Cancel(order.ID, newTestAddress(0x09)); !errors.Is(err, ErrNotMaker) {
		t.Fatalf("expected ErrNotMaker, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return 1000 })
	if _, err := engine.Cancel(order.ID, maker); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := state.balance(maker, "ZSWT"); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("maker deposit not returned: %s", got)
	}
	if _, err := engine.Cancel(order.ID, maker); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second cancel: expected ErrNotFound, got %v", err)
	}
}
