package htlc

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"swapnet/core/events"
	"swapnet/core/types"
	"swapnet/native/common"
)

type mockState struct {
	escrows  map[[32]byte]*Escrow
	accounts map[[20]byte]*types.Account
	vaults   map[string][20]byte
}

func newMockState() *mockState {
	return &mockState{
		escrows:  make(map[[32]byte]*Escrow),
		accounts: make(map[[20]byte]*types.Account),
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

func (m *mockState) EscrowPut(e *Escrow) error {
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return err
	}
	m.escrows[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) EscrowGet(id [32]byte) (*Escrow, bool) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (m *mockState) EscrowRemove(id [32]byte) (*Escrow, bool) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	delete(m.escrows, id)
	return esc.Clone(), true
}

func (m *mockState) TokenVaultAddress(token string) ([20]byte, error) {
	normalized, err := NormalizeToken(token)
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

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

var testSecret = []byte("the swap secret")

func testHashlock() [32]byte {
	var lock [32]byte
	copy(lock[:], ethcrypto.Keccak256(testSecret))
	return lock
}

func testOrderData(maker, resolver [20]byte) *OrderCreationData {
	return &OrderCreationData{
		Record: common.OrderRecord{
			Maker:  maker,
			Token:  "SWT",
			Value:  big.NewInt(10),
			Expiry: 1000,
		},
		Resolver: resolver,
		Hashlock: testHashlock(),
		Nonce:    7,
	}
}

func newTestEngine(state *mockState, now int64) (*Engine, *recordingEmitter) {
	engine := NewEngine(Policy{MinSafetyDeposit: big.NewInt(2), FinalityPeriod: 500})
	engine.SetState(state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	clock := now
	engine.SetNowFunc(func() int64 { return clock })
	return engine, emitter
}

func createAt(t *testing.T, engine *Engine, state *mockState, side Side, caller [20]byte) *Escrow {
	t.Helper()
	maker := newTestAddress(0x01)
	resolver := newTestAddress(0x02)
	state.fund(caller, 10, 3)
	esc, err := engine.CreateEscrow(side, testOrderData(maker, resolver), big.NewInt(10), big.NewInt(3), caller)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return esc
}

func TestCreateEscrowMovesDepositsIntoVaults(t *testing.T) {
	state := newMockState()
	engine, emitter := newTestEngine(state, 0)
	caller := newTestAddress(0x03)
	esc := createAt(t, engine, state, SideSource, caller)

	if esc.Finalitylock != 500 || esc.Timelock != 1000 {
		t.Fatalf("unexpected locks: finality=%d timelock=%d", esc.Finalitylock, esc.Timelock)
	}
	if got := state.balance(caller, "SWT"); got.Sign() != 0 {
		t.Fatalf("caller SWT not consumed: %s", got)
	}
	if got := state.balance(caller, "ZSWT"); got.Sign() != 0 {
		t.Fatalf("caller ZSWT not consumed: %s", got)
	}
	if got := state.balance(state.vaults["SWT"], "SWT"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("token vault balance = %s, want 10", got)
	}
	if got := state.balance(state.vaults["ZSWT"], "ZSWT"); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("deposit vault balance = %s, want 3", got)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != events.TypeEscrowCreated {
		t.Fatalf("expected a created event, got %v", emitter.events)
	}
}

func TestCreateEscrowDepositFloor(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	caller := newTestAddress(0x03)
	state.fund(caller, 10, 1)
	_, err := engine.CreateEscrow(SideSource, testOrderData(newTestAddress(0x01), newTestAddress(0x02)), big.NewInt(10), big.NewInt(1), caller)
	if !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
	if len(state.escrows) != 0 {
		t.Fatalf("escrow created despite deposit floor violation")
	}
	if got := state.balance(caller, "SWT"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("caller balance mutated on failed create: %s", got)
	}
}

func TestCreateEscrowFundingFloor(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	caller := newTestAddress(0x03)
	state.fund(caller, 10, 3)
	_, err := engine.CreateEscrow(SideSource, testOrderData(newTestAddress(0x01), newTestAddress(0x02)), big.NewInt(9), big.NewInt(3), caller)
	if !errors.Is(err, ErrInsufficientFunding) {
		t.Fatalf("expected ErrInsufficientFunding, got %v", err)
	}
	if len(state.escrows) != 0 {
		t.Fatalf("escrow created despite underfunded token deposit")
	}
	if got := state.balance(caller, "SWT"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("caller balance mutated on failed create: %s", got)
	}
}

func TestCreateEscrowExpiredOrder(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 1500)
	caller := newTestAddress(0x03)
	state.fund(caller, 10, 3)
	_, err := engine.CreateEscrow(SideSource, testOrderData(newTestAddress(0x01), newTestAddress(0x02)), big.NewInt(10), big.NewInt(3), caller)
	if !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("expected ErrOrderExpired, got %v", err)
	}
}

func TestCreateEscrowDuplicate(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	caller := newTestAddress(0x03)
	createAt(t, engine, state, SideSource, caller)
	state.fund(caller, 10, 3)
	_, err := engine.CreateEscrow(SideSource, testOrderData(newTestAddress(0x01), newTestAddress(0x02)), big.NewInt(10), big.NewInt(3), caller)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateEscrowGate(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	factory := newTestAddress(0x0F)
	engine.SetCreationGate(NewCreationGate(factory))
	outsider := newTestAddress(0x03)
	state.fund(outsider, 10, 3)
	_, err := engine.CreateEscrow(SideSource, testOrderData(newTestAddress(0x01), newTestAddress(0x02)), big.NewInt(10), big.NewInt(3), outsider)
	if !errors.Is(err, ErrCreationNotAllowed) {
		t.Fatalf("expected ErrCreationNotAllowed, got %v", err)
	}
	createAt(t, engine, state, SideSource, factory)
}

func TestClaimWindowOrdering(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	caller := newTestAddress(0x03)
	resolver := newTestAddress(0x02)
	esc := createAt(t, engine, state, SideSource, caller)

	clock := int64(400)
	engine.SetNowFunc(func() int64 { return clock })
	if _, err := engine.Claim(esc.ID, testSecret, resolver); !errors.Is(err, ErrFinalityLockActive) {
		t.Fatalf("claim at t=400: expected ErrFinalityLockActive, got %v", err)
	}

	clock = 1000
	if _, err := engine.Claim(esc.ID, testSecret, resolver); !errors.Is(err, ErrTimelocked) {
		t.Fatalf("claim at t=1000: expected ErrTimelocked, got %v", err)
	}

	clock = 600
	claimed, err := engine.Claim(esc.ID, testSecret, resolver)
	if err != nil {
		t.Fatalf("claim at t=600: %v", err)
	}
	if claimed.ID != esc.ID {
		t.Fatalf("claimed wrong escrow")
	}

	if _, err := engine.Claim(esc.ID, testSecret, resolver); !errors.Is(err, ErrNotFound) {
		t.Fatalf("re-claim: expected ErrNotFound, got %v", err)
	}
}

func TestClaimWrongSecret(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	caller := newTestAddress(0x03)
	resolver := newTestAddress(0x02)
	esc := createAt(t, engine, state, SideSource, caller)

	engine.SetNowFunc(func() int64 { return 600 })
	_, err := engine.Claim(esc.ID, []byte("not the secret"), resolver)
	if !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
	if got := state.balance(state.vaults["SWT"], "SWT"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("vault balance mutated on failed claim: %s", got)
	}
	if _, ok := state.EscrowGet(esc.ID); !ok {
		t.Fatalf("escrow consumed by failed claim")
	}
}

func TestClaimAuthorizationPerSide(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	caller := newTestAddress(0x03)
	maker := newTestAddress(0x01)
	resolver := newTestAddress(0x02)

	src := createAt(t, engine, state, SideSource, caller)
	engine.SetNowFunc(func() int64 { return 600 })
	if _, err := engine.Claim(src.ID, testSecret, maker); !errors.Is(err, ErrNotResolver) {
		t.Fatalf("source claim by maker: expected ErrNotResolver, got %v", err)
	}

	state2 := newMockState()
	engine2, _ := newTestEngine(state2, 0)
	dst := createAt(t, engine2, state2, SideDestination, caller)
	engine2.SetNowFunc(func() int64 { return 600 })
	if _, err := engine2.Claim(dst.ID, testSecret, resolver); !errors.Is(err, ErrNotMaker) {
		t.Fatalf("destination claim by resolver: expected ErrNotMaker, got %v", err)
	}
}

func TestClaimDisbursementBySide(t *testing.T) {
	maker := newTestAddress(0x01)
	resolver := newTestAddress(0x02)
	caller := newTestAddress(0x03)

	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	src := createAt(t, engine, state, SideSource, caller)
	engine.SetNowFunc(func() int64 { return 600 })
	if _, err := engine.Claim(src.ID, testSecret, resolver); err != nil {
		t.Fatalf("source claim: %v", err)
	}
	if got := state.balance(resolver, "SWT"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("source claim: resolver SWT = %s, want 10", got)
	}
	if got := state.balance(resolver, "ZSWT"); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("source claim: resolver ZSWT = %s, want 3", got)
	}

	state2 := newMockState()
	engine2, _ := newTestEngine(state2, 0)
	dst := createAt(t, engine2, state2, SideDestination, caller)
	engine2.SetNowFunc(func() int64 { return 600 })
	if _, err := engine2.Claim(dst.ID, testSecret, maker); err != nil {
		t.Fatalf("destination claim: %v", err)
	}
	if got := state2.balance(maker, "SWT"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("destination claim: maker SWT = %s, want 10", got)
	}
	if got := state2.balance(resolver, "ZSWT"); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("destination claim: resolver ZSWT = %s, want 3", got)
	}
}

func TestRefundAfterTimelock(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	maker := newTestAddress(0x01)
	caller := newTestAddress(0x03)
	sweeper := newTestAddress(0x04)
	esc := createAt(t, engine, state, SideSource, caller)

	clock := int64(900)
	engine.SetNowFunc(func() int64 { return clock })
	if _, err := engine.Refund(esc.ID, sweeper); !errors.Is(err, ErrTimelockNotExpired) {
		t.Fatalf("refund at t=900: expected ErrTimelockNotExpired, got %v", err)
	}

	clock = 1100
	if _, err := engine.Refund(esc.ID, sweeper); err != nil {
		t.Fatalf("refund at t=1100: %v", err)
	}
	if got := state.balance(maker, "SWT"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("refund: maker SWT = %s, want 10", got)
	}
	if got := state.balance(sweeper, "ZSWT"); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("refund: sweeper ZSWT = %s, want 3", got)
	}
	if _, err := engine.Refund(esc.ID, sweeper); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second refund: expected ErrNotFound, got %v", err)
	}
}

func TestSlashAfterTimelock(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	resolver := newTestAddress(0x02)
	caller := newTestAddress(0x03)
	esc := createAt(t, engine, state, SideDestination, caller)

	engine.SetNowFunc(func() int64 { return 1100 })
	if _, err := engine.Slash(esc.ID, newTestAddress(0x04)); err != nil {
		t.Fatalf("slash at t=1100: %v", err)
	}
	if got := state.balance(resolver, "SWT"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("slash: resolver SWT = %s, want 10", got)
	}
	if got := state.balance(resolver, "ZSWT"); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("slash: resolver ZSWT = %s, want 3", got)
	}
}

func TestRefundRejectsDestinationSide(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	caller := newTestAddress(0x03)
	esc := createAt(t, engine, state, SideDestination, caller)
	engine.SetNowFunc(func() int64 { return 1100 })
	if _, err := engine.Refund(esc.ID, caller); !errors.Is(err, ErrInvalidSide) {
		t.Fatalf("expected ErrInvalidSide, got %v", err)
	}
	if _, err := engine.Slash(esc.ID, caller); err != nil {
		t.Fatalf("slash on destination side: %v", err)
	}
}

func TestBalanceConservation(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	resolver := newTestAddress(0x02)
	caller := newTestAddress(0x03)
	esc := createAt(t, engine, state, SideSource, caller)

	depositedSWT := big.NewInt(10)
	depositedZSWT := big.NewInt(3)

	engine.SetNowFunc(func() int64 { return 600 })
	if _, err := engine.Claim(esc.ID, testSecret, resolver); err != nil {
		t.Fatalf("claim: %v", err)
	}

	totalSWT := new(big.Int)
	totalZSWT := new(big.Int)
	for addr := range state.accounts {
		totalSWT.Add(totalSWT, state.balance(addr, "SWT"))
		totalZSWT.Add(totalZSWT, state.balance(addr, "ZSWT"))
	}
	if totalSWT.Cmp(depositedSWT) != 0 {
		t.Fatalf("SWT conservation violated: %s != %s", totalSWT, depositedSWT)
	}
	if totalZSWT.Cmp(depositedZSWT) != 0 {
		t.Fatalf("ZSWT conservation violated: %s != %s", totalZSWT, depositedZSWT)
	}
	if got := state.balance(state.vaults["SWT"], "SWT"); got.Sign() != 0 {
		t.Fatalf("token vault not drained: %s", got)
	}
	if got := state.balance(state.vaults["ZSWT"], "ZSWT"); got.Sign() != 0 {
		t.Fatalf("deposit vault not drained: %s", got)
	}
}

func TestBalanceConservationVaultResolver(t *testing.T) {
	// Vault addresses are derivable, so an order may name one as resolver.
	// Disbursing the token leg then pays the token vault to itself; the
	// self-transfer must not change total supply.
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	resolver := state.vaults["SWT"]
	caller := newTestAddress(0x03)
	state.fund(caller, 10, 3)
	esc, err := engine.CreateEscrow(SideSource, testOrderData(newTestAddress(0x01), resolver), big.NewInt(10), big.NewInt(3), caller)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	engine.SetNowFunc(func() int64 { return 600 })
	if _, err := engine.Claim(esc.ID, testSecret, resolver); err != nil {
		t.Fatalf("claim: %v", err)
	}

	totalSWT := new(big.Int)
	totalZSWT := new(big.Int)
	for addr := range state.accounts {
		totalSWT.Add(totalSWT, state.balance(addr, "SWT"))
		totalZSWT.Add(totalZSWT, state.balance(addr, "ZSWT"))
	}
	if totalSWT.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("SWT supply after claim = %s, want 10", totalSWT)
	}
	if totalZSWT.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("ZSWT supply after claim = %s, want 3", totalZSWT)
	}
	if got := state.balance(resolver, "SWT"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("resolver SWT = %s, want 10", got)
	}
	if got := state.balance(resolver, "ZSWT"); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("resolver ZSWT = %s, want 3", got)
	}
}

func TestPausedModuleRejectsTransitions(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state, 0)
	caller := newTestAddress(0x03)
	esc := createAt(t, engine, state, SideSource, caller)
	engine.SetPauses(pauseAll{})
	engine.SetNowFunc(func() int64 { return 600 })
	if _, err := engine.Claim(esc.ID, testSecret, newTestAddress(0x02)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}
