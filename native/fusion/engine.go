package fusion

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"swapnet/core/events"
	"swapnet/core/types"
	"swapnet/native/common"
	"swapnet/native/htlc"
)

// PauseModule is the guard key under which the fusion engine can be halted.
const PauseModule = "fusion"

var errNilState = errors.New("fusion engine: state not configured")

type engineState interface {
	OrderPut(*Order) error
	OrderGet(id [32]byte) (*Order, bool)
	OrderRemove(id [32]byte) (*Order, bool)
	NextOrderID(maker [20]byte) ([32]byte, error)
	TokenVaultAddress(token string) ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Policy carries the fusion order constants, fixed at engine construction.
type Policy struct {
	MinOrderDeposit *big.Int
}

func defaultMinOrderDeposit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

func (p Policy) withDefaults() Policy {
	if p.MinOrderDeposit == nil || p.MinOrderDeposit.Sign() <= 0 {
		p.MinOrderDeposit = defaultMinOrderDeposit()
	} else {
		p.MinOrderDeposit = new(big.Int).Set(p.MinOrderDeposit)
	}
	return p
}

// Engine implements the fill/cancel lifecycle for publicly discoverable
// orders. Resolution is gated on the resolver named at creation; the order
// record is consumed by whichever terminal transition fires first.
type Engine struct {
	state   engineState
	emitter events.Emitter
	policy  Policy
	pauses  common.PauseView
	nowFn   func() int64
}

// NewEngine creates a fusion engine with the supplied policy and a no-op
// emitter.
func NewEngine(policy Policy) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		policy:  policy.withDefaults(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses configures the module pause view consulted on every transition.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("fusion: negative transfer amount")
	}
	normalized, err := htlc.NormalizeToken(token)
	if err != nil {
		return err
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureBalances()
	// A self-transfer must settle against a single record; writing two
	// independent copies would let the credit overwrite the debit.
	toAcc := fromAcc
	if to != from {
		toAcc, err = e.state.GetAccount(to[:])
		if err != nil {
			return err
		}
		toAcc = toAcc.EnsureBalances()
	}
	fromBal, toBal := fromAcc.BalanceSWT, toAcc.BalanceSWT
	if normalized == "ZSWT" {
		fromBal, toBal = fromAcc.BalanceZSWT, toAcc.BalanceZSWT
	}
	rollback, err := types.MustSubBalance(fromBal, amount)
	if err != nil {
		return fmt.Errorf("fusion: debit %s: %w", normalized, err)
	}
	if _, err := types.MustAddBalance(toBal, amount); err != nil {
		rollback()
		return fmt.Errorf("fusion: credit %s: %w", normalized, err)
	}
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if to == from {
		return nil
	}
	return e.state.PutAccount(to[:], toAcc)
}

// Create publishes a new order. The maker's security deposit moves into the
// native vault and stays there until the order is resolved or cancelled.
func (e *Engine) Create(maker, resolver [20]byte, trade TradeParams, deposit *big.Int, expiry int64) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, PauseModule); err != nil {
		return nil, err
	}
	dep := big.NewInt(0)
	if deposit != nil {
		dep = new(big.Int).Set(deposit)
	}
	if dep.Cmp(e.policy.MinOrderDeposit) < 0 {
		return nil, ErrInsufficientDeposit
	}
	now := e.now()
	if expiry <= now {
		return nil, ErrOrderExpired
	}
	order := &Order{
		Core: common.OrderRecord{
			Maker:   maker,
			Token:   trade.TargetToken,
			Value:   cloneBigInt(trade.MinOutput),
			Expiry:  expiry,
			Deposit: dep,
		},
		Resolver:  resolver,
		Trade:     *trade.Clone(),
		Version:   OrderVersion,
		CreatedAt: now,
	}
	sanitized, err := SanitizeOrder(order)
	if err != nil {
		return nil, err
	}
	id, err := e.state.NextOrderID(maker)
	if err != nil {
		return nil, err
	}
	sanitized.ID = id
	vault, err := e.state.TokenVaultAddress("ZSWT")
	if err != nil {
		return nil, err
	}
	if err := e.transferToken(maker, vault, "ZSWT", sanitized.Core.Deposit); err != nil {
		return nil, err
	}
	if err := e.state.OrderPut(sanitized); err != nil {
		_ = e.transferToken(vault, maker, "ZSWT", sanitized.Core.Deposit)
		return nil, err
	}
	e.emit(events.OrderCreated{
		ID:          sanitized.ID,
		Maker:       sanitized.Core.Maker,
		Resolver:    sanitized.Resolver,
		TargetToken: sanitized.Trade.TargetToken,
		MinOutput:   cloneBigInt(sanitized.Trade.MinOutput),
		Deposit:     cloneBigInt(sanitized.Core.Deposit),
		Expiry:      sanitized.Core.Expiry,
		CreatedAt:   sanitized.CreatedAt,
	})
	return sanitized.Clone(), nil
}

// Resolve fills the order: the caller delivers the swapped proceeds to the
// maker and collects the security deposit as execution reward. The order is
// consumed; a second resolve against the same id fails with ErrNotFound.
func (e *Engine) Resolve(id [32]byte, proceeds *big.Int, caller [20]byte) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, PauseModule); err != nil {
		return nil, err
	}
	order, ok := e.state.OrderGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	now := e.now()
	if now >= order.Core.Expiry {
		return nil, ErrOrderExpired
	}
	if caller != order.Resolver {
		return nil, ErrNotResolver
	}
	out := cloneBigInt(proceeds)
	if out.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if out.Cmp(order.Trade.MinOutput) < 0 {
		return nil, ErrInsufficientOutput
	}
	removed, ok := e.state.OrderRemove(id)
	if !ok {
		return nil, ErrNotFound
	}
	if err := e.transferToken(caller, removed.Core.Maker, removed.Trade.TargetToken, out); err != nil {
		_ = e.state.OrderPut(removed)
		return nil, err
	}
	vault, err := e.state.TokenVaultAddress("ZSWT")
	if err != nil {
		_ = e.transferToken(removed.Core.Maker, caller, removed.Trade.TargetToken, out)
		_ = e.state.OrderPut(removed)
		return nil, err
	}
	if err := e.transferToken(vault, caller, "ZSWT", removed.Core.Deposit); err != nil {
		_ = e.transferToken(removed.Core.Maker, caller, removed.Trade.TargetToken, out)
		_ = e.state.OrderPut(removed)
		return nil, err
	}
	e.emit(events.OrderResolved{
		ID:         removed.ID,
		Maker:      removed.Core.Maker,
		Resolver:   caller,
		Proceeds:   out,
		Deposit:    cloneBigInt(removed.Core.Deposit),
		ResolvedAt: now,
	})
	return removed.Clone(), nil
}

// Cancel returns the deposit to the maker once the order has expired without
// being filled. Only the maker may cancel.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, PauseModule); err != nil {
		return nil, err
	}
	order, ok := e.state.OrderGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	if caller != order.Core.Maker {
		return nil, ErrNotMaker
	}
	now := e.now()
	if now < order.Core.Expiry {
		return nil, ErrOrderNotExpired
	}
	removed, ok := e.state.OrderRemove(id)
	if !ok {
		return nil, ErrNotFound
	}
	vault, err := e.state.TokenVaultAddress("ZSWT")
	if err != nil {
		_ = e.state.OrderPut(removed)
		return nil, err
	}
	if err := e.transferToken(vault, removed.Core.Maker, "ZSWT", removed.Core.Deposit); err != nil {
		_ = e.state.OrderPut(removed)
		return nil, err
	}
	e.emit(events.OrderCancelled{
		ID:          removed.ID,
		Maker:       removed.Core.Maker,
		Deposit:     cloneBigInt(removed.Core.Deposit),
		CancelledAt: now,
	})
	return removed.Clone(), nil
}

// Get returns a copy of the stored order, if present.
func (e *Engine) Get(id [32]byte) (*Order, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	order, ok := e.state.OrderGet(id)
	if !ok {
		return nil, false
	}
	return order.Clone(), true
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
