package htlc

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"swapnet/core/events"
	"swapnet/core/types"
	"swapnet/native/common"
)

// PauseModule is the guard key under which the escrow engine can be halted.
const PauseModule = "htlc"

var (
	errNilState = errors.New("htlc engine: state not configured")
)

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	EscrowRemove(id [32]byte) (*Escrow, bool)
	TokenVaultAddress(token string) ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Policy carries the process-wide escrow constants. Values are fixed at engine
// construction and never change at runtime.
type Policy struct {
	MinSafetyDeposit *big.Int
	FinalityPeriod   int64
}

const defaultFinalityPeriod int64 = 3600

func defaultMinSafetyDeposit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

func (p Policy) withDefaults() Policy {
	if p.MinSafetyDeposit == nil || p.MinSafetyDeposit.Sign() <= 0 {
		p.MinSafetyDeposit = defaultMinSafetyDeposit()
	} else {
		p.MinSafetyDeposit = new(big.Int).Set(p.MinSafetyDeposit)
	}
	if p.FinalityPeriod <= 0 {
		p.FinalityPeriod = defaultFinalityPeriod
	}
	return p
}

// Engine wires the two-sided HTLC transition logic with external state and
// event emitters. Every transition checks all preconditions before mutating
// anything; a failed transition leaves state untouched.
type Engine struct {
	state   engineState
	emitter events.Emitter
	policy  Policy
	gate    *CreationGate
	pauses  common.PauseView
	nowFn   func() int64
}

// NewEngine creates an escrow engine with the supplied policy and a no-op
// emitter. Zero policy fields fall back to package defaults.
func NewEngine(policy Policy) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		policy:  policy.withDefaults(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCreationGate configures the factory allowlist consulted on creation.
// A nil gate leaves creation open.
func (e *Engine) SetCreationGate(gate *CreationGate) { e.gate = gate }

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

// Policy returns a copy of the engine's constants.
func (e *Engine) Policy() Policy {
	out := e.policy
	out.MinSafetyDeposit = cloneBigInt(e.policy.MinSafetyDeposit)
	return out
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
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("htlc: negative transfer amount")
	}
	normalized, err := NormalizeToken(token)
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
	rollback, err := types.MustSubBalance(fromBal, amt)
	if err != nil {
		return fmt.Errorf("htlc: debit %s: %w", normalized, err)
	}
	if _, err := types.MustAddBalance(toBal, amt); err != nil {
		rollback()
		return fmt.Errorf("htlc: credit %s: %w", normalized, err)
	}
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if to == from {
		return nil
	}
	return e.state.PutAccount(to[:], toAcc)
}

// CreateEscrow validates the order, derives the escrow address, moves both
// deposits into the module vaults and persists the new escrow. The token
// deposit must cover the order value; the native deposit must meet the safety
// floor. The declared resolver funds neither leg here: the caller supplies
// both balances, mirroring factory-driven creation.
func (e *Engine) CreateEscrow(side Side, data *OrderCreationData, tokenDeposit, nativeDeposit *big.Int, caller [20]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, PauseModule); err != nil {
		return nil, err
	}
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if !e.gate.Allows(caller) {
		return nil, ErrCreationNotAllowed
	}
	sanitized, err := SanitizeOrderData(data)
	if err != nil {
		return nil, err
	}
	amount := sanitized.Record.Value
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	token := cloneBigInt(tokenDeposit)
	if token.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunding
	}
	native := cloneBigInt(nativeDeposit)
	if native.Cmp(e.policy.MinSafetyDeposit) < 0 {
		return nil, ErrInsufficientDeposit
	}
	now := e.now()
	if now >= sanitized.Record.Expiry {
		return nil, ErrOrderExpired
	}
	finalitylock := now + e.policy.FinalityPeriod
	timelock := sanitized.Record.Expiry
	if finalitylock >= timelock {
		return nil, ErrInvalidWindow
	}
	address, err := DeriveEscrowAddress(sanitized)
	if err != nil {
		return nil, err
	}
	id := EscrowID(address)
	if _, exists := e.state.EscrowGet(id); exists {
		return nil, ErrDuplicate
	}
	tokenVault, err := e.state.TokenVaultAddress(sanitized.Record.Token)
	if err != nil {
		return nil, err
	}
	depositVault, err := e.state.TokenVaultAddress("ZSWT")
	if err != nil {
		return nil, err
	}
	if err := e.transferToken(caller, tokenVault, sanitized.Record.Token, token); err != nil {
		return nil, err
	}
	if err := e.transferToken(caller, depositVault, "ZSWT", native); err != nil {
		// Hand the token deposit back so a failed create has no effect.
		_ = e.transferToken(tokenVault, caller, sanitized.Record.Token, token)
		return nil, err
	}
	esc := &Escrow{
		ID:             id,
		Address:        address,
		Side:           side,
		Maker:          sanitized.Record.Maker,
		Resolver:       sanitized.Resolver,
		Token:          sanitized.Record.Token,
		Amount:         amount,
		Hashlock:       sanitized.Hashlock,
		Finalitylock:   finalitylock,
		Timelock:       timelock,
		CreatedAt:      now,
		TokenBalance:   token,
		DepositBalance: native,
	}
	if err := e.state.EscrowPut(esc); err != nil {
		_ = e.transferToken(depositVault, caller, "ZSWT", native)
		_ = e.transferToken(tokenVault, caller, sanitized.Record.Token, token)
		return nil, err
	}
	e.emit(events.EscrowCreated{
		ID:           esc.ID,
		Address:      esc.Address,
		Side:         esc.Side.String(),
		Maker:        esc.Maker,
		Resolver:     esc.Resolver,
		Token:        esc.Token,
		Amount:       cloneBigInt(esc.Amount),
		Deposit:      cloneBigInt(esc.DepositBalance),
		Finalitylock: esc.Finalitylock,
		Timelock:     esc.Timelock,
		CreatedAt:    esc.CreatedAt,
	})
	return esc.Clone(), nil
}

// Claim releases the escrow against the secret. On the source side the
// resolver collects both the token balance and its deposit; on the
// destination side the token balance goes to the maker while the deposit
// returns to the resolver. The claim window opens at the finality lock and
// closes at the timelock. A successful claim consumes the escrow record:
// a second attempt against the same id fails with ErrNotFound.
func (e *Engine) Claim(id [32]byte, secret []byte, caller [20]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, PauseModule); err != nil {
		return nil, err
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	switch esc.Side {
	case SideSource:
		if caller != esc.Resolver {
			return nil, ErrNotResolver
		}
	case SideDestination:
		if caller != esc.Maker {
			return nil, ErrNotMaker
		}
	default:
		return nil, ErrInvalidSide
	}
	digest := ethcrypto.Keccak256(secret)
	if !bytes.Equal(digest, esc.Hashlock[:]) {
		return nil, ErrInvalidSecret
	}
	now := e.now()
	if now < esc.Finalitylock {
		return nil, ErrFinalityLockActive
	}
	if now >= esc.Timelock {
		return nil, ErrTimelocked
	}
	tokenRecipient := esc.Resolver
	if esc.Side == SideDestination {
		tokenRecipient = esc.Maker
	}
	removed, ok := e.state.EscrowRemove(id)
	if !ok {
		return nil, ErrNotFound
	}
	if err := e.disburse(removed, tokenRecipient, removed.Resolver); err != nil {
		_ = e.state.EscrowPut(removed)
		return nil, err
	}
	e.emit(events.EscrowClaimed{
		ID:        removed.ID,
		Side:      removed.Side.String(),
		Maker:     removed.Maker,
		Resolver:  removed.Resolver,
		Recipient: tokenRecipient,
		Token:     removed.Token,
		Amount:    cloneBigInt(removed.TokenBalance),
		Deposit:   cloneBigInt(removed.DepositBalance),
		ClaimedAt: now,
	})
	return removed.Clone(), nil
}

// Refund is the source-side timeout path: once the timelock has elapsed any
// caller may sweep the escrow, returning the token balance to the maker and
// paying the security deposit to the caller as a sweep incentive. No secret
// is required; this is the unilateral safety valve.
func (e *Engine) Refund(id [32]byte, caller [20]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, PauseModule); err != nil {
		return nil, err
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	if esc.Side != SideSource {
		return nil, ErrInvalidSide
	}
	now := e.now()
	if now < esc.Timelock {
		return nil, ErrTimelockNotExpired
	}
	removed, ok := e.state.EscrowRemove(id)
	if !ok {
		return nil, ErrNotFound
	}
	if err := e.disburse(removed, removed.Maker, caller); err != nil {
		_ = e.state.EscrowPut(removed)
		return nil, err
	}
	e.emit(events.EscrowRefunded{
		ID:         removed.ID,
		Side:       removed.Side.String(),
		Maker:      removed.Maker,
		Resolver:   removed.Resolver,
		Caller:     caller,
		Token:      removed.Token,
		Amount:     cloneBigInt(removed.TokenBalance),
		Deposit:    cloneBigInt(removed.DepositBalance),
		RefundedAt: now,
	})
	return removed.Clone(), nil
}

// Slash is the destination-side timeout path: once the timelock has elapsed
// any caller may sweep the escrow, returning both the token balance and the
// deposit to the resolver that fronted them.
func (e *Engine) Slash(id [32]byte, caller [20]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.pauses, PauseModule); err != nil {
		return nil, err
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	if esc.Side != SideDestination {
		return nil, ErrInvalidSide
	}
	now := e.now()
	if now < esc.Timelock {
		return nil, ErrTimelockNotExpired
	}
	removed, ok := e.state.EscrowRemove(id)
	if !ok {
		return nil, ErrNotFound
	}
	if err := e.disburse(removed, removed.Resolver, removed.Resolver); err != nil {
		_ = e.state.EscrowPut(removed)
		return nil, err
	}
	e.emit(events.EscrowSlashed{
		ID:        removed.ID,
		Side:      removed.Side.String(),
		Maker:     removed.Maker,
		Resolver:  removed.Resolver,
		Caller:    caller,
		Token:     removed.Token,
		Amount:    cloneBigInt(removed.TokenBalance),
		Deposit:   cloneBigInt(removed.DepositBalance),
		SlashedAt: now,
	})
	return removed.Clone(), nil
}

// Get returns a copy of the stored escrow, if present.
func (e *Engine) Get(id [32]byte) (*Escrow, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

// disburse drains both custody balances in one terminal transition: the token
// balance to tokenRecipient, the security deposit to depositRecipient. A
// failure on the second transfer undoes the first so no partial drain
// persists.
func (e *Engine) disburse(esc *Escrow, tokenRecipient, depositRecipient [20]byte) error {
	if esc == nil {
		return fmt.Errorf("htlc: nil escrow")
	}
	tokenVault, err := e.state.TokenVaultAddress(esc.Token)
	if err != nil {
		return err
	}
	depositVault, err := e.state.TokenVaultAddress("ZSWT")
	if err != nil {
		return err
	}
	if err := e.transferToken(tokenVault, tokenRecipient, esc.Token, esc.TokenBalance); err != nil {
		return err
	}
	if err := e.transferToken(depositVault, depositRecipient, "ZSWT", esc.DepositBalance); err != nil {
		_ = e.transferToken(tokenRecipient, tokenVault, esc.Token, esc.TokenBalance)
		return err
	}
	return nil
}
