package types

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrInsufficientBalance is returned when a balance mutation would drive an
// account negative.
var ErrInsufficientBalance = errors.New("types: insufficient balance")

// Account is the ledger-level record for a single address. SWT is the traded
// token; ZSWT is the native coin used for security deposits.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceSWT  *big.Int `json:"balanceSWT"`
	BalanceZSWT *big.Int `json:"balanceZSWT"`
}

// EnsureBalances replaces nil balance fields with zero values so callers can
// operate on the account without nil checks.
func (a *Account) EnsureBalances() *Account {
	if a == nil {
		return &Account{BalanceSWT: big.NewInt(0), BalanceZSWT: big.NewInt(0)}
	}
	if a.BalanceSWT == nil {
		a.BalanceSWT = big.NewInt(0)
	}
	if a.BalanceZSWT == nil {
		a.BalanceZSWT = big.NewInt(0)
	}
	return a
}

// MustAddBalance adds amt to balance in place, returning a rollback closure
// undoing the mutation.
func MustAddBalance(balance, amt *big.Int) (func(), error) {
	if balance == nil || amt == nil {
		return nil, fmt.Errorf("types: nil balance operand")
	}
	if amt.Sign() < 0 {
		return nil, fmt.Errorf("types: negative amount")
	}
	balance.Add(balance, amt)
	undo := new(big.Int).Set(amt)
	return func() { balance.Sub(balance, undo) }, nil
}

// MustSubBalance subtracts amt from balance in place, returning a rollback
// closure undoing the mutation. It fails with ErrInsufficientBalance when the
// balance cannot cover the amount.
func MustSubBalance(balance, amt *big.Int) (func(), error) {
	if balance == nil || amt == nil {
		return nil, fmt.Errorf("types: nil balance operand")
	}
	if amt.Sign() < 0 {
		return nil, fmt.Errorf("types: negative amount")
	}
	if balance.Cmp(amt) < 0 {
		return nil, ErrInsufficientBalance
	}
	balance.Sub(balance, amt)
	undo := new(big.Int).Set(amt)
	return func() { balance.Add(balance, undo) }, nil
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return (&Account{}).EnsureBalances()
	}
	clone := &Account{Nonce: a.Nonce, BalanceSWT: big.NewInt(0), BalanceZSWT: big.NewInt(0)}
	if a.BalanceSWT != nil {
		clone.BalanceSWT = new(big.Int).Set(a.BalanceSWT)
	}
	if a.BalanceZSWT != nil {
		clone.BalanceZSWT = new(big.Int).Set(a.BalanceZSWT)
	}
	return clone
}
