package common

import (
	"fmt"
	"math/big"
)

// OrderRecord is the value object shared by escrow creation and fusion orders:
// who made the order, the traded value, when it stops being fillable and the
// security deposit backing it.
type OrderRecord struct {
	Maker   [20]byte
	Token   string
	Value   *big.Int
	Expiry  int64
	Deposit *big.Int
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the original.
func (r *OrderRecord) Clone() *OrderRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Value != nil {
		clone.Value = new(big.Int).Set(r.Value)
	} else {
		clone.Value = big.NewInt(0)
	}
	if r.Deposit != nil {
		clone.Deposit = new(big.Int).Set(r.Deposit)
	} else {
		clone.Deposit = big.NewInt(0)
	}
	return &clone
}

// SanitizeOrderRecord validates the supplied record, returning a cloned
// instance with non-nil amount fields. The function does not mutate the
// original value.
func SanitizeOrderRecord(r *OrderRecord) (*OrderRecord, error) {
	if r == nil {
		return nil, fmt.Errorf("order: nil record")
	}
	clone := r.Clone()
	if clone.Value.Sign() < 0 {
		return nil, fmt.Errorf("order: value must be non-negative")
	}
	if clone.Deposit.Sign() < 0 {
		return nil, fmt.Errorf("order: deposit must be non-negative")
	}
	if clone.Expiry < 0 {
		return nil, fmt.Errorf("order: negative expiry")
	}
	return clone, nil
}
