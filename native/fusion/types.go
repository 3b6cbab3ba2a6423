package fusion

import (
	"errors"
	"fmt"
	"math/big"

	"swapnet/native/common"
	"swapnet/native/htlc"
)

// OrderVersion tags stored orders for forward compatibility. Current logic
// ignores it beyond validation.
const OrderVersion uint8 = 1

var (
	ErrNotFound            = errors.New("fusion: order not found")
	ErrInvalidAmount       = errors.New("fusion: amount must be positive")
	ErrInsufficientDeposit = errors.New("fusion: deposit below minimum")
	ErrInsufficientOutput  = errors.New("fusion: swapped output below minimum")
	ErrOrderExpired        = errors.New("fusion: order expired")
	ErrOrderNotExpired     = errors.New("fusion: order not expired")
	ErrNotResolver         = errors.New("fusion: caller is not the designated resolver")
	ErrNotMaker            = errors.New("fusion: caller is not the maker")
)

// TradeParams describe what the resolver must deliver: the target asset, the
// minimum acceptable output and an opaque routing payload handed through to
// the external execution venue.
type TradeParams struct {
	TargetToken string
	MinOutput   *big.Int
	Route       []byte
}

// Clone returns a deep copy of the trade parameters.
func (p *TradeParams) Clone() *TradeParams {
	if p == nil {
		return nil
	}
	clone := *p
	if p.MinOutput != nil {
		clone.MinOutput = new(big.Int).Set(p.MinOutput)
	} else {
		clone.MinOutput = big.NewInt(0)
	}
	clone.Route = append([]byte(nil), p.Route...)
	return &clone
}

// Order is a publicly discoverable fill request backed by a security deposit.
// The deposit pays the resolver for correct execution; cancellation after
// expiry returns it to the maker.
type Order struct {
	ID        [32]byte
	Core      common.OrderRecord
	Resolver  [20]byte
	Trade     TradeParams
	Version   uint8
	CreatedAt int64
}

// Clone returns a deep copy of the order so callers can safely mutate the
// copy without affecting the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Core = *o.Core.Clone()
	clone.Trade = *o.Trade.Clone()
	return &clone
}

// SanitizeOrder validates and normalises the supplied order, returning a
// cloned instance with canonical token casing and non-nil amount fields.
func SanitizeOrder(o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("fusion: nil order")
	}
	clone := o.Clone()
	record, err := common.SanitizeOrderRecord(&clone.Core)
	if err != nil {
		return nil, err
	}
	clone.Core = *record
	target, err := htlc.NormalizeToken(clone.Trade.TargetToken)
	if err != nil {
		return nil, err
	}
	clone.Trade.TargetToken = target
	if clone.Trade.MinOutput.Sign() < 0 {
		return nil, fmt.Errorf("fusion: min output must be non-negative")
	}
	if clone.Version == 0 || clone.Version > OrderVersion {
		return nil, fmt.Errorf("fusion: unsupported order version %d", clone.Version)
	}
	return clone, nil
}
