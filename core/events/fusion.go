package events

import (
	"encoding/hex"
	"math/big"

	"swapnet/core/types"
	"swapnet/crypto"
)

const (
	TypeOrderCreated   = "fusion.order.created"
	TypeOrderResolved  = "fusion.order.resolved"
	TypeOrderCancelled = "fusion.order.cancelled"
)

type OrderCreated struct {
	ID          [32]byte
	Maker       [20]byte
	Resolver    [20]byte
	TargetToken string
	MinOutput   *big.Int
	Deposit     *big.Int
	Expiry      int64
	CreatedAt   int64
}

func (OrderCreated) EventType() string { return TypeOrderCreated }

func (e OrderCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderCreated,
		Attributes: map[string]string{
			"id":          hex.EncodeToString(e.ID[:]),
			"maker":       crypto.NewAddress(crypto.SWTPrefix, e.Maker[:]).String(),
			"resolver":    crypto.NewAddress(crypto.SWTPrefix, e.Resolver[:]).String(),
			"targetToken": e.TargetToken,
			"minOutput":   formatAmount(e.MinOutput),
			"deposit":     formatAmount(e.Deposit),
			"expiry":      intToString(e.Expiry),
			"createdAt":   intToString(e.CreatedAt),
		},
	}
}

type OrderResolved struct {
	ID         [32]byte
	Maker      [20]byte
	Resolver   [20]byte
	Proceeds   *big.Int
	Deposit    *big.Int
	ResolvedAt int64
}

func (OrderResolved) EventType() string { return TypeOrderResolved }

func (e OrderResolved) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderResolved,
		Attributes: map[string]string{
			"id":         hex.EncodeToString(e.ID[:]),
			"maker":      crypto.NewAddress(crypto.SWTPrefix, e.Maker[:]).String(),
			"resolver":   crypto.NewAddress(crypto.SWTPrefix, e.Resolver[:]).String(),
			"proceeds":   formatAmount(e.Proceeds),
			"deposit":    formatAmount(e.Deposit),
			"resolvedAt": intToString(e.ResolvedAt),
		},
	}
}

type OrderCancelled struct {
	ID          [32]byte
	Maker       [20]byte
	Deposit     *big.Int
	CancelledAt int64
}

func (OrderCancelled) EventType() string { return TypeOrderCancelled }

func (e OrderCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderCancelled,
		Attributes: map[string]string{
			"id":          hex.EncodeToString(e.ID[:]),
			"maker":       crypto.NewAddress(crypto.SWTPrefix, e.Maker[:]).String(),
			"deposit":     formatAmount(e.Deposit),
			"cancelledAt": intToString(e.CancelledAt),
		},
	}
}
