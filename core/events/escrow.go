package events

import (
	"encoding/hex"
	"math/big"

	"swapnet/core/types"
	"swapnet/crypto"
)

const (
	TypeEscrowCreated  = "htlc.escrow.created"
	TypeEscrowClaimed  = "htlc.escrow.claimed"
	TypeEscrowRefunded = "htlc.escrow.refunded"
	TypeEscrowSlashed  = "htlc.escrow.slashed"
)

type EscrowCreated struct {
	ID           [32]byte
	Address      [20]byte
	Side         string
	Maker        [20]byte
	Resolver     [20]byte
	Token        string
	Amount       *big.Int
	Deposit      *big.Int
	Finalitylock int64
	Timelock     int64
	CreatedAt    int64
}

func (EscrowCreated) EventType() string { return TypeEscrowCreated }

func (e EscrowCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowCreated,
		Attributes: map[string]string{
			"id":           hex.EncodeToString(e.ID[:]),
			"address":      hex.EncodeToString(e.Address[:]),
			"side":         e.Side,
			"maker":        crypto.NewAddress(crypto.SWTPrefix, e.Maker[:]).String(),
			"resolver":     crypto.NewAddress(crypto.SWTPrefix, e.Resolver[:]).String(),
			"token":        e.Token,
			"amount":       formatAmount(e.Amount),
			"deposit":      formatAmount(e.Deposit),
			"finalitylock": intToString(e.Finalitylock),
			"timelock":     intToString(e.Timelock),
			"createdAt":    intToString(e.CreatedAt),
		},
	}
}

type EscrowClaimed struct {
	ID        [32]byte
	Side      string
	Maker     [20]byte
	Resolver  [20]byte
	Recipient [20]byte
	Token     string
	Amount    *big.Int
	Deposit   *big.Int
	ClaimedAt int64
}

func (EscrowClaimed) EventType() string { return TypeEscrowClaimed }

func (e EscrowClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowClaimed,
		Attributes: map[string]string{
			"id":        hex.EncodeToString(e.ID[:]),
			"side":      e.Side,
			"maker":     crypto.NewAddress(crypto.SWTPrefix, e.Maker[:]).String(),
			"resolver":  crypto.NewAddress(crypto.SWTPrefix, e.Resolver[:]).String(),
			"recipient": crypto.NewAddress(crypto.SWTPrefix, e.Recipient[:]).String(),
			"token":     e.Token,
			"amount":    formatAmount(e.Amount),
			"deposit":   formatAmount(e.Deposit),
			"claimedAt": intToString(e.ClaimedAt),
		},
	}
}

type EscrowRefunded struct {
	ID         [32]byte
	Side       string
	Maker      [20]byte
	Resolver   [20]byte
	Caller     [20]byte
	Token      string
	Amount     *big.Int
	Deposit    *big.Int
	RefundedAt int64
}

func (EscrowRefunded) EventType() string { return TypeEscrowRefunded }

func (e EscrowRefunded) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowRefunded,
		Attributes: map[string]string{
			"id":         hex.EncodeToString(e.ID[:]),
			"side":       e.Side,
			"maker":      crypto.NewAddress(crypto.SWTPrefix, e.Maker[:]).String(),
			"resolver":   crypto.NewAddress(crypto.SWTPrefix, e.Resolver[:]).String(),
			"caller":     crypto.NewAddress(crypto.SWTPrefix, e.Caller[:]).String(),
			"token":      e.Token,
			"amount":     formatAmount(e.Amount),
			"deposit":    formatAmount(e.Deposit),
			"refundedAt": intToString(e.RefundedAt),
		},
	}
}

type EscrowSlashed struct {
	ID        [32]byte
	Side      string
	Maker     [20]byte
	Resolver  [20]byte
	Caller    [20]byte
	Token     string
	Amount    *big.Int
	Deposit   *big.Int
	SlashedAt int64
}

func (EscrowSlashed) EventType() string { return TypeEscrowSlashed }

func (e EscrowSlashed) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowSlashed,
		Attributes: map[string]string{
			"id":        hex.EncodeToString(e.ID[:]),
			"side":      e.Side,
			"maker":     crypto.NewAddress(crypto.SWTPrefix, e.Maker[:]).String(),
			"resolver":  crypto.NewAddress(crypto.SWTPrefix, e.Resolver[:]).String(),
			"caller":    crypto.NewAddress(crypto.SWTPrefix, e.Caller[:]).String(),
			"token":     e.Token,
			"amount":    formatAmount(e.Amount),
			"deposit":   formatAmount(e.Deposit),
			"slashedAt": intToString(e.SlashedAt),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string {
	return big.NewInt(v).String()
}
