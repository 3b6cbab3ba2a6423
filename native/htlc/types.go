package htlc

import (
	"fmt"
	"math/big"
	"strings"

	"swapnet/native/common"
)

// Side distinguishes the two legs of a cross-chain swap. The source escrow
// lives on the chain where the resolver recovers its fronted capital; the
// destination escrow delivers the traded amount to the maker.
type Side uint8

const (
	SideSource Side = iota + 1
	SideDestination
)

// Valid reports whether the side value is within the supported range.
func (s Side) Valid() bool {
	switch s {
	case SideSource, SideDestination:
		return true
	default:
		return false
	}
}

func (s Side) String() string {
	switch s {
	case SideSource:
		return "source"
	case SideDestination:
		return "destination"
	default:
		return "unknown"
	}
}

// OrderCreationData carries everything needed to derive an escrow address and
// seed an escrow. It is ephemeral: consumed by DeriveEscrowAddress and by
// escrow creation, never stored.
type OrderCreationData struct {
	Record   common.OrderRecord
	Resolver [20]byte
	Hashlock [32]byte
	Nonce    uint64
}

// Clone returns a deep copy of the creation data.
func (d *OrderCreationData) Clone() *OrderCreationData {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Record = *d.Record.Clone()
	return &clone
}

// Escrow captures the custody state of a single swap leg. The identifier is
// assigned at creation from the derived address; the address itself is what
// off-chain observers use to correlate the two legs of a swap. Both custody
// balances are drained to zero in the terminal transition that removes the
// record from state.
type Escrow struct {
	ID             [32]byte
	Address        [20]byte
	Side           Side
	Maker          [20]byte
	Resolver       [20]byte
	Token          string
	Amount         *big.Int
	Hashlock       [32]byte
	Finalitylock   int64
	Timelock       int64
	CreatedAt      int64
	TokenBalance   *big.Int
	DepositBalance *big.Int
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	clone.TokenBalance = cloneBigInt(e.TokenBalance)
	clone.DepositBalance = cloneBigInt(e.DepositBalance)
	return &clone
}

// NormalizeToken ensures the provided token symbol matches a supported value
// ("SWT" or "ZSWT") and returns the canonical uppercase form.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case "SWT", "ZSWT":
		return trimmed, nil
	default:
		return "", fmt.Errorf("unsupported escrow token: %s", symbol)
	}
}

// SanitizeEscrow validates and normalises the supplied escrow definition,
// returning a cloned instance with canonical token casing and non-nil balance
// fields. The function does not mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if !clone.Side.Valid() {
		return nil, fmt.Errorf("invalid escrow side: %d", clone.Side)
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow amount must be non-negative")
	}
	if clone.TokenBalance.Sign() < 0 || clone.DepositBalance.Sign() < 0 {
		return nil, fmt.Errorf("escrow balances must be non-negative")
	}
	if clone.Finalitylock >= clone.Timelock {
		return nil, fmt.Errorf("escrow finality lock must precede timelock")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
