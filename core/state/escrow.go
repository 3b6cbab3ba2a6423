package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"swapnet/native/htlc"
)

var escrowRecordPrefix = []byte("htlc/escrow/")

func escrowStorageKey(id [32]byte) []byte {
	buf := make([]byte, len(escrowRecordPrefix)+len(id))
	copy(buf, escrowRecordPrefix)
	copy(buf[len(escrowRecordPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

// storedEscrow is the RLP envelope for a persisted escrow. Signed timestamps
// are stored as big integers because RLP has no signed integer encoding.
type storedEscrow struct {
	ID             [32]byte
	Address        [20]byte
	Side           uint8
	Maker          [20]byte
	Resolver       [20]byte
	Token          string
	Amount         *big.Int
	Hashlock       [32]byte
	Finalitylock   *big.Int
	Timelock       *big.Int
	CreatedAt      *big.Int
	TokenBalance   *big.Int
	DepositBalance *big.Int
}

func newStoredEscrow(e *htlc.Escrow) *storedEscrow {
	if e == nil {
		return nil
	}
	clone := e.Clone()
	return &storedEscrow{
		ID:             clone.ID,
		Address:        clone.Address,
		Side:           uint8(clone.Side),
		Maker:          clone.Maker,
		Resolver:       clone.Resolver,
		Token:          clone.Token,
		Amount:         clone.Amount,
		Hashlock:       clone.Hashlock,
		Finalitylock:   big.NewInt(clone.Finalitylock),
		Timelock:       big.NewInt(clone.Timelock),
		CreatedAt:      big.NewInt(clone.CreatedAt),
		TokenBalance:   clone.TokenBalance,
		DepositBalance: clone.DepositBalance,
	}
}

func (s *storedEscrow) toEscrow() (*htlc.Escrow, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil escrow record")
	}
	out := &htlc.Escrow{
		ID:             s.ID,
		Address:        s.Address,
		Side:           htlc.Side(s.Side),
		Maker:          s.Maker,
		Resolver:       s.Resolver,
		Token:          s.Token,
		Amount:         big.NewInt(0),
		Hashlock:       s.Hashlock,
		TokenBalance:   big.NewInt(0),
		DepositBalance: big.NewInt(0),
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if s.TokenBalance != nil {
		out.TokenBalance = new(big.Int).Set(s.TokenBalance)
	}
	if s.DepositBalance != nil {
		out.DepositBalance = new(big.Int).Set(s.DepositBalance)
	}
	if s.Finalitylock != nil {
		out.Finalitylock = s.Finalitylock.Int64()
	}
	if s.Timelock != nil {
		out.Timelock = s.Timelock.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	return htlc.SanitizeEscrow(out)
}

// EscrowPut persists the escrow after sanitising it.
func (m *Manager) EscrowPut(e *htlc.Escrow) error {
	sanitized, err := htlc.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredEscrow(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(escrowStorageKey(sanitized.ID), encoded)
}

// EscrowGet loads the escrow for the id, if present.
func (m *Manager) EscrowGet(id [32]byte) (*htlc.Escrow, bool) {
	data, err := m.get(escrowStorageKey(id))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedEscrow)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toEscrow()
	if err != nil {
		return nil, false
	}
	return record, true
}

// EscrowRemove deletes the escrow and returns the removed record. The
// remove-and-return shape is what makes terminal transitions single-shot: the
// second caller finds nothing to act on.
func (m *Manager) EscrowRemove(id [32]byte) (*htlc.Escrow, bool) {
	record, ok := m.EscrowGet(id)
	if !ok {
		return nil, false
	}
	if err := m.db.Delete(escrowStorageKey(id)); err != nil {
		return nil, false
	}
	return record, true
}
