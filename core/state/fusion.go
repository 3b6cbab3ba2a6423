package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"swapnet/native/fusion"
)

var (
	orderRecordPrefix = []byte("fusion/order/")
	orderNoncePrefix  = []byte("fusion/nonce/")
)

func orderStorageKey(id [32]byte) []byte {
	buf := make([]byte, len(orderRecordPrefix)+len(id))
	copy(buf, orderRecordPrefix)
	copy(buf[len(orderRecordPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func orderNonceKey(maker [20]byte) []byte {
	buf := make([]byte, len(orderNoncePrefix)+len(maker))
	copy(buf, orderNoncePrefix)
	copy(buf[len(orderNoncePrefix):], maker[:])
	return ethcrypto.Keccak256(buf)
}

type storedOrder struct {
	ID          [32]byte
	Maker       [20]byte
	Token       string
	Value       *big.Int
	Expiry      *big.Int
	Deposit     *big.Int
	Resolver    [20]byte
	TargetToken string
	MinOutput   *big.Int
	Route       []byte
	Version     uint8
	CreatedAt   *big.Int
}

func newStoredOrder(o *fusion.Order) *storedOrder {
	if o == nil {
		return nil
	}
	clone := o.Clone()
	return &storedOrder{
		ID:          clone.ID,
		Maker:       clone.Core.Maker,
		Token:       clone.Core.Token,
		Value:       clone.Core.Value,
		Expiry:      big.NewInt(clone.Core.Expiry),
		Deposit:     clone.Core.Deposit,
		Resolver:    clone.Resolver,
		TargetToken: clone.Trade.TargetToken,
		MinOutput:   clone.Trade.MinOutput,
		Route:       clone.Trade.Route,
		Version:     clone.Version,
		CreatedAt:   big.NewInt(clone.CreatedAt),
	}
}

func (s *storedOrder) toOrder() (*fusion.Order, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil order record")
	}
	out := &fusion.Order{
		ID:       s.ID,
		Resolver: s.Resolver,
		Version:  s.Version,
	}
	out.Core.Maker = s.Maker
	out.Core.Token = s.Token
	out.Core.Value = big.NewInt(0)
	out.Core.Deposit = big.NewInt(0)
	out.Trade.TargetToken = s.TargetToken
	out.Trade.MinOutput = big.NewInt(0)
	out.Trade.Route = append([]byte(nil), s.Route...)
	if s.Value != nil {
		out.Core.Value = new(big.Int).Set(s.Value)
	}
	if s.Deposit != nil {
		out.Core.Deposit = new(big.Int).Set(s.Deposit)
	}
	if s.MinOutput != nil {
		out.Trade.MinOutput = new(big.Int).Set(s.MinOutput)
	}
	if s.Expiry != nil {
		out.Core.Expiry = s.Expiry.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	return fusion.SanitizeOrder(out)
}

// NextOrderID derives a fresh order identifier from the maker address and a
// persisted per-maker counter, so identical repeated orders never collide.
func (m *Manager) NextOrderID(maker [20]byte) ([32]byte, error) {
	key := orderNonceKey(maker)
	current, err := m.loadBigInt(key)
	if err != nil {
		return [32]byte{}, err
	}
	if current.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("state: negative nonce state")
	}
	if current.BitLen() > 63 {
		return [32]byte{}, fmt.Errorf("state: nonce overflow")
	}
	nonce := current.Uint64()
	buf := make([]byte, len(maker)+8)
	copy(buf, maker[:])
	binary.BigEndian.PutUint64(buf[len(maker):], nonce)
	hash := ethcrypto.Keccak256(buf)
	var id [32]byte
	copy(id[:], hash)
	if err := m.writeBigInt(key, new(big.Int).SetUint64(nonce+1)); err != nil {
		return [32]byte{}, err
	}
	return id, nil
}

// OrderPut persists the order after sanitising it.
func (m *Manager) OrderPut(o *fusion.Order) error {
	sanitized, err := fusion.SanitizeOrder(o)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredOrder(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(orderStorageKey(sanitized.ID), encoded)
}

// OrderGet loads the order for the id, if present.
func (m *Manager) OrderGet(id [32]byte) (*fusion.Order, bool) {
	data, err := m.get(orderStorageKey(id))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedOrder)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toOrder()
	if err != nil {
		return nil, false
	}
	return record, true
}

// OrderRemove deletes the order and returns the removed record.
func (m *Manager) OrderRemove(id [32]byte) (*fusion.Order, bool) {
	record, ok := m.OrderGet(id)
	if !ok {
		return nil, false
	}
	if err := m.db.Delete(orderStorageKey(id)); err != nil {
		return nil, false
	}
	return record, true
}
