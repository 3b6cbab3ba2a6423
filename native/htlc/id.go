package htlc

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var escrowIDPrefix = []byte("htlc/escrow:")

// derivationPayload is the canonical serialization input for escrow address
// derivation. Field order and widths are fixed; changing either breaks
// cross-chain correlation for every deployed counterpart.
type derivationPayload struct {
	Maker    [20]byte
	Resolver [20]byte
	Token    string
	Amount   *big.Int
	Expiry   uint64
	Hashlock [32]byte
}

// DeriveEscrowAddress turns order parameters plus the creator nonce into a
// deterministic 20-byte address. The payload is RLP-encoded and hashed, the
// big-endian nonce is appended to the first digest and the concatenation is
// hashed again; the low 20 bytes of the second digest form the address. Both
// sides of a swap run this over the same OrderCreationData, so each chain can
// predict the counterpart escrow's address before it exists. The nonce lets an
// identical maker/resolver/value/expiry/hashlock tuple open multiple
// independent swaps without collision.
func DeriveEscrowAddress(data *OrderCreationData) ([20]byte, error) {
	if data == nil {
		return [20]byte{}, fmt.Errorf("htlc: nil creation data")
	}
	record, err := SanitizeOrderData(data)
	if err != nil {
		return [20]byte{}, err
	}
	payload := derivationPayload{
		Maker:    record.Record.Maker,
		Resolver: record.Resolver,
		Token:    record.Record.Token,
		Amount:   record.Record.Value,
		Expiry:   uint64(record.Record.Expiry),
		Hashlock: record.Hashlock,
	}
	encoded, err := rlp.EncodeToBytes(&payload)
	if err != nil {
		return [20]byte{}, err
	}
	first := ethcrypto.Keccak256(encoded)
	buf := make([]byte, len(first)+8)
	copy(buf, first)
	binary.BigEndian.PutUint64(buf[len(first):], record.Nonce)
	second := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], second[12:])
	return addr, nil
}

// EscrowID maps a derived escrow address onto the runtime identifier space
// used for state storage.
func EscrowID(address [20]byte) [32]byte {
	hash := ethcrypto.Keccak256(escrowIDPrefix, address[:])
	var id [32]byte
	copy(id[:], hash)
	return id
}

// SanitizeOrderData validates and normalises creation data, returning a cloned
// instance with canonical token casing and non-nil amounts.
func SanitizeOrderData(data *OrderCreationData) (*OrderCreationData, error) {
	if data == nil {
		return nil, fmt.Errorf("htlc: nil creation data")
	}
	clone := data.Clone()
	token, err := NormalizeToken(clone.Record.Token)
	if err != nil {
		return nil, err
	}
	clone.Record.Token = token
	if clone.Record.Value == nil {
		clone.Record.Value = big.NewInt(0)
	}
	if clone.Record.Value.Sign() < 0 {
		return nil, fmt.Errorf("htlc: order value must be non-negative")
	}
	if clone.Record.Expiry < 0 {
		return nil, fmt.Errorf("htlc: negative order expiry")
	}
	return clone, nil
}
