package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"swapnet/core/types"
	"swapnet/storage"
)

// ErrInsufficientBalance is returned when a balance mutation would drive an
// account negative. It aliases the sentinel owned by core/types so engine
// transfers and persistence report the same condition.
var ErrInsufficientBalance = types.ErrInsufficientBalance

var (
	accountPrefix = []byte("account/")
	vaultPrefix   = []byte("vault/module/")
	pausePrefix   = []byte("pause/")
)

// Manager provides keyed access to accounts, escrows and orders on top of a
// raw key-value database. All records are RLP encoded under keccak-hashed
// keys.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func pauseKey(module string) []byte {
	buf := make([]byte, len(pausePrefix)+len(module))
	copy(buf, pausePrefix)
	copy(buf[len(pausePrefix):], module)
	return ethcrypto.Keccak256(buf)
}

type storedAccount struct {
	Nonce       uint64
	BalanceSWT  *big.Int
	BalanceZSWT *big.Int
}

// GetAccount loads the account for the address, returning a zeroed account
// when none is stored yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, err := m.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return (&types.Account{}).EnsureBalances(), nil
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	acc := &types.Account{
		Nonce:       stored.Nonce,
		BalanceSWT:  stored.BalanceSWT,
		BalanceZSWT: stored.BalanceZSWT,
	}
	return acc.EnsureBalances(), nil
}

// PutAccount persists the account under the address key.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	account = account.EnsureBalances()
	if account.BalanceSWT.Sign() < 0 || account.BalanceZSWT.Sign() < 0 {
		return ErrInsufficientBalance
	}
	record := &storedAccount{
		Nonce:       account.Nonce,
		BalanceSWT:  account.BalanceSWT,
		BalanceZSWT: account.BalanceZSWT,
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// TokenVaultAddress returns the module vault that holds custody balances for
// the given token symbol. The address is derived, not configured, so every
// node agrees on it without coordination.
func (m *Manager) TokenVaultAddress(token string) ([20]byte, error) {
	if token == "" {
		return [20]byte{}, fmt.Errorf("state: empty vault token")
	}
	buf := make([]byte, len(vaultPrefix)+len(token))
	copy(buf, vaultPrefix)
	copy(buf[len(vaultPrefix):], token)
	hash := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr, nil
}

// SetPaused toggles the pause flag for a module.
func (m *Manager) SetPaused(module string, paused bool) error {
	if paused {
		return m.db.Put(pauseKey(module), []byte{1})
	}
	return m.db.Delete(pauseKey(module))
}

// IsPaused implements the module pause view consulted by the engines.
func (m *Manager) IsPaused(module string) bool {
	data, err := m.get(pauseKey(module))
	if err != nil {
		return false
	}
	return len(data) == 1 && data[0] == 1
}

// get normalises the database's not-found condition to an empty value.
func (m *Manager) get(key []byte) ([]byte, error) {
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	data, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	out := new(big.Int)
	if err := rlp.DecodeBytes(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) writeBigInt(key []byte, v *big.Int) error {
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}
