package types

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBalanceHelpers(t *testing.T) {
	balance := big.NewInt(10)

	rollback, err := MustSubBalance(balance, big.NewInt(4))
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(6)))
	rollback()
	require.Zero(t, balance.Cmp(big.NewInt(10)))

	_, err = MustSubBalance(balance, big.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	rollback, err = MustAddBalance(balance, big.NewInt(5))
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(15)))
	rollback()
	require.Zero(t, balance.Cmp(big.NewInt(10)))
}

func TestBalanceHelpersRejectBadOperands(t *testing.T) {
	_, err := MustSubBalance(nil, big.NewInt(1))
	require.Error(t, err)
	_, err = MustAddBalance(big.NewInt(1), big.NewInt(-1))
	require.Error(t, err)
}
