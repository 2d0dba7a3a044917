package paper

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levmarch/fundarb/internal/domain"
)

func TestFromCredentials(t *testing.T) {
	a, err := FromCredentials(map[string]string{"name": "sim", "balance": "2500"})
	require.NoError(t, err)
	assert.Equal(t, "sim", a.Name())

	balance, err := a.Balance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(2500)))

	_, err = FromCredentials(map[string]string{"balance": "not-a-number"})
	require.Error(t, err)
}

func TestOpenAndClosePosition(t *testing.T) {
	a := New("paper", decimal.NewFromInt(10000))
	a.SetQuote("BTC", decimal.NewFromInt(50000), decimal.RequireFromString("0.0001"))

	id, err := a.OpenPosition(context.Background(), domain.OrderParams{
		Symbol: "BTC",
		Side:   domain.SideLong,
		Size:   decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	positions, err := a.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Contains(t, positions, "BTC")
	// Fills happen at the seeded quote, not the order price.
	assert.True(t, positions["BTC"].EntryPrice.Equal(decimal.NewFromInt(50000)))

	require.NoError(t, a.ClosePosition(context.Background(), "BTC"))
	positions, err = a.OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestOpenWithoutPriceRejected(t *testing.T) {
	a := New("paper", decimal.NewFromInt(10000))

	_, err := a.OpenPosition(context.Background(), domain.OrderParams{
		Symbol: "BTC",
		Side:   domain.SideLong,
		Size:   decimal.RequireFromString("0.01"),
	})
	require.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestCloseMissingPosition(t *testing.T) {
	a := New("paper", decimal.NewFromInt(10000))
	err := a.ClosePosition(context.Background(), "BTC")
	require.ErrorIs(t, err, domain.ErrPositionNotFound)
}
