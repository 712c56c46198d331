package executor

import (
	"math/rand"
	"testing"

	"conflux-trader/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerBuySell(t *testing.T) {
	l := NewLedger(100000, nil)

	require.NoError(t, l.Buy(10, 1))
	require.NoError(t, l.Buy(20, 1))
	assert.Equal(t, 2.0, l.Position())
	assert.Equal(t, 99970.0, l.Balance())
	assert.Equal(t, 100030.0, l.PortfolioValue(30))
	assert.InDelta(t, 0.03, l.ReturnPct(30), 1e-9)

	require.NoError(t, l.Sell(30, 2))
	assert.Equal(t, 0.0, l.Position())
	assert.Equal(t, 100030.0, l.Balance())
}

func TestLedgerRejections(t *testing.T) {
	l := NewLedger(100, nil)

	assert.ErrorIs(t, l.Buy(50, 3), ErrInsufficientBalance)
	assert.ErrorIs(t, l.Buy(50, 0), ErrInvalidSize)
	assert.ErrorIs(t, l.Buy(50, -1), ErrInvalidSize)
	assert.ErrorIs(t, l.Sell(50, 1), ErrInsufficientPosition)
	assert.ErrorIs(t, l.Sell(50, 0), ErrInvalidSize)

	// 被拒绝的交易不改变账户
	assert.Equal(t, 100.0, l.Balance())
	assert.Equal(t, 0.0, l.Position())

	filled, err := l.Execute(model.ActionHold, 50, 1)
	assert.NoError(t, err)
	assert.False(t, filled)
}

func TestLedgerInvariantsUnderRandomTrades(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	l := NewLedger(1000, nil)

	for i := 0; i < 2000; i++ {
		price := 1 + rng.Float64()*100
		size := rng.Float64() * 5
		action := model.Action(rng.Intn(3) - 1)

		before := l.PortfolioValue(price)
		balance, position := l.Balance(), l.Position()

		filled, err := l.Execute(action, price, size)
		if err != nil {
			assert.False(t, filled)
			assert.Equal(t, balance, l.Balance())
			assert.Equal(t, position, l.Position())
		}

		assert.GreaterOrEqual(t, l.Balance(), 0.0)
		assert.GreaterOrEqual(t, l.Position(), 0.0)
		// 无手续费：同一价格下成交前后净值不变
		assert.InDelta(t, before, l.PortfolioValue(price), 1e-6)
	}
}
