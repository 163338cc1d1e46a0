package orders

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitechain/kitesim/internal/domain"
)

func TestRecordFulfillment(t *testing.T) {
	b := NewBook(zerolog.Nop())

	t.Run("full fulfillment", func(t *testing.T) {
		po := b.Create(0, 1, 100, 3)
		require.NoError(t, po.RecordFulfillment(100, 3))
		assert.Equal(t, 100, po.FulfilledAmount)
		assert.Equal(t, 3, po.FulfilledTime)
	})

	t.Run("partial fulfillment", func(t *testing.T) {
		po := b.Create(0, 1, 100, 3)
		require.NoError(t, po.RecordFulfillment(40, 3))
		assert.Equal(t, 40, po.FulfilledAmount)
	})

	t.Run("zero fulfillment is valid", func(t *testing.T) {
		po := b.Create(0, 1, 100, 3)
		require.NoError(t, po.RecordFulfillment(0, 3))
		assert.Equal(t, 0, po.FulfilledAmount)
	})

	t.Run("over-fulfillment rejected", func(t *testing.T) {
		po := b.Create(0, 1, 100, 3)
		err := po.RecordFulfillment(101, 3)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStateInvariant)
	})

	t.Run("negative fulfillment rejected", func(t *testing.T) {
		po := b.Create(0, 1, 100, 3)
		err := po.RecordFulfillment(-1, 3)
		assert.ErrorIs(t, err, domain.ErrStateInvariant)
	})
}

func TestTryClose(t *testing.T) {
	b := NewBook(zerolog.Nop())

	po := b.Create(0, 1, 50, 0)
	assert.False(t, po.TryClose(), "open order must not close")

	po.SupplierClosed = true
	assert.False(t, po.TryClose(), "supplier-only closure is not enough")

	po.CustomerClosed = true
	assert.True(t, po.TryClose())
	assert.True(t, po.Closed)
}

func TestCreateAssignsMonotonicIDsAndSentinels(t *testing.T) {
	b := NewBook(zerolog.Nop())

	first := b.Create(0, 1, 10, 0)
	second := b.Create(1, 2, 20, 0)

	assert.Equal(t, first.ID+1, second.ID)
	assert.Equal(t, Unset, first.FulfilledAmount)
	assert.Equal(t, Unset, first.FulfilledTime)
	assert.Equal(t, Unset, first.ArrivalTime)
}
