package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	manager := int64(7)

	tests := []struct {
		name   string
		from   OrderStatus
		step   func(Order) (Order, error)
		want   OrderStatus
		wantOK bool
	}{
		{"assign not assigned", OrderStatusNotAssigned, func(o Order) (Order, error) { return o.Assign(manager, now) }, OrderStatusPending, true},
		{"assign pending", OrderStatusPending, func(o Order) (Order, error) { return o.Assign(manager, now) }, "", false},
		{"cancel not assigned", OrderStatusNotAssigned, func(o Order) (Order, error) { return o.Cancel(now) }, OrderStatusCanceled, true},
		{"cancel pending", OrderStatusPending, func(o Order) (Order, error) { return o.Cancel(now) }, OrderStatusCanceled, true},
		{"cancel done", OrderStatusDone, func(o Order) (Order, error) { return o.Cancel(now) }, "", false},
		{"cancel canceled", OrderStatusCanceled, func(o Order) (Order, error) { return o.Cancel(now) }, "", false},
		{"complete pending", OrderStatusPending, func(o Order) (Order, error) { return o.Complete(now) }, OrderStatusDone, true},
		{"complete not assigned", OrderStatusNotAssigned, func(o Order) (Order, error) { return o.Complete(now) }, "", false},
		{"complete canceled", OrderStatusCanceled, func(o Order) (Order, error) { return o.Complete(now) }, "", false},
		{"complete done", OrderStatusDone, func(o Order) (Order, error) { return o.Complete(now) }, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Order{ID: "o1", Status: tt.from}
			if tt.from == OrderStatusPending {
				o.AssigneeID = &manager
			}
			next, err := tt.step(o)
			if !tt.wantOK {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, next.Status, "receiver is unchanged")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.Status)
			assert.Equal(t, now, next.UpdatedAt)
			assert.Equal(t, tt.from, o.Status, "receiver is not mutated")
		})
	}
}

func TestOrderAssignAndCancelAssignee(t *testing.T) {
	now := time.Now()
	o := Order{Status: OrderStatusNotAssigned}

	pending, err := o.Assign(3, now)
	require.NoError(t, err)
	require.NotNil(t, pending.AssigneeID)
	assert.EqualValues(t, 3, *pending.AssigneeID)

	canceled, err := pending.Cancel(now)
	require.NoError(t, err)
	assert.Nil(t, canceled.AssigneeID)
}

func TestParseOrderStatus(t *testing.T) {
	s, ok := ParseOrderStatus("PENDING")
	assert.True(t, ok)
	assert.Equal(t, OrderStatusPending, s)

	_, ok = ParseOrderStatus("pending")
	assert.False(t, ok)

	assert.True(t, OrderStatusDone.Terminal())
	assert.True(t, OrderStatusCanceled.Terminal())
	assert.False(t, OrderStatusPending.Terminal())
}
