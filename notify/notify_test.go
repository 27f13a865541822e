package notify_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chigozirigeorge/verinest/notify"
)

func TestLogDispatcherNeverErrors(t *testing.T) {
	var d notify.Dispatcher = notify.LogDispatcher{}
	err := d.Notify(context.Background(), notify.Notification{
		UserID:   uuid.New(),
		Event:    notify.EventOrderPaid,
		Priority: notify.PriorityMedium,
		Data:     map[string]interface{}{"order_id": uuid.New().String()},
	})
	require.NoError(t, err)
}
