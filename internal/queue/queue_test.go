package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	body, _ := json.Marshal(map[string]string{"record_id": "r1"})
	require.NoError(t, q.Publish(ctx, Message{Type: "attendance.marked", Body: body}))

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, "attendance.marked", msg.Type)
		assert.JSONEq(t, `{"record_id":"r1"}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestInMemoryPublishRespectsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewInMemory(0)
	err := q.Publish(ctx, Message{Type: "attendance.marked"})
	assert.ErrorIs(t, err, context.Canceled)
}
