package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"absensi/internal/queue"
)

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := queue.NewInMemory(4)
	// Door audit bodies are JSON and may contain the separator.
	body := []byte(`{"response":"a|b|c"}`)
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "door_event", Body: body}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, "door_event", msg.Type)
		assert.Equal(t, body, msg.Body)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}
