package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_NoBrokersIsNoop(t *testing.T) {
	p := NewProducer([]string{" ", ""}, "support-tickets", zap.NewNop().Sugar())
	assert.False(t, p.Enabled())
	p.Publish(context.Background(), TicketCreated, 1, nil)
	assert.NoError(t, p.Close())
}

func TestProducer_WriterIsAsync(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "support-tickets", zap.NewNop().Sugar())
	require.True(t, p.Enabled())
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.True(t, w.Async, "брокер не должен тормозить ответ юзеру")
	assert.NotNil(t, w.Completion)
	assert.NoError(t, p.Close())
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, log: zap.NewNop().Sugar(), now: func() time.Time {
		return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	}}

	p.Publish(context.Background(), TicketCreated, 42, map[string]any{"organization": "Acme"})
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.Equal(t, TicketCreated, body["event"])
	assert.Equal(t, float64(42), body["ticket_id"])
	assert.Equal(t, "Acme", body["organization"])
	assert.Equal(t, "2025-03-10T12:00:00Z", body["at"])
}

func TestProducer_WriteErrorSwallowed(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &Producer{writer: w, log: zap.NewNop().Sugar(), now: time.Now}
	assert.NotPanics(t, func() {
		p.Publish(context.Background(), TicketDelivered, 1, nil)
	})
}
