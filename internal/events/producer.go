// Package events публикует события тикетов в kafka (best-effort).
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TicketCreated   = "ticket.created"
	TicketDelivered = "ticket.delivered"
)

// Publisher: то, что нужно боту и шедулеру (для подмены в тестах).
type Publisher interface {
	Publish(ctx context.Context, event string, ticketID uint, payload map[string]any)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer пишет в топик. Без брокеров все методы no-op.
type Producer struct {
	writer messageWriter
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewProducer(brokers []string, topic string, log *zap.SugaredLogger) *Producer {
	p := &Producer{log: log, now: time.Now}
	brokers = cleanBrokers(brokers)
	if len(brokers) == 0 || topic == "" {
		return p
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		// WriteMessages не ждёт брокер, ошибки приходят сюда
		Async: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warnw("kafka: async write failed", "topic", topic, "messages", len(msgs), "error", err)
			}
		},
	}
	return p
}

func (p *Producer) Enabled() bool { return p.writer != nil }

// Publish не возвращает ошибку: событие не должно ломать основной поток.
func (p *Producer) Publish(ctx context.Context, event string, ticketID uint, payload map[string]any) {
	if p.writer == nil {
		return
	}
	msg := map[string]any{
		"event":     event,
		"ticket_id": ticketID,
		"at":        p.now().UTC().Format(time.RFC3339),
	}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		p.log.Warnw("kafka: marshal ticket event", "event", event, "ticket_id", ticketID, "error", err)
		return
	}
	key := []byte(strconv.FormatUint(uint64(ticketID), 10))
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: body}); err != nil {
		p.log.Warnw("kafka: write ticket event", "event", event, "ticket_id", ticketID, "error", err)
	}
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func cleanBrokers(in []string) []string {
	var out []string
	for _, b := range in {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
