package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/goinginblind/support-ticket-bot/internal/session"
)

// HandlerTimeout: сколько максимум живёт обработка одного апдейта.
const HandlerTimeout = 90 * time.Second

// dispatcher раздаёт апдейты по воркерам: один воркер на ключ сессии,
// внутри ключа строго по порядку, разные ключи параллельно.
// Воркер без работы завершается.
type dispatcher struct {
	handle  func(ctx context.Context, upd tgbotapi.Update)
	timeout time.Duration
	log     *zap.SugaredLogger

	mu     sync.Mutex
	queues map[session.Key][]tgbotapi.Update
	wg     sync.WaitGroup
}

func newDispatcher(handle func(ctx context.Context, upd tgbotapi.Update), timeout time.Duration, log *zap.SugaredLogger) *dispatcher {
	return &dispatcher{
		handle:  handle,
		timeout: timeout,
		log:     log,
		queues:  make(map[session.Key][]tgbotapi.Update),
	}
}

// Dispatch ставит апдейт в очередь ключа и поднимает воркер, если его нет.
func (d *dispatcher) Dispatch(ctx context.Context, key session.Key, upd tgbotapi.Update) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending, running := d.queues[key]
	d.queues[key] = append(pending, upd)
	if running {
		return
	}
	d.wg.Add(1)
	go d.work(ctx, key)
}

func (d *dispatcher) work(ctx context.Context, key session.Key) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		pending := d.queues[key]
		if len(pending) == 0 {
			// ключ есть в мапе ровно пока жив воркер
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		upd := pending[0]
		d.queues[key] = pending[1:]
		d.mu.Unlock()

		d.run(ctx, key, upd)
	}
}

func (d *dispatcher) run(ctx context.Context, key session.Key, upd tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("panic while handling update", "session", key.String(), "update_id", upd.UpdateID, "panic", r)
		}
	}()
	d.handle(ctx, upd)
}

// Pending: сколько ключей сейчас обрабатывается.
func (d *dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Wait ждёт, пока все воркеры разберут свои очереди.
func (d *dispatcher) Wait() { d.wg.Wait() }
