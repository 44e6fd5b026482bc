package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goinginblind/support-ticket-bot/internal/session"
)

func TestDispatcher_KeepsOrderPerKey(t *testing.T) {
	var mu sync.Mutex
	seen := map[int64][]int{}
	d := newDispatcher(func(_ context.Context, upd tgbotapi.Update) {
		// разные задержки, чтобы порядок не совпал случайно
		if upd.UpdateID%3 == 0 {
			time.Sleep(time.Millisecond)
		}
		mu.Lock()
		seen[upd.Message.From.ID] = append(seen[upd.Message.From.ID], upd.UpdateID)
		mu.Unlock()
	}, time.Second, zap.NewNop().Sugar())

	for i := 1; i <= 30; i++ {
		for _, user := range []int64{1, 2} {
			upd := tgbotapi.Update{UpdateID: i, Message: &tgbotapi.Message{From: &tgbotapi.User{ID: user}}}
			d.Dispatch(context.Background(), session.Key{ChatID: user, UserID: user}, upd)
		}
	}
	d.Wait()

	want := make([]int, 30)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, seen[1])
	assert.Equal(t, want, seen[2])
	assert.Zero(t, d.Pending(), "idle workers must exit")
}

func TestDispatcher_KeysRunInParallel(t *testing.T) {
	release := make(chan struct{})
	var running atomic.Int32
	d := newDispatcher(func(_ context.Context, _ tgbotapi.Update) {
		running.Add(1)
		<-release
	}, time.Second, zap.NewNop().Sugar())

	d.Dispatch(context.Background(), session.Key{ChatID: 1, UserID: 1}, tgbotapi.Update{UpdateID: 1})
	d.Dispatch(context.Background(), session.Key{ChatID: 2, UserID: 2}, tgbotapi.Update{UpdateID: 2})
	d.Dispatch(context.Background(), session.Key{ChatID: 2, UserID: 2}, tgbotapi.Update{UpdateID: 3})

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, d.Pending())

	close(release)
	d.Wait()
	assert.Equal(t, int32(3), running.Load())
	assert.Zero(t, d.Pending())
}

func TestDispatcher_SurvivesPanic(t *testing.T) {
	var handled []int
	d := newDispatcher(func(_ context.Context, upd tgbotapi.Update) {
		if upd.UpdateID == 1 {
			panic("boom")
		}
		handled = append(handled, upd.UpdateID)
	}, time.Second, zap.NewNop().Sugar())

	key := session.Key{ChatID: 1, UserID: 1}
	d.Dispatch(context.Background(), key, tgbotapi.Update{UpdateID: 1})
	d.Dispatch(context.Background(), key, tgbotapi.Update{UpdateID: 2})
	d.Wait()

	assert.Equal(t, []int{2}, handled)
}

func TestDispatcher_HandlerHasDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	d := newDispatcher(func(ctx context.Context, _ tgbotapi.Update) {
		deadline, ok = ctx.Deadline()
	}, 50*time.Millisecond, zap.NewNop().Sugar())

	start := time.Now()
	d.Dispatch(context.Background(), session.Key{ChatID: 1, UserID: 1}, tgbotapi.Update{UpdateID: 1})
	d.Wait()

	require.True(t, ok)
	assert.WithinDuration(t, start.Add(50*time.Millisecond), deadline, 40*time.Millisecond)
}

func TestServe_DrainsOnShutdown(t *testing.T) {
	h := newHarness(t, botConfig)
	updates := make(chan tgbotapi.Update, 3)
	updates <- textUpdate(userID, "/start")
	updates <- callbackUpdate(userID, cbCreateTicket)
	updates <- tgbotapi.Update{UpdateID: 999} // без сообщения, пропускается

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.bot.Serve(ctx, updates) }()

	require.Eventually(t, func() bool { return len(updates) == 0 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, session.SceneDescription, h.session(userID).Scene)
}
