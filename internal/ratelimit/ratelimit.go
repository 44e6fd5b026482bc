// Package ratelimit держит счётчики в памяти процесса: кулдаун отправки кода и антиспам.
package ratelimit

import (
	"sync"
	"time"
)

// Cooldown помнит время последнего действия по ключу.
// Живёт дольше сессии, поэтому /start кулдаун не сбрасывает.
type Cooldown struct {
	period time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[int64]time.Time
}

func NewCooldown(period time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{period: period, now: now, last: make(map[int64]time.Time)}
}

// Remaining: сколько ещё ждать, 0 если можно.
func (c *Cooldown) Remaining(key int64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining(key)
}

func (c *Cooldown) remaining(key int64) time.Duration {
	last, ok := c.last[key]
	if !ok {
		return 0
	}
	left := c.period - c.now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

// Mark фиксирует действие.
func (c *Cooldown) Mark(key int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key] = c.now()
	c.gc()
}

// gc чистит протухшие ключи, вызывается под локом
func (c *Cooldown) gc() {
	now := c.now()
	for k, t := range c.last {
		if now.Sub(t) >= c.period {
			delete(c.last, k)
		}
	}
}

// SpamGuard: скользящее окно: не больше limit сообщений за window.
type SpamGuard struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[int64][]time.Time
}

func NewSpamGuard(limit int, window time.Duration, now func() time.Time) *SpamGuard {
	if now == nil {
		now = time.Now
	}
	return &SpamGuard{limit: limit, window: window, now: now, hits: make(map[int64][]time.Time)}
}

// Allow учитывает сообщение и говорит, пропускать ли его.
func (g *SpamGuard) Allow(key int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	recent := g.hits[key][:0]
	for _, t := range g.hits[key] {
		if now.Sub(t) < g.window {
			recent = append(recent, t)
		}
	}
	if len(recent) >= g.limit {
		g.hits[key] = recent
		return false
	}
	g.hits[key] = append(recent, now)
	return true
}
