package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/fxamacker/cbor/v2"
)

// MemoryStore: сессии в памяти процесса, для одного инстанса и локалки.
type MemoryStore struct {
	cache *bigcache.BigCache

	// bigcache не умеет атомарный read-modify-write, а историю дописываем
	histMu sync.Mutex
}

func NewMemoryStore(ctx context.Context, ttl time.Duration) (*MemoryStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.CleanWindow = time.Minute
	if ttl < 2*time.Minute {
		cfg.CleanWindow = time.Second
	}
	cfg.Verbose = false
	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bigcache: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*Session, error) {
	raw, err := m.cache.Get("sess:" + key.String())
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bigcache get: %w", err)
	}
	return Decode(raw)
}

func (m *MemoryStore) Save(_ context.Context, key Key, s *Session) error {
	raw, err := Encode(s)
	if err != nil {
		return err
	}
	return m.cache.Set("sess:"+key.String(), raw)
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	err := m.cache.Delete("sess:" + key.String())
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (m *MemoryStore) AppendHistory(_ context.Context, userID int64, text string) error {
	m.histMu.Lock()
	defer m.histMu.Unlock()

	key := "hist:" + strconv.FormatInt(userID, 10)
	var hist []string
	if raw, err := m.cache.Get(key); err == nil {
		_ = cbor.Unmarshal(raw, &hist)
	}
	hist = append(hist, text)
	if len(hist) > historySize {
		hist = hist[len(hist)-historySize:]
	}
	raw, err := cbor.Marshal(hist)
	if err != nil {
		return err
	}
	return m.cache.Set(key, raw)
}

func (m *MemoryStore) History(_ context.Context, userID int64) ([]string, error) {
	raw, err := m.cache.Get("hist:" + strconv.FormatInt(userID, 10))
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var hist []string
	if err := cbor.Unmarshal(raw, &hist); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return hist, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return m.cache.Close() }
