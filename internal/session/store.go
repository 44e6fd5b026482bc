package session

import (
	"context"
	"time"
)

// DefaultTTL: через сколько брошенная сессия пропадает.
const DefaultTTL = 3 * time.Hour

// historySize: сколько последних сообщений юзера помним.
const historySize = 10

// Store: хранилище сессий. Load возвращает (nil, nil), если сессии нет.
type Store interface {
	Load(ctx context.Context, key Key) (*Session, error)
	Save(ctx context.Context, key Key, s *Session) error
	Delete(ctx context.Context, key Key) error

	// История ввода юзера, для карточки в админке
	AppendHistory(ctx context.Context, userID int64, text string) error
	History(ctx context.Context, userID int64) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
