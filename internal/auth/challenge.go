// Package auth: вход по корпоративной почте через одноразовый код.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goinginblind/support-ticket-bot/internal/ratelimit"
)

// CodeCooldown: пауза между отправками кода одному юзеру.
const CodeCooldown = 120 * time.Second

var (
	ErrInvalidEmail     = errors.New("auth: invalid email format")
	ErrDomainNotAllowed = errors.New("auth: email domain is not allowed")
	ErrCooldown         = errors.New("auth: code was sent recently")
	ErrNoChallenge      = errors.New("auth: no code was issued")
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// CooldownError несёт оставшееся время, errors.Is(err, ErrCooldown) == true.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%v: retry in %s", ErrCooldown, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool { return target == ErrCooldown }

// State хранится в сессии.
type State struct {
	PendingEmail string    `json:"pending_email,omitempty"`
	ExpectedCode string    `json:"expected_code,omitempty"`
	LastSentAt   time.Time `json:"last_sent_at,omitempty"`
}

// Awaiting: код отправлен и ждём ввода.
func (s *State) Awaiting() bool { return s != nil && s.ExpectedCode != "" }

type CodeSender interface {
	SendCode(ctx context.Context, to, code string) error
}

type EmailWriter interface {
	SetEmail(ctx context.Context, telegramID int64, email string) error
}

type Challenge struct {
	domain   string
	sender   CodeSender
	users    EmailWriter
	cooldown *ratelimit.Cooldown
	log      *zap.SugaredLogger

	now      func() time.Time
	generate func() (string, error)
}

func NewChallenge(domain string, sender CodeSender, users EmailWriter, cooldown *ratelimit.Cooldown, log *zap.SugaredLogger) *Challenge {
	return &Challenge{
		domain:   strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@")),
		sender:   sender,
		users:    users,
		cooldown: cooldown,
		log:      log,
		now:      time.Now,
		generate: generateCode,
	}
}

// Domain: разрешённый домен, без @.
func (c *Challenge) Domain() string { return c.domain }

// Start проверяет формат и домен, возвращает нормализованный адрес.
func (c *Challenge) Start(email string) (string, error) {
	email = strings.TrimSpace(email)
	if !emailRe.MatchString(email) {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if !strings.EqualFold(email[at+1:], c.domain) {
		return "", ErrDomainNotAllowed
	}
	return strings.ToLower(email), nil
}

// Issue отправляет новый код. Стейт меняется только после успешной отправки.
func (c *Challenge) Issue(ctx context.Context, userID int64, st *State, email string) error {
	normalized, err := c.Start(email)
	if err != nil {
		return err
	}
	return c.send(ctx, userID, st, normalized)
}

// Resend: новый код на тот же адрес, старый перестаёт работать.
func (c *Challenge) Resend(ctx context.Context, userID int64, st *State) error {
	if st == nil || st.PendingEmail == "" {
		return ErrNoChallenge
	}
	return c.send(ctx, userID, st, st.PendingEmail)
}

// Verify сравнивает код. При успехе пишет email юзеру и очищает стейт.
func (c *Challenge) Verify(ctx context.Context, userID int64, st *State, entered string) (bool, error) {
	if !st.Awaiting() {
		return false, ErrNoChallenge
	}
	if strings.TrimSpace(entered) != st.ExpectedCode {
		return false, nil
	}
	if err := c.users.SetEmail(ctx, userID, st.PendingEmail); err != nil {
		return false, fmt.Errorf("save verified email: %w", err)
	}
	c.log.Infow("email verified", "user_id", userID, "email", st.PendingEmail)
	*st = State{}
	return true, nil
}

func (c *Challenge) send(ctx context.Context, userID int64, st *State, email string) error {
	if left := c.cooldown.Remaining(userID); left > 0 {
		return &CooldownError{Remaining: left}
	}
	code, err := c.generate()
	if err != nil {
		return err
	}
	if err := c.sender.SendCode(ctx, email, code); err != nil {
		return fmt.Errorf("send auth code: %w", err)
	}
	c.cooldown.Mark(userID)
	*st = State{PendingEmail: email, ExpectedCode: code, LastSentAt: c.now()}
	c.log.Infow("auth code sent", "user_id", userID, "email", email)
	return nil
}

// generateCode: 6 цифр, 100000..999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate auth code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
