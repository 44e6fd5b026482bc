package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultPriority: приоритет, если в конфиге он не указан.
const DefaultPriority = 10

var (
	ErrNotFound        = errors.New("settings: not found")
	ErrEmptyName       = errors.New("settings: name must be a non-empty string")
	ErrInvalidPriority = errors.New("settings: priority must be a number from 0 to 10")
	ErrInvalidPort     = errors.New("settings: port must be a number from 1 to 65535")
	ErrExists          = errors.New("settings: already exists")
)

// Document: содержимое config.json.
type Document struct {
	Organizations   map[string]*Organization   `json:"organizations,omitempty"`
	Classifications map[string]*Classification `json:"classifications,omitempty"`
	Controllers     map[string]*SceneText      `json:"controllers,omitempty"`
	Administrators  []int64                    `json:"administrators"`
	General         General                    `json:"general"`
}

type Organization struct {
	Name     string   `json:"name"`
	Branches []Branch `json:"branches"`
	Priority *int     `json:"priority,omitempty"`
	Hidden   bool     `json:"hidden"`
}

func (o *Organization) EffectivePriority() int { return effective(o.Priority) }

// Branch в старых конфигах записан просто строкой.
type Branch struct {
	Name     string `json:"name"`
	Priority *int   `json:"priority,omitempty"`
}

func (b *Branch) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		b.Name = name
		b.Priority = nil
		return nil
	}
	type plain Branch
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("branch: %w", err)
	}
	*b = Branch(p)
	return nil
}

func (b Branch) EffectivePriority() int { return effective(b.Priority) }

type Classification struct {
	Name     string `json:"name"`
	Priority *int   `json:"priority,omitempty"`
}

func (c *Classification) EffectivePriority() int { return effective(c.Priority) }

type SceneText struct {
	Text  string      `json:"text"`
	Image *SceneImage `json:"image,omitempty"`
}

type SceneImage struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type General struct {
	Email EmailSettings `json:"email"`
}

type EmailSettings struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	User               string `json:"user"`
	Password           string `json:"password"`
	Secure             bool   `json:"secure"`
	RejectUnauthorized *bool  `json:"rejectUnauthorized,omitempty"`
	SupportEmail       string `json:"support_email"`
	TicketSubject      string `json:"ticket_subject"`
	TicketTemplate     string `json:"ticket_template"`
}

// VerifyTLS: по умолчанию сертификат проверяется.
func (e EmailSettings) VerifyTLS() bool {
	return e.RejectUnauthorized == nil || *e.RejectUnauthorized
}

func (e EmailSettings) EffectivePort() int {
	if e.Port == 0 {
		return 587
	}
	return e.Port
}

// ParsePriority разбирает ввод админа.
func ParsePriority(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 0 || p > 10 {
		return 0, ErrInvalidPriority
	}
	return p, nil
}

// ParsePort разбирает порт smtp.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > 65535 {
		return 0, ErrInvalidPort
	}
	return p, nil
}

func effective(p *int) int {
	if p == nil {
		return DefaultPriority
	}
	return *p
}

func intPtr(v int) *int { return &v }
