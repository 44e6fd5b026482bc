// Package session хранит состояние диалога на пару (чат, юзер).
package session

import (
	"fmt"

	"github.com/goinginblind/support-ticket-bot/internal/auth"
	"github.com/goinginblind/support-ticket-bot/internal/ticket"
)

// Key: сессия привязана к чату и юзеру.
type Key struct {
	ChatID int64
	UserID int64
}

func (k Key) String() string { return fmt.Sprintf("%d:%d", k.ChatID, k.UserID) }

type SceneID string

const (
	SceneWelcome        SceneID = "welcome"
	SceneDescription    SceneID = "description"
	SceneTicketType     SceneID = "ticketType"
	SceneEmailAuth      SceneID = "emailAuth"
	SceneOrganization   SceneID = "organization"
	SceneClassification SceneID = "classification"
	SceneReportIssue    SceneID = "reportIssue"
	SceneAdmin          SceneID = "admin"
)

// Phase: подшаг внутри сцены.
type Phase string

const (
	PhaseNone             Phase = ""
	PhaseAwaitEmail       Phase = "await_email"
	PhaseAwaitCode        Phase = "await_code"
	PhasePickOrganization Phase = "pick_organization"
	PhasePickBranch       Phase = "pick_branch"
)

// UserRef: кэш того, что нужно сценам из таблицы users.
type UserRef struct {
	ID     uint   `json:"id"`
	RoleID uint   `json:"role_id"`
	Email  string `json:"email,omitempty"`
}

// Prompt: последнее сообщение бота, которое можно отредактировать.
type Prompt struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int    `json:"message_id"`
	Text      string `json:"text"`
	Photo     bool   `json:"photo,omitempty"`
}

type Pagination struct {
	TicketIDs []uint `json:"ticket_ids"`
	Page      int    `json:"page"`
}

// Picker: шаг выбора филиала.
type Picker struct {
	OrganizationKey  string   `json:"organization_key"`
	OrganizationName string   `json:"organization_name"`
	Branches         []string `json:"branches"`
}

// Admin: подсостояние админки: какое действие ждёт ввода.
type Admin struct {
	Action string `json:"action,omitempty"`
	Target string `json:"target,omitempty"`
	Index  int    `json:"index,omitempty"`
}

type Session struct {
	Scene      SceneID          `json:"scene"`
	Phase      Phase            `json:"phase,omitempty"`
	User       *UserRef         `json:"user,omitempty"`
	Draft      *ticket.Draft    `json:"draft,omitempty"`
	Auth       *auth.State      `json:"auth,omitempty"`
	Selection  ticket.Selection `json:"selection"`
	Pagination *Pagination      `json:"pagination,omitempty"`
	Picker     *Picker          `json:"picker,omitempty"`
	Choices    []string         `json:"choices,omitempty"`
	Admin      *Admin           `json:"admin,omitempty"`
	Prompt     *Prompt          `json:"prompt,omitempty"`
}

// New: дефолтная сессия, юзер в главном меню.
func New() *Session {
	return &Session{Scene: SceneWelcome}
}

// Awaiting*: вместо проверок на nil по всему коду.
func (s *Session) AwaitingEmail() bool { return s.Scene == SceneEmailAuth && s.Phase == PhaseAwaitEmail }
func (s *Session) AwaitingCode() bool {
	return s.Scene == SceneEmailAuth && s.Phase == PhaseAwaitCode && s.Auth.Awaiting()
}
func (s *Session) PickingBranch() bool {
	return s.Scene == SceneOrganization && s.Phase == PhasePickBranch && s.Picker != nil
}

// ResetWizard очищает всё, что относится к незавершённому обращению.
func (s *Session) ResetWizard() {
	s.Phase = PhaseNone
	s.Draft = nil
	s.Auth = nil
	s.Selection = ticket.Selection{}
	s.Picker = nil
	s.Choices = nil
	s.Admin = nil
}
