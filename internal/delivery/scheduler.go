// Package delivery периодически отправляет обращения на почту поддержки.
package delivery

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goinginblind/support-ticket-bot/internal/events"
	"github.com/goinginblind/support-ticket-bot/internal/mailer"
	"github.com/goinginblind/support-ticket-bot/internal/model"
	"github.com/goinginblind/support-ticket-bot/internal/settings"
)

const (
	// MaxAttachmentsSize: больше почтовый сервер всё равно не примет.
	MaxAttachmentsSize int64 = 25 << 20
	DefaultInterval          = time.Minute
	batchSize                = 50
)

type TicketStore interface {
	ListPending(ctx context.Context, afterID uint, limit int) ([]model.Ticket, error)
	AttachmentSize(ctx context.Context, ticketID uint) (int64, error)
	Files(ctx context.Context, ticketID uint) ([]model.File, error)
	MarkSent(ctx context.Context, ticketID uint) (bool, error)
}

type Mailer interface {
	SendTicketNotification(ctx context.Context, to, subject, html, text string, attachments []mailer.Attachment) error
}

type EmailSource interface {
	Email() settings.EmailSettings
}

// Alerter: уведомление администраторов в телеге.
type Alerter interface {
	AlertAdmins(ctx context.Context, text string)
}

// Stats: итог одного прохода.
type Stats struct {
	Sent    int
	Failed  int
	Skipped int
}

type Scheduler struct {
	tickets TicketStore
	mail    Mailer
	email   EmailSource
	alert   Alerter
	events  events.Publisher
	log     *zap.SugaredLogger

	running sync.Mutex

	alertMu sync.Mutex
	alerted map[uint]bool
}

func NewScheduler(tickets TicketStore, mail Mailer, email EmailSource, alert Alerter, pub events.Publisher, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		tickets: tickets,
		mail:    mail,
		email:   email,
		alert:   alert,
		events:  pub,
		log:     log,
		alerted: make(map[uint]bool),
	}
}

func (s *Scheduler) Name() string { return "tickets" }

// RunOnce: один проход. Если предыдущий ещё идёт, возвращает false и ничего не делает.
func (s *Scheduler) RunOnce(ctx context.Context) (Stats, bool) {
	if !s.running.TryLock() {
		s.log.Debugw("delivery pass skipped, previous still running")
		return Stats{}, false
	}
	defer s.running.Unlock()

	var st Stats
	cfg := s.email.Email()
	if cfg.SupportEmail == "" {
		s.log.Warnw("support email is not configured, delivery pass skipped")
		return st, true
	}

	// все pending за проход, страницами по id
	var after uint
	for ctx.Err() == nil {
		pending, err := s.tickets.ListPending(ctx, after, batchSize)
		if err != nil {
			s.log.Errorw("list pending tickets", "after_id", after, "error", err)
			break
		}
		for i := range pending {
			if ctx.Err() != nil {
				break
			}
			switch s.deliver(ctx, cfg, &pending[i]) {
			case outcomeSent:
				st.Sent++
			case outcomeSkipped:
				st.Skipped++
			default:
				st.Failed++
			}
			after = pending[i].ID
		}
		if len(pending) < batchSize {
			break
		}
	}
	if st.Sent+st.Failed+st.Skipped > 0 {
		s.log.Infow("delivery pass done", "sent", st.Sent, "failed", st.Failed, "skipped", st.Skipped)
	}
	return st, true
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeSent
	outcomeSkipped
)

func (s *Scheduler) deliver(ctx context.Context, cfg settings.EmailSettings, t *model.Ticket) outcome {
	log := s.log.With("ticket_id", t.ID)

	size, err := s.tickets.AttachmentSize(ctx, t.ID)
	if err != nil {
		log.Errorw("sum attachments", "error", err)
		return outcomeFailed
	}
	if size > MaxAttachmentsSize {
		log.Warnw("ticket attachments too large for email, left pending", "size", size)
		s.alertOnce(ctx, t.ID, fmt.Sprintf(
			"Обращение #%d не отправлено на почту: вложения %.1f МБ больше лимита %d МБ. Обращение осталось в базе.",
			t.ID, float64(size)/(1<<20), MaxAttachmentsSize>>20))
		return outcomeSkipped
	}

	files, err := s.tickets.Files(ctx, t.ID)
	if err != nil {
		log.Errorw("load files", "error", err)
		return outcomeFailed
	}

	data := ticketData(t, files)
	msg, err := mailer.Render(cfg.TicketSubject, cfg.TicketTemplate, data)
	if err != nil {
		log.Warnw("ticket template broken, using default", "error", err)
		if msg, err = mailer.Render("", "", data); err != nil {
			log.Errorw("render default template", "error", err)
			return outcomeFailed
		}
	}

	atts := make([]mailer.Attachment, 0, len(files))
	for _, f := range files {
		atts = append(atts, mailer.Attachment{Name: f.Title, Data: f.Data})
	}
	if err := s.mail.SendTicketNotification(ctx, cfg.SupportEmail, msg.Subject, msg.HTML, msg.Text, atts); err != nil {
		log.Errorw("send ticket email", "error", err)
		return outcomeFailed
	}

	marked, err := s.tickets.MarkSent(ctx, t.ID)
	if err != nil {
		// письмо ушло, но отметка нет: на следующем проходе уйдёт дубль
		log.Errorw("mark ticket sent", "error", err)
		return outcomeFailed
	}
	if !marked {
		log.Warnw("ticket was already marked sent")
	}
	log.Infow("ticket delivered", "files", len(files))
	s.events.Publish(ctx, events.TicketDelivered, t.ID, map[string]any{"to": cfg.SupportEmail})
	return outcomeSent
}

// alertOnce: одно уведомление на тикет за время жизни процесса.
func (s *Scheduler) alertOnce(ctx context.Context, ticketID uint, text string) {
	s.alertMu.Lock()
	seen := s.alerted[ticketID]
	s.alerted[ticketID] = true
	s.alertMu.Unlock()
	if seen || s.alert == nil {
		return
	}
	s.alert.AlertAdmins(ctx, text)
}

func ticketData(t *model.Ticket, files []model.File) mailer.TicketData {
	d := mailer.TicketData{
		ID:             t.ID,
		Ref:            strconv.FormatUint(uint64(t.ID), 10),
		CreatedAt:      t.CreatedAt,
		Organization:   t.Organization,
		Branch:         t.Branch,
		Classification: t.Classification,
		Anonymous:      t.Anonymous,
		AuthorEmail:    t.AuthorEmail,
		Message:        t.Message,
	}
	if !t.Anonymous && t.User != nil {
		d.TelegramID = t.User.IDTelegram
		d.Username = t.User.Username
	}
	for _, f := range files {
		name := f.Title
		if f.Caption != "" {
			name += " (" + f.Caption + ")"
		}
		d.Files = append(d.Files, name)
	}
	return d
}
