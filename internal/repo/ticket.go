package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/goinginblind/support-ticket-bot/internal/model"
	"github.com/goinginblind/support-ticket-bot/internal/ticket"
)

// TicketRepository: обращения и их файлы.
type TicketRepository interface {
	// Submit в одной транзакции находит/создаёт юзера, пишет тикет и файлы.
	Submit(ctx context.Context, id Identity, sub *ticket.Submission) (uint, error)
	// ListPending: ещё не отправленные на почту с id > afterID, по возрастанию id.
	ListPending(ctx context.Context, afterID uint, limit int) ([]model.Ticket, error)
	AttachmentSize(ctx context.Context, ticketID uint) (int64, error)
	Files(ctx context.Context, ticketID uint) ([]model.File, error)
	// MarkSent переводит false -> true. false в ответе = уже было отмечено.
	MarkSent(ctx context.Context, ticketID uint) (bool, error)
	IDsByUser(ctx context.Context, telegramID int64) ([]uint, error)
	Summaries(ctx context.Context, ids []uint) ([]model.Ticket, error)
	All(ctx context.Context) ([]model.Ticket, error)
}

type ticketRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTicketRepository(db *gorm.DB) TicketRepository {
	return &ticketRepo{db: db, now: time.Now}
}

func (r *ticketRepo) Submit(ctx context.Context, id Identity, sub *ticket.Submission) (uint, error) {
	var ticketID uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()
		user, err := touchUser(tx, id, now)
		if err != nil {
			return err
		}

		t := model.Ticket{
			UserID:         user.ID,
			Message:        sub.Description,
			Organization:   sub.Selection.OrganizationName,
			Branch:         sub.Selection.Branch,
			Classification: sub.Selection.Classification,
			Anonymous:      sub.Selection.TicketType.Anonymous(),
			CreatedAt:      now,
		}
		if !t.Anonymous {
			t.AuthorEmail = sub.Selection.AuthorEmail
		}
		if err := tx.Omit("Files", "User").Create(&t).Error; err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}

		if len(sub.Files) > 0 {
			files := make([]model.File, 0, len(sub.Files))
			for _, a := range sub.Files {
				files = append(files, model.File{
					TicketID:  t.ID,
					Title:     a.Name,
					Extension: ticket.Extension(a.Name),
					Size:      a.Size,
					Path:      fmt.Sprintf("tickets/%d/%s", t.ID, a.Name),
					Caption:   a.Caption,
					Data:      a.Data,
					CreatedAt: now,
				})
			}
			if err := tx.Create(&files).Error; err != nil {
				return fmt.Errorf("insert files: %w", err)
			}
		}
		ticketID = t.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("submit ticket: %w", err)
	}
	return ticketID, nil
}

func (r *ticketRepo) ListPending(ctx context.Context, afterID uint, limit int) ([]model.Ticket, error) {
	var ts []model.Ticket
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("sent_email = ? AND id > ?", false, afterID).
		Order("id").
		Limit(limit).
		Find(&ts).Error
	if err != nil {
		return nil, fmt.Errorf("list pending tickets: %w", err)
	}
	return ts, nil
}

func (r *ticketRepo) AttachmentSize(ctx context.Context, ticketID uint) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.File{}).
		Where("ticket_id = ?", ticketID).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum attachment size: %w", err)
	}
	return total, nil
}

func (r *ticketRepo) Files(ctx context.Context, ticketID uint) ([]model.File, error) {
	var files []model.File
	if err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("id").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (r *ticketRepo) MarkSent(ctx context.Context, ticketID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Ticket{}).
		Where("id = ? AND sent_email = ?", ticketID, false).
		Update("sent_email", true)
	if res.Error != nil {
		return false, fmt.Errorf("mark ticket sent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// IDsByUser: новые сверху.
func (r *ticketRepo) IDsByUser(ctx context.Context, telegramID int64) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&model.Ticket{}).
		Joins("JOIN users ON users.id = tickets.user_id").
		Where("users.id_telegram = ?", telegramID).
		Order("tickets.created_at DESC, tickets.id DESC").
		Pluck("tickets.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list user tickets: %w", err)
	}
	return ids, nil
}

// Summaries возвращает тикеты в порядке ids.
func (r *ticketRepo) Summaries(ctx context.Context, ids []uint) ([]model.Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var ts []model.Ticket
	err := r.db.WithContext(ctx).
		Select("id", "message", "created_at", "sent_email").
		Where("id IN ?", ids).
		Find(&ts).Error
	if err != nil {
		return nil, fmt.Errorf("load ticket summaries: %w", err)
	}
	byID := make(map[uint]model.Ticket, len(ts))
	for _, t := range ts {
		byID[t.ID] = t
	}
	out := make([]model.Ticket, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *ticketRepo) All(ctx context.Context) ([]model.Ticket, error) {
	var ts []model.Ticket
	if err := r.db.WithContext(ctx).Preload("User").Order("id DESC").Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return ts, nil
}

// IsNotFound: хелпер для хендлеров.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
