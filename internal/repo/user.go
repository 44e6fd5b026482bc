package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/goinginblind/support-ticket-bot/internal/model"
)

var ErrNotFound = errors.New("repo: not found")

// Identity: то, что телега знает о юзере на момент апдейта.
type Identity struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// LinkChat: ссылка на чат, если есть username.
func (i Identity) LinkChat() string {
	if i.Username == "" {
		return ""
	}
	return "https://t.me/" + i.Username
}

// UserRepository: доступ к таблице users.
type UserRepository interface {
	// Touch создаёт юзера при первом контакте и обновляет профиль и last_activity_at.
	Touch(ctx context.Context, id Identity) (*model.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	SetEmail(ctx context.Context, telegramID int64, email string) error
	SetBlocked(ctx context.Context, telegramID int64, blocked bool) error
	SetRole(ctx context.Context, telegramID int64, roleID uint) error
	Search(ctx context.Context, query string, limit int) ([]model.User, error)
	Roles(ctx context.Context) ([]model.Role, error)
}

type userRepo struct {
	db  *gorm.DB
	now func() time.Time
}

// NewUserRepository создаёт реализацию на gorm.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepo{db: db, now: time.Now}
}

func (r *userRepo) Touch(ctx context.Context, id Identity) (*model.User, error) {
	return touchUser(r.db.WithContext(ctx), id, r.now())
}

// touchUser работает и внутри транзакции.
func touchUser(db *gorm.DB, id Identity, now time.Time) (*model.User, error) {
	var u model.User
	err := db.Where("id_telegram = ?", id.TelegramID).First(&u).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		u = model.User{
			IDTelegram:     id.TelegramID,
			Username:       id.Username,
			FirstName:      id.FirstName,
			LastName:       id.LastName,
			LinkChat:       id.LinkChat(),
			RoleID:         model.RoleUser,
			LastActivityAt: &now,
		}
		if err := db.Create(&u).Error; err != nil {
			// параллельный апдейт мог создать запись раньше нас
			if again := db.Where("id_telegram = ?", id.TelegramID).First(&u).Error; again == nil {
				return &u, nil
			}
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &u, nil
	case err != nil:
		return nil, fmt.Errorf("find user: %w", err)
	}

	updates := map[string]any{
		"username":         id.Username,
		"first_name":       id.FirstName,
		"last_name":        id.LastName,
		"link_chat":        id.LinkChat(),
		"last_activity_at": now,
	}
	if err := db.Model(&u).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("refresh user: %w", err)
	}
	u.Username, u.FirstName, u.LastName = id.Username, id.FirstName, id.LastName
	u.LinkChat = id.LinkChat()
	u.LastActivityAt = &now
	return &u, nil
}

func (r *userRepo) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).Preload("Role").Where("id_telegram = ?", telegramID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r *userRepo) SetEmail(ctx context.Context, telegramID int64, email string) error {
	return r.update(ctx, telegramID, map[string]any{"email": email})
}

func (r *userRepo) SetBlocked(ctx context.Context, telegramID int64, blocked bool) error {
	return r.update(ctx, telegramID, map[string]any{"is_blocked": blocked})
}

func (r *userRepo) SetRole(ctx context.Context, telegramID int64, roleID uint) error {
	if roleID < model.RoleUser || roleID > model.RoleAdmin {
		return fmt.Errorf("set role: unknown role %d", roleID)
	}
	return r.update(ctx, telegramID, map[string]any{"role_id": roleID})
}

func (r *userRepo) update(ctx context.Context, telegramID int64, updates map[string]any) error {
	updates["last_activity_at"] = r.now()
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id_telegram = ?", telegramID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Search ищет по username, имени, фамилии и telegram id.
func (r *userRepo) Search(ctx context.Context, query string, limit int) ([]model.User, error) {
	q := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	var users []model.User
	err := r.db.WithContext(ctx).
		Where("LOWER(username) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR CAST(id_telegram AS TEXT) LIKE ?", q, q, q, q).
		Order("id").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

func (r *userRepo) Roles(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := r.db.WithContext(ctx).Order("id").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}
