package model

import "time"

// Роли пользователей, сидятся миграцией
const (
	RoleUser    uint = 1
	RoleManager uint = 2
	RoleAdmin   uint = 3
)

type Role struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Title string `gorm:"type:varchar(50);uniqueIndex;not null" json:"title"`
}

// User: пользователь телеграма. Email пишется только после подтверждения кода.
type User struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	IDTelegram     int64      `gorm:"column:id_telegram;uniqueIndex;not null" json:"id_telegram"`
	Username       string     `gorm:"type:varchar(255)" json:"username,omitempty"`
	FirstName      string     `gorm:"column:first_name;type:varchar(255)" json:"first_name,omitempty"`
	LastName       string     `gorm:"column:last_name;type:varchar(255)" json:"last_name,omitempty"`
	Email          *string    `gorm:"type:varchar(255)" json:"email,omitempty"`
	LinkChat       string     `gorm:"column:link_chat" json:"link_chat,omitempty"`
	RoleID         uint       `gorm:"not null;default:1" json:"role_id"`
	Role           *Role      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	IsBlocked      bool       `gorm:"not null;default:false" json:"is_blocked"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt *time.Time `gorm:"column:last_activity_at" json:"last_activity_at,omitempty"`
}

func (u *User) HasEmail() bool {
	return u.Email != nil && *u.Email != ""
}

// Ticket: сохранённое обращение. SentEmail меняется только false -> true.
type Ticket struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	User           *User     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Message        string    `gorm:"type:text;not null" json:"message"`
	Organization   string    `gorm:"type:varchar(255)" json:"organization"`
	Branch         string    `gorm:"type:varchar(255)" json:"branch"`
	Classification string    `gorm:"type:varchar(255);not null" json:"classification"`
	Anonymous      bool      `gorm:"not null;default:false" json:"anonymous"`
	AuthorEmail    string    `gorm:"type:varchar(255)" json:"author_email,omitempty"`
	SentEmail      bool      `gorm:"not null;default:false;index" json:"sent_email"`
	CreatedAt      time.Time `json:"created_at"`
	Files          []File    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"files,omitempty"`
}

// File: вложение обращения, байты хранятся прямо в строке.
type File struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"not null;index" json:"ticket_id"`
	Title     string    `gorm:"type:text;not null" json:"title"`
	Extension string    `gorm:"type:text;not null" json:"extension"`
	Size      int64     `gorm:"not null" json:"size"`
	Path      string    `gorm:"type:text;not null" json:"path"`
	Caption   string    `json:"caption,omitempty"`
	Data      []byte    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
