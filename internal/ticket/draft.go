package ticket

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxFiles           = 10
	MaxFileSize  int64 = 20 << 20
	MaxTotalSize int64 = 24 << 20
)

// MaxDescriptionRunes: длина описания в символах.
const MaxDescriptionRunes = 4000

var (
	ErrTooManyFiles       = errors.New("ticket: too many files")
	ErrFileTooLarge       = errors.New("ticket: file too large")
	ErrTotalTooLarge      = errors.New("ticket: attachments exceed total size")
	ErrUnsupportedType    = errors.New("ticket: unsupported document type")
	ErrDescriptionTooLong = errors.New("ticket: description too long")
	ErrEmptyDescription   = errors.New("ticket: description is empty")
)

// Kind: категория вложения в телеге.
type Kind string

const (
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindVideoNote Kind = "video_note"
	KindVoice     Kind = "voice"
	KindDocument  Kind = "document"
)

var allowedDocumentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

type Attachment struct {
	Name     string `json:"name"`
	Caption  string `json:"caption,omitempty"`
	Kind     Kind   `json:"kind"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size"`
	Data     []byte `json:"data,omitempty"`
}

// Draft: черновик обращения, живёт в сессии пока юзер в reportIssue.
type Draft struct {
	Description string       `json:"description"`
	Files       []Attachment `json:"files"`
	TotalSize   int64        `json:"total_size"`
}

func NewDraft() *Draft {
	return &Draft{Files: []Attachment{}}
}

// AppendDescription дописывает текст с новой строки.
func (d *Draft) AppendDescription(text string) error {
	next := text
	if d.Description != "" {
		next = d.Description + "\n" + text
	}
	if utf8.RuneCountInString(next) > MaxDescriptionRunes {
		return ErrDescriptionTooLong
	}
	d.Description = next
	return nil
}

// Check проверяет вложение по метаданным, до скачивания.
func (d *Draft) Check(kind Kind, mimeType string, size int64) error {
	if len(d.Files) >= MaxFiles {
		return ErrTooManyFiles
	}
	if kind == KindDocument && !allowedDocumentTypes[mimeType] {
		return ErrUnsupportedType
	}
	switch kind {
	case KindPhoto, KindVideo, KindVideoNote, KindVoice, KindDocument:
	default:
		return ErrUnsupportedType
	}
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	if d.TotalSize+size > MaxTotalSize {
		return ErrTotalTooLarge
	}
	return nil
}

// AddAttachment добавляет файл. При ошибке черновик не меняется.
func (d *Draft) AddAttachment(a Attachment) error {
	if n := int64(len(a.Data)); n > a.Size {
		a.Size = n
	}
	if err := d.Check(a.Kind, a.MimeType, a.Size); err != nil {
		return err
	}
	d.Files = append(d.Files, a)
	d.TotalSize += a.Size
	return nil
}

func (d *Draft) Remaining() int { return MaxFiles - len(d.Files) }

// Finalize собирает готовое обращение. Файлы получают имена "{n}_{name}".
func (d *Draft) Finalize(userID int64, sel Selection) (*Submission, error) {
	if strings.TrimSpace(d.Description) == "" {
		return nil, ErrEmptyDescription
	}
	sub := &Submission{
		UserID:      userID,
		Selection:   sel,
		Description: d.Description,
		Files:       make([]Attachment, len(d.Files)),
	}
	sub.Manifest = Manifest{
		User:           fmt.Sprint(userID),
		Type:           sel.TicketType,
		Company:        sel.OrganizationName,
		Filial:         sel.Branch,
		Classification: sel.Classification,
		Text:           d.Description,
		Files:          make([]ManifestFile, len(d.Files)),
	}
	for i, f := range d.Files {
		f.Name = fmt.Sprintf("%d_%s", i+1, f.Name)
		sub.Files[i] = f
		sub.Manifest.Files[i] = ManifestFile{Name: f.Name, Description: f.Caption}
	}
	return sub, nil
}
