package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/goinginblind/support-ticket-bot/internal/events"
	"github.com/goinginblind/support-ticket-bot/internal/repo"
	"github.com/goinginblind/support-ticket-bot/internal/session"
	"github.com/goinginblind/support-ticket-bot/internal/ticket"
)

var errIncompleteSelection = errors.New("bot: ticket selection is incomplete")

const defaultReportText = "Опишите проблему. Можно отправить несколько сообщений, " +
	"а также приложить до 10 файлов: фото, видео, голосовые, PDF или документы Word.\n\n" +
	"Когда закончите, нажмите «Готово»."

// reportIssueScene: описание и файлы. Владеет Draft.
type reportIssueScene struct{ b *Bot }

func (r *reportIssueScene) ID() session.SceneID { return session.SceneReportIssue }

func (r *reportIssueScene) Enter(_ context.Context, c *Context) error {
	c.Session.Draft = ticket.NewDraft()
	_, err := c.Reply(r.b.sceneText(session.SceneReportIssue, defaultReportText), reportKeyboard)
	return err
}

func (r *reportIssueScene) Exit(c *Context) {
	c.Session.Draft = nil
}

func (r *reportIssueScene) Handle(ctx context.Context, c *Context) error {
	if c.Session.Draft == nil {
		c.Session.Draft = ticket.NewDraft()
	}
	switch c.Text {
	case btnBack:
		if _, err := c.Reply("Вы вернулись к выбору классификации.", removeKeyboard); err != nil {
			return err
		}
		return c.Transition(ctx, session.SceneClassification)
	case btnCancel:
		return cancelWizard(ctx, c)
	case btnDone:
		return r.submit(ctx, c)
	}

	if c.IsCallback() {
		return nil
	}
	if f, ok := incomingAttachment(c.Message); ok {
		return r.addFile(ctx, c, f)
	}
	if strings.TrimSpace(c.Text) == "" {
		c.Say("Отправьте описание текстом или приложите файл.")
		return nil
	}

	if err := c.Session.Draft.AppendDescription(c.Text); err != nil {
		if errors.Is(err, ticket.ErrDescriptionTooLong) {
			c.Say(fmt.Sprintf("Описание слишком длинное, максимум %d символов. Этот текст не добавлен.", ticket.MaxDescriptionRunes))
			return nil
		}
		return err
	}
	c.Say("Описание добавлено. Если хотите прикрепить файлы или завершить, используйте кнопки.")
	return nil
}

func (r *reportIssueScene) submit(ctx context.Context, c *Context) error {
	sel := c.Session.Selection
	if sel.TicketType == "" || sel.OrganizationName == "" || sel.Branch == "" || sel.Classification == "" {
		return errIncompleteSelection
	}

	sub, err := c.Session.Draft.Finalize(c.Key.UserID, sel)
	if errors.Is(err, ticket.ErrEmptyDescription) {
		c.Say("Пожалуйста, опишите проблему перед завершением.")
		return nil
	}
	if err != nil {
		return err
	}

	from := sender(c.Update)
	id, err := r.b.tickets.Submit(ctx, repo.Identity{
		TelegramID: from.ID,
		Username:   from.UserName,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
	}, sub)
	if err != nil {
		// транзакция откатилась, черновик остаётся в сессии
		r.b.log.Errorw("submit ticket failed", "user_id", c.Key.UserID, "files", len(sub.Files), "error", err)
		c.Say("Не удалось сохранить обращение. Описание и файлы сохранены, нажмите «Готово» ещё раз чуть позже.")
		return nil
	}
	r.b.log.Infow("ticket created", "ticket_id", id, "user_id", c.Key.UserID, "files", len(sub.Files))

	if _, err := c.Reply(fmt.Sprintf("Ваше обращение #%d успешно создано! Вы вернетесь в главное меню.", id), removeKeyboard); err != nil {
		// тикет уже в базе, меню всё равно показываем
		r.b.log.Warnw("send ticket confirmation failed", "ticket_id", id, "error", err)
	}
	r.b.events.Publish(ctx, events.TicketCreated, id, map[string]any{
		"user_id":        c.Key.UserID,
		"organization":   sel.OrganizationName,
		"branch":         sel.Branch,
		"classification": sel.Classification,
		"anonymous":      sel.TicketType.Anonymous(),
		"files":          len(sub.Files),
	})
	return c.Transition(ctx, session.SceneWelcome)
}

// incomingFile: метаданные вложения до скачивания.
type incomingFile struct {
	fileID  string
	name    string
	mime    string
	size    int64
	kind    ticket.Kind
	caption string
}

func incomingAttachment(m *tgbotapi.Message) (incomingFile, bool) {
	if m == nil {
		return incomingFile{}, false
	}
	f := incomingFile{caption: strings.TrimSpace(m.Caption)}
	switch {
	case len(m.Photo) > 0:
		// последний размер самый большой
		p := m.Photo[len(m.Photo)-1]
		f.fileID, f.kind, f.mime, f.size = p.FileID, ticket.KindPhoto, "image/jpeg", int64(p.FileSize)
		f.name = p.FileID + ".jpg"
	case m.Video != nil:
		v := m.Video
		f.fileID, f.kind, f.mime, f.size = v.FileID, ticket.KindVideo, v.MimeType, int64(v.FileSize)
		f.name = v.FileName
		if f.name == "" {
			f.name = v.FileID + "." + mimeSubtype(v.MimeType, "mp4")
		}
	case m.VideoNote != nil:
		v := m.VideoNote
		f.fileID, f.kind, f.mime, f.size = v.FileID, ticket.KindVideoNote, "video/mp4", int64(v.FileSize)
		f.name = v.FileID + ".mp4"
	case m.Voice != nil:
		v := m.Voice
		f.fileID, f.kind, f.mime, f.size = v.FileID, ticket.KindVoice, v.MimeType, int64(v.FileSize)
		f.name = v.FileID + ".ogg"
	case m.Document != nil:
		d := m.Document
		f.fileID, f.kind, f.mime, f.size = d.FileID, ticket.KindDocument, d.MimeType, int64(d.FileSize)
		f.name = d.FileName
		if f.name == "" {
			f.name = d.FileID
		}
	default:
		return incomingFile{}, false
	}
	return f, true
}

func mimeSubtype(mime, fallback string) string {
	if i := strings.IndexByte(mime, '/'); i >= 0 && i < len(mime)-1 {
		return mime[i+1:]
	}
	return fallback
}

func (r *reportIssueScene) addFile(ctx context.Context, c *Context, f incomingFile) error {
	draft := c.Session.Draft
	if err := draft.Check(f.kind, f.mime, f.size); err != nil {
		c.Say(attachmentErrorText(err))
		return nil
	}

	url, err := r.b.tg.GetFileDirectURL(f.fileID)
	if err != nil {
		r.b.log.Warnw("get file url failed", "user_id", c.Key.UserID, "file_id", f.fileID, "error", err)
		c.Say("Не удалось загрузить файл. Попробуйте отправить его ещё раз.")
		return nil
	}
	data, err := r.b.download.Download(ctx, url, ticket.MaxFileSize)
	if errors.Is(err, errFileOverLimit) {
		c.Say(attachmentErrorText(ticket.ErrFileTooLarge))
		return nil
	}
	if err != nil {
		r.b.log.Warnw("download file failed", "user_id", c.Key.UserID, "file_id", f.fileID, "error", err)
		c.Say("Не удалось загрузить файл. Попробуйте отправить его ещё раз.")
		return nil
	}

	err = draft.AddAttachment(ticket.Attachment{
		Name:     f.name,
		Caption:  f.caption,
		Kind:     f.kind,
		MimeType: f.mime,
		Size:     f.size,
		Data:     data,
	})
	if err != nil {
		c.Say(attachmentErrorText(err))
		return nil
	}

	msg := fmt.Sprintf("Файл %s добавлен", f.name)
	if f.caption != "" {
		msg += " с описанием: " + f.caption
	}
	c.Say(fmt.Sprintf("%s. Осталось %d из %d файлов.", msg, draft.Remaining(), ticket.MaxFiles))
	return nil
}

func attachmentErrorText(err error) string {
	switch {
	case errors.Is(err, ticket.ErrTooManyFiles):
		return fmt.Sprintf("Вы уже загрузили максимальное количество файлов (%d). Отправьте \"Готово\" для завершения.", ticket.MaxFiles)
	case errors.Is(err, ticket.ErrUnsupportedType):
		return "Этот тип файла не поддерживается. Разрешены только PDF и документы Word."
	case errors.Is(err, ticket.ErrFileTooLarge):
		return "Файл слишком большой. Максимальный размер файла 20 МБ."
	case errors.Is(err, ticket.ErrTotalTooLarge):
		return "Общий размер файлов не может превышать 24 МБ. Этот файл не добавлен."
	}
	return "Не удалось добавить файл."
}
