package bot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/goinginblind/support-ticket-bot/internal/session"
)

const (
	ticketsPerPage = 10
	previewRunes   = 100

	defaultWelcomeText = "Здравствуйте! Я помогу отправить обращение в службу поддержки. Чем могу помочь?"
)

// welcomeScene: главное меню и список своих обращений.
// Владеет Pagination, при входе чистит всё, что осталось от визарда.
type welcomeScene struct{ b *Bot }

func (w *welcomeScene) ID() session.SceneID { return session.SceneWelcome }

func (w *welcomeScene) Enter(ctx context.Context, c *Context) error {
	c.Session.ResetWizard()
	c.Session.Pagination = nil
	return w.sendMenu(c)
}

func (w *welcomeScene) Exit(c *Context) {
	c.Session.Pagination = nil
}

func (w *welcomeScene) Handle(ctx context.Context, c *Context) error {
	switch c.Text {
	case cbCreateTicket:
		return c.Transition(ctx, session.SceneDescription)
	case cbMyTickets:
		return w.openTickets(ctx, c)
	case cbTicketsPrev, cbTicketsNext:
		if c.Session.Pagination == nil {
			return w.openTickets(ctx, c)
		}
		if c.Text == cbTicketsPrev {
			c.Session.Pagination.Page--
		} else {
			c.Session.Pagination.Page++
		}
		return w.renderTickets(ctx, c)
	case cbBackToWelcome:
		c.Session.Pagination = nil
		text, _ := w.b.welcomeContent()
		return c.ShowPrompt(text, w.keyboard(c))
	case cbManagerAdmin:
		if !w.b.canManage(c) {
			c.Say("Недостаточно прав.")
			return nil
		}
		return c.Transition(ctx, session.SceneAdmin)
	}

	if c.IsCallback() {
		// кнопка со старого сообщения, просто рисуем меню заново
		return w.sendMenu(c)
	}
	c.Say("Пожалуйста, используйте кнопки меню.")
	return nil
}

func (w *welcomeScene) keyboard(c *Context) tgbotapi.InlineKeyboardMarkup {
	if w.b.canManage(c) {
		return managerWelcomeKeyboard
	}
	return welcomeKeyboard
}

// sendMenu всегда шлёт новое сообщение, с картинкой если она включена.
func (w *welcomeScene) sendMenu(c *Context) error {
	text, image := w.b.welcomeContent()
	kb := w.keyboard(c)

	if image != "" {
		photo := tgbotapi.NewPhoto(c.ChatID(), photoFile(image))
		photo.Caption = text
		photo.ReplyMarkup = kb
		sent, err := w.b.tg.Send(photo)
		if err == nil {
			c.Session.Prompt = &session.Prompt{ChatID: c.ChatID(), MessageID: sent.MessageID, Text: text, Photo: true}
			return nil
		}
		w.b.log.Warnw("send welcome image failed, falling back to text", "image", image, "error", err)
	}

	sent, err := c.Reply(text, kb)
	if err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}
	c.Session.Prompt = &session.Prompt{ChatID: c.ChatID(), MessageID: sent.MessageID, Text: text}
	return nil
}

func (w *welcomeScene) openTickets(ctx context.Context, c *Context) error {
	ids, err := w.b.tickets.IDsByUser(ctx, c.Key.UserID)
	if err != nil {
		return fmt.Errorf("list user tickets: %w", err)
	}
	c.Session.Pagination = &session.Pagination{TicketIDs: ids}
	if p := c.Session.Prompt; p != nil && p.Photo {
		// в подпись к фото список не влезет
		c.Session.Prompt = nil
	}
	return w.renderTickets(ctx, c)
}

func (w *welcomeScene) renderTickets(ctx context.Context, c *Context) error {
	p := c.Session.Pagination
	back := tgbotapi.NewInlineKeyboardRow(button("В меню", cbBackToWelcome))
	if len(p.TicketIDs) == 0 {
		return c.ShowPrompt("У вас пока нет обращений", tgbotapi.NewInlineKeyboardMarkup(back))
	}

	pages := (len(p.TicketIDs) + ticketsPerPage - 1) / ticketsPerPage
	p.Page = max(0, min(p.Page, pages-1))
	start := p.Page * ticketsPerPage
	end := min(start+ticketsPerPage, len(p.TicketIDs))

	tickets, err := w.b.tickets.Summaries(ctx, p.TicketIDs[start:end])
	if err != nil {
		return fmt.Errorf("load ticket page: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Ваши обращения (страница %d из %d):\n", p.Page+1, pages)
	for _, t := range tickets {
		fmt.Fprintf(&sb, "\n#%d | %s\n%s\n", t.ID, t.CreatedAt.Format("02.01.2006 15:04"), preview(t.Message))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if p.Page > 0 {
		nav = append(nav, button("⬅️ Назад", cbTicketsPrev))
	}
	if p.Page < pages-1 {
		nav = append(nav, button("Вперед ➡️", cbTicketsNext))
	}
	rows := [][]tgbotapi.InlineKeyboardButton{}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, back)
	return c.ShowPrompt(sb.String(), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

// preview обрезает текст обращения до previewRunes символов.
func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	r := []rune(text)
	return string(r[:previewRunes-3]) + "..."
}

// welcomeContent: текст и картинка (путь или file_id) из конфига.
func (b *Bot) welcomeContent() (string, string) {
	st, _ := b.settings.SceneText(string(session.SceneWelcome))
	text := strings.TrimSpace(st.Text)
	if text == "" {
		text = defaultWelcomeText
	}
	var image string
	if st.Image != nil && st.Image.Enabled {
		image = st.Image.Path
	}
	return text, image
}

// sceneText: текст сцены из конфига или дефолт.
func (b *Bot) sceneText(id session.SceneID, fallback string) string {
	st, _ := b.settings.SceneText(string(id))
	if t := strings.TrimSpace(st.Text); t != "" {
		return t
	}
	return fallback
}

// photoFile: локальный файл, если он есть, иначе считаем что это file_id телеги.
func photoFile(ref string) tgbotapi.RequestFileData {
	if _, err := os.Stat(ref); err == nil {
		return tgbotapi.FilePath(ref)
	}
	return tgbotapi.FileID(ref)
}
