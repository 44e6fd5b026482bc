package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/goinginblind/support-ticket-bot/internal/session"
	"github.com/goinginblind/support-ticket-bot/internal/ticket"
)

const (
	defaultDescriptionText = "Перед созданием обращения:\n\n" +
		"1. Выберите тип обращения: анонимное или с указанием почты.\n" +
		"2. Укажите организацию, филиал и классификацию.\n" +
		"3. Опишите проблему и при необходимости приложите файлы (до 10 штук).\n\n" +
		"Нажмите «Начать», чтобы продолжить."
	defaultTicketTypeText = "Выберите тип обращения.\n\n" +
		"Анонимное обращение не содержит ваших данных. " +
		"Для не анонимного потребуется подтвердить корпоративную почту."
)

// descriptionScene: правила перед началом. Рисует в том же сообщении, что и меню.
type descriptionScene struct{ b *Bot }

func (d *descriptionScene) ID() session.SceneID { return session.SceneDescription }

func (d *descriptionScene) Enter(_ context.Context, c *Context) error {
	return c.ShowPrompt(d.b.sceneText(session.SceneDescription, defaultDescriptionText), descriptionKeyboard)
}

func (d *descriptionScene) Handle(ctx context.Context, c *Context) error {
	switch c.Text {
	case cbStartTicket:
		return c.Transition(ctx, session.SceneTicketType)
	case cbCancel:
		return cancelWizard(ctx, c)
	}
	if c.IsCallback() {
		return d.Enter(ctx, c)
	}
	c.Say("Пожалуйста, используйте кнопки.")
	return nil
}

func (d *descriptionScene) Exit(*Context) {}

// ticketTypeScene: анонимно или с почтой.
type ticketTypeScene struct{ b *Bot }

func (t *ticketTypeScene) ID() session.SceneID { return session.SceneTicketType }

func (t *ticketTypeScene) Enter(_ context.Context, c *Context) error {
	return c.ShowPrompt(t.b.sceneText(session.SceneTicketType, defaultTicketTypeText), ticketTypeKeyboard)
}

func (t *ticketTypeScene) Handle(ctx context.Context, c *Context) error {
	sel := &c.Session.Selection
	switch c.Text {
	case cbAnonymous:
		sel.TicketType = ticket.TypeAnonymous
		sel.AuthorEmail = ""
		closePrompt(c, "Тип обращения: "+sel.TicketType.Label())
		return c.Transition(ctx, session.SceneOrganization)
	case cbNonAnonymous:
		sel.TicketType = ticket.TypeNonAnonymous
		closePrompt(c, "Тип обращения: "+sel.TicketType.Label())
		return c.Transition(ctx, session.SceneEmailAuth)
	case cbCancel:
		return cancelWizard(ctx, c)
	}
	if c.IsCallback() {
		return t.Enter(ctx, c)
	}
	c.Say("Пожалуйста, выберите тип обращения кнопками.")
	return nil
}

func (t *ticketTypeScene) Exit(*Context) {}

// cancelWizard: отмена с любого шага визарда, черновик и выбор теряются.
func cancelWizard(ctx context.Context, c *Context) error {
	if _, err := c.Reply("Заполнение обращения было отменено.", removeKeyboard); err != nil {
		return err
	}
	c.Session.Prompt = nil
	return c.Transition(ctx, session.SceneWelcome)
}

// closePrompt убирает инлайн-кнопки с прошлого сообщения и дописывает итог выбора.
func closePrompt(c *Context, note string) {
	p := c.Session.Prompt
	if p == nil {
		return
	}
	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	text := p.Text + "\n\n" + note
	var edit tgbotapi.Chattable
	if p.Photo {
		e := tgbotapi.NewEditMessageCaption(p.ChatID, p.MessageID, text)
		e.ReplyMarkup = &empty
		edit = e
	} else {
		edit = tgbotapi.NewEditMessageTextAndMarkup(p.ChatID, p.MessageID, text, empty)
	}
	if _, err := c.bot.tg.Request(edit); err != nil {
		c.bot.log.Debugw("close prompt failed", "user_id", c.Key.UserID, "error", err)
	}
	c.Session.Prompt = nil
}
