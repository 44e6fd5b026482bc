package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/goinginblind/support-ticket-bot/internal/model"
	"github.com/goinginblind/support-ticket-bot/internal/session"
)

// Scene: один шаг диалога.
// Exit чистит только те поля сессии, которыми сцена владеет.
type Scene interface {
	ID() session.SceneID
	Enter(ctx context.Context, c *Context) error
	Handle(ctx context.Context, c *Context) error
	Exit(c *Context)
}

// promptScenes рисуют инлайн-меню в одном и том же сообщении.
// При уходе в любую другую сцену Prompt сбрасывается.
var promptScenes = map[session.SceneID]bool{
	session.SceneWelcome:     true,
	session.SceneDescription: true,
	session.SceneTicketType:  true,
	session.SceneAdmin:       true,
}

// Context: один апдейт плюс сессия, которую он меняет.
// Все изменения в памяти, сохраняет их бот одним Save после обработки.
type Context struct {
	Key     session.Key
	Session *session.Session
	User    *model.User
	Update  tgbotapi.Update

	// Text: текст сообщения или data коллбэка
	Text    string
	Message *tgbotapi.Message

	bot *Bot
}

func (c *Context) IsCallback() bool { return c.Update.CallbackQuery != nil }

func (c *Context) ChatID() int64 { return c.Key.ChatID }

// Transition выходит из текущей сцены и входит в новую.
func (c *Context) Transition(ctx context.Context, to session.SceneID) error {
	return c.bot.transition(ctx, c, to)
}

// Reply шлёт новое сообщение. markup может быть nil.
func (c *Context) Reply(text string, markup any) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(c.ChatID(), text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	return c.bot.tg.Send(msg)
}

// Say: Reply, когда ответ не важен. Ошибку только логируем.
func (c *Context) Say(text string) {
	if _, err := c.Reply(text, nil); err != nil {
		c.bot.log.Warnw("send reply failed", "user_id", c.Key.UserID, "error", err)
	}
}

// ShowPrompt редактирует прошлое сообщение бота, если оно есть, иначе шлёт новое.
func (c *Context) ShowPrompt(text string, markup tgbotapi.InlineKeyboardMarkup) error {
	if p := c.Session.Prompt; p != nil && p.ChatID == c.ChatID() {
		var edit tgbotapi.Chattable
		if p.Photo {
			e := tgbotapi.NewEditMessageCaption(p.ChatID, p.MessageID, text)
			e.ReplyMarkup = &markup
			edit = e
		} else {
			edit = tgbotapi.NewEditMessageTextAndMarkup(p.ChatID, p.MessageID, text, markup)
		}
		_, err := c.bot.tg.Request(edit)
		if err == nil {
			p.Text = text
			return nil
		}
		// сообщение могли удалить или оно слишком старое, шлём новое
		c.bot.log.Debugw("edit prompt failed, sending new", "user_id", c.Key.UserID, "error", err)
	}
	sent, err := c.Reply(text, markup)
	if err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}
	c.Session.Prompt = &session.Prompt{ChatID: c.ChatID(), MessageID: sent.MessageID, Text: text}
	return nil
}

// transition: Exit старой, сброс фазы, Enter новой. Сохранение снаружи.
func (b *Bot) transition(ctx context.Context, c *Context, to session.SceneID) error {
	next, ok := b.scenes[to]
	if !ok {
		return fmt.Errorf("unknown scene %q", to)
	}
	s := c.Session
	if cur, ok := b.scenes[s.Scene]; ok {
		cur.Exit(c)
	}
	if !promptScenes[to] {
		s.Prompt = nil
	}
	b.log.Debugw("scene transition", "user_id", c.Key.UserID, "from", s.Scene, "to", to)
	s.Scene = to
	s.Phase = session.PhaseNone
	return next.Enter(ctx, c)
}

func (b *Bot) dispatchScene(ctx context.Context, c *Context) error {
	cur, ok := b.scenes[c.Session.Scene]
	if !ok {
		return fmt.Errorf("%w: unknown scene %q", session.ErrCorrupt, c.Session.Scene)
	}
	return cur.Handle(ctx, c)
}

func (b *Bot) register(scenes ...Scene) {
	for _, s := range scenes {
		b.scenes[s.ID()] = s
	}
}
