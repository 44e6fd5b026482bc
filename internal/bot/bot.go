package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/goinginblind/support-ticket-bot/internal/auth"
	"github.com/goinginblind/support-ticket-bot/internal/delivery"
	"github.com/goinginblind/support-ticket-bot/internal/events"
	"github.com/goinginblind/support-ticket-bot/internal/mailer"
	"github.com/goinginblind/support-ticket-bot/internal/model"
	"github.com/goinginblind/support-ticket-bot/internal/ratelimit"
	"github.com/goinginblind/support-ticket-bot/internal/repo"
	"github.com/goinginblind/support-ticket-bot/internal/session"
	"github.com/goinginblind/support-ticket-bot/internal/settings"
)

// Спам-гард: не больше 5 сообщений за 10 секунд
const (
	SpamLimit  = 5
	SpamWindow = 10 * time.Second
)

var errFileOverLimit = errors.New("bot: file is over the size limit")

// DeliveryTrigger: ручной запуск отправки из админки.
type DeliveryTrigger interface {
	RunOnce(ctx context.Context) (delivery.Stats, bool)
}

// Deps: всё, что бот получает снаружи. Собирается в main.
type Deps struct {
	Users      repo.UserRepository
	Tickets    repo.TicketRepository
	Sessions   session.Store
	Settings   *settings.Store
	Auth       *auth.Challenge
	Spam       *ratelimit.SpamGuard
	Mailer     *mailer.Mailer
	Events     events.Publisher
	Downloader Downloader
}

// Bot == приемник апдейтов, сцены == раздатчики.
type Bot struct {
	api *tgbotapi.BotAPI // только для long polling
	tg  Messenger

	users    repo.UserRepository
	tickets  repo.TicketRepository
	sessions session.Store
	settings *settings.Store
	auth     *auth.Challenge
	spam     *ratelimit.SpamGuard
	mail     *mailer.Mailer
	events   events.Publisher
	download Downloader
	delivery DeliveryTrigger
	log      *zap.SugaredLogger

	scenes map[session.SceneID]Scene
	disp   *dispatcher
	now    func() time.Time
}

// NewAPI создаёт клиента телеги, через прокси если он задан.
// http.Client возвращается, чтобы качать файлы тем же путём.
func NewAPI(token, proxyURL string) (*tgbotapi.BotAPI, *http.Client, error) {
	client := &http.Client{Timeout: 90 * time.Second}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse proxy url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, nil, fmt.Errorf("telegram api: %w", err)
	}
	return api, client, nil
}

// New собирает бота поверх настоящего апи.
func New(api *tgbotapi.BotAPI, deps Deps, log *zap.SugaredLogger) *Bot {
	b := newBot(api, deps, log)
	b.api = api
	return b
}

func newBot(tg Messenger, deps Deps, log *zap.SugaredLogger) *Bot {
	b := &Bot{
		tg:       tg,
		users:    deps.Users,
		tickets:  deps.Tickets,
		sessions: deps.Sessions,
		settings: deps.Settings,
		auth:     deps.Auth,
		spam:     deps.Spam,
		mail:     deps.Mailer,
		events:   deps.Events,
		download: deps.Downloader,
		log:      log,
		scenes:   make(map[session.SceneID]Scene),
		now:      time.Now,
	}
	if b.spam == nil {
		b.spam = ratelimit.NewSpamGuard(SpamLimit, SpamWindow, time.Now)
	}
	if b.events == nil {
		b.events = events.NewProducer(nil, "", log)
	}
	if b.download == nil {
		b.download = NewHTTPDownloader(nil)
	}
	b.register(
		&welcomeScene{b},
		&descriptionScene{b},
		&ticketTypeScene{b},
		&emailAuthScene{b},
		&organizationScene{b},
		&classificationScene{b},
		&reportIssueScene{b},
		newAdminScene(b),
	)
	b.disp = newDispatcher(b.handleUpdate, HandlerTimeout, log)
	return b
}

// AttachDelivery: шедулер создаётся после бота, он же шлёт алерты через бота.
func (b *Bot) AttachDelivery(t DeliveryTrigger) { b.delivery = t }

// Start крутит long polling до отмены ctx.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.log.Infow("authorized, starting update loop", "account", b.api.Self.UserName)
	return b.Serve(ctx, updates)
}

// Serve: основной луп: раскидывает апдейты по воркерам сессий.
// После отмены ctx дожидается уже начатых обработок.
func (b *Bot) Serve(ctx context.Context, updates <-chan tgbotapi.Update) error {
	// начатая обработка доживает до конца, её ограничивает HandlerTimeout
	workCtx := context.WithoutCancel(ctx)
	defer b.disp.Wait()
	for {
		select {
		case <-ctx.Done():
			b.log.Infow("update loop stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			key, ok := updateKey(upd)
			if !ok {
				continue
			}
			b.disp.Dispatch(workCtx, key, upd)
		}
	}
}

// AlertAdmins пишет всем администраторам из конфига.
func (b *Bot) AlertAdmins(_ context.Context, text string) {
	for _, id := range b.settings.Administrators() {
		if _, err := b.tg.Send(tgbotapi.NewMessage(id, text)); err != nil {
			b.log.Warnw("alert admin failed", "admin_id", id, "error", err)
		}
	}
}

// updateKey: чат и юзер апдейта. Всё, что не сообщение и не коллбэк, пропускаем.
func updateKey(upd tgbotapi.Update) (session.Key, bool) {
	switch {
	case upd.CallbackQuery != nil:
		cb := upd.CallbackQuery
		if cb.Message == nil || cb.From == nil {
			return session.Key{}, false
		}
		return session.Key{ChatID: cb.Message.Chat.ID, UserID: cb.From.ID}, true
	case upd.Message != nil:
		if upd.Message.From == nil || upd.Message.Chat == nil {
			return session.Key{}, false
		}
		return session.Key{ChatID: upd.Message.Chat.ID, UserID: upd.Message.From.ID}, true
	}
	return session.Key{}, false
}

func sender(upd tgbotapi.Update) *tgbotapi.User {
	if upd.CallbackQuery != nil {
		return upd.CallbackQuery.From
	}
	return upd.Message.From
}

// handleUpdate: спам-гард -> юзер -> история -> сессия -> сцена -> один Save.
func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	key, ok := updateKey(upd)
	if !ok {
		return
	}
	from := sender(upd)

	c := &Context{Key: key, Update: upd, bot: b}
	if cb := upd.CallbackQuery; cb != nil {
		// Ответ, он нужен чтобы кнопка не переливалась (состояние загрузки)
		if _, err := b.tg.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			b.log.Debugw("answer callback failed", "user_id", key.UserID, "error", err)
		}
		c.Text = cb.Data
	} else {
		c.Message = upd.Message
		c.Text = upd.Message.Text
	}

	// /start и /menu спам-гард не режет
	if !isResetCommand(c.Message) && !b.spam.Allow(key.UserID) {
		c.Say("Пожалуйста, не отправляйте сообщения так часто.")
		return
	}

	user, err := b.users.Touch(ctx, repo.Identity{
		TelegramID: from.ID,
		Username:   from.UserName,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
	})
	if err != nil {
		b.log.Errorw("touch user failed", "user_id", key.UserID, "error", err)
		c.Say("Произошла ошибка. Попробуйте позже.")
		return
	}
	if user.IsBlocked {
		c.Say("Ваш аккаунт заблокирован. Обратитесь к администратору.")
		return
	}
	c.User = user

	// Каждое текстовое соо логируется
	if c.Message != nil && c.Message.Text != "" {
		if err := b.sessions.AppendHistory(ctx, key.UserID, c.Message.Text); err != nil {
			b.log.Warnw("append history failed", "user_id", key.UserID, "error", err)
		}
	}

	s, err := b.sessions.Load(ctx, key)
	switch {
	case errors.Is(err, session.ErrCorrupt):
		b.log.Warnw("dropping corrupt session", "session", key.String(), "error", err)
		if err := b.sessions.Delete(ctx, key); err != nil {
			b.log.Warnw("delete corrupt session failed", "session", key.String(), "error", err)
		}
		s = nil
	case err != nil:
		b.log.Errorw("load session failed", "session", key.String(), "error", err)
		c.Say("Произошла ошибка. Попробуйте позже.")
		return
	}
	fresh := s == nil
	if fresh {
		s = session.New()
	}
	c.Session = s
	c.refreshUser()

	if err := b.processGuarded(ctx, c, fresh); err != nil {
		b.log.Errorw("update handling failed", "user_id", key.UserID, "scene", c.Session.Scene, "error", err)
		b.resetAfterError(ctx, c)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.sessions.Save(saveCtx, key, c.Session); err != nil {
		b.log.Errorw("save session failed", "session", key.String(), "error", err)
	}
}

// processGuarded превращает панику сцены в обычную ошибку, дальше как с любой ошибкой.
func (b *Bot) processGuarded(ctx context.Context, c *Context, fresh bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scene %q: %v\n%s", c.Session.Scene, r, debug.Stack())
		}
	}()
	return b.process(ctx, c, fresh)
}

func isResetCommand(m *tgbotapi.Message) bool {
	if m == nil || !m.IsCommand() {
		return false
	}
	switch m.Command() {
	case "start", "menu":
		return true
	}
	return false
}

func (b *Bot) process(ctx context.Context, c *Context, fresh bool) error {
	if isResetCommand(c.Message) {
		return b.hardReset(ctx, c)
	}
	if c.Message != nil && c.Message.IsCommand() {
		switch c.Message.Command() {
		case "admin":
			if !b.canManage(c) {
				c.Say("Недостаточно прав.")
				return nil
			}
			return c.Transition(ctx, session.SceneAdmin)
		}
	}
	if fresh && !c.IsCallback() {
		return b.scenes[session.SceneWelcome].Enter(ctx, c)
	}
	return b.dispatchScene(ctx, c)
}

// hardReset удаляет запись сессии и показывает главное меню.
func (b *Bot) hardReset(ctx context.Context, c *Context) error {
	if err := b.sessions.Delete(ctx, c.Key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	c.Session = session.New()
	c.refreshUser()
	return b.scenes[session.SceneWelcome].Enter(ctx, c)
}

// resetAfterError: юзер в главное меню, остальное бот обслуживает дальше.
func (b *Bot) resetAfterError(ctx context.Context, c *Context) {
	c.Session = session.New()
	c.refreshUser()
	if _, err := c.Reply("Произошла ошибка. Давайте начнем сначала.", removeKeyboard); err != nil {
		b.log.Warnw("send apology failed", "user_id", c.Key.UserID, "error", err)
	}
	if err := b.scenes[session.SceneWelcome].Enter(ctx, c); err != nil {
		b.log.Errorw("enter welcome after error failed", "user_id", c.Key.UserID, "error", err)
		c.Session = session.New()
		c.refreshUser()
	}
}

func (c *Context) refreshUser() {
	if c.User == nil {
		return
	}
	ref := &session.UserRef{ID: c.User.ID, RoleID: c.User.RoleID}
	if c.User.HasEmail() {
		ref.Email = *c.User.Email
	}
	c.Session.User = ref
}

// canManage: админ из конфига или роль менеджера и выше.
func (b *Bot) canManage(c *Context) bool {
	if b.settings.IsAdmin(c.Key.UserID) {
		return true
	}
	return c.User != nil && (c.User.RoleID == model.RoleManager || c.User.RoleID == model.RoleAdmin)
}
