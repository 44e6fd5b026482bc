package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/goinginblind/support-ticket-bot/internal/export"
	"github.com/goinginblind/support-ticket-bot/internal/mailer"
	"github.com/goinginblind/support-ticket-bot/internal/model"
	"github.com/goinginblind/support-ticket-bot/internal/repo"
	"github.com/goinginblind/support-ticket-bot/internal/settings"
)

const userSearchLimit = 20

// emailFields: что из smtp-настроек правится текстом.
var emailFields = map[string]string{
	"host":     "SMTP сервер",
	"port":     "Порт",
	"user":     "Логин (он же отправитель)",
	"password": "Пароль",
	"support":  "Адрес поддержки",
	"subject":  "Шаблон темы письма",
	"template": "Шаблон текста письма",
}

// ---- почта ----

func (a *adminScene) emailScreen() screen {
	e := a.b.settings.Email()
	password := "не задан"
	if e.Password != "" {
		password = "••••••"
	}
	subject, template := "по умолчанию", "по умолчанию"
	if e.TicketSubject != "" {
		subject = e.TicketSubject
	}
	if e.TicketTemplate != "" {
		template = "свой"
	}
	text := fmt.Sprintf("Настройки почты:\n\nSMTP сервер: %s\nПорт: %d\nЛогин: %s\nПароль: %s\nSSL: %s\nПроверка сертификата: %s\nАдрес поддержки: %s\nТема письма: %s\nШаблон письма: %s",
		orDash(e.Host), e.EffectivePort(), orDash(e.User), password, yesNo(e.Secure), yesNo(e.VerifyTLS()),
		orDash(e.SupportEmail), subject, template)
	return screen{
		text: text,
		kb: inlineRows(
			button("SMTP сервер", "edit_email_host"),
			button("Порт", "edit_email_port"),
			button("Логин", "edit_email_user"),
			button("Пароль", "edit_email_password"),
			button("Адрес поддержки", "edit_email_support"),
			button("Тема письма", "edit_email_subject"),
			button("Шаблон письма", "edit_email_template"),
			button("SSL вкл/выкл", cbToggleSecure),
			button("Проверка сертификата вкл/выкл", cbToggleReject),
			button("📨 Тестовое письмо", cbTestEmail),
			button("⬅️ Назад", cbAdminMain),
		),
	}
}

func (a *adminScene) emailCard(_ context.Context, c *Context, _ string) error {
	return a.show(c, "", a.emailScreen())
}

func (a *adminScene) toggleSecure(_ context.Context, c *Context, _ string) error {
	err := a.b.settings.UpdateEmail(func(e *settings.EmailSettings) { e.Secure = !e.Secure })
	if err != nil {
		return err
	}
	return a.show(c, "✅ Сохранено.", a.emailScreen())
}

func (a *adminScene) toggleReject(_ context.Context, c *Context, _ string) error {
	err := a.b.settings.UpdateEmail(func(e *settings.EmailSettings) {
		v := !e.VerifyTLS()
		e.RejectUnauthorized = &v
	})
	if err != nil {
		return err
	}
	return a.show(c, "✅ Сохранено.", a.emailScreen())
}

func (a *adminScene) testEmail(ctx context.Context, c *Context, _ string) error {
	to := a.b.settings.Email().SupportEmail
	if to == "" {
		return a.show(c, "Сначала укажите адрес поддержки.", a.emailScreen())
	}
	if err := a.b.mail.SendTest(ctx, to); err != nil {
		if errors.Is(err, mailer.ErrNotConfigured) {
			return a.show(c, "❌ Не заданы сервер, логин или пароль.", a.emailScreen())
		}
		return a.show(c, "❌ Ошибка отправки: "+err.Error(), a.emailScreen())
	}
	return a.show(c, "✅ Тестовое письмо отправлено на "+to, a.emailScreen())
}

func (a *adminScene) askEmailField(_ context.Context, c *Context, field string) error {
	title, ok := emailFields[field]
	if !ok {
		return a.show(c, "", a.emailScreen())
	}
	prompt := fmt.Sprintf("Введите новое значение: %s.", title)
	if field == "subject" || field == "template" {
		prompt += "\n\nДоступные поля: {{.Ref}} {{.Organization}} {{.Branch}} {{.Classification}} " +
			"{{.Created}} {{.Message}} {{.Anonymous}} {{.AuthorEmail}} {{.TelegramID}} {{.Username}} {{.Files}}.\nОтправьте «-», чтобы вернуть шаблон по умолчанию."
	}
	return a.ask(c, "edit_email", field, 0, prompt, cbEmailSettings)
}

func (a *adminScene) inputEmailField(_ context.Context, c *Context, text string) error {
	field := c.Session.Admin.Target
	var apply func(e *settings.EmailSettings)

	switch field {
	case "host":
		apply = func(e *settings.EmailSettings) { e.Host = text }
	case "port":
		p, err := settings.ParsePort(text)
		if err != nil {
			return inputError(c, err)
		}
		apply = func(e *settings.EmailSettings) { e.Port = p }
	case "user":
		apply = func(e *settings.EmailSettings) { e.User = text }
	case "password":
		apply = func(e *settings.EmailSettings) { e.Password = text }
	case "support":
		if !strings.Contains(text, "@") {
			c.Say("Это не похоже на email. Попробуйте ещё раз.")
			return nil
		}
		apply = func(e *settings.EmailSettings) { e.SupportEmail = text }
	case "subject", "template":
		if text == "-" {
			text = ""
		}
		if text != "" {
			if err := mailer.ValidateTemplate(text); err != nil {
				c.Say("Ошибка в шаблоне: " + err.Error())
				return nil
			}
		}
		if field == "subject" {
			apply = func(e *settings.EmailSettings) { e.TicketSubject = text }
		} else {
			apply = func(e *settings.EmailSettings) { e.TicketTemplate = text }
		}
	default:
		a.done(c)
		return a.show(c, "", a.emailScreen())
	}

	if err := a.b.settings.UpdateEmail(apply); err != nil {
		return inputError(c, err)
	}
	a.done(c)
	return a.show(c, "✅ Сохранено.", a.emailScreen())
}

// ---- пользователи ----

func (a *adminScene) askUserSearch(_ context.Context, c *Context, _ string) error {
	return a.ask(c, "search_user", "", 0, "Введите Telegram ID, имя, фамилию или username для поиска:", cbAdminMain)
}

// inputUserSearch: ожидание не снимается, можно искать ещё раз.
func (a *adminScene) inputUserSearch(ctx context.Context, c *Context, text string) error {
	users, err := a.b.users.Search(ctx, text, userSearchLimit)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		c.Say("Пользователи не найдены. Попробуйте снова.")
		return nil
	}
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(users)+1)
	for _, u := range users {
		buttons = append(buttons, button(userLabel(&u), "user_card_"+strconv.FormatInt(u.IDTelegram, 10)))
	}
	buttons = append(buttons, button("⬅️ Назад", cbAdminMain))
	return a.show(c, "", screen{text: "Выберите пользователя (или введите новый запрос):", kb: inlineRows(buttons...)})
}

func userLabel(u *model.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if u.Username != "" {
		name = "@" + u.Username
	}
	label := fmt.Sprintf("%d | %s", u.IDTelegram, orDash(name))
	if u.IsBlocked {
		label += " 🚫"
	}
	return label
}

func (a *adminScene) userScreen(ctx context.Context, tgID int64) (screen, error) {
	u, err := a.b.users.GetByTelegramID(ctx, tgID)
	if err != nil {
		return screen{}, err
	}
	roles, err := a.b.users.Roles(ctx)
	if err != nil {
		return screen{}, err
	}
	history, err := a.b.sessions.History(ctx, tgID)
	if err != nil {
		a.b.log.Warnw("load user history failed", "user_id", tgID, "error", err)
	}

	role := strconv.FormatUint(uint64(u.RoleID), 10)
	for _, r := range roles {
		if r.ID == u.RoleID {
			role = r.Title
		}
	}
	email := ""
	if u.HasEmail() {
		email = *u.Email
	}
	lastSeen := ""
	if u.LastActivityAt != nil {
		lastSeen = u.LastActivityAt.Format("02.01.2006 15:04")
	}
	status := "активен"
	if u.IsBlocked {
		status = "заблокирован"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Пользователь:\n\nTelegram ID: %d\nИмя: %s\nUsername: %s\nEmail: %s\nРоль: %s\nСтатус: %s\nПоследняя активность: %s",
		u.IDTelegram, orDash(strings.TrimSpace(u.FirstName+" "+u.LastName)), orDash(u.Username), orDash(email), role, status, orDash(lastSeen))
	if len(history) > 0 {
		sb.WriteString("\n\nПоследние сообщения:")
		for _, h := range history {
			sb.WriteString("\n• " + preview(h))
		}
	}

	id := strconv.FormatInt(u.IDTelegram, 10)
	block := "🚫 Заблокировать"
	if u.IsBlocked {
		block = "✅ Разблокировать"
	}
	buttons := []tgbotapi.InlineKeyboardButton{button(block, "user_block_"+id)}
	for _, r := range roles {
		if r.ID != u.RoleID {
			buttons = append(buttons, button("Роль: "+r.Title, fmt.Sprintf("user_role_%s_%d", id, r.ID)))
		}
	}
	buttons = append(buttons, button("🔎 Новый поиск", cbUserSettings), button("⬅️ В меню", cbAdminMain))
	return screen{text: sb.String(), kb: inlineRows(buttons...)}, nil
}

func (a *adminScene) showUser(ctx context.Context, c *Context, note string, tgID int64) error {
	sc, err := a.userScreen(ctx, tgID)
	if errors.Is(err, repo.ErrNotFound) {
		return a.show(c, "Пользователь не найден.", a.mainScreen())
	}
	if err != nil {
		return err
	}
	return a.show(c, note, sc)
}

func (a *adminScene) userCardAction(ctx context.Context, c *Context, arg string) error {
	tgID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return a.show(c, "Некорректная кнопка.", a.mainScreen())
	}
	return a.showUser(ctx, c, "", tgID)
}

func (a *adminScene) toggleBlocked(ctx context.Context, c *Context, arg string) error {
	tgID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return a.show(c, "Некорректная кнопка.", a.mainScreen())
	}
	if tgID == c.Key.UserID {
		return a.showUser(ctx, c, "Нельзя заблокировать самого себя.", tgID)
	}
	u, err := a.b.users.GetByTelegramID(ctx, tgID)
	if errors.Is(err, repo.ErrNotFound) {
		return a.show(c, "Пользователь не найден.", a.mainScreen())
	}
	if err != nil {
		return err
	}
	if err := a.b.users.SetBlocked(ctx, tgID, !u.IsBlocked); err != nil {
		return err
	}
	note := "✅ Пользователь заблокирован."
	if u.IsBlocked {
		note = "✅ Пользователь разблокирован."
	}
	a.b.log.Infow("user block toggled", "user_id", tgID, "blocked", !u.IsBlocked, "by", c.Key.UserID)
	return a.showUser(ctx, c, note, tgID)
}

func (a *adminScene) setRole(ctx context.Context, c *Context, arg string) error {
	idStr, role, ok := splitIndex(arg)
	tgID, err := strconv.ParseInt(idStr, 10, 64)
	if !ok || err != nil || role <= 0 {
		return a.show(c, "Некорректная кнопка.", a.mainScreen())
	}
	if err := a.b.users.SetRole(ctx, tgID, uint(role)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return a.show(c, "Пользователь не найден.", a.mainScreen())
		}
		return err
	}
	a.b.log.Infow("user role changed", "user_id", tgID, "role_id", role, "by", c.Key.UserID)
	return a.showUser(ctx, c, "✅ Роль изменена.", tgID)
}

// ---- администраторы ----

func (a *adminScene) adminsScreen() screen {
	ids := a.b.settings.Administrators()
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(ids)+2)
	for _, id := range ids {
		buttons = append(buttons, button(fmt.Sprintf("❌ %d", id), "remove_admin_"+strconv.FormatInt(id, 10)))
	}
	buttons = append(buttons, button("➕ Добавить администратора", cbPromptAddAdmin), button("⬅️ Назад", cbAdminMain))
	text := "Администраторы (нажмите, чтобы удалить):"
	if len(ids) == 0 {
		text = "Администраторов в конфиге нет."
	}
	return screen{text: text, kb: inlineRows(buttons...)}
}

func (a *adminScene) adminList(_ context.Context, c *Context, _ string) error {
	return a.show(c, "", a.adminsScreen())
}

func (a *adminScene) askAddAdmin(_ context.Context, c *Context, _ string) error {
	return a.ask(c, "add_admin", "", 0, "Введите Telegram ID нового администратора:", cbAdminSettings)
}

func (a *adminScene) inputAddAdmin(_ context.Context, c *Context, text string) error {
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		c.Say("ID должен быть положительным числом. Попробуйте ещё раз.")
		return nil
	}
	added, err := a.b.settings.AddAdministrator(id)
	if err != nil {
		return err
	}
	a.done(c)
	note := "✅ Администратор добавлен."
	if !added {
		note = "Этот пользователь уже администратор."
	}
	return a.show(c, note, a.adminsScreen())
}

func (a *adminScene) removeAdmin(_ context.Context, c *Context, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return a.show(c, "Некорректная кнопка.", a.adminsScreen())
	}
	if id == c.Key.UserID {
		return a.show(c, "Нельзя удалить самого себя.", a.adminsScreen())
	}
	removed, err := a.b.settings.RemoveAdministrator(id)
	if err != nil {
		return err
	}
	note := "✅ Администратор удалён."
	if !removed {
		note = "Такого администратора уже нет."
	}
	return a.show(c, note, a.adminsScreen())
}

// ---- обращения ----

func (a *adminScene) exportTickets(ctx context.Context, c *Context, _ string) error {
	tickets, err := a.b.tickets.All(ctx)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return a.show(c, "Обращений пока нет.", a.mainScreen())
	}
	buf, err := export.Tickets(tickets)
	if err != nil {
		return fmt.Errorf("export tickets: %w", err)
	}
	doc := tgbotapi.NewDocument(c.ChatID(), tgbotapi.FileBytes{
		Name:  "tickets_" + a.b.now().Format("2006-01-02") + ".xlsx",
		Bytes: buf.Bytes(),
	})
	doc.Caption = fmt.Sprintf("Обращений: %d", len(tickets))
	if _, err := a.b.tg.Send(doc); err != nil {
		return fmt.Errorf("send export: %w", err)
	}
	// документ ушёл ниже меню, меню рисуем заново
	c.Session.Prompt = nil
	return a.show(c, "", a.mainScreen())
}

func (a *adminScene) deliverNow(ctx context.Context, c *Context, _ string) error {
	if a.b.delivery == nil {
		return a.show(c, "Отправка обращений не настроена.", a.mainScreen())
	}
	stats, ran := a.b.delivery.RunOnce(ctx)
	if !ran {
		return a.show(c, "Отправка уже идёт, попробуйте позже.", a.mainScreen())
	}
	note := fmt.Sprintf("Готово. Отправлено: %d, ошибок: %d, пропущено: %d.", stats.Sent, stats.Failed, stats.Skipped)
	return a.show(c, note, a.mainScreen())
}
