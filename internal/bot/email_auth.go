package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goinginblind/support-ticket-bot/internal/auth"
	"github.com/goinginblind/support-ticket-bot/internal/session"
)

// emailAuthScene: подтверждение корпоративной почты кодом. Владеет Auth.
type emailAuthScene struct{ b *Bot }

func (e *emailAuthScene) ID() session.SceneID { return session.SceneEmailAuth }

func (e *emailAuthScene) Enter(ctx context.Context, c *Context) error {
	if c.User != nil && c.User.HasEmail() {
		email := *c.User.Email
		c.Say(fmt.Sprintf("Авторизация уже выполнена.\nВаш email: %s.", email))
		c.Session.Selection.AuthorEmail = email
		return c.Transition(ctx, session.SceneOrganization)
	}
	c.Session.Phase = session.PhaseAwaitEmail
	_, err := c.Reply("Для продолжения работы введите ваш email. Я использую его для идентификации вашего аккаунта.", authCancelKeyboard)
	return err
}

func (e *emailAuthScene) Exit(c *Context) {
	c.Session.Auth = nil
}

func (e *emailAuthScene) Handle(ctx context.Context, c *Context) error {
	switch c.Text {
	case cbCancelAuth:
		c.Session.Auth = nil
		c.Say("Авторизация отменена.")
		return c.Transition(ctx, session.SceneTicketType)
	case cbResendCode:
		return e.resend(ctx, c)
	}
	if c.IsCallback() || c.Text == "" {
		c.Say("Пожалуйста, отправьте текстом.")
		return nil
	}

	if c.Session.AwaitingCode() {
		return e.verify(ctx, c)
	}
	return e.issue(ctx, c)
}

func (e *emailAuthScene) issue(ctx context.Context, c *Context) error {
	st := &auth.State{}
	if c.Session.Auth != nil {
		*st = *c.Session.Auth
	}
	err := e.b.auth.Issue(ctx, c.Key.UserID, st, c.Text)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		c.Say("Неверный формат email. Пожалуйста, введите корректный адрес электронной почты.")
		return nil
	case errors.Is(err, auth.ErrDomainNotAllowed):
		c.Say(fmt.Sprintf("Можно использовать только корпоративную почту @%s.", e.b.auth.Domain()))
		return nil
	case errors.Is(err, auth.ErrCooldown):
		c.Say(cooldownText(err))
		return nil
	case err != nil:
		// черновика ещё нет, юзер просто попробует снова
		e.b.log.Errorw("issue auth code failed", "user_id", c.Key.UserID, "error", err)
		c.Say("Ошибка при отправке кода авторизации. Попробуйте снова.")
		return nil
	}

	c.Session.Auth = st
	c.Session.Phase = session.PhaseAwaitCode
	_, err = c.Reply(fmt.Sprintf("Код отправлен на %s.\nПожалуйста, введите код для подтверждения:", st.PendingEmail), authCodeKeyboard)
	return err
}

func (e *emailAuthScene) resend(ctx context.Context, c *Context) error {
	if !c.Session.AwaitingCode() {
		c.Session.Phase = session.PhaseAwaitEmail
		c.Say("Сначала введите email.")
		return nil
	}
	err := e.b.auth.Resend(ctx, c.Key.UserID, c.Session.Auth)
	switch {
	case errors.Is(err, auth.ErrCooldown):
		c.Say(cooldownText(err))
		return nil
	case err != nil:
		e.b.log.Errorw("resend auth code failed", "user_id", c.Key.UserID, "error", err)
		c.Say("Ошибка при повторной отправке кода.")
		return nil
	}
	c.Say(fmt.Sprintf("Код повторно отправлен на %s.", c.Session.Auth.PendingEmail))
	return nil
}

func (e *emailAuthScene) verify(ctx context.Context, c *Context) error {
	email := c.Session.Auth.PendingEmail
	ok, err := e.b.auth.Verify(ctx, c.Key.UserID, c.Session.Auth, c.Text)
	if err != nil {
		return err
	}
	if !ok {
		_, err := c.Reply("Неверный код.", authCodeKeyboard)
		return err
	}

	c.Session.Selection.AuthorEmail = email
	if c.User != nil {
		c.User.Email = &email
		c.refreshUser()
	}
	c.Say("Готово! Авторизация прошла успешно.")
	return c.Transition(ctx, session.SceneOrganization)
}

func cooldownText(err error) string {
	var ce *auth.CooldownError
	if errors.As(err, &ce) {
		secs := int(ce.Remaining.Round(time.Second) / time.Second)
		if secs > 0 {
			return fmt.Sprintf("Запросите код через %d сек.", secs)
		}
	}
	return "Запросите код через 2 минуты."
}
