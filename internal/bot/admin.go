package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/goinginblind/support-ticket-bot/internal/session"
	"github.com/goinginblind/support-ticket-bot/internal/settings"
)

// Коллбэки главного меню админки
const (
	cbAdminMain       = "back_to_main"
	cbAdminExit       = "scene_admin_exit"
	cbSceneSettings   = "scene_settings"
	cbOrgSettings     = "org_settings"
	cbClassSettings   = "classification_settings"
	cbEmailSettings   = "email_settings"
	cbUserSettings    = "user_settings"
	cbAdminSettings   = "admin_settings"
	cbExportTickets   = "export_tickets"
	cbDeliverNow      = "deliver_now"
	cbAddOrganization = "add_organization"
	cbAddClass        = "add_classification"
	cbPromptAddAdmin  = "prompt_add_admin"
	cbTestEmail       = "test_email_settings"
	cbToggleSecure    = "toggle_email_secure"
	cbToggleReject    = "toggle_email_reject"
)

// screen: текст и кнопки одного экрана админки.
type screen struct {
	text string
	kb   tgbotapi.InlineKeyboardMarkup
}

// adminRoute: обработчик коллбэка. exact: data == prefix, иначе data начинается с prefix.
type adminRoute struct {
	prefix string
	exact  bool
	fn     func(ctx context.Context, c *Context, arg string) error
}

// adminInput: обработчик текста, которого ждёт админка (session.Admin.Action).
type adminInput func(ctx context.Context, c *Context, text string) error

// adminScene: панель управления. Подэкраны это коллбэки, не отдельные сцены.
// Владеет session.Admin.
type adminScene struct {
	b *Bot

	routes []adminRoute
	inputs map[string]adminInput
}

func (a *adminScene) ID() session.SceneID { return session.SceneAdmin }

func (a *adminScene) Enter(_ context.Context, c *Context) error {
	c.Session.Admin = &session.Admin{}
	if p := c.Session.Prompt; p != nil && p.Photo {
		c.Session.Prompt = nil
	}
	return a.show(c, "", a.mainScreen())
}

func (a *adminScene) Exit(c *Context) {
	c.Session.Admin = nil
}

func (a *adminScene) Handle(ctx context.Context, c *Context) error {
	if !a.b.canManage(c) {
		c.Say("Недостаточно прав.")
		return c.Transition(ctx, session.SceneWelcome)
	}
	if c.Session.Admin == nil {
		c.Session.Admin = &session.Admin{}
	}

	if c.IsCallback() {
		// любая кнопка отменяет ожидание ввода
		*c.Session.Admin = session.Admin{}
		for _, r := range a.routes {
			if r.exact && c.Text == r.prefix {
				return r.fn(ctx, c, "")
			}
			if !r.exact && strings.HasPrefix(c.Text, r.prefix) {
				return r.fn(ctx, c, strings.TrimPrefix(c.Text, r.prefix))
			}
		}
		return a.show(c, "", a.mainScreen())
	}

	if in, ok := a.inputs[c.Session.Admin.Action]; ok {
		// ответ на ввод шлём новым сообщением, старое осталось выше
		c.Session.Prompt = nil
		return in(ctx, c, strings.TrimSpace(c.Text))
	}
	c.Session.Prompt = nil
	return a.show(c, "", a.mainScreen())
}

// newAdminScene собирает таблицы маршрутов. Порядок важен: длинные префиксы раньше коротких.
func newAdminScene(b *Bot) *adminScene {
	a := &adminScene{b: b}
	a.routes = []adminRoute{
		{prefix: cbAdminMain, exact: true, fn: func(_ context.Context, c *Context, _ string) error {
			return a.show(c, "", a.mainScreen())
		}},
		{prefix: cbAdminExit, exact: true, fn: a.exit},
		{prefix: cbExportTickets, exact: true, fn: a.exportTickets},
		{prefix: cbDeliverNow, exact: true, fn: a.deliverNow},

		// тексты сцен
		{prefix: cbSceneSettings, exact: true, fn: a.sceneList},
		{prefix: "scene_", fn: a.sceneCard},
		{prefix: "edit_text_", fn: a.askSceneText},
		{prefix: "edit_image_", fn: a.imageCard},
		{prefix: "enable_image_", fn: a.toggleImage(true)},
		{prefix: "disable_image_", fn: a.toggleImage(false)},
		{prefix: "upload_image_", fn: a.askImage},

		// организации и филиалы
		{prefix: cbOrgSettings, exact: true, fn: a.orgList},
		{prefix: cbAddOrganization, exact: true, fn: a.askAddOrganization},
		{prefix: "select_organization_", fn: a.orgCard},
		{prefix: "edit_org_name_", fn: a.askOrgName},
		{prefix: "edit_org_priority_", fn: a.askOrgPriority},
		{prefix: "hide_organization_", fn: a.toggleOrgHidden},
		{prefix: "confirm_delete_organization_", fn: a.deleteOrg},
		{prefix: "delete_organization_", fn: a.confirmDeleteOrg},
		{prefix: "add_branch_", fn: a.askAddBranch},
		{prefix: "edit_branch_priority_prompt_", fn: a.branchPicker("edit_branch_priority_", "Выберите филиал для изменения приоритета:")},
		{prefix: "edit_branch_priority_", fn: a.askBranchPriority},
		{prefix: "delete_branch_prompt_", fn: a.branchPicker("delete_branch_", "Выберите филиал для удаления:")},
		{prefix: "confirm_delete_branch_", fn: a.deleteBranch},
		{prefix: "delete_branch_", fn: a.confirmDeleteBranch},

		// классификации
		{prefix: cbClassSettings, exact: true, fn: a.classList},
		{prefix: cbAddClass, exact: true, fn: a.askAddClass},
		{prefix: "select_classification_", fn: a.classCard},
		{prefix: "edit_class_name_", fn: a.askClassName},
		{prefix: "edit_class_priority_", fn: a.askClassPriority},
		{prefix: "confirm_delete_classification_", fn: a.deleteClass},
		{prefix: "delete_classification_", fn: a.confirmDeleteClass},

		// почта
		{prefix: cbEmailSettings, exact: true, fn: a.emailCard},
		{prefix: cbToggleSecure, exact: true, fn: a.toggleSecure},
		{prefix: cbToggleReject, exact: true, fn: a.toggleReject},
		{prefix: cbTestEmail, exact: true, fn: a.testEmail},
		{prefix: "edit_email_", fn: a.askEmailField},

		// пользователи и админы
		{prefix: cbUserSettings, exact: true, fn: a.askUserSearch},
		{prefix: "user_card_", fn: a.userCardAction},
		{prefix: "user_block_", fn: a.toggleBlocked},
		{prefix: "user_role_", fn: a.setRole},
		{prefix: cbAdminSettings, exact: true, fn: a.adminList},
		{prefix: cbPromptAddAdmin, exact: true, fn: a.askAddAdmin},
		{prefix: "remove_admin_", fn: a.removeAdmin},
	}
	a.inputs = map[string]adminInput{
		"edit_text":            a.inputSceneText,
		"upload_image":         a.inputImage,
		"add_organization":     a.inputAddOrganization,
		"edit_org_name":        a.inputOrgName,
		"edit_org_priority":    a.inputOrgPriority,
		"add_branch":           a.inputAddBranch,
		"edit_branch_priority": a.inputBranchPriority,
		"add_classification":   a.inputAddClass,
		"edit_class_name":      a.inputClassName,
		"edit_class_priority":  a.inputClassPriority,
		"edit_email":           a.inputEmailField,
		"search_user":          a.inputUserSearch,
		"add_admin":            a.inputAddAdmin,
	}
	return a
}

func (a *adminScene) mainScreen() screen {
	return screen{
		text: "Панель управления. Выберите раздел:",
		kb: inlineRows(
			button("Тексты сцен", cbSceneSettings),
			button("Организации", cbOrgSettings),
			button("Классификации", cbClassSettings),
			button("Почта", cbEmailSettings),
			button("Пользователи", cbUserSettings),
			button("Администраторы", cbAdminSettings),
			button("Выгрузить обращения (xlsx)", cbExportTickets),
			button("Отправить обращения сейчас", cbDeliverNow),
			button("Выход", cbAdminExit),
		),
	}
}

// show рисует экран, note идёт первой строкой (итог прошлого действия).
func (a *adminScene) show(c *Context, note string, sc screen) error {
	text := sc.text
	if note != "" {
		text = note + "\n\n" + text
	}
	return c.ShowPrompt(text, sc.kb)
}

// ask переводит админку в ожидание текста. back: куда ведёт "Отмена".
func (a *adminScene) ask(c *Context, action, target string, index int, prompt, back string) error {
	*c.Session.Admin = session.Admin{Action: action, Target: target, Index: index}
	return c.ShowPrompt(prompt, inlineRows(button("Отмена", back)))
}

// done: ввод принят, ожидание снимаем.
func (a *adminScene) done(c *Context) {
	*c.Session.Admin = session.Admin{}
}

func (a *adminScene) exit(ctx context.Context, c *Context, _ string) error {
	closePrompt(c, "Вы вышли из панели управления.")
	return c.Transition(ctx, session.SceneWelcome)
}

// settingsErrorText: ошибки ввода в понятный текст. ok=false: ошибка не про ввод.
func settingsErrorText(err error) (string, bool) {
	switch {
	case errors.Is(err, settings.ErrEmptyName):
		return "Название не может быть пустым.", true
	case errors.Is(err, settings.ErrInvalidPriority):
		return "Приоритет должен быть числом от 0 до 10.", true
	case errors.Is(err, settings.ErrInvalidPort):
		return "Порт должен быть числом от 1 до 65535.", true
	case errors.Is(err, settings.ErrExists):
		return "Такая запись уже есть.", true
	case errors.Is(err, settings.ErrNotFound):
		return "Запись не найдена, возможно её уже удалили.", true
	}
	return "", false
}

// inputError: ошибка ввода -> подсказка и ждём снова, остальное наверх.
func inputError(c *Context, err error) error {
	if text, ok := settingsErrorText(err); ok {
		c.Say(text + " Попробуйте ещё раз.")
		return nil
	}
	return err
}

// parseNamePriority разбирает "Название, приоритет". Приоритет необязателен,
// explicit == false значит взят DefaultPriority.
func parseNamePriority(text string) (name string, prio int, explicit bool, err error) {
	text = strings.TrimSpace(text)
	if i := strings.LastIndex(text, ","); i >= 0 {
		tail := strings.TrimSpace(text[i+1:])
		if _, convErr := strconv.Atoi(tail); convErr == nil {
			p, err := settings.ParsePriority(tail)
			if err != nil {
				return "", 0, false, err
			}
			return strings.TrimSpace(text[:i]), p, true, nil
		}
	}
	return text, settings.DefaultPriority, false, nil
}

// parseNames: "А; Б; В, 5": несколько названий через ; и общий приоритет.
func parseNames(text string) ([]string, int, error) {
	rest, p, _, err := parseNamePriority(text)
	if err != nil {
		return nil, 0, err
	}
	var names []string
	for _, n := range strings.Split(rest, ";") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil, 0, settings.ErrEmptyName
	}
	return names, p, nil
}

// splitIndex: "<key>_<idx>", ключ сам может содержать _.
func splitIndex(arg string) (string, int, bool) {
	i := strings.LastIndex(arg, "_")
	if i <= 0 {
		return "", 0, false
	}
	idx, err := strconv.Atoi(arg[i+1:])
	if err != nil {
		return "", 0, false
	}
	return arg[:i], idx, true
}

func yesNo(v bool) string {
	if v {
		return "да"
	}
	return "нет"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}
