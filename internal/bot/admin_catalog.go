package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/goinginblind/support-ticket-bot/internal/session"
	"github.com/goinginblind/support-ticket-bot/internal/settings"
	"github.com/goinginblind/support-ticket-bot/internal/ticket"
)

// editableScenes: у каких сцен текст можно поменять из админки.
var editableScenes = []struct {
	id    session.SceneID
	title string
}{
	{session.SceneWelcome, "Приветствие"},
	{session.SceneDescription, "Правила"},
	{session.SceneTicketType, "Тип обращения"},
	{session.SceneOrganization, "Выбор организации"},
	{session.SceneClassification, "Выбор классификации"},
	{session.SceneReportIssue, "Описание проблемы"},
}

func sceneTitle(id string) (string, bool) {
	for _, s := range editableScenes {
		if string(s.id) == id {
			return s.title, true
		}
	}
	return "", false
}

// ---- тексты сцен ----

func (a *adminScene) sceneList(_ context.Context, c *Context, _ string) error {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(editableScenes)+1)
	for _, s := range editableScenes {
		buttons = append(buttons, button(s.title, "scene_"+string(s.id)))
	}
	buttons = append(buttons, button("⬅️ Назад", cbAdminMain))
	return a.show(c, "", screen{text: "Выберите сцену:", kb: inlineRows(buttons...)})
}

func (a *adminScene) sceneScreen(id string) screen {
	title, _ := sceneTitle(id)
	st, _ := a.b.settings.SceneText(id)
	text := st.Text
	if strings.TrimSpace(text) == "" {
		text = "(текст по умолчанию)"
	}
	buttons := []tgbotapi.InlineKeyboardButton{button("Изменить текст", "edit_text_"+id)}
	if id == string(session.SceneWelcome) {
		buttons = append(buttons, button("Картинка", "edit_image_"+id))
	}
	buttons = append(buttons, button("⬅️ Назад", cbSceneSettings))
	return screen{
		text: fmt.Sprintf("Сцена «%s»\n\nТекущий текст:\n%s", title, text),
		kb:   inlineRows(buttons...),
	}
}

func (a *adminScene) sceneCard(_ context.Context, c *Context, id string) error {
	if _, ok := sceneTitle(id); !ok {
		return a.show(c, "Неизвестная сцена.", a.mainScreen())
	}
	return a.show(c, "", a.sceneScreen(id))
}

func (a *adminScene) askSceneText(_ context.Context, c *Context, id string) error {
	if _, ok := sceneTitle(id); !ok {
		return a.show(c, "Неизвестная сцена.", a.mainScreen())
	}
	return a.ask(c, "edit_text", id, 0, "Отправьте новый текст сцены.", "scene_"+id)
}

func (a *adminScene) inputSceneText(_ context.Context, c *Context, _ string) error {
	id := c.Session.Admin.Target
	if err := a.b.settings.SetSceneText(id, c.Text); err != nil {
		return inputError(c, err)
	}
	a.done(c)
	return a.show(c, "✅ Текст обновлён.", a.sceneScreen(id))
}

func (a *adminScene) imageScreen(id string) screen {
	st, _ := a.b.settings.SceneText(id)
	status := "не задана"
	if st.Image != nil && st.Image.Path != "" {
		status = "выключена"
		if st.Image.Enabled {
			status = "включена"
		}
	}
	return screen{
		text: "Картинка приветствия: " + status,
		kb: inlineRows(
			button("Включить", "enable_image_"+id),
			button("Выключить", "disable_image_"+id),
			button("Загрузить новую", "upload_image_"+id),
			button("⬅️ Назад", "scene_"+id),
		),
	}
}

func (a *adminScene) imageCard(_ context.Context, c *Context, id string) error {
	return a.show(c, "", a.imageScreen(id))
}

func (a *adminScene) toggleImage(enabled bool) func(context.Context, *Context, string) error {
	return func(_ context.Context, c *Context, id string) error {
		st, _ := a.b.settings.SceneText(id)
		if enabled && (st.Image == nil || st.Image.Path == "") {
			return a.show(c, "Сначала загрузите картинку.", a.imageScreen(id))
		}
		if err := a.b.settings.SetSceneImage(id, enabled, ""); err != nil {
			return err
		}
		return a.show(c, "✅ Сохранено.", a.imageScreen(id))
	}
}

func (a *adminScene) askImage(_ context.Context, c *Context, id string) error {
	return a.ask(c, "upload_image", id, 0, "Отправьте картинку одним фото.", "edit_image_"+id)
}

// inputImage сохраняет file_id самого большого размера, телега отдаёт его повторно.
func (a *adminScene) inputImage(_ context.Context, c *Context, _ string) error {
	if c.Message == nil || len(c.Message.Photo) == 0 {
		c.Say("Это не фото. Отправьте картинку.")
		return nil
	}
	id := c.Session.Admin.Target
	photo := c.Message.Photo[len(c.Message.Photo)-1]
	if err := a.b.settings.SetSceneImage(id, true, photo.FileID); err != nil {
		return err
	}
	a.done(c)
	return a.show(c, "✅ Картинка сохранена и включена.", a.imageScreen(id))
}

// ---- организации ----

func (a *adminScene) orgListScreen() screen {
	orgs := a.b.settings.AllOrganizations()
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(orgs)+2)
	for _, o := range orgs {
		title := fmt.Sprintf("%s (%d)", o.Name, o.Priority)
		if org, ok := a.b.settings.Organization(o.Key); ok && org.Hidden {
			title += " 🙈"
		}
		buttons = append(buttons, button(title, "select_organization_"+o.Key))
	}
	buttons = append(buttons, button("➕ Добавить организацию", cbAddOrganization), button("⬅️ Назад", cbAdminMain))
	text := "Организации (в скобках приоритет, меньше = выше):"
	if len(orgs) == 0 {
		text = "Организаций пока нет."
	}
	return screen{text: text, kb: inlineRows(buttons...)}
}

func (a *adminScene) orgList(_ context.Context, c *Context, _ string) error {
	return a.show(c, "", a.orgListScreen())
}

func (a *adminScene) orgScreen(key string) (screen, bool) {
	org, ok := a.b.settings.Organization(key)
	if !ok {
		return screen{}, false
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Организация: %s\nПриоритет: %d\nСкрыта: %s\n\nФилиалы:", org.Name, org.EffectivePriority(), yesNo(org.Hidden))
	branches := settings.SortedBranches(org)
	if len(branches) == 0 {
		sb.WriteString("\nнет (будет использован «" + ticket.DefaultBranch + "»)")
	}
	for i, b := range branches {
		fmt.Fprintf(&sb, "\n%d. %s (приоритет %d)", i+1, b.Name, b.Priority)
	}
	hide := "Скрыть"
	if org.Hidden {
		hide = "Показать"
	}
	return screen{
		text: sb.String(),
		kb: inlineRows(
			button("Переименовать", "edit_org_name_"+key),
			button("Изменить приоритет", "edit_org_priority_"+key),
			button("➕ Добавить филиалы", "add_branch_"+key),
			button("Приоритет филиала", "edit_branch_priority_prompt_"+key),
			button("Удалить филиал", "delete_branch_prompt_"+key),
			button(hide, "hide_organization_"+key),
			button("🗑 Удалить организацию", "delete_organization_"+key),
			button("⬅️ Назад", cbOrgSettings),
		),
	}, true
}

// showOrg: карточка организации или список, если её уже нет.
func (a *adminScene) showOrg(c *Context, note, key string) error {
	sc, ok := a.orgScreen(key)
	if !ok {
		return a.show(c, "Организация не найдена.", a.orgListScreen())
	}
	return a.show(c, note, sc)
}

func (a *adminScene) orgCard(_ context.Context, c *Context, key string) error {
	return a.showOrg(c, "", key)
}

func (a *adminScene) askAddOrganization(_ context.Context, c *Context, _ string) error {
	return a.ask(c, "add_organization", "", 0,
		"Введите название организации и приоритет через запятую, например:\nООО Ромашка, 5\n\nПриоритет можно не указывать (по умолчанию 10).",
		cbOrgSettings)
}

func (a *adminScene) inputAddOrganization(_ context.Context, c *Context, text string) error {
	name, prio, _, err := parseNamePriority(text)
	if err != nil {
		return inputError(c, err)
	}
	key, err := a.b.settings.AddOrganization(name, prio)
	if err != nil {
		return inputError(c, err)
	}
	a.done(c)
	return a.showOrg(c, "✅ Организация добавлена.", key)
}

func (a *adminScene) askOrgName(_ context.Context, c *Context, key string) error {
	return a.ask(c, "edit_org_name", key, 0, "Введите новое название организации.", "select_organization_"+key)
}

func (a *adminScene) inputOrgName(_ context.Context, c *Context, text string) error {
	key := c.Session.Admin.Target
	if err := a.b.settings.RenameOrganization(key, text); err != nil {
		return inputError(c, err)
	}
	a.done(c)
	return a.showOrg(c, "✅ Название обновлено.", key)
}

func (a *adminScene) askOrgPriority(_ context.Context, c *Context, key string) error {
	return a.ask(c, "edit_org_priority", key, 0, "Введите приоритет от 0 до 10.", "select_organization_"+key)
}

func (a *adminScene) inputOrgPriority(_ context.Context, c *Context, text string) error {
	key := c.Session.Admin.Target
	p, err := settings.ParsePriority(text)
	if err == nil {
		err = a.b.settings.SetOrganizationPriority(key, p)
	}
	if err != nil {
		return inputError(c, err)
	}
	a.done(c)
	return a.showOrg(c, "✅ Приоритет обновлён.", key)
}

func (a *adminScene) toggleOrgHidden(_ context.Context, c *Context, key string) error {
	org, ok := a.b.settings.Organization(key)
	if !ok {
		return a.show(c, "Организация не найдена.", a.orgListScreen())
	}
	if err := a.b.settings.SetOrganizationHidden(key, !org.Hidden); err != nil {
		return err
	}
	note := "✅ Организация скрыта."
	if org.Hidden {
		note = "✅ Организация снова видна."
	}
	return a.showOrg(c, note, key)
}

func (a *adminScene) confirmDeleteOrg(_ context.Context, c *Context, key string) error {
	org, ok := a.b.settings.Organization(key)
	if !ok {
		return a.show(c, "Организация не найдена.", a.orgListScreen())
	}
	return a.show(c, "", screen{
		text: fmt.Sprintf("Удалить организацию «%s» вместе с филиалами?", org.Name),
		kb: inlineRows(
			button("Да, удалить", "confirm_delete_organization_"+key),
			button("Отмена", "select_organization_"+key),
		),
	})
}

func (a *adminScene) deleteOrg(_ context.Context, c *Context, key string) error {
	err := a.b.settings.DeleteOrganization(key)
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		return err
	}
	return a.show(c, "✅ Организация удалена.", a.orgListScreen())
}

// ---- филиалы ----

func (a *adminScene) askAddBranch(_ context.Context, c *Context, key string) error {
	return a.ask(c, "add_branch", key, 0,
		"Введите названия филиалов через ; и при желании общий приоритет через запятую, например:\nСевер; Юг, 3",
		"select_organization_"+key)
}

func (a *adminScene) inputAddBranch(_ context.Context, c *Context, text string) error {
	key := c.Session.Admin.Target
	names, prio, err := parseNames(text)
	if err != nil {
		return inputError(c, err)
	}
	var added, skipped []string
	for _, name := range names {
		err := a.b.settings.AddBranch(key, name, prio)
		switch {
		case errors.Is(err, settings.ErrExists):
			skipped = append(skipped, name)
		case err != nil:
			return inputError(c, err)
		default:
			added = append(added, name)
		}
	}
	a.done(c)
	note := "✅ Добавлено филиалов: " + strconv.Itoa(len(added))
	if len(skipped) > 0 {
		note += "\nУже были: " + strings.Join(skipped, ", ")
	}
	return a.showOrg(c, note, key)
}

// branchPicker: список филиалов, кнопка ведёт на next+"<key>_<idx>".
func (a *adminScene) branchPicker(next, title string) func(context.Context, *Context, string) error {
	return func(_ context.Context, c *Context, key string) error {
		org, ok := a.b.settings.Organization(key)
		if !ok {
			return a.show(c, "Организация не найдена.", a.orgListScreen())
		}
		branches := settings.SortedBranches(org)
		if len(branches) == 0 {
			return a.showOrg(c, "У организации нет филиалов.", key)
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(branches)+1)
		for _, b := range branches {
			buttons = append(buttons, button(fmt.Sprintf("%s (%d)", b.Name, b.Priority), next+key+"_"+b.Key))
		}
		buttons = append(buttons, button("⬅️ Назад", "select_organization_"+key))
		return a.show(c, "", screen{text: title, kb: inlineRows(buttons...)})
	}
}

func (a *adminScene) askBranchPriority(_ context.Context, c *Context, arg string) error {
	key, idx, ok := splitIndex(arg)
	if !ok {
		return a.show(c, "Некорректная кнопка.", a.orgListScreen())
	}
	return a.ask(c, "edit_branch_priority", key, idx, "Введите приоритет филиала от 0 до 10.", "select_organization_"+key)
}

func (a *adminScene) inputBranchPriority(_ context.Context, c *Context, text string) error {
	key, idx := c.Session.Admin.Target, c.Session.Admin.Index
	p, err := settings.ParsePriority(text)
	if err == nil {
		err = a.b.settings.SetBranchPriority(key, idx, p)
	}
	if err != nil {
		return inputError(c, err)
	}
	a.done(c)
	return a.showOrg(c, "✅ Приоритет филиала обновлён.", key)
}

func (a *adminScene) confirmDeleteBranch(_ context.Context, c *Context, arg string) error {
	key, idx, ok := splitIndex(arg)
	if !ok {
		return a.show(c, "Некорректная кнопка.", a.orgListScreen())
	}
	org, found := a.b.settings.Organization(key)
	if !found || idx < 0 || idx >= len(org.Branches) {
		return a.showOrg(c, "Филиал не найден.", key)
	}
	return a.show(c, "", screen{
		text: fmt.Sprintf("Удалить филиал «%s»?", org.Branches[idx].Name),
		kb: inlineRows(
			button("Да, удалить", fmt.Sprintf("confirm_delete_branch_%s_%d", key, idx)),
			button("Отмена", "select_organization_"+key),
		),
	})
}

func (a *adminScene) deleteBranch(_ context.Context, c *Context, arg string) error {
	key, idx, ok := splitIndex(arg)
	if !ok {
		return a.show(c, "Некорректная кнопка.", a.orgListScreen())
	}
	if err := a.b.settings.DeleteBranch(key, idx); err != nil {
		if text, ok := settingsErrorText(err); ok {
			return a.showOrg(c, text, key)
		}
		return err
	}
	return a.showOrg(c, "✅ Филиал удалён.", key)
}

// ---- классификации ----

func (a *adminScene) classListScreen() screen {
	classes := a.b.settings.ConfiguredClassifications()
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(classes)+2)
	for _, cl := range classes {
		buttons = append(buttons, button(fmt.Sprintf("%s (%d)", cl.Name, cl.Priority), "select_classification_"+cl.Key))
	}
	buttons = append(buttons, button("➕ Добавить классификации", cbAddClass), button("⬅️ Назад", cbAdminMain))
	text := "Классификации (в скобках приоритет):"
	if len(classes) == 0 {
		text = "Классификаций нет, пользователям показывается стандартный список."
	}
	return screen{text: text, kb: inlineRows(buttons...)}
}

func (a *adminScene) classList(_ context.Context, c *Context, _ string) error {
	return a.show(c, "", a.classListScreen())
}

func (a *adminScene) showClass(c *Context, note, key string) error {
	cl, ok := a.b.settings.Classification(key)
	if !ok {
		return a.show(c, "Классификация не найдена.", a.classListScreen())
	}
	return a.show(c, note, screen{
		text: fmt.Sprintf("Классификация: %s\nПриоритет: %d", cl.Name, cl.EffectivePriority()),
		kb: inlineRows(
			button("Переименовать", "edit_class_name_"+key),
			button("Изменить приоритет", "edit_class_priority_"+key),
			button("🗑 Удалить", "delete_classification_"+key),
			button("⬅️ Назад", cbClassSettings),
		),
	})
}

func (a *adminScene) classCard(_ context.Context, c *Context, key string) error {
	return a.showClass(c, "", key)
}

func (a *adminScene) askAddClass(_ context.Context, c *Context, _ string) error {
	return a.ask(c, "add_classification", "", 0,
		"Введите названия классификаций через ; и при желании общий приоритет через запятую, например:\nТехническая неисправность; Другое, 5",
		cbClassSettings)
}

func (a *adminScene) inputAddClass(_ context.Context, c *Context, text string) error {
	names, prio, err := parseNames(text)
	if err != nil {
		return inputError(c, err)
	}
	for _, name := range names {
		if _, err := a.b.settings.AddClassification(name, prio); err != nil {
			return inputError(c, err)
		}
	}
	a.done(c)
	return a.show(c, "✅ Добавлено классификаций: "+strconv.Itoa(len(names)), a.classListScreen())
}

func (a *adminScene) askClassName(_ context.Context, c *Context, key string) error {
	return a.ask(c, "edit_class_name", key, 0,
		"Введите новое название. Через запятую можно сразу задать приоритет, например:\nДругое, 10",
		"select_classification_"+key)
}

func (a *adminScene) inputClassName(_ context.Context, c *Context, text string) error {
	key := c.Session.Admin.Target
	name, prio, explicit, err := parseNamePriority(text)
	if err != nil {
		return inputError(c, err)
	}
	if err := a.b.settings.RenameClassification(key, name); err != nil {
		return inputError(c, err)
	}
	if explicit {
		if err := a.b.settings.SetClassificationPriority(key, prio); err != nil {
			return inputError(c, err)
		}
	}
	a.done(c)
	return a.showClass(c, "✅ Классификация обновлена.", key)
}

func (a *adminScene) askClassPriority(_ context.Context, c *Context, key string) error {
	return a.ask(c, "edit_class_priority", key, 0, "Введите приоритет от 0 до 10.", "select_classification_"+key)
}

func (a *adminScene) inputClassPriority(_ context.Context, c *Context, text string) error {
	key := c.Session.Admin.Target
	p, err := settings.ParsePriority(text)
	if err == nil {
		err = a.b.settings.SetClassificationPriority(key, p)
	}
	if err != nil {
		return inputError(c, err)
	}
	a.done(c)
	return a.showClass(c, "✅ Приоритет обновлён.", key)
}

func (a *adminScene) confirmDeleteClass(_ context.Context, c *Context, key string) error {
	cl, ok := a.b.settings.Classification(key)
	if !ok {
		return a.show(c, "Классификация не найдена.", a.classListScreen())
	}
	return a.show(c, "", screen{
		text: fmt.Sprintf("Удалить классификацию «%s»?", cl.Name),
		kb: inlineRows(
			button("Да, удалить", "confirm_delete_classification_"+key),
			button("Отмена", "select_classification_"+key),
		),
	})
}

func (a *adminScene) deleteClass(_ context.Context, c *Context, key string) error {
	err := a.b.settings.DeleteClassification(key)
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		return err
	}
	return a.show(c, "✅ Классификация удалена.", a.classListScreen())
}
