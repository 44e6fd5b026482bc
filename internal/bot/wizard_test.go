package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goinginblind/support-ticket-bot/internal/events"
	"github.com/goinginblind/support-ticket-bot/internal/repo"
	"github.com/goinginblind/support-ticket-bot/internal/session"
	"github.com/goinginblind/support-ticket-bot/internal/ticket"
)

type recordedEvent struct {
	name     string
	ticketID uint
	payload  map[string]any
	// lastReply: что юзер видел в момент публикации
	lastReply string
}

type eventRecorder struct {
	events    []recordedEvent
	lastReply func() string
}

func (r *eventRecorder) Publish(_ context.Context, event string, ticketID uint, payload map[string]any) {
	e := recordedEvent{name: event, ticketID: ticketID, payload: payload}
	if r.lastReply != nil {
		e.lastReply = r.lastReply()
	}
	r.events = append(r.events, e)
}

// flakyTickets: первые fails вызовов Submit падают.
type flakyTickets struct {
	repo.TicketRepository
	fails int
}

func (f *flakyTickets) Submit(ctx context.Context, id repo.Identity, sub *ticket.Submission) (uint, error) {
	if f.fails > 0 {
		f.fails--
		return 0, errors.New("could not serialize access")
	}
	return f.TicketRepository.Submit(ctx, id, sub)
}

// toReport проводит юзера анонимно до шага описания.
func toReport(h *harness, org, branch, class string) {
	h.text(userID, "/start")
	h.press(userID, cbCreateTicket)
	h.press(userID, cbStartTicket)
	h.press(userID, cbAnonymous)
	h.text(userID, org)
	if branch != "" {
		h.text(userID, branch)
	}
	h.text(userID, class)
}

func documentUpdate(from int64, doc *tgbotapi.Document, caption string) tgbotapi.Update {
	upd := textUpdate(from, "")
	upd.Message.Document = doc
	upd.Message.Caption = caption
	return upd
}

func TestWizard_AnonymousTicketEndToEnd(t *testing.T) {
	rec := &eventRecorder{}
	h := newHarness(t, botConfig, func(d *Deps) { d.Events = rec })
	rec.lastReply = h.tg.last

	h.text(userID, "/start")
	h.press(userID, cbCreateTicket)
	assert.Equal(t, session.SceneDescription, h.session(userID).Scene)

	h.press(userID, cbStartTicket)
	assert.Equal(t, session.SceneTicketType, h.session(userID).Scene)

	h.press(userID, cbAnonymous)
	s := h.session(userID)
	assert.Equal(t, session.SceneOrganization, s.Scene)
	assert.Equal(t, session.PhasePickOrganization, s.Phase)
	assert.Nil(t, s.Prompt, "inline menu is closed once the wizard leaves it")
	assert.Equal(t, "Выберите организацию:", h.tg.last())

	h.text(userID, "Acme")
	s = h.session(userID)
	assert.Equal(t, session.PhasePickBranch, s.Phase)
	require.NotNil(t, s.Picker)
	assert.Equal(t, []string{"North", "South"}, s.Picker.Branches)

	h.text(userID, "North")
	s = h.session(userID)
	assert.Equal(t, session.SceneClassification, s.Scene)
	assert.Nil(t, s.Picker)
	assert.Equal(t, []string{"Technical fault", "Other"}, s.Choices)

	h.text(userID, "Technical fault")
	assert.Equal(t, session.SceneReportIssue, h.session(userID).Scene)

	h.text(userID, "Pump broken")
	assert.Equal(t, "Описание добавлено. Если хотите прикрепить файлы или завершить, используйте кнопки.", h.tg.last())

	h.text(userID, btnDone)

	all, err := h.tickets.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	tk := all[0]
	assert.Equal(t, "Pump broken", tk.Message)
	assert.Equal(t, "Acme", tk.Organization)
	assert.Equal(t, "North", tk.Branch)
	assert.Equal(t, "Technical fault", tk.Classification)
	assert.True(t, tk.Anonymous)
	assert.Empty(t, tk.AuthorEmail)
	assert.False(t, tk.SentEmail)

	assert.True(t, h.tg.saw("успешно создано"))
	s = h.session(userID)
	assert.Equal(t, session.SceneWelcome, s.Scene)
	assert.Nil(t, s.Draft)
	assert.Equal(t, ticket.Selection{}, s.Selection)

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.TicketCreated, rec.events[0].name)
	assert.Equal(t, tk.ID, rec.events[0].ticketID)
	assert.Equal(t, true, rec.events[0].payload["anonymous"])
	assert.Contains(t, rec.events[0].lastReply, "успешно создано", "событие уходит после ответа юзеру")
}

func TestWizard_OrganizationWithoutBranches(t *testing.T) {
	h := newHarness(t, botConfig)
	h.text(userID, "/start")
	h.press(userID, cbCreateTicket)
	h.press(userID, cbStartTicket)
	h.press(userID, cbAnonymous)

	h.text(userID, "Beta")

	s := h.session(userID)
	assert.Equal(t, session.SceneClassification, s.Scene)
	assert.Equal(t, ticket.DefaultBranch, s.Selection.Branch)
	assert.Equal(t, "Beta", s.Selection.OrganizationName)
}

func TestWizard_RejectsUnknownChoices(t *testing.T) {
	h := newHarness(t, botConfig)
	h.text(userID, "/start")
	h.press(userID, cbCreateTicket)
	h.press(userID, cbStartTicket)
	h.press(userID, cbAnonymous)

	h.text(userID, "Globex")
	assert.Equal(t, "Пожалуйста, выберите организацию из списка.", h.tg.last())

	h.text(userID, "Acme")
	h.text(userID, "East")
	assert.Equal(t, "Пожалуйста, выберите филиал из списка.", h.tg.last())

	h.text(userID, "South")
	h.text(userID, "Billing")
	assert.Equal(t, "Пожалуйста, выберите классификацию из списка.", h.tg.last())
	assert.Equal(t, session.SceneClassification, h.session(userID).Scene)
}

func TestWizard_BackNavigation(t *testing.T) {
	h := newHarness(t, botConfig)
	toReport(h, "Acme", "North", "Other")
	require.Equal(t, session.SceneReportIssue, h.session(userID).Scene)

	h.text(userID, btnBack)
	s := h.session(userID)
	assert.Equal(t, session.SceneClassification, s.Scene)
	assert.Nil(t, s.Draft)

	h.text(userID, btnBack)
	assert.Equal(t, session.PhasePickOrganization, h.session(userID).Phase)

	h.text(userID, "Acme")
	h.text(userID, btnBack)
	s = h.session(userID)
	assert.Equal(t, session.SceneOrganization, s.Scene)
	assert.Equal(t, session.PhasePickOrganization, s.Phase)

	h.text(userID, btnBack)
	assert.Equal(t, session.SceneTicketType, h.session(userID).Scene)
	assert.True(t, h.tg.saw("Вы вернулись к выбору типа обращения."))
}

func TestWizard_CancelFromAnyStep(t *testing.T) {
	h := newHarness(t, botConfig)
	toReport(h, "Acme", "North", "Other")
	h.text(userID, "Half a description")

	h.text(userID, btnCancel)

	s := h.session(userID)
	assert.Equal(t, session.SceneWelcome, s.Scene)
	assert.Nil(t, s.Draft)
	assert.Equal(t, ticket.Selection{}, s.Selection)
	assert.True(t, h.tg.saw("Заполнение обращения было отменено."))
	all, err := h.tickets.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	toReport(h, "Acme", "North", "Other")
	h.text(userID, btnBack)
	h.tg.reset()
	h.text(userID, btnCancel)
	assert.Equal(t, session.SceneWelcome, h.session(userID).Scene)
	assert.True(t, h.tg.saw("Заполнение обращения было отменено."))

	h.press(userID, cbCreateTicket)
	h.press(userID, cbCancel)
	assert.Equal(t, session.SceneWelcome, h.session(userID).Scene)
}

func TestReport_SubmitFailureKeepsDraft(t *testing.T) {
	h := newHarness(t, botConfig, func(d *Deps) {
		d.Tickets = &flakyTickets{TicketRepository: d.Tickets, fails: 1}
	})
	toReport(h, "Beta", "", "Other")
	h.text(userID, "Pump broken")
	h.handle(documentUpdate(userID, &tgbotapi.Document{
		FileID: "doc1", FileName: "act.pdf", MimeType: "application/pdf", FileSize: 8,
	}, ""))

	h.text(userID, btnDone)

	assert.True(t, strings.HasPrefix(h.tg.last(), "Не удалось сохранить обращение."))
	s := h.session(userID)
	assert.Equal(t, session.SceneReportIssue, s.Scene)
	require.NotNil(t, s.Draft)
	assert.Equal(t, "Pump broken", s.Draft.Description)
	assert.Len(t, s.Draft.Files, 1)
	assert.Equal(t, "Beta", s.Selection.OrganizationName)

	h.text(userID, btnDone)

	assert.True(t, h.tg.saw("успешно создано"))
	all, err := h.tickets.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	files, err := h.tickets.Files(context.Background(), all[0].ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestReport_EmptyDescriptionIsRefused(t *testing.T) {
	h := newHarness(t, botConfig)
	toReport(h, "Beta", "", "Other")

	h.text(userID, btnDone)

	assert.Equal(t, "Пожалуйста, опишите проблему перед завершением.", h.tg.last())
	assert.Equal(t, session.SceneReportIssue, h.session(userID).Scene)
	all, err := h.tickets.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestReport_TooLongDescriptionKeepsDraft(t *testing.T) {
	h := newHarness(t, botConfig)
	toReport(h, "Beta", "", "Other")
	h.text(userID, "first line")

	h.text(userID, strings.Repeat("я", ticket.MaxDescriptionRunes))

	assert.True(t, strings.HasPrefix(h.tg.last(), "Описание слишком длинное"))
	assert.Equal(t, "first line", h.session(userID).Draft.Description)
}

func TestReport_AttachesDocument(t *testing.T) {
	h := newHarness(t, botConfig)
	toReport(h, "Beta", "", "Other")
	h.text(userID, "Акт во вложении")

	h.handle(documentUpdate(userID, &tgbotapi.Document{
		FileID: "doc1", FileName: "act.pdf", MimeType: "application/pdf", FileSize: 8,
	}, "подписанный акт"))

	assert.Equal(t, "Файл act.pdf добавлен с описанием: подписанный акт. Осталось 9 из 10 файлов.", h.tg.last())
	assert.Equal(t, []string{"https://api.telegram.org/file/bottoken/doc1"}, h.files.urls)

	h.text(userID, btnDone)

	all, err := h.tickets.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	files, err := h.tickets.Files(context.Background(), all[0].ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "1_act.pdf", files[0].Title)
	assert.Equal(t, "подписанный акт", files[0].Caption)
	assert.Equal(t, []byte("%PDF-1.4"), files[0].Data)
}

func TestReport_RejectsUnsupportedDocument(t *testing.T) {
	h := newHarness(t, botConfig)
	toReport(h, "Beta", "", "Other")

	h.handle(documentUpdate(userID, &tgbotapi.Document{
		FileID: "zip1", FileName: "logs.zip", MimeType: "application/zip", FileSize: 10,
	}, ""))

	assert.Equal(t, "Этот тип файла не поддерживается. Разрешены только PDF и документы Word.", h.tg.last())
	assert.Empty(t, h.files.urls, "unsupported file must not be downloaded")
	assert.Empty(t, h.session(userID).Draft.Files)
}

func TestReport_DownloadFailureKeepsDraft(t *testing.T) {
	h := newHarness(t, botConfig)
	toReport(h, "Beta", "", "Other")
	h.text(userID, "Pump broken")
	h.files.err = errors.New("connection reset")

	h.handle(documentUpdate(userID, &tgbotapi.Document{
		FileID: "doc1", FileName: "act.pdf", MimeType: "application/pdf", FileSize: 8,
	}, ""))

	assert.Equal(t, "Не удалось загрузить файл. Попробуйте отправить его ещё раз.", h.tg.last())
	s := h.session(userID)
	assert.Equal(t, session.SceneReportIssue, s.Scene)
	assert.Equal(t, "Pump broken", s.Draft.Description)
	assert.Empty(t, s.Draft.Files)
}

func TestReport_OversizedDownloadIsRefused(t *testing.T) {
	h := newHarness(t, botConfig)
	toReport(h, "Beta", "", "Other")
	h.files.err = errFileOverLimit

	h.handle(documentUpdate(userID, &tgbotapi.Document{
		FileID: "doc1", FileName: "act.pdf", MimeType: "application/pdf",
	}, ""))

	assert.Equal(t, "Файл слишком большой. Максимальный размер файла 20 МБ.", h.tg.last())
}

func TestIncomingAttachment_Kinds(t *testing.T) {
	photo := &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "small", FileSize: 1}, {FileID: "big", FileSize: 9}}}
	f, ok := incomingAttachment(photo)
	require.True(t, ok)
	assert.Equal(t, "big", f.fileID)
	assert.Equal(t, "big.jpg", f.name)
	assert.Equal(t, ticket.KindPhoto, f.kind)

	f, ok = incomingAttachment(&tgbotapi.Message{Video: &tgbotapi.Video{FileID: "v", MimeType: "video/quicktime"}})
	require.True(t, ok)
	assert.Equal(t, "v.quicktime", f.name)

	f, ok = incomingAttachment(&tgbotapi.Message{Voice: &tgbotapi.Voice{FileID: "vc", MimeType: "audio/ogg"}})
	require.True(t, ok)
	assert.Equal(t, "vc.ogg", f.name)
	assert.Equal(t, ticket.KindVoice, f.kind)

	f, ok = incomingAttachment(&tgbotapi.Message{VideoNote: &tgbotapi.VideoNote{FileID: "n"}})
	require.True(t, ok)
	assert.Equal(t, "n.mp4", f.name)

	_, ok = incomingAttachment(&tgbotapi.Message{Text: "hi"})
	assert.False(t, ok)
	_, ok = incomingAttachment(nil)
	assert.False(t, ok)
}

func TestEmailAuth_NonAnonymousTicket(t *testing.T) {
	h := newHarness(t, botConfig)
	h.text(userID, "/start")
	h.press(userID, cbCreateTicket)
	h.press(userID, cbStartTicket)
	h.press(userID, cbNonAnonymous)

	s := h.session(userID)
	require.Equal(t, session.SceneEmailAuth, s.Scene)
	assert.Equal(t, session.PhaseAwaitEmail, s.Phase)

	h.text(userID, "not-an-email")
	assert.True(t, strings.HasPrefix(h.tg.last(), "Неверный формат email"))

	h.text(userID, "ivan@gmail.com")
	assert.Equal(t, "Можно использовать только корпоративную почту @example.com.", h.tg.last())

	h.text(userID, "Ivan@Example.com")
	assert.Equal(t, "Код отправлен на ivan@example.com.\nПожалуйста, введите код для подтверждения:", h.tg.last())
	assert.Equal(t, session.PhaseAwaitCode, h.session(userID).Phase)

	h.press(userID, cbResendCode)
	assert.True(t, strings.HasPrefix(h.tg.last(), "Запросите код через"))

	h.text(userID, "000")
	assert.Equal(t, "Неверный код.", h.tg.last())

	h.text(userID, h.codes.last())
	s = h.session(userID)
	assert.Equal(t, session.SceneOrganization, s.Scene)
	assert.Nil(t, s.Auth)
	assert.Equal(t, "ivan@example.com", s.Selection.AuthorEmail)
	assert.True(t, h.tg.saw("Готово! Авторизация прошла успешно."))

	u, err := h.users.GetByTelegramID(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, u.HasEmail())
	assert.Equal(t, "ivan@example.com", *u.Email)

	h.text(userID, "Beta")
	h.text(userID, "Other")
	h.text(userID, "Не работает насос")
	h.text(userID, btnDone)

	all, err := h.tickets.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Anonymous)
	assert.Equal(t, "ivan@example.com", all[0].AuthorEmail)
}

func TestEmailAuth_SkipsWhenEmailKnown(t *testing.T) {
	h := newHarness(t, botConfig)
	h.text(userID, "/start")
	require.NoError(t, h.users.SetEmail(context.Background(), userID, "ivan@example.com"))

	h.press(userID, cbCreateTicket)
	h.press(userID, cbStartTicket)
	h.press(userID, cbNonAnonymous)

	s := h.session(userID)
	assert.Equal(t, session.SceneOrganization, s.Scene)
	assert.Equal(t, "ivan@example.com", s.Selection.AuthorEmail)
	assert.True(t, h.tg.saw("Авторизация уже выполнена.\nВаш email: ivan@example.com."))
	assert.Empty(t, h.codes.last())
}

func TestEmailAuth_CancelReturnsToTicketType(t *testing.T) {
	h := newHarness(t, botConfig)
	h.text(userID, "/start")
	h.press(userID, cbCreateTicket)
	h.press(userID, cbStartTicket)
	h.press(userID, cbNonAnonymous)
	h.text(userID, "ivan@example.com")

	h.press(userID, cbCancelAuth)

	s := h.session(userID)
	assert.Equal(t, session.SceneTicketType, s.Scene)
	assert.Nil(t, s.Auth)
	assert.True(t, h.tg.saw("Авторизация отменена."))
}
