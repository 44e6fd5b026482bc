package bot

import (
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Тексты кнопок reply-клавиатур, по ним же матчим ввод
const (
	btnBack   = "Назад"
	btnCancel = "Отменить заполнение"
	btnDone   = "Готово"
)

// Коллбэки сцен визарда
const (
	cbCreateTicket  = "create_ticket"
	cbMyTickets     = "my_tickets"
	cbTicketsPrev   = "tickets_prev"
	cbTicketsNext   = "tickets_next"
	cbBackToWelcome = "back_to_welcome"
	cbManagerAdmin  = "manager_admin"
	cbStartTicket   = "start_ticket"
	cbCancel        = "cancel"
	cbAnonymous     = "anonymous"
	cbNonAnonymous  = "non_anonymous"
	cbResendCode    = "resend_code"
	cbCancelAuth    = "cancel_auth"
)

// longChoice: длинные названия не влезают по два в ряд
const longChoice = 30

// Глобальные клавиатуры
var (
	// `Главное меню`
	welcomeKeyboard = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Создать обращение", cbCreateTicket),
			tgbotapi.NewInlineKeyboardButtonData("Мои обращения", cbMyTickets),
		),
	)

	// То же меню, но с кнопкой в админку для менеджеров
	managerWelcomeKeyboard = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Создать обращение", cbCreateTicket),
			tgbotapi.NewInlineKeyboardButtonData("Мои обращения", cbMyTickets),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Управление", cbManagerAdmin),
		),
	)

	descriptionKeyboard = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🚀 Начать", cbStartTicket),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnCancel, cbCancel),
		),
	)

	ticketTypeKeyboard = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Анонимная", cbAnonymous),
			tgbotapi.NewInlineKeyboardButtonData("Не анонимная", cbNonAnonymous),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnCancel, cbCancel),
		),
	)

	authCancelKeyboard = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Отмена", cbCancelAuth),
		),
	)

	authCodeKeyboard = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Отправить повторно", cbResendCode),
			tgbotapi.NewInlineKeyboardButtonData("Отмена", cbCancelAuth),
		),
	)

	// `Готово / Назад / Отмена` пока юзер пишет описание и кидает файлы
	reportKeyboard = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnDone)),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnBack),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)

	removeKeyboard = tgbotapi.NewRemoveKeyboard(true)
)

// pickerKeyboard: по две кнопки в ряд, внизу Назад и Отмена.
// Названия длиннее longChoice символов идут отдельной строкой.
func pickerKeyboard(names []string) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	var row []tgbotapi.KeyboardButton
	flush := func() {
		if len(row) > 0 {
			rows = append(rows, row)
			row = nil
		}
	}
	for _, name := range names {
		if utf8.RuneCountInString(name) > longChoice {
			flush()
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(name)))
			continue
		}
		row = append(row, tgbotapi.NewKeyboardButton(name))
		if len(row) == 2 {
			flush()
		}
	}
	flush()
	rows = append(rows,
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnBack)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancel)),
	)
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	return kb
}

// inlineRows: по одной кнопке в строке, для списков в админке.
func inlineRows(buttons ...tgbotapi.InlineKeyboardButton) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(b))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func button(text, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}
