// Package export: выгрузка обращений в xlsx для админки.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/goinginblind/support-ticket-bot/internal/model"
)

const sheetName = "Обращения"

var headers = []string{"ID", "Создано", "Организация", "Филиал", "Классификация", "Анонимное", "Email автора", "Telegram ID", "Username", "Отправлено", "Текст"}

// Tickets формирует xlsx со всеми тикетами. Автор анонимных не выгружается.
func Tickets(tickets []model.Ticket) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	wrapStyle, _ := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, h)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheetName, "A1", lastHeader, headerStyle)
	_ = f.SetPanes(sheetName, &excelize.Panes{Freeze: true, Split: true, XSplit: 0, YSplit: 1})

	for r, t := range tickets {
		row := r + 2
		values := []any{
			t.ID,
			t.CreatedAt.Format("2006-01-02 15:04:05"),
			t.Organization,
			t.Branch,
			t.Classification,
			yesNo(t.Anonymous),
			"", "", "",
			yesNo(t.SentEmail),
			t.Message,
		}
		if !t.Anonymous {
			values[6] = t.AuthorEmail
			if t.User != nil {
				values[7] = t.User.IDTelegram
				values[8] = t.User.Username
			}
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, row)
			f.SetCellValue(sheetName, cell, v)
		}
	}
	if len(tickets) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(headers), len(tickets)+1)
		_ = f.SetCellStyle(sheetName, "K2", last, wrapStyle)
	}
	_ = f.SetColWidth(sheetName, "K", "K", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf, nil
}

func yesNo(b bool) string {
	if b {
		return "да"
	}
	return "нет"
}
