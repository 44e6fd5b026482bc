package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/goinginblind/support-ticket-bot/internal/model"
)

func TestTickets(t *testing.T) {
	created := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	buf, err := Tickets([]model.Ticket{
		{ID: 2, CreatedAt: created, Organization: "Acme", Branch: "North", Classification: "Technical fault",
			AuthorEmail: "ivan@corp.example", Message: "Pump broken", SentEmail: true,
			User: &model.User{IDTelegram: 100, Username: "ivan"}},
		{ID: 1, CreatedAt: created, Organization: "Beta", Anonymous: true, AuthorEmail: "hidden@corp.example",
			Message: "Anon", User: &model.User{IDTelegram: 200}},
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])

	assert.Equal(t, "2", rows[1][0])
	assert.Equal(t, "2025-03-10 12:00:00", rows[1][1])
	assert.Equal(t, "ivan@corp.example", rows[1][6])
	assert.Equal(t, "100", rows[1][7])
	assert.Equal(t, "да", rows[1][9])
	assert.Equal(t, "Pump broken", rows[1][10])

	assert.Equal(t, "да", rows[2][5])
	assert.Empty(t, rows[2][6])
	assert.Empty(t, rows[2][7])
}
