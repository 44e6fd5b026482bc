package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/goinginblind/support-ticket-bot/internal/model"
	"github.com/goinginblind/support-ticket-bot/internal/ticket"
)

func sampleSubmission(t *testing.T, withFiles bool) *ticket.Submission {
	t.Helper()
	d := ticket.NewDraft()
	require.NoError(t, d.AppendDescription("Pump broken"))
	if withFiles {
		require.NoError(t, d.AddAttachment(ticket.Attachment{Name: "pump.jpg", Kind: ticket.KindPhoto, Data: []byte("jpeg"), Caption: "gate 3"}))
		require.NoError(t, d.AddAttachment(ticket.Attachment{Name: "act.pdf", Kind: ticket.KindDocument, MimeType: "application/pdf", Data: []byte("%PDF-")}))
	}
	sub, err := d.Finalize(100, ticket.Selection{
		TicketType:       ticket.TypeNonAnonymous,
		AuthorEmail:      "ivan@corp.example",
		OrganizationKey:  "org_a",
		OrganizationName: "Acme",
		Branch:           "North",
		Classification:   "Technical fault",
	})
	require.NoError(t, err)
	return sub
}

func TestTicketRepository_Submit(t *testing.T) {
	db := newTestDB(t)
	r := NewTicketRepository(db)
	ctx := context.Background()

	id, err := r.Submit(ctx, Identity{TelegramID: 100, Username: "ivan"}, sampleSubmission(t, true))
	require.NoError(t, err)
	assert.NotZero(t, id)

	var got model.Ticket
	require.NoError(t, db.Preload("Files").First(&got, id).Error)
	assert.Equal(t, "Pump broken", got.Message)
	assert.Equal(t, "Acme", got.Organization)
	assert.Equal(t, "North", got.Branch)
	assert.Equal(t, "Technical fault", got.Classification)
	assert.False(t, got.Anonymous)
	assert.Equal(t, "ivan@corp.example", got.AuthorEmail)
	assert.False(t, got.SentEmail)
	require.Len(t, got.Files, 2)
	assert.Equal(t, "1_pump.jpg", got.Files[0].Title)
	assert.Equal(t, "jpg", got.Files[0].Extension)
	assert.Equal(t, []byte("jpeg"), got.Files[0].Data)
	assert.Equal(t, "gate 3", got.Files[0].Caption)

	size, err := r.AttachmentSize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(len("jpeg")+len("%PDF-")), size)
}

func TestTicketRepository_SubmitRollsBackOnFileFailure(t *testing.T) {
	db := newTestDB(t)
	r := NewTicketRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_files", func(tx *gorm.DB) {
		if tx.Statement.Table == "files" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	_, err := r.Submit(ctx, Identity{TelegramID: 100}, sampleSubmission(t, true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	var tickets, users int64
	db.Model(&model.Ticket{}).Count(&tickets)
	db.Model(&model.User{}).Count(&users)
	assert.Zero(t, tickets)
	assert.Zero(t, users, "юзер из той же транзакции тоже откатывается")
}

func TestTicketRepository_AnonymousHidesAuthor(t *testing.T) {
	db := newTestDB(t)
	r := NewTicketRepository(db)

	sub := sampleSubmission(t, false)
	sub.Selection.TicketType = ticket.TypeAnonymous
	id, err := r.Submit(context.Background(), Identity{TelegramID: 1}, sub)
	require.NoError(t, err)

	var got model.Ticket
	require.NoError(t, db.First(&got, id).Error)
	assert.True(t, got.Anonymous)
	assert.Empty(t, got.AuthorEmail)
}

func TestTicketRepository_PendingAndMarkSent(t *testing.T) {
	db := newTestDB(t)
	r := NewTicketRepository(db)
	ctx := context.Background()

	first, err := r.Submit(ctx, Identity{TelegramID: 1}, sampleSubmission(t, false))
	require.NoError(t, err)
	second, err := r.Submit(ctx, Identity{TelegramID: 2}, sampleSubmission(t, true))
	require.NoError(t, err)

	pending, err := r.ListPending(ctx, 0, 50)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	require.NotNil(t, pending[0].User)
	assert.Equal(t, int64(1), pending[0].User.IDTelegram)

	ok, err := r.MarkSent(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.MarkSent(ctx, first)
	require.NoError(t, err)
	assert.False(t, ok, "повторная отметка ничего не меняет")

	pending, err = r.ListPending(ctx, 0, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)

	after, err := r.ListPending(ctx, second, 50)
	require.NoError(t, err)
	assert.Empty(t, after, "курсор отсекает уже просмотренные")

	files, err := r.Files(ctx, second)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	size, err := r.AttachmentSize(ctx, first)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestTicketRepository_UserListing(t *testing.T) {
	db := newTestDB(t)
	r := NewTicketRepository(db)
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 3; i++ {
		id, err := r.Submit(ctx, Identity{TelegramID: 5}, sampleSubmission(t, false))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := r.Submit(ctx, Identity{TelegramID: 6}, sampleSubmission(t, false))
	require.NoError(t, err)

	mine, err := r.IDsByUser(ctx, 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, mine)

	sums, err := r.Summaries(ctx, []uint{ids[2], ids[0]})
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, ids[2], sums[0].ID)
	assert.Equal(t, ids[0], sums[1].ID)
	assert.Equal(t, "Pump broken", sums[0].Message)

	all, err := r.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
