package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goinginblind/support-ticket-bot/internal/auth"
	"github.com/goinginblind/support-ticket-bot/internal/ticket"
)

func fullSession(t *testing.T) *Session {
	t.Helper()
	d := ticket.NewDraft()
	require.NoError(t, d.AppendDescription("Pump broken"))
	require.NoError(t, d.AddAttachment(ticket.Attachment{
		Name: "pump.jpg", Kind: ticket.KindPhoto, Data: bytes.Repeat([]byte("a"), 64<<10),
	}))
	return &Session{
		Scene: SceneReportIssue,
		User:  &UserRef{ID: 3, RoleID: 1, Email: "ivan@corp.example"},
		Draft: d,
		Auth: &auth.State{
			PendingEmail: "ivan@corp.example",
			ExpectedCode: "123456",
			LastSentAt:   time.Date(2025, 3, 10, 9, 0, 0, 123, time.UTC),
		},
		Selection: ticket.Selection{TicketType: ticket.TypeAnonymous, OrganizationName: "Acme", Branch: "North"},
		Prompt:    &Prompt{ChatID: 1, MessageID: 55, Text: "hi"},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	s := fullSession(t)

	raw, err := Encode(s)
	require.NoError(t, err)
	assert.Equal(t, markerZstd, raw[0])
	assert.Less(t, len(raw), 64<<10, "повторяющиеся байты должны сжаться")

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, s.Scene, got.Scene)
	assert.Equal(t, s.Draft.Files[0].Data, got.Draft.Files[0].Data)
	assert.Equal(t, s.Draft.TotalSize, got.Draft.TotalSize)
	assert.True(t, s.Auth.LastSentAt.Equal(got.Auth.LastSentAt))
	assert.Equal(t, s.Selection, got.Selection)

	small, err := Encode(New())
	require.NoError(t, err)
	assert.Equal(t, markerRaw, small[0])
	back, err := Decode(small)
	require.NoError(t, err)
	assert.Equal(t, SceneWelcome, back.Scene)
}

func TestCodec_Corrupt(t *testing.T) {
	for _, raw := range [][]byte{nil, {'R'}, []byte("Xgarbage"), []byte("Rnot-cbor"), []byte("Zbroken-zstd")} {
		_, err := Decode(raw)
		assert.ErrorIs(t, err, ErrCorrupt, "%q", raw)
	}
}

func TestSession_PhaseAccessors(t *testing.T) {
	s := New()
	assert.False(t, s.AwaitingEmail())
	assert.False(t, s.AwaitingCode())

	s.Scene, s.Phase = SceneEmailAuth, PhaseAwaitCode
	assert.False(t, s.AwaitingCode(), "без выданного кода ждать нечего")
	s.Auth = &auth.State{ExpectedCode: "111111"}
	assert.True(t, s.AwaitingCode())

	s.ResetWizard()
	assert.Nil(t, s.Auth)
	assert.Equal(t, PhaseNone, s.Phase)
}

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rs := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	ms, err := NewMemoryStore(context.Background(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rs.Close()
		_ = ms.Close()
	})
	return map[string]Store{"redis": rs, "memory": ms}
}

func TestStores_LoadSaveDelete(t *testing.T) {
	for name, st := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{ChatID: 10, UserID: 20}

			got, err := st.Load(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, st.Save(ctx, key, fullSession(t)))
			got, err = st.Load(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, SceneReportIssue, got.Scene)

			other, err := st.Load(ctx, Key{ChatID: 10, UserID: 21})
			require.NoError(t, err)
			assert.Nil(t, other)

			require.NoError(t, st.Delete(ctx, key))
			require.NoError(t, st.Delete(ctx, key))
			got, err = st.Load(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, got)
			assert.NoError(t, st.Ping(ctx))
		})
	}
}

func TestStores_History(t *testing.T) {
	for name, st := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 12; i++ {
				require.NoError(t, st.AppendHistory(ctx, 5, string(rune('a'+i))))
			}
			hist, err := st.History(ctx, 5)
			require.NoError(t, err)
			require.Len(t, hist, 10)
			assert.Equal(t, "c", hist[0])
			assert.Equal(t, "l", hist[9])
		})
	}
}

func TestRedisStore_TTLAndCorruptRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	rs := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 3*time.Hour)
	ctx := context.Background()
	key := Key{ChatID: 1, UserID: 2}

	require.NoError(t, rs.Save(ctx, key, New()))
	assert.Equal(t, 3*time.Hour, mr.TTL("tg:sess:1:2"))

	mr.FastForward(3*time.Hour + time.Second)
	got, err := rs.Load(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, mr.Set("tg:sess:1:2", "garbage"))
	_, err = rs.Load(ctx, key)
	assert.ErrorIs(t, err, ErrCorrupt)
}
