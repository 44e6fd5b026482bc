package auth

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goinginblind/support-ticket-bot/internal/ratelimit"
)

type mockSender struct{ mock.Mock }

func (m *mockSender) SendCode(ctx context.Context, to, code string) error {
	args := m.Called(ctx, to, code)
	return args.Error(0)
}

type mockUsers struct{ mock.Mock }

func (m *mockUsers) SetEmail(ctx context.Context, telegramID int64, email string) error {
	args := m.Called(ctx, telegramID, email)
	return args.Error(0)
}

var (
	_ CodeSender  = (*mockSender)(nil)
	_ EmailWriter = (*mockUsers)(nil)
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestChallenge(sender *mockSender, users *mockUsers) (*Challenge, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	c := NewChallenge("@Corp.Example", sender, users, ratelimit.NewCooldown(CodeCooldown, clk.Now), zap.NewNop().Sugar())
	c.now = clk.Now
	codes := []string{"111111", "222222", "333333"}
	c.generate = func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}
	return c, clk
}

func TestStart_DomainAllowList(t *testing.T) {
	c, _ := newTestChallenge(new(mockSender), new(mockUsers))

	email, err := c.Start(" Ivan@CORP.example ")
	require.NoError(t, err)
	assert.Equal(t, "ivan@corp.example", email)

	_, err = c.Start("ivan@evil.example")
	assert.ErrorIs(t, err, ErrDomainNotAllowed)
	_, err = c.Start("ivan@sub.corp.example")
	assert.ErrorIs(t, err, ErrDomainNotAllowed)
	_, err = c.Start("not an email")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestIssue_RejectedEmailLeavesStateUntouched(t *testing.T) {
	sender := new(mockSender)
	c, _ := newTestChallenge(sender, new(mockUsers))

	st := &State{}
	assert.ErrorIs(t, c.Issue(context.Background(), 1, st, "x@evil.example"), ErrDomainNotAllowed)
	assert.Equal(t, State{}, *st)
	sender.AssertNotCalled(t, "SendCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestIssue_CooldownKeepsFirstCode(t *testing.T) {
	ctx := context.Background()
	sender := new(mockSender)
	sender.On("SendCode", ctx, "ivan@corp.example", "111111").Return(nil).Once()
	users := new(mockUsers)
	users.On("SetEmail", ctx, int64(1), "ivan@corp.example").Return(nil).Once()
	c, clk := newTestChallenge(sender, users)

	st := &State{}
	require.NoError(t, c.Issue(ctx, 1, st, "ivan@corp.example"))
	assert.True(t, st.Awaiting())
	assert.Equal(t, clk.Now(), st.LastSentAt)

	clk.Advance(30 * time.Second)
	err := c.Resend(ctx, 1, st)
	require.ErrorIs(t, err, ErrCooldown)
	var cd *CooldownError
	require.True(t, errors.As(err, &cd))
	assert.Equal(t, 90*time.Second, cd.Remaining)

	ok, err := c.Verify(ctx, 1, st, "111111")
	require.NoError(t, err)
	assert.True(t, ok)
	sender.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestResend_AfterCooldownReplacesCode(t *testing.T) {
	ctx := context.Background()
	sender := new(mockSender)
	sender.On("SendCode", ctx, "ivan@corp.example", mock.Anything).Return(nil).Twice()
	c, clk := newTestChallenge(sender, new(mockUsers))

	st := &State{}
	require.NoError(t, c.Issue(ctx, 1, st, "ivan@corp.example"))
	clk.Advance(CodeCooldown)
	require.NoError(t, c.Resend(ctx, 1, st))
	assert.Equal(t, "222222", st.ExpectedCode)

	ok, err := c.Verify(ctx, 1, st, "111111")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, st.Awaiting(), "неверный код не сбрасывает стейт")
}

func TestVerify_SucceedsOnce(t *testing.T) {
	ctx := context.Background()
	sender := new(mockSender)
	sender.On("SendCode", ctx, mock.Anything, mock.Anything).Return(nil)
	users := new(mockUsers)
	users.On("SetEmail", ctx, int64(5), "a@corp.example").Return(nil).Once()
	c, _ := newTestChallenge(sender, users)

	st := &State{}
	require.NoError(t, c.Issue(ctx, 5, st, "a@corp.example"))

	ok, err := c.Verify(ctx, 5, st, " 111111 ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, State{}, *st)

	ok, err = c.Verify(ctx, 5, st, "111111")
	assert.ErrorIs(t, err, ErrNoChallenge)
	assert.False(t, ok)
	users.AssertExpectations(t)
}

func TestIssue_SendFailure(t *testing.T) {
	ctx := context.Background()
	sender := new(mockSender)
	sender.On("SendCode", ctx, mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()
	sender.On("SendCode", ctx, mock.Anything, mock.Anything).Return(nil).Once()
	c, _ := newTestChallenge(sender, new(mockUsers))

	st := &State{}
	require.Error(t, c.Issue(ctx, 1, st, "a@corp.example"))
	assert.Equal(t, State{}, *st)

	// неудачная отправка не включает кулдаун
	require.NoError(t, c.Issue(ctx, 1, st, "a@corp.example"))
	assert.Equal(t, "222222", st.ExpectedCode)
}

func TestGenerateCode_Range(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}
