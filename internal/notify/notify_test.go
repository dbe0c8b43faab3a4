package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubSender struct {
	name  string
	err   error
	calls int
}

func (s *stubSender) Send(context.Context, string, string) error {
	s.calls++
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func TestNotifierFilter(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{" withdrawal_processed ", ""}, discard)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "investment_created", "t", "m"))
	assert.Zero(t, s.calls)
	require.NoError(t, n.Notify(ctx, "withdrawal_processed", "t", "m"))
	require.NoError(t, n.NotifyAll(ctx, "t", "m"))
	assert.Equal(t, 2, s.calls)
}

func TestNotifierEmptyFilterPassesAll(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, discard)
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Equal(t, 1, s.calls)
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, discard).Enabled())
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &stubSender{name: "bad", err: boom}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard)

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, good.calls)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Withdrawal processed", "pool P"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Withdrawal processed*\npool P", got["text"])
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}
