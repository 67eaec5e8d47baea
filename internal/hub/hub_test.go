package hub_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compquest/server/internal/hub"
)

func TestService_Broadcast(t *testing.T) {
	s := hub.NewService()

	alice := &fakeSender{}
	bob := &fakeSender{}
	s.Register("s1", "alice", alice)
	s.Register("s1", "bob", bob)

	report := s.Broadcast(context.Background(), "s1", "hello")

	require.Len(t, report, 2)
	for _, d := range report {
		assert.NoError(t, d.Err)
	}
	assert.Equal(t, []any{"hello"}, alice.sent())
	assert.Equal(t, []any{"hello"}, bob.sent())
}

func TestService_Broadcast_FailedSendDoesNotBlockOthers(t *testing.T) {
	s := hub.NewService()

	alice := &fakeSender{err: fmt.Errorf("connection gone")}
	bob := &fakeSender{}
	s.Register("s1", "alice", alice)
	s.Register("s1", "bob", bob)

	report := s.Broadcast(context.Background(), "s1", "hello")

	require.Len(t, report, 2)
	byPlayer := make(map[string]error, len(report))
	for _, d := range report {
		byPlayer[d.Player] = d.Err
	}
	assert.Error(t, byPlayer["alice"])
	assert.NoError(t, byPlayer["bob"])
	assert.Equal(t, []any{"hello"}, bob.sent())
}

func TestService_Broadcast_UnknownSession(t *testing.T) {
	s := hub.NewService()

	report := s.Broadcast(context.Background(), "nope", "hello")
	assert.Empty(t, report)
}

func TestService_SendTo(t *testing.T) {
	s := hub.NewService()

	alice := &fakeSender{}
	s.Register("s1", "alice", alice)

	require.NoError(t, s.SendTo(context.Background(), "s1", "alice", "psst"))
	assert.Equal(t, []any{"psst"}, alice.sent())

	// A player without a handle is a silent no-op.
	require.NoError(t, s.SendTo(context.Background(), "s1", "bob", "psst"))
}

func TestService_Register_ReplacesHandle(t *testing.T) {
	s := hub.NewService()

	old := &fakeSender{}
	fresh := &fakeSender{}
	s.Register("s1", "alice", old)
	s.Register("s1", "alice", fresh)

	s.Broadcast(context.Background(), "s1", "hello")

	assert.Empty(t, old.sent(), "a reconnect detaches the stale handle")
	assert.Equal(t, []any{"hello"}, fresh.sent())
}

func TestService_Unregister(t *testing.T) {
	s := hub.NewService()

	alice := &fakeSender{}
	bob := &fakeSender{}
	s.Register("s1", "alice", alice)
	s.Register("s1", "bob", bob)

	s.Unregister("s1", "alice")

	assert.Equal(t, []string{"bob"}, s.Connected("s1"))

	s.Broadcast(context.Background(), "s1", "hello")
	assert.Empty(t, alice.sent())
	assert.Equal(t, []any{"hello"}, bob.sent())

	s.Unregister("s1", "bob")
	assert.Empty(t, s.Connected("s1"))
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	msgs []any
}

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, v)
	return nil
}

func (f *fakeSender) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.msgs...)
}
