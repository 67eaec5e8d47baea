package game_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/compquest/server/internal/domain"
	"github.com/compquest/server/internal/event"
	"github.com/compquest/server/internal/game"
	"github.com/compquest/server/internal/hub"
	"github.com/compquest/server/internal/session"
)

func TestService_EnsureRoundOpen(t *testing.T) {
	f := makeMatch(t)

	t.Run("opens an idle session", func(t *testing.T) {
		f.game.EnsureRoundOpen(f.ctx(), f.ss)

		questions := msgsOf[game.NewQuestionMessage](f.hub)
		require.Len(t, questions, 1)
		require.Equal(t, 1, questions[0].Index)
	})

	t.Run("rebroadcasts without restarting the clock", func(t *testing.T) {
		started := time.Now().Add(-10 * time.Second)
		f.ss.Mu.Lock()
		f.ss.Round.StartTime = started
		f.ss.Mu.Unlock()

		f.game.EnsureRoundOpen(f.ctx(), f.ss)

		f.ss.Mu.Lock()
		defer f.ss.Mu.Unlock()
		require.Equal(t, started, f.ss.Round.StartTime,
			"the first player's elapsed time must survive the second socket attaching")
		require.Len(t, msgsOf[game.NewQuestionMessage](f.hub), 2)
	})

	t.Run("resolved round stays closed", func(t *testing.T) {
		f.game.HandleAnswer(f.ctx(), f.ss, "alice", "B")
		f.flush()

		f.game.EnsureRoundOpen(f.ctx(), f.ss)

		require.Len(t, msgsOf[game.NewQuestionMessage](f.hub), 2)
	})
}

func TestService_HandleAnswer_FirstResolverWins(t *testing.T) {
	f := makeMatch(t)

	f.open()
	f.game.HandleAnswer(f.ctx(), f.ss, "alice", "B")
	f.game.HandleAnswer(f.ctx(), f.ss, "bob", "B") // late, silently dropped
	f.flush()

	snap := f.ss.Snapshot()
	require.Equal(t, int64(100), snap.Scores["alice"])
	require.Equal(t, int64(0), snap.Scores["bob"])
	require.Equal(t, 1, snap.Streaks["alice"])

	results := msgsOf[game.RoundResultMessage](f.hub)
	require.Len(t, results, 1, "a second resolving event must never produce a second result")
	require.Equal(t, "alice", results[0].Winner)
	require.True(t, results[0].Correct)
	require.Equal(t, int64(100), results[0].Scores["alice"])
}

func TestService_HandleAnswer_Incorrect(t *testing.T) {
	f := makeMatch(t)

	f.open()
	f.game.HandleAnswer(f.ctx(), f.ss, "alice", "A")
	f.flush()

	snap := f.ss.Snapshot()
	require.Equal(t, int64(0), snap.Scores["alice"], "no deduction from the answerer")
	require.Equal(t, 0, snap.Streaks["alice"])
	require.Equal(t, int64(20), snap.Scores["bob"], "opponent gets floor(100*0.2)")

	results := msgsOf[game.RoundResultMessage](f.hub)
	require.Len(t, results, 1)
	require.False(t, results[0].Correct)
}

func TestService_HandleAnswer_LetterOutOfRange(t *testing.T) {
	f := makeMatch(t)

	f.open()
	f.game.HandleAnswer(f.ctx(), f.ss, "alice", "Z")
	f.flush()

	snap := f.ss.Snapshot()
	require.Equal(t, int64(0), snap.Scores["alice"])
	require.Equal(t, int64(20), snap.Scores["bob"])

	results := msgsOf[game.RoundResultMessage](f.hub)
	require.Len(t, results, 1)
	require.False(t, results[0].Correct)
	require.Equal(t, "Z", results[0].Answer, "unmapped letters are echoed as the chosen answer")
}

func TestService_StreakRaisesMultiplier(t *testing.T) {
	f := makeMatch(t)

	f.open()
	f.game.HandleAnswer(f.ctx(), f.ss, "alice", "B")
	f.bothReady()
	f.flush()

	f.game.HandleAnswer(f.ctx(), f.ss, "alice", "B")
	f.flush()

	snap := f.ss.Snapshot()
	require.Equal(t, int64(210), snap.Scores["alice"], "100 + floor(100*1.1)")
	require.Equal(t, 2, snap.Streaks["alice"])
}

func TestService_HandleReady_DuplicateIgnored(t *testing.T) {
	f := makeMatch(t)

	f.open()
	f.game.HandleAnswer(f.ctx(), f.ss, "alice", "B")
	f.game.HandleReady(f.ctx(), f.ss, "alice")
	f.game.HandleReady(f.ctx(), f.ss, "alice")
	f.flush()

	require.Equal(t, 0, f.ss.Snapshot().CurrentIndex, "one player acknowledging twice must not advance the match")
	require.Empty(t, msgsOf[game.BothReadyMessage](f.hub))

	f.game.HandleReady(f.ctx(), f.ss, "bob")
	f.flush()

	require.Equal(t, 1, f.ss.Snapshot().CurrentIndex)
	require.Len(t, msgsOf[game.BothReadyMessage](f.hub), 1)
}

func TestService_HandleReveal(t *testing.T) {
	f := makeMatch(t)

	f.open()
	f.game.HandleReveal(f.ctx(), f.ss, "bob")
	f.flush()

	snap := f.ss.Snapshot()
	require.Equal(t, int64(100), snap.Scores["bob"], "reveal pays the flat base")
	require.Equal(t, 0, snap.Streaks["bob"], "reveal resets the activator's streak")
	require.True(t, snap.UsedReveal["bob"])

	results := msgsOf[game.RoundResultMessage](f.hub)
	require.Len(t, results, 1)
	require.Equal(t, "bob", results[0].Winner)
	require.True(t, results[0].Correct)
	require.True(t, results[0].UsedReveal)
	require.Equal(t, results[0].CorrectAnswer, results[0].Answer)

	// Consumed: a second activation on the next round is a no-op.
	f.bothReady()
	f.flush()
	f.game.HandleReveal(f.ctx(), f.ss, "bob")
	f.flush()

	snap = f.ss.Snapshot()
	require.Equal(t, int64(100), snap.Scores["bob"])
	require.Len(t, msgsOf[game.RoundResultMessage](f.hub), 1)

	// The other player's token is untouched.
	f.game.HandleReveal(f.ctx(), f.ss, "alice")
	f.flush()

	snap = f.ss.Snapshot()
	require.Equal(t, int64(100), snap.Scores["alice"])
	require.True(t, snap.UsedReveal["alice"])
}

func TestService_HandleReveal_ResetsLiveStreak(t *testing.T) {
	f := makeMatch(t)

	// Round 0: a correct answer starts a streak.
	f.open()
	f.game.HandleAnswer(f.ctx(), f.ss, "alice", "B")
	f.bothReady()
	f.flush()
	require.Equal(t, 1, f.ss.Snapshot().Streaks["alice"])

	// Round 1: revealing pays the flat base, never 1.1x, and breaks the
	// streak.
	f.game.HandleReveal(f.ctx(), f.ss, "alice")
	f.flush()

	snap := f.ss.Snapshot()
	require.Equal(t, int64(200), snap.Scores["alice"], "100 + flat 100, no multiplier")
	require.Equal(t, 0, snap.Streaks["alice"])

	results := msgsOf[game.RoundResultMessage](f.hub)
	require.Len(t, results, 2)
	require.True(t, results[1].UsedReveal)
	require.Equal(t, 0, results[1].Streaks["alice"])

	// The streak restarts from scratch on the next correct answer.
	f.bothReady()
	f.flush()
	f.game.HandleAnswer(f.ctx(), f.ss, "alice", "B")
	f.flush()

	snap = f.ss.Snapshot()
	require.Equal(t, int64(300), snap.Scores["alice"], "base only again at streak 0")
	require.Equal(t, 1, snap.Streaks["alice"])
}

func TestService_HandleSwap_Success(t *testing.T) {
	f := makeMatch(t)

	f.ss.Mu.Lock()
	originalIDs := f.ss.QuestionIDs()
	f.ss.Mu.Unlock()

	f.open()
	f.game.HandleSwap(f.ctx(), f.ss, "alice")
	f.flush()

	f.ss.Mu.Lock()
	replacement := f.ss.Questions[0]
	f.ss.Mu.Unlock()
	require.NotContains(t, originalIDs, replacement.QuestionID,
		"the replacement must not repeat any question assigned to the match")

	snap := f.ss.Snapshot()
	require.True(t, snap.UsedSwap["alice"])
	require.Equal(t, int64(0), snap.Scores["alice"], "swap touches no scores")
	require.Equal(t, int64(0), snap.Scores["bob"])
	require.Equal(t, 0, snap.CurrentIndex)

	require.Len(t, msgsOf[game.SwapUsedMessage](f.hub), 1)
	questions := msgsOf[game.NewQuestionMessage](f.hub)
	require.Len(t, questions, 2, "the round re-opens with a fresh broadcast")
	require.Equal(t, replacement.Prompt, questions[1].Question.Prompt)

	// The re-opened round resolves normally.
	f.game.HandleAnswer(f.ctx(), f.ss, "bob", "B")
	f.flush()
	require.Equal(t, int64(100), f.ss.Snapshot().Scores["bob"])
}

func TestService_HandleSwap_NoReplacement(t *testing.T) {
	f := makeMatch(t)
	f.src.setEmpty(true)

	f.open()
	f.game.HandleSwap(f.ctx(), f.ss, "alice")
	f.flush()

	snap := f.ss.Snapshot()
	require.False(t, snap.UsedSwap["alice"], "a failed swap keeps the one-shot token")
	require.Equal(t, int64(0), snap.Scores["alice"])
	require.Equal(t, 0, snap.CurrentIndex)

	require.Empty(t, msgsOf[game.SwapUsedMessage](f.hub))
	require.Len(t, f.hub.directTo("alice"), 1, "only the requester hears about the failure")
	_, ok := f.hub.directTo("alice")[0].(game.SwapFailedMessage)
	require.True(t, ok)

	// The round is untouched and still open.
	f.game.HandleAnswer(f.ctx(), f.ss, "bob", "B")
	f.flush()
	require.Equal(t, int64(100), f.ss.Snapshot().Scores["bob"])
}

func TestService_FullMatch(t *testing.T) {
	f := makeMatch(t)

	f.open()
	for i := 0; i < session.TotalQuestions; i++ {
		f.game.HandleAnswer(f.ctx(), f.ss, "alice", "B")
		f.bothReady()
		f.flush()
	}

	// 4x100-130, then 280..340, then 720+760 with the growing streak.
	const want = int64(3180)

	require.Len(t, f.sink.results(), 1, "the sink is invoked exactly once")
	saved := f.sink.results()[0]
	require.Equal(t, f.ss.ID, saved.SessionID)
	require.Len(t, saved.QuestionIDs, session.TotalQuestions)

	byName := make(map[string]domain.PlayerResult)
	for _, p := range saved.Players {
		byName[p.Name] = p
	}
	require.Equal(t, want, byName["alice"].Score)
	require.True(t, byName["alice"].Won)
	require.Equal(t, int64(0), byName["bob"].Score)
	require.False(t, byName["bob"].Won)

	overs := msgsOf[game.GameOverMessage](f.hub)
	require.Len(t, overs, 1)
	require.Equal(t, want, overs[0].FinalScores["alice"], "persisted and broadcast scores must match")
	require.Equal(t, []string{"alice"}, overs[0].Winners)
	require.False(t, overs[0].IsTie)

	// The match is over: nothing mutates it anymore.
	f.game.HandleAnswer(f.ctx(), f.ss, "bob", "B")
	f.flush()
	require.Equal(t, int64(0), f.ss.Snapshot().Scores["bob"])
}

func TestService_FullMatch_Tie(t *testing.T) {
	f := makeMatch(t)

	// Round 0: alice correct, round 1: bob correct, then alternating
	// wrong answers so consolation points stay symmetric.
	plays := []struct {
		player string
		letter string
	}{
		{"alice", "B"}, {"bob", "B"},
		{"alice", "A"}, {"bob", "A"},
		{"alice", "A"}, {"bob", "A"},
		{"alice", "A"}, {"bob", "A"},
		{"alice", "A"}, {"bob", "A"},
	}

	f.open()
	for _, p := range plays {
		f.game.HandleAnswer(f.ctx(), f.ss, p.player, p.letter)
		f.bothReady()
		f.flush()
	}

	overs := msgsOf[game.GameOverMessage](f.hub)
	require.Len(t, overs, 1)
	require.Equal(t, int64(280), overs[0].FinalScores["alice"])
	require.Equal(t, int64(280), overs[0].FinalScores["bob"])
	require.True(t, overs[0].IsTie)
	require.ElementsMatch(t, []string{"alice", "bob"}, overs[0].Winners)

	for _, p := range f.sink.results()[0].Players {
		require.True(t, p.Won, "both players win a draw")
	}
}

func TestService_SinkFailureDoesNotBlockGameOver(t *testing.T) {
	f := makeMatch(t)
	f.sink.setErr(fmt.Errorf("history database is down"))

	f.open()
	for i := 0; i < session.TotalQuestions; i++ {
		f.game.HandleAnswer(f.ctx(), f.ss, "alice", "B")
		f.bothReady()
		f.flush()
	}

	require.Len(t, msgsOf[game.GameOverMessage](f.hub), 1,
		"losing the history record must not swallow the final broadcast")
}

// --- fixture ---

type fixture struct {
	t    *testing.T
	game *game.Service
	hub  *fakeHub
	sink *stubSink
	src  *stubSource
	ss   *session.Session
}

func makeMatch(t *testing.T) *fixture {
	src := &stubSource{}
	reg := session.NewService(session.Config{Source: src})

	ss, err := reg.Create(context.Background(), "alice")
	require.NoError(t, err)
	_, err = reg.Join(context.Background(), ss.ID, "bob")
	require.NoError(t, err)

	f := &fixture{
		t:    t,
		hub:  &fakeHub{},
		sink: &stubSink{},
		src:  src,
		ss:   ss,
	}
	f.game = game.NewService(game.Config{
		Hub:          f.hub,
		Source:       src,
		Results:      f.sink,
		EventBus:     event.NewBus(),
		ResultDelay:  time.Millisecond,
		AdvanceDelay: time.Millisecond,
	})
	return f
}

func (f *fixture) ctx() context.Context { return context.Background() }

func (f *fixture) open() {
	f.game.OpenRound(f.ctx(), f.ss)
}

func (f *fixture) bothReady() {
	f.game.HandleReady(f.ctx(), f.ss, "alice")
	f.game.HandleReady(f.ctx(), f.ss, "bob")
}

// flush waits out the deferred pacing broadcasts so assertions see a settled
// session.
func (f *fixture) flush() {
	f.game.Stop()
}

// --- fakes ---

type fakeHub struct {
	mu         sync.Mutex
	broadcasts []any
	direct     map[string][]any
}

func (h *fakeHub) Broadcast(_ context.Context, _ string, msg any) []hub.Delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasts = append(h.broadcasts, msg)
	return nil
}

func (h *fakeHub) SendTo(_ context.Context, _ string, player string, msg any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.direct == nil {
		h.direct = make(map[string][]any)
	}
	h.direct[player] = append(h.direct[player], msg)
	return nil
}

func (h *fakeHub) all() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.broadcasts...)
}

func (h *fakeHub) directTo(player string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.direct[player]...)
}

func msgsOf[T any](h *fakeHub) []T {
	var out []T
	for _, m := range h.all() {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type stubSource struct {
	mu     sync.Mutex
	serial int
	empty  bool
}

func (s *stubSource) setEmpty(v bool) {
	s.mu.Lock()
	s.empty = v
	s.mu.Unlock()
}

// SampleByTier fabricates questions on demand; option B is always correct.
func (s *stubSource) SampleByTier(_ context.Context, tier domain.Tier, count int, exclude []string) ([]domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.empty {
		return nil, nil
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	var qs []domain.Question
	for len(qs) < count {
		s.serial++
		id := fmt.Sprintf("%s-%d", tier, s.serial)
		if _, ok := excluded[id]; ok {
			continue
		}
		qs = append(qs, domain.Question{
			QuestionID:  id,
			Prompt:      "prompt " + id,
			Hint:        "hint " + id,
			Explanation: "explanation " + id,
			Options: []domain.Option{
				{Text: "first " + id},
				{Text: "second " + id, Correct: true},
				{Text: "third " + id},
				{Text: "fourth " + id},
			},
		})
	}
	return qs, nil
}

type stubSink struct {
	mu    sync.Mutex
	saved []domain.MatchResult
	err   error
}

func (s *stubSink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubSink) SaveMatch(_ context.Context, res domain.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, res)
	return nil
}

func (s *stubSink) results() []domain.MatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MatchResult(nil), s.saved...)
}
