package game

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/compquest/server/internal/domain"
	"github.com/compquest/server/internal/event"
	"github.com/compquest/server/internal/hub"
	"github.com/compquest/server/internal/session"
)

const (
	defaultResultDelay  = 1500 * time.Millisecond
	defaultAdvanceDelay = 2 * time.Second
)

// Broadcaster delivers outbound events to a session's players. Implemented
// by the hub.
type Broadcaster interface {
	Broadcast(ctx context.Context, sessionID string, msg any) []hub.Delivery
	SendTo(ctx context.Context, sessionID, player string, msg any) error
}

// ResultSink persists the final outcome of a match.
type ResultSink interface {
	SaveMatch(ctx context.Context, res domain.MatchResult) error
}

type Config struct {
	Hub      Broadcaster
	Source   session.QuestionSource
	Results  ResultSink
	EventBus *event.Bus

	// Pacing before the round_result broadcast and before advancing to the
	// next question. Zero means the defaults (1.5s / 2s).
	ResultDelay  time.Duration
	AdvanceDelay time.Duration
}

// Service drives the round state machine of every session:
// idle -> open -> resolved -> open ... -> game over. All transitions run
// under the session mutex, so the first resolving event wins and every
// later one for the same round is ignored.
type Service struct {
	hub     Broadcaster
	source  session.QuestionSource
	results ResultSink
	eb      *event.Bus

	resultDelay  time.Duration
	advanceDelay time.Duration

	wg sync.WaitGroup
}

func NewService(c Config) *Service {
	s := &Service{
		hub:          c.Hub,
		source:       c.Source,
		results:      c.Results,
		eb:           c.EventBus,
		resultDelay:  c.ResultDelay,
		advanceDelay: c.AdvanceDelay,
	}
	if s.resultDelay == 0 {
		s.resultDelay = defaultResultDelay
	}
	if s.advanceDelay == 0 {
		s.advanceDelay = defaultAdvanceDelay
	}
	return s
}

// Stop waits for pending deferred broadcasts and advancements to finish.
func (g *Service) Stop() {
	g.wg.Wait()
}

// after schedules fn once d elapses. Deferred actions survive the caller's
// request context and are never cancelled, matching the pacing model: a
// player disconnecting during a pending delay does not interrupt it.
func (g *Service) after(ctx context.Context, d time.Duration, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		time.Sleep(d)
		fn(ctx)
	}()
}

// StartMatch announces the completed pairing to both players and opens
// round 1 after the pacing delay. Called when the second player joins.
func (g *Service) StartMatch(ctx context.Context, ss *session.Session) {
	g.hub.Broadcast(ctx, ss.ID, SessionReadyMessage{
		Event:   EventSessionReady,
		Session: ss.Snapshot(),
	})
	g.after(ctx, g.advanceDelay, func(ctx context.Context) {
		g.OpenRound(ctx, ss)
	})
}

// OpenRound opens the current question. Valid from idle or resolved;
// anything else is a no-op.
func (g *Service) OpenRound(ctx context.Context, ss *session.Session) {
	ss.Mu.Lock()
	if ss.Round.Phase != session.PhaseIdle && ss.Round.Phase != session.PhaseResolved {
		ss.Mu.Unlock()
		return
	}
	msg, ok := g.openRoundLocked(ctx, ss)
	ss.Mu.Unlock()

	if ok {
		g.hub.Broadcast(ctx, ss.ID, msg)
	}
}

// EnsureRoundOpen makes sure a socket attaching to a ready session holds
// the current question. An idle session gets round 1 opened; an unanswered
// open round is rebroadcast as-is, without touching its clock or state.
// Anything else is a no-op.
func (g *Service) EnsureRoundOpen(ctx context.Context, ss *session.Session) {
	ss.Mu.Lock()
	var (
		msg NewQuestionMessage
		ok  bool
	)
	switch {
	case ss.Round.Phase == session.PhaseIdle:
		msg, ok = g.openRoundLocked(ctx, ss)
	case ss.Round.Phase == session.PhaseOpen && !ss.Round.Answered:
		msg, ok = questionMessageLocked(ss), true
	}
	ss.Mu.Unlock()

	if ok {
		g.hub.Broadcast(ctx, ss.ID, msg)
	}
}

// openRoundLocked resets the round state for the current question and
// builds the new_question broadcast. Caller holds ss.Mu.
func (g *Service) openRoundLocked(ctx context.Context, ss *session.Session) (NewQuestionMessage, bool) {
	idx := ss.CurrentIndex
	if idx >= len(ss.Questions) {
		return NewQuestionMessage{}, false
	}

	ss.Round = session.Round{
		Phase:     session.PhaseOpen,
		StartTime: time.Now(),
		Ready:     make(map[string]struct{}),
	}

	slog.InfoContext(ctx, "game: opening round",
		"session", ss.ID,
		"index", idx,
		"question", ss.Questions[idx].QuestionID,
	)

	return questionMessageLocked(ss), true
}

// questionMessageLocked builds the new_question broadcast for the current
// slot. Caller holds ss.Mu and has checked the slot exists.
func questionMessageLocked(ss *session.Session) NewQuestionMessage {
	q := ss.Questions[ss.CurrentIndex]
	return NewQuestionMessage{
		Event: EventNewQuestion,
		Index: ss.CurrentIndex + 1,
		Total: len(ss.Questions),
		Question: QuestionView{
			Prompt:  q.Prompt,
			Options: q.OptionTexts(),
			Hint:    q.Hint,
		},
	}
}

// HandleAnswer arbitrates an answer submission. The first resolving event
// of an open round wins; late answers are silently dropped.
func (g *Service) HandleAnswer(ctx context.Context, ss *session.Session, player, letter string) {
	ss.Mu.Lock()
	if ss.Round.Phase != session.PhaseOpen || ss.Round.Answered {
		ss.Mu.Unlock()
		slog.DebugContext(ctx, "game: late answer ignored", "session", ss.ID, "player", player)
		return
	}

	idx := ss.CurrentIndex
	q := ss.Questions[idx]
	chosen, correct := resolveLetter(q, letter)

	ss.Round.Answered = true
	ss.Round.Winner = player
	ss.Round.Answer = chosen
	ss.Round.Elapsed = time.Since(ss.Round.StartTime)

	if correct {
		ss.Scores[player] += CorrectAnswerPoints(idx, ss.Streaks[player])
		ss.Streaks[player]++
	} else {
		ss.Streaks[player] = 0
		if opp, ok := ss.Opponent(player); ok {
			ss.Scores[opp] += ConsolationPoints(idx)
		}
	}

	ss.Round.Phase = session.PhaseResolved
	elapsed := roundSeconds(ss.Round.Elapsed)

	answered := PlayerAnsweredMessage{
		Event:        EventPlayerAnswered,
		Player:       player,
		ResponseTime: elapsed,
	}
	result := RoundResultMessage{
		Event:         EventRoundResult,
		Winner:        player,
		Answer:        chosen,
		AnswerLetter:  letter,
		CorrectAnswer: q.CorrectText(),
		Correct:       correct,
		ResponseTime:  elapsed,
		Scores:        ss.ScoresCopy(),
		Streaks:       ss.StreaksCopy(),
		Explanation:   q.Explanation,
	}
	ss.Mu.Unlock()

	g.hub.Broadcast(ctx, ss.ID, answered)
	g.after(ctx, g.resultDelay, func(ctx context.Context) {
		g.hub.Broadcast(ctx, ss.ID, result)
	})
}

// HandleReveal force-resolves an open round as correct for the activating
// player: flat base points, streak reset, one-shot flag consumed. Reused
// or mistimed activations are ignored.
func (g *Service) HandleReveal(ctx context.Context, ss *session.Session, player string) {
	ss.Mu.Lock()
	if ss.Round.Phase != session.PhaseOpen || ss.Round.Answered || ss.UsedReveal[player] {
		ss.Mu.Unlock()
		slog.DebugContext(ctx, "game: reveal ignored", "session", ss.ID, "player", player)
		return
	}

	idx := ss.CurrentIndex
	q := ss.Questions[idx]
	correct := q.CorrectText()

	ss.UsedReveal[player] = true
	ss.Round.Answered = true
	ss.Round.Winner = player
	ss.Round.Answer = correct
	ss.Round.UsedReveal = true
	ss.Round.Elapsed = time.Since(ss.Round.StartTime)

	ss.Scores[player] += RevealPoints(idx)
	ss.Streaks[player] = 0

	ss.Round.Phase = session.PhaseResolved
	elapsed := roundSeconds(ss.Round.Elapsed)

	answered := PlayerAnsweredMessage{
		Event:        EventPlayerAnswered,
		Player:       player,
		ResponseTime: elapsed,
		UsedReveal:   true,
	}
	result := RoundResultMessage{
		Event:         EventRoundResult,
		Winner:        player,
		Answer:        correct,
		AnswerLetter:  letterOfCorrect(q),
		CorrectAnswer: correct,
		Correct:       true,
		ResponseTime:  elapsed,
		Scores:        ss.ScoresCopy(),
		Streaks:       ss.StreaksCopy(),
		Explanation:   q.Explanation,
		UsedReveal:    true,
	}
	ss.Mu.Unlock()

	g.hub.Broadcast(ctx, ss.ID, answered)
	g.after(ctx, g.resultDelay, func(ctx context.Context) {
		g.hub.Broadcast(ctx, ss.ID, result)
	})
}

// HandleSwap replaces the current question with a fresh same-tier one and
// re-opens the round from scratch. Scores and streaks are untouched. The
// one-shot flag is consumed only when a replacement actually lands; a
// failed attempt keeps the token.
func (g *Service) HandleSwap(ctx context.Context, ss *session.Session, player string) {
	ss.Mu.Lock()
	if ss.Round.Phase != session.PhaseOpen || ss.Round.Answered || ss.UsedSwap[player] {
		ss.Mu.Unlock()
		slog.DebugContext(ctx, "game: swap ignored", "session", ss.ID, "player", player)
		return
	}

	tier := domain.TierForIndex(ss.CurrentIndex)
	exclude := ss.QuestionIDs()

	// The round stays locked across the lookup so it cannot resolve
	// mid-swap. Only this session blocks.
	replacements, err := g.source.SampleByTier(ctx, tier, 1, exclude)
	if err != nil || len(replacements) == 0 {
		ss.Mu.Unlock()
		if err != nil {
			slog.ErrorContext(ctx, "game: swap lookup failed", "session", ss.ID, "error", err)
		}
		_ = g.hub.SendTo(ctx, ss.ID, player, SwapFailedMessage{
			Event:   EventSwapFailed,
			Message: "no replacement question available",
		})
		return
	}

	ss.UsedSwap[player] = true
	ss.Questions[ss.CurrentIndex] = replacements[0]
	msg, ok := g.openRoundLocked(ctx, ss)
	ss.Mu.Unlock()

	g.hub.Broadcast(ctx, ss.ID, SwapUsedMessage{
		Event:   EventSwapUsed,
		Player:  player,
		Message: player + " swapped the question",
	})
	if ok {
		g.hub.Broadcast(ctx, ss.ID, msg)
	}
}

// HandleReady records a player's acknowledgment of the round result. Once
// every joined player acknowledged, both_ready goes out and the match
// advances after the pacing delay. Duplicate acknowledgments are ignored
// so advancement fires exactly once per round.
func (g *Service) HandleReady(ctx context.Context, ss *session.Session, player string) {
	ss.Mu.Lock()
	if ss.Round.Phase != session.PhaseResolved {
		ss.Mu.Unlock()
		return
	}
	if _, dup := ss.Round.Ready[player]; dup {
		ss.Mu.Unlock()
		return
	}
	ss.Round.Ready[player] = struct{}{}
	total := len(ss.Round.Ready)
	all := total >= len(ss.Players)
	ss.Mu.Unlock()

	g.hub.Broadcast(ctx, ss.ID, PlayerReadyMessage{
		Event:      EventPlayerReady,
		Player:     player,
		TotalReady: total,
	})

	if !all {
		return
	}

	g.hub.Broadcast(ctx, ss.ID, BothReadyMessage{Event: EventBothReady})
	g.after(ctx, g.advanceDelay, func(ctx context.Context) {
		g.advance(ctx, ss)
	})
}

// advance moves to the next question, or ends the match when the last
// round is done.
func (g *Service) advance(ctx context.Context, ss *session.Session) {
	ss.Mu.Lock()
	ss.CurrentIndex++

	if ss.CurrentIndex < len(ss.Questions) {
		msg, ok := g.openRoundLocked(ctx, ss)
		ss.Mu.Unlock()
		if ok {
			g.hub.Broadcast(ctx, ss.ID, msg)
		}
		return
	}

	ss.Round.Phase = session.PhaseGameOver

	var maxScore int64
	for _, p := range ss.Players {
		if ss.Scores[p] > maxScore {
			maxScore = ss.Scores[p]
		}
	}
	var winners []string
	for _, p := range ss.Players {
		if ss.Scores[p] == maxScore {
			winners = append(winners, p)
		}
	}

	res := domain.MatchResult{
		SessionID:   ss.ID,
		QuestionIDs: ss.QuestionIDs(),
		EndTime:     time.Now(),
	}
	for _, p := range ss.Players {
		res.Players = append(res.Players, domain.PlayerResult{
			Name:   p,
			Score:  ss.Scores[p],
			Streak: ss.Streaks[p],
			Won:    ss.Scores[p] == maxScore,
		})
	}

	over := GameOverMessage{
		Event:        EventGameOver,
		FinalScores:  ss.ScoresCopy(),
		FinalStreaks: ss.StreaksCopy(),
		Winners:      winners,
		IsTie:        len(winners) > 1,
	}
	ss.Mu.Unlock()

	// A failed save is an accepted loss of history; the broadcast still
	// goes out.
	if err := g.results.SaveMatch(ctx, res); err != nil {
		slog.ErrorContext(ctx, "game: save match results failed", "session", ss.ID, "error", err)
	}

	if g.eb != nil {
		g.eb.Publish(ctx, domain.EventMatchEnded{Result: res})
	}

	g.hub.Broadcast(ctx, ss.ID, over)
}

// resolveLetter maps an answer letter to an option. Anything outside A-D
// counts as an incorrect answer, never an error.
func resolveLetter(q domain.Question, letter string) (chosen string, correct bool) {
	l := strings.ToUpper(strings.TrimSpace(letter))
	if len(l) == 1 {
		if i := int(l[0]) - 'A'; i >= 0 && i < len(q.Options) {
			chosen = q.Options[i].Text
			return chosen, chosen == q.CorrectText()
		}
	}
	return letter, false
}

func letterOfCorrect(q domain.Question) string {
	for i, o := range q.Options {
		if o.Correct {
			return string(rune('A' + i))
		}
	}
	return ""
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
