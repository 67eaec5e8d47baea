package session

import (
	"sync"
	"time"

	"github.com/compquest/server/internal/domain"
)

type Status string

const (
	// StatusWaiting means the session has one player and an open slot.
	StatusWaiting Status = "waiting"
	// StatusReady means both players joined. A session never leaves ready.
	StatusReady Status = "ready"
)

// Phase is the round state machine position.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseOpen     Phase = "open"
	PhaseResolved Phase = "resolved"
	PhaseGameOver Phase = "game_over"
)

// Round is the ephemeral state of the currently open question. It is reset
// every time a question opens.
type Round struct {
	Phase      Phase
	Answered   bool
	Winner     string
	Answer     string
	UsedReveal bool
	StartTime  time.Time
	Elapsed    time.Duration
	Ready      map[string]struct{}
}

// Session is one two-player match. All mutable fields are guarded by Mu;
// every round operation must hold it across its full check-then-set
// sequence so two connections can never both resolve the same round.
type Session struct {
	Mu sync.Mutex

	ID           string
	Players      []string
	Status       Status
	Questions    []domain.Question
	CurrentIndex int

	Scores     map[string]int64
	Streaks    map[string]int
	UsedReveal map[string]bool
	UsedSwap   map[string]bool

	Round Round
}

// HasPlayer reports whether name already joined. Caller holds Mu.
func (s *Session) HasPlayer(name string) bool {
	for _, p := range s.Players {
		if p == name {
			return true
		}
	}
	return false
}

// Opponent returns the other player. Caller holds Mu.
func (s *Session) Opponent(name string) (string, bool) {
	for _, p := range s.Players {
		if p != name {
			return p, true
		}
	}
	return "", false
}

// QuestionIDs returns the ids of every question assigned to the match,
// used and upcoming alike. Caller holds Mu.
func (s *Session) QuestionIDs() []string {
	ids := make([]string, 0, len(s.Questions))
	for _, q := range s.Questions {
		ids = append(ids, q.QuestionID)
	}
	return ids
}

// ScoresCopy returns a copy of the score table safe to hand to encoders
// after Mu is released. Caller holds Mu.
func (s *Session) ScoresCopy() map[string]int64 {
	c := make(map[string]int64, len(s.Scores))
	for k, v := range s.Scores {
		c[k] = v
	}
	return c
}

// StreaksCopy returns a copy of the streak table. Caller holds Mu.
func (s *Session) StreaksCopy() map[string]int {
	c := make(map[string]int, len(s.Streaks))
	for k, v := range s.Streaks {
		c[k] = v
	}
	return c
}

// Snapshot is the sanitized view of a session exposed over the API and in
// the session_ready event. It never contains question contents, so the
// correct answers cannot leak.
type Snapshot struct {
	SessionID      string           `json:"session_id"`
	Players        []string         `json:"players"`
	Status         Status           `json:"status"`
	CurrentIndex   int              `json:"current_index"`
	TotalQuestions int              `json:"total_questions"`
	Scores         map[string]int64 `json:"scores"`
	Streaks        map[string]int   `json:"streaks"`
	UsedReveal     map[string]bool  `json:"used_reveal"`
	UsedSwap       map[string]bool  `json:"used_swap"`
	PlayersReady   []string         `json:"players_ready"`
}

// Snapshot locks the session and returns its sanitized view.
func (s *Session) Snapshot() Snapshot {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	snap := Snapshot{
		SessionID:      s.ID,
		Players:        append([]string(nil), s.Players...),
		Status:         s.Status,
		CurrentIndex:   s.CurrentIndex,
		TotalQuestions: len(s.Questions),
		Scores:         s.ScoresCopy(),
		Streaks:        s.StreaksCopy(),
		UsedReveal:     make(map[string]bool, len(s.UsedReveal)),
		UsedSwap:       make(map[string]bool, len(s.UsedSwap)),
		PlayersReady:   make([]string, 0, len(s.Round.Ready)),
	}
	for k, v := range s.UsedReveal {
		snap.UsedReveal[k] = v
	}
	for k, v := range s.UsedSwap {
		snap.UsedSwap[k] = v
	}
	for p := range s.Round.Ready {
		snap.PlayersReady = append(snap.PlayersReady, p)
	}
	return snap
}
