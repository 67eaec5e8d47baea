package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"github.com/compquest/server/internal/domain"
	"github.com/compquest/server/internal/errors"
)

// A new match gets 4 easy, 4 medium and 2 hard questions, in that order,
// so tiers occupy fixed index ranges.
const (
	easyCount   = 4
	mediumCount = 4
	hardCount   = 2
)

const TotalQuestions = easyCount + mediumCount + hardCount

// MaxPlayers is the fixed party size of a duel.
const MaxPlayers = 2

// QuestionSource supplies tier-stratified question samples. Implemented by
// the question store.
type QuestionSource interface {
	SampleByTier(ctx context.Context, tier domain.Tier, count int, exclude []string) ([]domain.Question, error)
}

type Config struct {
	Source QuestionSource
}

// Service is the registry of active sessions.
type Service struct {
	source QuestionSource

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewService(c Config) *Service {
	return &Service{
		source:   c.Source,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a full question set, creates a waiting session holding
// the creating player, and registers it.
func (s *Service) Create(ctx context.Context, playerName string) (*Session, error) {
	questions, err := s.drawQuestions(ctx)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	ss := &Session{
		ID:        id.String(),
		Players:   []string{playerName},
		Status:    StatusWaiting,
		Questions: questions,
		Scores:    map[string]int64{playerName: 0},
		Streaks:   map[string]int{playerName: 0},
		UsedReveal: map[string]bool{
			playerName: false,
		},
		UsedSwap: map[string]bool{
			playerName: false,
		},
		Round: Round{Phase: PhaseIdle, Ready: make(map[string]struct{})},
	}

	s.mu.Lock()
	s.sessions[ss.ID] = ss
	s.mu.Unlock()

	return ss, nil
}

func (s *Service) drawQuestions(ctx context.Context) ([]domain.Question, error) {
	draw := func(tier domain.Tier, count int) ([]domain.Question, error) {
		qs, err := s.source.SampleByTier(ctx, tier, count, nil)
		if err != nil {
			return nil, fmt.Errorf("draw questions: %w", err)
		}
		if len(qs) < count {
			return nil, fmt.Errorf("draw questions: want %d %s, bank has %d", count, tier, len(qs))
		}
		return qs, nil
	}

	easy, err := draw(domain.TierEasy, easyCount)
	if err != nil {
		return nil, err
	}
	medium, err := draw(domain.TierMedium, mediumCount)
	if err != nil {
		return nil, err
	}
	hard, err := draw(domain.TierHard, hardCount)
	if err != nil {
		return nil, err
	}

	questions := make([]domain.Question, 0, TotalQuestions)
	questions = append(questions, easy...)
	questions = append(questions, medium...)
	questions = append(questions, hard...)
	return questions, nil
}

// Join adds playerName to the session. The full and duplicate-name checks
// happen under the session lock, so two concurrent joins cannot both take
// the last slot.
func (s *Service) Join(_ context.Context, sessionID, playerName string) (*Session, error) {
	ss, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}

	ss.Mu.Lock()
	defer ss.Mu.Unlock()

	if len(ss.Players) >= MaxPlayers {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("session is full: session=%s", sessionID))
	}
	if ss.HasPlayer(playerName) {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("player already in session: session=%s player=%s", sessionID, playerName))
	}

	ss.Players = append(ss.Players, playerName)
	ss.Scores[playerName] = 0
	ss.Streaks[playerName] = 0
	ss.UsedReveal[playerName] = false
	ss.UsedSwap[playerName] = false

	if len(ss.Players) == MaxPlayers {
		ss.Status = StatusReady
	}

	return ss, nil
}

// JoinRandom joins a uniformly chosen waiting session. A pick can fill (or
// turn out to already hold this player) between the listing and the join,
// so the remaining candidates are tried before giving up.
func (s *Service) JoinRandom(ctx context.Context, playerName string) (*Session, error) {
	waiting := s.ListWaiting()
	rand.Shuffle(len(waiting), func(i, j int) {
		waiting[i], waiting[j] = waiting[j], waiting[i]
	})

	for _, pick := range waiting {
		ss, err := s.Join(ctx, pick.ID, playerName)
		if err == nil {
			return ss, nil
		}
	}

	return nil, errors.New(errors.CodeNotFound,
		errors.WithMessagef("no available sessions found"))
}

// Get returns the session or a not-found error.
func (s *Service) Get(sessionID string) (*Session, error) {
	s.mu.RLock()
	ss, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: session=%s", sessionID))
	}
	return ss, nil
}

// ListWaiting returns every session still missing its second player.
func (s *Service) ListWaiting() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var waiting []*Session
	for _, ss := range s.sessions {
		ss.Mu.Lock()
		if ss.Status == StatusWaiting {
			waiting = append(waiting, ss)
		}
		ss.Mu.Unlock()
	}
	return waiting
}

// All returns every registered session.
func (s *Service) All() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		all = append(all, ss)
	}
	return all
}

type Stats struct {
	Total   int `json:"total_sessions"`
	Waiting int `json:"waiting_sessions"`
	Active  int `json:"active_sessions"`
}

// Stats counts sessions by status for the health and listing endpoints.
func (s *Service) Stats() Stats {
	var st Stats
	for _, ss := range s.All() {
		st.Total++
		ss.Mu.Lock()
		if ss.Status == StatusWaiting {
			st.Waiting++
		} else {
			st.Active++
		}
		ss.Mu.Unlock()
	}
	return st
}
