package hub

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

const maxConcurrent = 16

// Sender is a registered transport handle for one player. The websocket
// layer wraps its connections to satisfy it; tests use in-memory fakes.
type Sender interface {
	Send(v any) error
}

// Delivery is the per-recipient outcome of a broadcast.
type Delivery struct {
	Player string
	Err    error
}

// Service fans outbound events to the transport handles of a session.
// Delivery is best-effort: a failed send is logged and reported, and never
// stops delivery to the other recipient.
type Service struct {
	mu    sync.RWMutex
	conns map[string]map[string]Sender
}

func NewService() *Service {
	return &Service{
		conns: make(map[string]map[string]Sender),
	}
}

// Register attaches a player's transport handle to a session, replacing any
// previous handle for that player.
func (s *Service) Register(sessionID, player string, c Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conns[sessionID] == nil {
		s.conns[sessionID] = make(map[string]Sender)
	}
	s.conns[sessionID][player] = c
}

// Unregister detaches a player's transport handle.
func (s *Service) Unregister(sessionID, player string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns[sessionID], player)
	if len(s.conns[sessionID]) == 0 {
		delete(s.conns, sessionID)
	}
}

// Connected returns the players currently holding a transport handle for
// the session.
func (s *Service) Connected(sessionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]string, 0, len(s.conns[sessionID]))
	for p := range s.conns[sessionID] {
		players = append(players, p)
	}
	return players
}

// Broadcast sends msg to every handle registered for the session and
// returns the per-recipient delivery report.
func (s *Service) Broadcast(ctx context.Context, sessionID string, msg any) []Delivery {
	s.mu.RLock()
	targets := make(map[string]Sender, len(s.conns[sessionID]))
	for p, c := range s.conns[sessionID] {
		targets[p] = c
	}
	s.mu.RUnlock()

	var (
		mu     sync.Mutex
		report []Delivery
		eg     errgroup.Group
	)
	eg.SetLimit(maxConcurrent)

	for p, c := range targets {
		p, c := p, c
		eg.Go(func() error {
			err := c.Send(msg)
			if err != nil {
				slog.ErrorContext(ctx, "hub: send failed",
					"session", sessionID,
					"player", p,
					"error", err,
				)
			}

			mu.Lock()
			report = append(report, Delivery{Player: p, Err: err})
			mu.Unlock()
			return nil
		})
	}

	_ = eg.Wait()
	return report
}

// SendTo sends msg to a single player, same best-effort contract as
// Broadcast.
func (s *Service) SendTo(ctx context.Context, sessionID, player string, msg any) error {
	s.mu.RLock()
	c, ok := s.conns[sessionID][player]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	if err := c.Send(msg); err != nil {
		slog.ErrorContext(ctx, "hub: send failed",
			"session", sessionID,
			"player", player,
			"error", err,
		)
		return err
	}
	return nil
}
