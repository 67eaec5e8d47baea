package leaderboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/compquest/server/internal/domain"
	"github.com/compquest/server/internal/errors"
	"github.com/compquest/server/internal/event"
)

const defaultLimit = 3

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service keeps the all-time board of each player's best match score in a
// Redis sorted set, fed by match-ended events.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameMatchEnded, func(ctx context.Context, e event.Event) error {
		return s.RecordMatch(ctx, e.(domain.EventMatchEnded))
	})

	return s
}

// RecordMatch raises each participant's best score when the finished match
// beats it. Lower scores leave the board untouched.
func (s *Service) RecordMatch(ctx context.Context, e domain.EventMatchEnded) error {
	for _, p := range e.Result.Players {
		if err := s.recordScore(ctx, p.Name, float64(p.Score)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordScore(ctx context.Context, player string, score float64) error {
	key := s.boardKey()

	current, err := s.redis.ZScore(ctx, key, player).Result()
	switch {
	case err == redis.Nil:
		// first match for this player
	case err != nil:
		return fmt.Errorf("read best score: player=%s: %w", player, err)
	case current >= score:
		return nil
	}

	if err := s.redis.ZAdd(ctx, key, redis.Z{
		Score:  score,
		Member: player,
	}).Err(); err != nil {
		return fmt.Errorf("record best score: player=%s: %w", player, err)
	}
	return nil
}

type TopPlayersRequest struct {
	Limit int
}

// TopPlayers returns the highest best-match scores, descending.
func (s *Service) TopPlayers(ctx context.Context, req TopPlayersRequest) ([]domain.LeaderboardEntry, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.boardKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("get top players: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no recorded matches yet"))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Username: z.Member.(string),
			Score:    z.Score,
		})
	}
	return entries, nil
}

func (s *Service) boardKey() string {
	return fmt.Sprintf("%s:topscores", s.prefix)
}
