package result

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compquest/server/internal/domain"
)

type Config struct {
	DB *pgxpool.Pool
}

// Service persists finished matches: the match row, one participation row
// per player, and the set of question ids the match used.
type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{db: c.DB}
}

// SaveMatch writes the final outcome in one transaction. Question
// associations are idempotent: re-adding an id already recorded is a no-op.
func (s *Service) SaveMatch(ctx context.Context, res domain.MatchResult) (err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate match ID: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insMatchStmt    = `INSERT INTO matches (match_id, session_id, end_time) VALUES ($1, $2, $3);`
		insPlayerStmt   = `INSERT INTO match_players (match_id, player_name, score, won) VALUES ($1, $2, $3, $4);`
		insQuestionStmt = `INSERT INTO match_questions (match_id, question_id) VALUES ($1, $2) ON CONFLICT DO NOTHING;`
	)

	_, err = tx.Exec(ctx, insMatchStmt, id, res.SessionID, res.EndTime)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}

	for _, p := range res.Players {
		_, err = tx.Exec(ctx, insPlayerStmt, id, p.Name, p.Score, p.Won)
		if err != nil {
			return fmt.Errorf("insert match player: %w", err)
		}
	}

	for _, q := range res.QuestionIDs { // TODO: batch insert
		_, err = tx.Exec(ctx, insQuestionStmt, id, q)
		if err != nil {
			return fmt.Errorf("insert match question: %w", err)
		}
	}

	return tx.Commit(ctx)
}
