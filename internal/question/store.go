package question

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compquest/server/internal/domain"
)

type Config struct {
	DB *pgxpool.Pool
}

// Store is the Postgres-backed question bank.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(c Config) *Store {
	return &Store{db: c.DB}
}

// SampleByTier returns up to count random questions of the given tier,
// skipping any question whose id is in exclude. Fewer than count questions
// are returned when the pool is short; the caller decides whether that is
// an error.
func (s *Store) SampleByTier(ctx context.Context, tier domain.Tier, count int, exclude []string) ([]domain.Question, error) {
	const stmt = `
SELECT question_id::text, prompt, COALESCE(hint, ''), COALESCE(explanation, '')
FROM questions
WHERE tier = $1 AND NOT (question_id::text = ANY($2))
ORDER BY random()
LIMIT $3;`

	if exclude == nil {
		exclude = []string{}
	}

	rows, err := s.db.Query(ctx, stmt, string(tier), exclude, count)
	if err != nil {
		return nil, fmt.Errorf("sample %s questions: %w", tier, err)
	}

	questions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		if err := r.Scan(&q.QuestionID, &q.Prompt, &q.Hint, &q.Explanation); err != nil {
			return domain.Question{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect %s questions: %w", tier, err)
	}

	for i := range questions { // TODO: batch the option lookups
		opts, err := s.loadOptions(ctx, questions[i].QuestionID)
		if err != nil {
			return nil, err
		}
		questions[i].Options = opts
	}

	return questions, nil
}

func (s *Store) loadOptions(ctx context.Context, questionID string) ([]domain.Option, error) {
	const stmt = `
SELECT option_text, is_correct
FROM question_options
WHERE question_id::text = $1
ORDER BY position;`

	rows, err := s.db.Query(ctx, stmt, questionID)
	if err != nil {
		return nil, fmt.Errorf("load options: question=%s: %w", questionID, err)
	}

	opts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Option, error) {
		var o domain.Option
		if err := r.Scan(&o.Text, &o.Correct); err != nil {
			return domain.Option{}, err
		}
		return o, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect options: question=%s: %w", questionID, err)
	}

	return opts, nil
}
