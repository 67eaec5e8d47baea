package domain

import "time"

// Tier is the difficulty bucket of a question. It decides the base point
// value of a round and which pool a swap replacement is drawn from.
type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

// TierForIndex maps a 0-based question slot to its tier. A match holds
// 10 questions: slots 0-3 easy, 4-7 medium, 8-9 hard.
func TierForIndex(i int) Tier {
	switch {
	case i < 4:
		return TierEasy
	case i < 8:
		return TierMedium
	default:
		return TierHard
	}
}

// Question is a single trivia question with exactly 4 options,
// exactly one of them correct.
type Question struct {
	QuestionID  string
	Prompt      string
	Hint        string
	Explanation string
	Options     []Option
}

type Option struct {
	Text    string
	Correct bool
}

// CorrectText returns the text of the designated correct option.
func (q Question) CorrectText() string {
	for _, o := range q.Options {
		if o.Correct {
			return o.Text
		}
	}
	return ""
}

// OptionTexts returns the option texts in their fixed display order.
func (q Question) OptionTexts() []string {
	texts := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		texts = append(texts, o.Text)
	}
	return texts
}

// MatchResult is the final outcome of a finished match.
type MatchResult struct {
	SessionID   string
	QuestionIDs []string
	Players     []PlayerResult
	EndTime     time.Time
}

type PlayerResult struct {
	Name   string
	Score  int64
	Streak int
	Won    bool
}

// LeaderboardEntry is a player's best match score on the all-time board.
type LeaderboardEntry struct {
	Username string
	Score    float64
}
