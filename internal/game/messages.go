package game

import "github.com/compquest/server/internal/session"

// Outbound event names, as sent on the wire.
const (
	EventSessionReady       = "session_ready"
	EventNewQuestion        = "new_question"
	EventPlayerAnswered     = "player_answered"
	EventRoundResult        = "round_result"
	EventPlayerReady        = "player_ready"
	EventBothReady          = "both_ready"
	EventSwapUsed           = "swap_used"
	EventSwapFailed         = "swap_failed"
	EventGameOver           = "game_over"
	EventPlayerDisconnected = "player_disconnected"
)

// QuestionView is what players see of a question: prompt, options in fixed
// order and the hint. Never the correct answer.
type QuestionView struct {
	Prompt  string   `json:"question"`
	Options []string `json:"options"`
	Hint    string   `json:"hint,omitempty"`
}

type SessionReadyMessage struct {
	Event   string           `json:"event"`
	Session session.Snapshot `json:"session"`
}

type NewQuestionMessage struct {
	Event    string       `json:"event"`
	Index    int          `json:"index"` // 1-based, for display
	Total    int          `json:"total"`
	Question QuestionView `json:"question"`
}

type PlayerAnsweredMessage struct {
	Event        string  `json:"event"`
	Player       string  `json:"player"`
	ResponseTime float64 `json:"response_time"`
	UsedReveal   bool    `json:"used_reveal,omitempty"`
}

type RoundResultMessage struct {
	Event         string           `json:"event"`
	Winner        string           `json:"winner"`
	Answer        string           `json:"answer"`
	AnswerLetter  string           `json:"answer_letter"`
	CorrectAnswer string           `json:"correct_answer"`
	Correct       bool             `json:"correct"`
	ResponseTime  float64          `json:"response_time"`
	Scores        map[string]int64 `json:"scores"`
	Streaks       map[string]int   `json:"streaks"`
	Explanation   string           `json:"explanation,omitempty"`
	UsedReveal    bool             `json:"used_reveal,omitempty"`
}

type PlayerReadyMessage struct {
	Event      string `json:"event"`
	Player     string `json:"player"`
	TotalReady int    `json:"total_ready"`
}

type BothReadyMessage struct {
	Event string `json:"event"`
}

type SwapUsedMessage struct {
	Event   string `json:"event"`
	Player  string `json:"player"`
	Message string `json:"message"`
}

type SwapFailedMessage struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type GameOverMessage struct {
	Event        string           `json:"event"`
	FinalScores  map[string]int64 `json:"final_scores"`
	FinalStreaks map[string]int   `json:"final_streaks"`
	Winners      []string         `json:"winners"`
	IsTie        bool             `json:"is_tie"`
}

type PlayerDisconnectedMessage struct {
	Event              string `json:"event"`
	DisconnectedPlayer string `json:"disconnected_player"`
	Message            string `json:"message"`
}
