package game

import "github.com/shopspring/decimal"

// Scoring rules. Base points are keyed by the question slot, not the
// question itself: slots 0-3 pay 100, 4-7 pay 200, 8-9 pay 400.
//
// A correct free answer pays floor(base * min(2.0, 1.0 + 0.1*streak)) and
// extends the answerer's streak. An incorrect answer pays the opponent
// floor(base * 0.2) and resets the answerer's streak; nothing is ever
// deducted from anyone. A reveal pays the flat base and resets the
// activator's streak.

var (
	streakStep      = decimal.NewFromFloat(0.1)
	multiplierCap   = decimal.NewFromInt(2)
	consolationRate = decimal.NewFromFloat(0.2)
)

// BasePoints returns the base point value of the question slot.
func BasePoints(index int) int64 {
	switch {
	case index >= 0 && index <= 3:
		return 100
	case index >= 4 && index <= 7:
		return 200
	case index == 8 || index == 9:
		return 400
	default:
		return 0
	}
}

// CorrectAnswerPoints returns the award for a correct free answer given the
// answerer's streak before this round.
func CorrectAnswerPoints(index, streakBefore int) int64 {
	mult := decimal.NewFromInt(1).Add(streakStep.Mul(decimal.NewFromInt(int64(streakBefore))))
	if mult.GreaterThan(multiplierCap) {
		mult = multiplierCap
	}
	return decimal.NewFromInt(BasePoints(index)).Mul(mult).Floor().IntPart()
}

// ConsolationPoints returns the award credited to the opponent of a player
// who answered incorrectly.
func ConsolationPoints(index int) int64 {
	return decimal.NewFromInt(BasePoints(index)).Mul(consolationRate).Floor().IntPart()
}

// RevealPoints returns the award for resolving a round with the reveal
// ability. The streak multiplier never applies.
func RevealPoints(index int) int64 {
	return BasePoints(index)
}
