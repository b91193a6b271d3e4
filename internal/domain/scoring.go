package domain

import "math"

const (
	scoreFloorShare = 0.6
	scoreSpeedShare = 0.4
)

// Score awards points for one answer. A correct answer earns at least 60% of
// baseScore and up to 100% when answered instantly; late answers are clamped
// to the floor.
func Score(isCorrect bool, timeTakenMs, timeLimitMs int64, baseScore int) int {
	if !isCorrect || baseScore <= 0 {
		return 0
	}
	ratio := 1.0
	if timeLimitMs > 0 {
		taken := timeTakenMs
		if taken < 0 {
			taken = 0
		}
		ratio = math.Min(1, float64(taken)/float64(timeLimitMs))
	}
	base := float64(baseScore)
	return int(math.Round(base*scoreFloorShare + base*scoreSpeedShare*(1-ratio)))
}
