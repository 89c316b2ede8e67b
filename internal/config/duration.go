package config

import (
	"math"
	"time"
)

// Seconds converts a float seconds config value to a duration. Non-finite or negative
// values yield 0.
func Seconds(v float64) time.Duration {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
