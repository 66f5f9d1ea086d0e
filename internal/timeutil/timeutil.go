// Package timeutil provides the small time arithmetic used by the scheduler.
package timeutil

import (
	"math/rand"
	"time"
)

// DiffInMinutes returns a-b expressed in minutes.
func DiffInMinutes(a, b time.Time) float64 {
	return a.Sub(b).Minutes()
}

// SignedJitter returns a random offset in whole minutes, uniformly drawn
// from (-rangeMinutes, +rangeMinutes). The scheduler draws it once per
// process lifetime to decorrelate clients that started at the same time.
func SignedJitter(rangeMinutes int) time.Duration {
	if rangeMinutes <= 0 {
		return 0
	}
	sign := rand.Intn(2)*2 - 1
	abs := rand.Intn(rangeMinutes)
	return time.Duration(sign*abs) * time.Minute
}
