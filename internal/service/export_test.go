package service

import "time"

// SetClock overrides the job clock in tests.
func (j *AccrualJob) SetClock(now func() time.Time) { j.now = now }
