package jobs

import "time"

func (j *CleanupJob) SetClock(now func() time.Time) { j.now = now }

func (j *CleanupJob) SetBatching(size int, pause time.Duration) {
	j.batchSize = size
	j.batchPause = pause
}
