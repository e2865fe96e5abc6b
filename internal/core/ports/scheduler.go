package ports

// Scheduler schedules the gateway's recurring background work: the VTXO
// inventory monitor, the expiry sweeper, and the
// hourly L1 settlement coordinator. Implementations are expected to run each
// task's handler on its own goroutine and guard against overlapping runs of
// the same task.
type Scheduler interface {
	// ScheduleEvery registers fn to run every interval, named for logging
	// and for idempotent re-registration across restarts.
	ScheduleEvery(name string, intervalSeconds int, fn func()) error
	// ScheduleOnce registers fn to run once after delaySeconds.
	ScheduleOnce(name string, delaySeconds int, fn func()) error

	Start()
	Stop()
}
