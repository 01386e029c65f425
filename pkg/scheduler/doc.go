/*
Package scheduler implements the background-task contract the store
requires from its host (spec §4.1, "Scheduler contract"):

	schedule_recurring(task, period) → handle
	handle.cancel()

The store has no opinion about how "roughly every period" is honored; this
package provides the straightforward implementation the teacher used for
its own 5-second scheduling loop (pkg/scheduler in the original), adapted
to run arbitrarily many independently-cancelable recurring tasks rather
than one fixed loop.

# Architecture

	┌─────────────────── SCHEDULER ─────────────────────────────┐
	│                                                             │
	│  ScheduleRecurring("lock-sweep", sweep, 50ms)  ──┐          │
	│  ScheduleRecurring("id-checkpoint", ckpt, 1s)  ──┼─► each   │
	│  ScheduleRecurring("page-flush", flush, 500ms) ──┘  runs   │
	│                                                      on its │
	│                                                      own    │
	│                                                      ticker │
	│                                                      goroutine
	│                                                             │
	│  Handle.Cancel() stops one task; Shutdown() stops all and   │
	│  waits for their current invocation to return.              │
	└─────────────────────────────────────────────────────────────┘

Tasks that panic are recovered and logged; a panicking task does not take
down the scheduler or other tasks.
*/
package scheduler
