package pipeline

// Runner schedules a unit of background work. The orchestrator only ever
// submits; it never waits, and a submitted task cannot be cancelled.
type Runner interface {
	Submit(task func())
}

// GoRunner runs each task on its own goroutine. This is the production
// runner; tests substitute a synchronous one.
type GoRunner struct{}

func (GoRunner) Submit(task func()) {
	go task()
}
