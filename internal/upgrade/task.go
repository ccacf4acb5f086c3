package upgrade

import "golang.org/x/sync/errgroup"

// Task is a backfill running in the background. The version it leads to is
// recorded by the task itself once every batch has committed, so the
// database does not report the version while the backfill is incomplete.
type Task struct {
	From int
	To   int

	group *errgroup.Group
}

// Wait blocks until the backfill finishes and returns its error, if any.
// It may be called more than once.
func (t *Task) Wait() error {
	return t.group.Wait()
}
