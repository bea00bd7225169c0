// Package frontend defines the capability interface the downloader
// controller drives to report progress, independent of how that progress
// is actually rendered. Concrete implementations live in console/ (a
// Bubbletea TUI) and json/ (one JSON object per tick), grounded in the
// teacher's internal/tui and internal/engine/events packages
// respectively.
package frontend

import (
	"context"

	"github.com/uloget/uloget/internal/logging"
	"github.com/uloget/uloget/internal/model"
)

// Frontend renders a download's progress. Run drives the frontend's own
// event loop (e.g. a Bubbletea program) until ctx is cancelled or Stop is
// called, and must return once it does. Update and Log may be called
// from any goroutine at any time before Stop returns.
type Frontend interface {
	Run(ctx context.Context) error
	Update(parts []model.Snapshot, stats model.Statistics, totalSize, downloaded int64)
	Log(level logging.Level, msg string)
	Stop()
}

// Null is a no-op Frontend, useful for tests and for library callers that
// don't want console or JSON output.
type Null struct {
	stop chan struct{}
}

func NewNull() *Null { return &Null{stop: make(chan struct{})} }

func (n *Null) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-n.stop:
	}
	return nil
}

func (n *Null) Update([]model.Snapshot, model.Statistics, int64, int64) {}
func (n *Null) Log(logging.Level, string)                               {}
func (n *Null) Stop() {
	select {
	case <-n.stop:
	default:
		close(n.stop)
	}
}
