// Package watch observes the queue portal for EMR ids assigned to recently
// added patients. Two watchers run side by side: one reads intercepted network
// responses, the other reads the rendered queue.
package watch

import (
	"context"

	"github.com/wolfman30/patient-capture/internal/reconcile"
)

// Publisher receives candidates found by a watcher.
type Publisher interface {
	Publish(ctx context.Context, c reconcile.Candidate) error
}
