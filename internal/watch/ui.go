package watch

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/wolfman30/patient-capture/internal/browser"
	"github.com/wolfman30/patient-capture/internal/patient"
	"github.com/wolfman30/patient-capture/internal/reconcile"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

var emrLabel = regexp.MustCompile(`(?i)EMR ID[\s:]+(\d+)`)

// ElementQuerier reads rendered elements from the queue page.
type ElementQuerier interface {
	QueryElements(ctx context.Context, req browser.ElementsRequest) ([]browser.Element, error)
}

// PendingSource lists submissions still waiting for an EMR id.
type PendingSource interface {
	Pending() []reconcile.PendingRecord
}

type UIWatcherConfig struct {
	Querier   ElementQuerier
	Pending   PendingSource
	Publisher Publisher
	Logger    *logging.Logger

	Interval time.Duration
	// ContainerDepth is how far above the name element the card text is read.
	ContainerDepth int

	Tick <-chan time.Time
	Stop func()
	Now  func() time.Time
}

// UIWatcher polls the queue for "EMR ID: n" next to pending patients' names.
type UIWatcher struct {
	querier   ElementQuerier
	pending   PendingSource
	publisher Publisher
	logger    *logging.Logger
	depth     int
	now       func() time.Time

	tick <-chan time.Time
	stop func()
}

func NewUIWatcher(cfg UIWatcherConfig) (*UIWatcher, error) {
	if cfg.Querier == nil {
		return nil, errors.New("watch: ui watcher requires element querier")
	}
	if cfg.Pending == nil || cfg.Publisher == nil {
		return nil, errors.New("watch: ui watcher requires pending source and publisher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	depth := cfg.ContainerDepth
	if depth <= 0 {
		depth = 6
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	tick := cfg.Tick
	stop := cfg.Stop
	if tick == nil {
		interval := cfg.Interval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		ticker := time.NewTicker(interval)
		tick = ticker.C
		stop = ticker.Stop
	}

	return &UIWatcher{
		querier:   cfg.Querier,
		pending:   cfg.Pending,
		publisher: cfg.Publisher,
		logger:    logger.Component("ui_watcher"),
		depth:     depth,
		now:       now,
		tick:      tick,
		stop:      stop,
	}, nil
}

// Run scans on every tick until ctx is done.
func (w *UIWatcher) Run(ctx context.Context) error {
	defer func() {
		if w.stop != nil {
			w.stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.tick:
			if _, err := w.Scan(ctx); err != nil {
				w.logger.Debug("queue scan failed", "error", err)
			}
		}
	}
}

// Scan checks the rendered queue once and publishes a candidate for every
// pending patient whose booking card shows an EMR id. It returns the number of
// candidates published.
func (w *UIWatcher) Scan(ctx context.Context) (int, error) {
	var named []reconcile.PendingRecord
	for _, p := range w.pending.Pending() {
		if p.Identity.HasName() {
			named = append(named, p)
		}
	}
	if len(named) == 0 {
		return 0, nil
	}

	elements, err := w.querier.QueryElements(ctx, browser.ElementsRequest{
		Selector:       browser.BookingNameSelector,
		ContainerDepth: w.depth,
	})
	if err != nil {
		return 0, err
	}

	published := 0
	for _, p := range named {
		emrID, ok := findLabeledID(p.Identity, elements)
		if !ok {
			continue
		}
		c := reconcile.Candidate{
			ExternalID: emrID,
			Identity:   patient.Identity{FirstName: p.Identity.FirstName, LastName: p.Identity.LastName},
			Source:     reconcile.SourceUI,
			ObservedAt: w.now(),
		}
		w.logger.Info("emr id found in queue", "emr_id", emrID, "first_name", c.Identity.FirstName, "last_name", c.Identity.LastName)
		if err := w.publisher.Publish(ctx, c); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// findLabeledID returns the EMR id on the first card whose name element
// contains every name token of id.
func findLabeledID(id patient.Identity, elements []browser.Element) (string, bool) {
	var tokens []string
	for _, t := range []string{id.FirstName, id.LastName} {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		return "", false
	}
	for _, el := range elements {
		text := strings.ToLower(el.Text)
		matched := true
		for _, t := range tokens {
			if !strings.Contains(text, t) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		if m := emrLabel.FindStringSubmatch(el.ContainerText); m != nil {
			return m[1], true
		}
	}
	return "", false
}
