// Package monitor runs one capture session against the browser sidecar:
// submissions feed the detector, responses feed the traffic watcher and the
// rendered queue is polled by the UI watcher.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/patient-capture/internal/browser"
	"github.com/wolfman30/patient-capture/internal/reconcile"
	"github.com/wolfman30/patient-capture/internal/watch"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

// Sidecar is the part of the browser sidecar client the runtime drives.
type Sidecar interface {
	WaitReady(ctx context.Context, interval time.Duration) error
	StartMonitorSession(ctx context.Context, req browser.MonitorStartRequest) (*browser.MonitorStartResponse, error)
	Stream(ctx context.Context, sessionID string, handle func(browser.Event) error) error
	QueryElements(ctx context.Context, sessionID string, req browser.ElementsRequest) ([]browser.Element, error)
	StopMonitorSession(ctx context.Context, sessionID string) error
}

// SubmissionHandler turns a submitted Add Patient form into a capture.
type SubmissionHandler interface {
	HandleSubmission(ctx context.Context, pageURL string, fields map[string]any) (string, bool, error)
}

// Config wires a Runtime.
type Config struct {
	Sidecar  Sidecar
	Session  *reconcile.Session
	Detector SubmissionHandler
	Traffic  *watch.TrafficWatcher
	Logger   *logging.Logger

	QueueURL       string
	Headless       bool
	BrowserTimeout time.Duration
	ReadyInterval  time.Duration
	UIPollInterval time.Duration
	ResponseBuffer int
	StopTimeout    time.Duration

	// UITick overrides the UI poll ticker in tests.
	UITick <-chan time.Time
}

// Runtime owns the lifecycle of one monitor session.
type Runtime struct {
	cfg    Config
	base   *logging.Logger
	logger *logging.Logger
}

var errStreamEnded = errors.New("monitor: event stream ended")

// responseKeywords narrows which network responses the sidecar forwards.
var responseKeywords = []string{"patient", "booking", "queue", "appointment", "visit", "facesheet"}

func New(cfg Config) (*Runtime, error) {
	if cfg.Sidecar == nil {
		return nil, errors.New("monitor: sidecar required")
	}
	if cfg.Session == nil || cfg.Detector == nil {
		return nil, errors.New("monitor: session and detector required")
	}
	if cfg.QueueURL == "" {
		return nil, errors.New("monitor: queue url required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Traffic == nil {
		cfg.Traffic = watch.NewTrafficWatcher(logger)
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = 2 * time.Second
	}
	if cfg.ResponseBuffer <= 0 {
		cfg.ResponseBuffer = 64
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Runtime{cfg: cfg, base: logger, logger: logger.Component("monitor")}, nil
}

// Run blocks until ctx is cancelled or the sidecar ends the session. Pending
// submissions left at shutdown keep their rows without an EMR id.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.cfg.Sidecar.WaitReady(ctx, r.cfg.ReadyInterval); err != nil {
		return err
	}

	started, err := r.cfg.Sidecar.StartMonitorSession(ctx, browser.MonitorStartRequest{
		QueueURL:         r.cfg.QueueURL,
		Headless:         r.cfg.Headless,
		ResponseKeywords: responseKeywords,
		Timeout:          int(r.cfg.BrowserTimeout.Milliseconds()),
	})
	if err != nil {
		return fmt.Errorf("monitor: start session: %w", err)
	}
	sessionID := started.SessionID
	r.logger.Info("monitoring queue", "session_id", sessionID, "page_url", started.PageURL)
	defer r.stopSession(sessionID)

	ui, err := watch.NewUIWatcher(watch.UIWatcherConfig{
		Querier:   sessionQuerier{sidecar: r.cfg.Sidecar, sessionID: sessionID},
		Pending:   r.cfg.Session,
		Publisher: r.cfg.Session,
		Logger:    r.base,
		Interval:  r.cfg.UIPollInterval,
		Tick:      r.cfg.UITick,
	})
	if err != nil {
		return err
	}

	responses := make(chan browser.NetworkResponse, r.cfg.ResponseBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.cfg.Session.Run(gctx) })
	g.Go(func() error { return r.cfg.Traffic.Run(gctx, responses, r.cfg.Session) })
	g.Go(func() error { return ui.Run(gctx) })
	g.Go(func() error {
		defer close(responses)
		if err := r.cfg.Sidecar.Stream(gctx, sessionID, r.dispatch(gctx, responses)); err != nil {
			return fmt.Errorf("monitor: event stream: %w", err)
		}
		if gctx.Err() != nil {
			return nil
		}
		return errStreamEnded
	})

	err = g.Wait()
	if errors.Is(err, errStreamEnded) {
		r.logger.Info("sidecar session ended", "session_id", sessionID)
		return nil
	}
	return err
}

func (r *Runtime) dispatch(ctx context.Context, responses chan<- browser.NetworkResponse) func(browser.Event) error {
	return func(ev browser.Event) error {
		switch ev.Type {
		case browser.EventSubmission:
			if _, _, err := r.cfg.Detector.HandleSubmission(ctx, ev.PageURL, ev.Fields); err != nil {
				r.logger.Error("submission not captured", "error", err, "page_url", ev.PageURL)
			}
		case browser.EventResponse:
			if ev.Response == nil {
				return nil
			}
			select {
			case responses <- *ev.Response:
			case <-ctx.Done():
				return ctx.Err()
			}
		case browser.EventNavigation:
			r.logger.Debug("queue page navigated", "page_url", ev.PageURL)
		default:
			r.logger.Debug("ignoring sidecar event", "type", ev.Type)
		}
		return nil
	}
}

func (r *Runtime) stopSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StopTimeout)
	defer cancel()
	if err := r.cfg.Sidecar.StopMonitorSession(ctx, sessionID); err != nil {
		r.logger.Warn("failed to stop sidecar session", "session_id", sessionID, "error", err)
		return
	}
	r.logger.Info("sidecar session stopped", "session_id", sessionID)
}

type sessionQuerier struct {
	sidecar   Sidecar
	sessionID string
}

func (q sessionQuerier) QueryElements(ctx context.Context, req browser.ElementsRequest) ([]browser.Element, error) {
	return q.sidecar.QueryElements(ctx, q.sessionID, req)
}
