// Package scheduler runs the agent's recurring tasks.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// Task is one recurring job. A failed run is retried with exponential
// backoff instead of waiting for the next Interval.
type Task struct {
	Name     string
	Interval time.Duration
	// NeedsNetwork gates the run on the connectivity probe.
	NeedsNetwork bool
	Run          func(ctx context.Context) error
}

type Probe interface {
	Check(ctx context.Context) error
}

type Scheduler struct {
	logger         *slog.Logger
	probe          Probe
	backoffInitial time.Duration
	backoffMax     time.Duration
	jitter         float64
}

type Option func(*Scheduler)

func WithProbe(p Probe) Option { return func(s *Scheduler) { s.probe = p } }

func WithBackoff(initial, max time.Duration) Option {
	return func(s *Scheduler) {
		if initial > 0 {
			s.backoffInitial = initial
		}
		if max >= s.backoffInitial {
			s.backoffMax = max
		}
	}
}

func WithJitter(f float64) Option { return func(s *Scheduler) { s.jitter = f } }

func New(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:         logger,
		backoffInitial: 30 * time.Second,
		backoffMax:     30 * time.Minute,
		jitter:         backoff.DefaultRandomizationFactor,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run starts every task and blocks until ctx is done or a task loop exits
// with an error.
func (s *Scheduler) Run(ctx context.Context, tasks ...Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error { return s.loop(ctx, t) })
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) error {
	if t.Run == nil || t.Interval <= 0 {
		return fmt.Errorf("scheduler: task %q needs Run and a positive Interval", t.Name)
	}
	p := s.newPacer(t.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if t.NeedsNetwork && s.probe != nil {
			if err := s.probe.Check(ctx); err != nil {
				s.logger.DebugContext(ctx, "offline, run skipped",
					"module", "agent.scheduler",
					"operation", t.Name,
					"outcome", "skipped",
					"error", err,
				)
				timer.Reset(t.Interval)
				continue
			}
		}

		err := t.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := p.next(err)
		if err != nil {
			s.logger.WarnContext(ctx, "task run failed; backing off",
				"module", "agent.scheduler",
				"operation", t.Name,
				"outcome", "failure",
				"retry_in", wait.String(),
				"error", err,
			)
		}
		timer.Reset(wait)
	}
}

// pacer picks the delay before the next run.
type pacer struct {
	b        *backoff.ExponentialBackOff
	interval time.Duration
}

func (s *Scheduler) newPacer(interval time.Duration) *pacer {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.backoffInitial
	b.MaxInterval = s.backoffMax
	b.RandomizationFactor = s.jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return &pacer{b: b, interval: interval}
}

func (p *pacer) next(err error) time.Duration {
	if err == nil {
		p.b.Reset()
		return p.interval
	}
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		d = p.b.MaxInterval
	}
	return d
}

// HTTPProbe treats any non-5xx answer from url as connectivity.
type HTTPProbe struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPProbe(url string, client *http.Client) *HTTPProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProbe{url: url, client: client, timeout: 5 * time.Second}
}

func (p *HTTPProbe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe: status %d", resp.StatusCode)
	}
	return nil
}
