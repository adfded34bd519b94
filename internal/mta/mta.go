package mta

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/transport"
	"github.com/modfin/kuvert/tools"
)

const maxErrorLength = 1000

// ErrorInterrupted is recorded on messages recovered by the retry sweep
const ErrorInterrupted = "delivery interrupted"

type Config struct {
	BatchSize   int
	MaxBatches  int
	BackoffStep time.Duration
	StaleAfter  time.Duration
	Retention   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 10
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	return c
}

type Option func(p *Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

func WithMetrics(f promauto.Factory) Option {
	return func(p *Processor) {
		p.metrics = newMetrics(f)
	}
}

// Processor moves due messages through processing to sent, failed or back to pending.
// Only one tick or retry sweep runs at a time, an overlapping call is skipped.
type Processor struct {
	db        dao.DAO
	transport transport.Transport
	cfg       Config
	now       func() time.Time
	log       *logrus.Logger
	metrics   *metrics

	running atomic.Bool

	ticks, skipped, batches, claimed, sent, retried, failed, errors atomic.Int64

	mu           sync.Mutex
	lastTick     time.Time
	lastDuration time.Duration
}

func New(cfg Config, db dao.DAO, t transport.Transport, lc *tools.Logger, opts ...Option) *Processor {
	if t == nil {
		t = transport.Unavailable("no transport configured")
	}
	p := &Processor{
		db:        db,
		transport: t,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		log:       lc.New("mta"),
		metrics:   newMetrics(promauto.With(nil)),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Result summarises a single tick or sweep
type Result struct {
	Run     string `json:"run"`
	Skipped bool   `json:"skipped"`
	Batches int    `json:"batches"`
	Claimed int    `json:"claimed"`
	Sent    int    `json:"sent"`
	Retried int    `json:"retried"`
	Failed  int    `json:"failed"`
}

func (p *Processor) acquire() bool {
	return p.running.CompareAndSwap(false, true)
}

func (p *Processor) release() {
	p.running.Store(false)
}

// RunTick delivers up to MaxBatches batches of due messages. An error means the tick was
// aborted by the store, transport failures are handled by the retry policy.
func (p *Processor) RunTick(ctx context.Context) (res Result, err error) {
	res.Run = xid.New().String()
	log := p.log.WithField("run", res.Run)

	if !p.acquire() {
		res.Skipped = true
		p.skipped.Add(1)
		p.metrics.skipped.Inc()
		log.Debug("previous run still in progress, skipping tick")
		return res, nil
	}
	defer p.release()

	start := p.now()
	p.ticks.Add(1)
	p.metrics.ticks.Inc()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked, %v", r)
		}
		d := p.now().Sub(start)
		p.mu.Lock()
		p.lastTick, p.lastDuration = start, d
		p.mu.Unlock()
		p.metrics.duration.Observe(d.Seconds())
		if err != nil {
			p.errors.Add(1)
			p.metrics.errors.Inc()
			log.WithError(err).Error("tick aborted")
			return
		}
		if res.Claimed > 0 {
			log.WithFields(logrus.Fields{
				"batches": res.Batches,
				"sent":    res.Sent,
				"retried": res.Retried,
				"failed":  res.Failed,
			}).Info("tick done")
		}
	}()

	for b := 0; b < p.cfg.MaxBatches; b++ {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		due, err := p.db.DueMessages(ctx, p.now(), p.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		if len(due) == 0 {
			break
		}
		res.Batches++
		p.batches.Add(1)

		for _, m := range due {
			err = p.deliver(ctx, log, m, &res)
			if err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func (p *Processor) deliver(ctx context.Context, log *logrus.Entry, m kuvert.Message, res *Result) error {
	log = log.WithField("mid", m.ID)

	if !m.Due(p.now()) {
		log.Debug("message not due, skipping")
		return nil
	}
	claimed, err := p.db.ClaimMessage(ctx, m.ID, p.now())
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug("message changed since selection, skipping")
		return nil
	}
	m.AttemptCount++
	res.Claimed++
	p.claimed.Add(1)

	sendErr := p.send(ctx, m)

	// the outcome is written even if the tick is being cancelled, or the message would be stuck processing
	ctx = context.WithoutCancel(ctx)
	if sendErr == nil {
		err = p.db.MarkSent(ctx, m.ID, p.now())
		if err != nil {
			return err
		}
		res.Sent++
		p.sent.Add(1)
		p.metrics.outcomes.WithLabelValues("sent").Inc()
		log.Debug("message sent")
		return nil
	}

	log.WithError(sendErr).WithField("attempt", m.AttemptCount).Warn("could not deliver message")
	return p.fail(ctx, log, m, sendErr.Error(), res)
}

// send calls the transport, a panic is treated as a failed attempt
func (p *Processor) send(ctx context.Context, m kuvert.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panicked, %v", r)
		}
	}()
	return p.transport.Send(ctx, transport.EnvelopeOf(m))
}

// fail applies the retry policy to a message whose attempt has been counted
func (p *Processor) fail(ctx context.Context, log *logrus.Entry, m kuvert.Message, reason string, res *Result) error {
	reason = tools.Truncate(reason, maxErrorLength)
	now := p.now()

	if m.AttemptCount >= m.MaxAttempts {
		err := p.db.MarkFailed(ctx, m.ID, reason, now)
		if err != nil {
			return err
		}
		res.Failed++
		p.failed.Add(1)
		p.metrics.outcomes.WithLabelValues("failed").Inc()
		log.WithField("attempts", m.AttemptCount).Warn("attempts exhausted, message failed")
		return nil
	}

	next := now.Add(time.Duration(m.AttemptCount) * p.cfg.BackoffStep)
	err := p.db.MarkRetry(ctx, m.ID, reason, next, now)
	if err != nil {
		return err
	}
	res.Retried++
	p.retried.Add(1)
	p.metrics.outcomes.WithLabelValues("retried").Inc()
	log.WithField("next", next).Debug("message requeued")
	return nil
}

// RunRetrySweep recovers messages left in processing by a run that never finished,
// counting the interrupted attempt against their budget.
func (p *Processor) RunRetrySweep(ctx context.Context) (res Result, err error) {
	res.Run = xid.New().String()
	log := p.log.WithField("run", res.Run).WithField("sweep", "retry")

	if !p.acquire() {
		res.Skipped = true
		log.Debug("run in progress, skipping retry sweep")
		return res, nil
	}
	defer p.release()

	stale, err := p.db.StaleMessages(ctx, p.now().Add(-p.cfg.StaleAfter), p.cfg.BatchSize*p.cfg.MaxBatches)
	if err != nil {
		p.errors.Add(1)
		p.metrics.errors.Inc()
		log.WithError(err).Error("retry sweep aborted")
		return res, err
	}
	for _, m := range stale {
		res.Claimed++
		err = p.fail(ctx, log.WithField("mid", m.ID), m, ErrorInterrupted, &res)
		if err != nil {
			p.errors.Add(1)
			p.metrics.errors.Inc()
			log.WithError(err).Error("retry sweep aborted")
			return res, err
		}
	}
	if len(stale) > 0 {
		log.WithField("recovered", len(stale)).Info("recovered interrupted messages")
	}
	return res, nil
}

// RunRetentionSweep deletes sent messages older than the retention window
func (p *Processor) RunRetentionSweep(ctx context.Context) (int64, error) {
	if p.cfg.Retention <= 0 {
		return 0, nil
	}
	purged, err := p.db.PurgeSent(ctx, p.now().Add(-p.cfg.Retention))
	if err != nil {
		return 0, err
	}
	p.metrics.purged.Add(float64(purged))
	if purged > 0 {
		p.log.WithField("purged", purged).Info("purged sent messages")
	}
	return purged, nil
}

type Stats struct {
	Running          bool          `json:"running"`
	Ticks            int64         `json:"ticks"`
	SkippedTicks     int64         `json:"skipped_ticks"`
	Batches          int64         `json:"batches"`
	Claimed          int64         `json:"claimed"`
	Sent             int64         `json:"sent"`
	Retried          int64         `json:"retried"`
	Failed           int64         `json:"failed"`
	Errors           int64         `json:"errors"`
	LastTick         *time.Time    `json:"last_tick,omitempty"`
	LastTickDuration time.Duration `json:"last_tick_duration"`
}

func (p *Processor) Stats() Stats {
	s := Stats{
		Running:      p.running.Load(),
		Ticks:        p.ticks.Load(),
		SkippedTicks: p.skipped.Load(),
		Batches:      p.batches.Load(),
		Claimed:      p.claimed.Load(),
		Sent:         p.sent.Load(),
		Retried:      p.retried.Load(),
		Failed:       p.failed.Load(),
		Errors:       p.errors.Load(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lastTick.IsZero() {
		t := p.lastTick
		s.LastTick = &t
	}
	s.LastTickDuration = p.lastDuration
	return s
}
