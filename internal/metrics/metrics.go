package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"

	"github.com/modfin/kuvert/tools"
)

type Config struct {
	ServiceName  string
	Push         string
	PushInterval time.Duration
}

func New(c Config, lc *tools.Logger) *Metrics {
	p := &Metrics{
		config:     c,
		logger:     lc.New("prometheus"),
		registerer: prometheus.DefaultRegisterer,
	}
	if len(c.ServiceName) == 0 {
		p.config.ServiceName = "kuvert"
	}
	if c.PushInterval <= 0 {
		p.config.PushInterval = time.Minute
	}
	if c.Push != "" {
		p.pusher = push.New(c.Push, p.config.ServiceName).Gatherer(prometheus.DefaultGatherer)
	}
	return p
}

type Metrics struct {
	config     Config
	pusher     *push.Pusher
	registerer prometheus.Registerer
	logger     *logrus.Logger
}

func (p *Metrics) Register() promauto.Factory {
	return promauto.With(p.registerer)
}

// Run pushes metrics to the push gateway until ctx is done, ending with a final push.
// Without a push url it returns immediately.
func (p *Metrics) Run(ctx context.Context) error {
	if p.pusher == nil {
		p.logger.Debug("no push gateway configured")
		return nil
	}
	p.logger.WithField("url", p.config.Push).WithField("every", p.config.PushInterval).Info("pushing metrics")

	ticker := time.NewTicker(p.config.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.push(context.Background())
			return nil
		case <-ticker.C:
			p.push(ctx)
		}
	}
}

func (p *Metrics) push(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := p.pusher.PushContext(ctx)
	if err != nil {
		p.logger.Errorf("failed to push metrics: %v", err)
	}
}
