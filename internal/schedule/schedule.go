package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/modfin/kuvert/tools"
)

// Job is a plain function fired at a fixed rate. A run that outlasts the interval does not
// delay the next one, jobs that must not overlap guard themselves.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error

	// Wake fires the job between ticks, optional
	Wake <-chan struct{}
}

type Scheduler struct {
	jobs []Job
	log  *logrus.Logger
}

func New(lc *tools.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		log:  lc.New("schedule"),
	}
}

// Run fires the jobs until ctx is done and waits for running jobs to return
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		if job.Every <= 0 || job.Run == nil {
			s.log.WithField("job", job.Name).Warn("job has no interval, not scheduling it")
			continue
		}
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	log := s.log.WithField("job", job.Name)
	log.WithField("every", job.Every).Info("scheduling job")

	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("stopping job")
			return
		case <-ticker.C:
		case <-job.Wake:
			log.Debug("woken")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := job.Run(ctx)
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Error("job failed")
			}
		}()
	}
}
