package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/campaign"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/mta"
	"github.com/modfin/kuvert/internal/notify"
	"github.com/modfin/kuvert/internal/queue"
	"github.com/modfin/kuvert/tools"
)

type Config struct {
	Port         int
	Hostname     string
	Keys         []string // no keys disables authentication
	AutoTLS      bool
	AutoTLSCache string
	Metrics      bool // serve echo request metrics and the prometheus registry on /metrics
}

type Server struct {
	cfg  Config
	echo *echo.Echo
	log  *logrus.Logger

	queue         *queue.Service
	processor     *mta.Processor
	campaigns     *campaign.Orchestrator
	notifier      *notify.Notifier
	registrations Registrations
}

type Registrations interface {
	GetRegistration(ctx context.Context, id string) (*kuvert.Registration, error)
}

type Option func(s *Server)

// WithNotifier serves the registration event routes
func WithNotifier(n *notify.Notifier, regs Registrations) Option {
	return func(s *Server) {
		s.notifier = n
		s.registrations = regs
	}
}

func New(cfg Config, q *queue.Service, p *mta.Processor, c *campaign.Orchestrator, lc *tools.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		echo:      echo.New(),
		log:       lc.New("api"),
		queue:     q,
		processor: p,
		campaigns: c,
	}
	for _, o := range opts {
		o(s)
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.WithFields(logrus.Fields{
				"method":  v.Method,
				"path":    v.URIPath,
				"status":  v.Status,
				"latency": v.Latency,
			}).Debug("request")
			return nil
		},
	}))
	if cfg.Metrics {
		prometheus.NewPrometheus("echo", nil).Use(e)
	}
	if len(cfg.Keys) > 0 {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:Authorization,query:key",
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/ping"
			},
			Validator: s.validKey,
		}))
	} else {
		s.log.Warn("no api keys configured, the api is open to anyone who can reach it")
	}

	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	e.GET("/stats", s.stats)

	e.GET("/messages", s.listMessages)
	e.POST("/messages", s.enqueueMessage)
	e.GET("/messages/:id", s.getMessage)
	e.GET("/messages/:id/log", s.messageLog)
	e.POST("/messages/:id/cancel", s.cancelMessage)
	e.POST("/messages/:id/retry", s.retryMessage)

	e.GET("/campaigns", s.listCampaigns)
	e.POST("/campaigns", s.createCampaign)
	e.GET("/campaigns/:id", s.getCampaign)
	e.POST("/campaigns/:id/send", s.sendCampaign)
	e.POST("/campaigns/:id/schedule", s.scheduleCampaign)
	e.POST("/campaigns/:id/cancel", s.cancelCampaign)

	if s.notifier != nil {
		e.POST("/registrations/:id/created", s.registrationCreated)
		e.POST("/registrations/:id/status", s.registrationStatus)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) validKey(key string, _ echo.Context) (bool, error) {
	for _, k := range s.cfg.Keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// Run serves the api until ctx is done
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		var err error
		if s.cfg.AutoTLS {
			s.echo.AutoTLSManager.Cache = autocert.DirCache(s.cfg.AutoTLSCache)
			s.echo.AutoTLSManager.HostPolicy = autocert.HostWhitelist(s.cfg.Hostname)
			s.log.WithField("addr", addr).WithField("host", s.cfg.Hostname).Info("starting api with auto tls")
			err = s.echo.StartAutoTLS(addr)
		} else {
			s.log.WithField("addr", addr).Info("starting api")
			err = s.echo.Start(addr)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down api")
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.echo.Shutdown(shutdown)
	if err != nil {
		return fmt.Errorf("could not shut down api, %w", err)
	}
	return <-errc
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := "internal error"

	var he *echo.HTTPError
	var verr *queue.ValidationError
	switch {
	case errors.As(err, &he):
		code = he.Code
		msg = fmt.Sprint(he.Message)
	case errors.As(err, &verr):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, dao.ErrNotFound):
		code, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, campaign.ErrBusy), errors.Is(err, campaign.ErrInvalidState):
		code, msg = http.StatusConflict, err.Error()
	default:
		s.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]string{"error": strings.ReplaceAll(msg, "\n", "; ")})
	}
	if err != nil {
		s.log.WithError(err).Error("could not write error response")
	}
}
