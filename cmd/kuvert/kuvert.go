package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/campaign"
	"github.com/modfin/kuvert/internal/clix"
	"github.com/modfin/kuvert/internal/config"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/mta"
	"github.com/modfin/kuvert/internal/queue"
	"github.com/modfin/kuvert/internal/transport"
	"github.com/modfin/kuvert/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type globalArgs struct {
	EnvFiles []string `cli:"env-file"`
	DbURI    string   `cli:"db"`
	Verbose  bool     `cli:"verbose"`
}

type enqueueArgs struct {
	To            string     `cli:"to"`
	Name          string     `cli:"name"`
	Subject       string     `cli:"subject"`
	Text          string     `cli:"text"`
	HTML          string     `cli:"html"`
	Kind          string     `cli:"kind"`
	At            *time.Time `cli:"at"`
	CorrelationID string     `cli:"correlation-id"`
}

type listArgs struct {
	Status        string `cli:"status"`
	CampaignID    string `cli:"campaign"`
	Kind          string `cli:"kind"`
	CorrelationID string `cli:"correlation-id"`
	Page          int    `cli:"page"`
	PageSize      int    `cli:"page-size"`
}

type campaignArgs struct {
	Name     string     `cli:"name"`
	Subject  string     `cli:"subject"`
	Text     string     `cli:"text"`
	HTML     string     `cli:"html"`
	Audience string     `cli:"audience"`
	At       *time.Time `cli:"at"`
}

// env is what a command needs to act directly on the store
type env struct {
	cfg       *config.Config
	lc        *tools.Logger
	db        dao.DAO
	queue     *queue.Service
	campaigns *campaign.Orchestrator
}

func (e *env) processor() *mta.Processor {
	return mta.New(mta.Config{
		BatchSize:   e.cfg.BatchSize,
		MaxBatches:  e.cfg.MaxBatches,
		BackoffStep: e.cfg.BackoffStep,
		StaleAfter:  e.cfg.StaleAfter,
		Retention:   e.cfg.Retention,
	}, e.db, transport.FromConfig(e.cfg, e.lc), e.lc)
}

func open(c *cli.Context) (*env, error) {
	args := clix.Parse[globalArgs](c)
	cfg, err := config.Load(args.EnvFiles...)
	if err != nil {
		return nil, err
	}
	if len(args.DbURI) > 0 {
		cfg.DbURI = args.DbURI
	}
	level := "warn"
	if args.Verbose {
		level = "debug"
	}
	lc := tools.LoggerCloner(tools.NewLogger(level, false))
	cfg.Sanitize(lc.New("kuvert"))

	db, err := dao.New(cfg.DbURI, lc)
	if err != nil {
		return nil, err
	}
	q := queue.New(db, lc, queue.WithMaxAttempts(cfg.MaxAttempts))
	return &env{
		cfg:       cfg,
		lc:        lc,
		db:        db,
		queue:     q,
		campaigns: campaign.New(db, q, lc),
	}, nil
}

// with opens the store for the duration of the action
func with(action func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := open(c)
		if err != nil {
			return err
		}
		defer e.db.Close()
		return action(c, e)
	}
}

func output(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}

func idArg(c *cli.Context) (string, error) {
	id := c.Args().First()
	if len(id) == 0 {
		return "", errors.New("an id is required")
	}
	return id, nil
}

func main() {
	app := &cli.App{
		Name:  "kuvert",
		Usage: "operate the kuvert email queue directly on its store",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "env-file", Usage: "read configuration from a .env file"},
			&cli.StringFlag{Name: "db", Usage: "override KUVERT_DB_URI"},
			&cli.BoolFlag{Name: "verbose", Usage: "log debug output"},
		},
		Commands: []*cli.Command{
			{
				Name:  "enqueue",
				Usage: "put a message on the queue",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "to", Required: true, Usage: "recipient email"},
					&cli.StringFlag{Name: "name", Usage: "recipient name"},
					&cli.StringFlag{Name: "subject", Required: true},
					&cli.StringFlag{Name: "text", Usage: "text content of the mail"},
					&cli.StringFlag{Name: "html", Usage: "html content of the mail"},
					&cli.StringFlag{Name: "kind", Value: string(kuvert.KindAdminNotification)},
					&cli.TimestampFlag{Name: "at", Layout: time.RFC3339, Usage: "schedule the message, eg. 2024-03-01T12:00:00Z"},
					&cli.StringFlag{Name: "correlation-id"},
				},
				Action: with(enqueue),
			},
			{
				Name:  "list",
				Usage: "list messages, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status"},
					&cli.StringFlag{Name: "campaign"},
					&cli.StringFlag{Name: "kind"},
					&cli.StringFlag{Name: "correlation-id"},
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "page-size", Value: queue.DefaultPageSize},
				},
				Action: with(list),
			},
			{
				Name:      "show",
				Usage:     "show a message and its log",
				ArgsUsage: "<message id>",
				Action:    with(show),
			},
			{
				Name:      "cancel",
				Usage:     "cancel a message that has not yet been picked up",
				ArgsUsage: "<message id>",
				Action: with(func(c *cli.Context, e *env) error {
					id, err := idArg(c)
					if err != nil {
						return err
					}
					ok, err := e.queue.Cancel(c.Context, id)
					if err != nil {
						return err
					}
					return output(map[string]interface{}{"id": id, "cancelled": ok})
				}),
			},
			{
				Name:      "retry",
				Usage:     "requeue a failed or cancelled message",
				ArgsUsage: "<message id>",
				Action: with(func(c *cli.Context, e *env) error {
					id, err := idArg(c)
					if err != nil {
						return err
					}
					ok, err := e.queue.Retry(c.Context, id)
					if err != nil {
						return err
					}
					return output(map[string]interface{}{"id": id, "requeued": ok})
				}),
			},
			{
				Name:  "stats",
				Usage: "count messages per status",
				Action: with(func(c *cli.Context, e *env) error {
					counts, err := e.queue.Counts(c.Context)
					if err != nil {
						return err
					}
					return output(counts)
				}),
			},
			{
				Name:  "tick",
				Usage: "run one processor tick with the configured transport",
				Action: with(func(c *cli.Context, e *env) error {
					res, err := e.processor().RunTick(c.Context)
					if err != nil {
						return err
					}
					return output(res)
				}),
			},
			{
				Name:  "sweep",
				Usage: "recover messages left in processing by an interrupted tick",
				Action: with(func(c *cli.Context, e *env) error {
					res, err := e.processor().RunRetrySweep(c.Context)
					if err != nil {
						return err
					}
					return output(res)
				}),
			},
			{
				Name:  "purge",
				Usage: "delete sent messages older than KUVERT_RETENTION",
				Action: with(func(c *cli.Context, e *env) error {
					n, err := e.processor().RunRetentionSweep(c.Context)
					if err != nil {
						return err
					}
					return output(map[string]int64{"purged": n})
				}),
			},
			{
				Name:  "campaign",
				Usage: "manage campaigns",
				Subcommands: []*cli.Command{
					{
						Name: "create",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Required: true},
							&cli.StringFlag{Name: "subject", Required: true, Usage: "may contain tokens, eg. {{first_name}}"},
							&cli.StringFlag{Name: "text"},
							&cli.StringFlag{Name: "html"},
							&cli.StringFlag{Name: "audience", Value: string(kuvert.AudienceAll), Usage: "all, individual, team or recent"},
							&cli.TimestampFlag{Name: "at", Layout: time.RFC3339, Usage: "schedule the campaign"},
						},
						Action: with(createCampaign),
					},
					{
						Name:   "list",
						Flags:  []cli.Flag{&cli.StringFlag{Name: "status"}},
						Action: with(listCampaigns),
					},
					{
						Name:      "send",
						Usage:     "expand a campaign into messages now",
						ArgsUsage: "<campaign id>",
						Action: with(func(c *cli.Context, e *env) error {
							id, err := idArg(c)
							if err != nil {
								return err
							}
							camp, err := e.campaigns.Send(c.Context, id)
							if err != nil {
								return err
							}
							return output(camp)
						}),
					},
					{
						Name:      "cancel",
						ArgsUsage: "<campaign id>",
						Action: with(func(c *cli.Context, e *env) error {
							id, err := idArg(c)
							if err != nil {
								return err
							}
							camp, err := e.campaigns.Cancel(c.Context, id)
							if err != nil {
								return err
							}
							return output(camp)
						}),
					},
					{
						Name:  "sweep",
						Usage: "send campaigns whose scheduled time has passed",
						Action: with(func(c *cli.Context, e *env) error {
							n, err := e.campaigns.RunScheduledSweep(c.Context)
							if err != nil {
								return err
							}
							return output(map[string]int{"sent": n})
						}),
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func enqueue(c *cli.Context, e *env) error {
	args := clix.Parse[enqueueArgs](c)
	m, err := e.queue.Add(c.Context, queue.Request{
		To:            kuvert.Address{Name: args.Name, Email: args.To},
		Content:       queue.Content{Subject: args.Subject, Text: args.Text, HTML: args.HTML},
		Kind:          kuvert.Kind(args.Kind),
		At:            args.At,
		CorrelationID: args.CorrelationID,
	})
	if err != nil {
		return err
	}
	return output(m)
}

func list(c *cli.Context, e *env) error {
	args := clix.Parse[listArgs](c)
	page, err := e.queue.Query(c.Context, queue.Filter{
		Status:        kuvert.Status(args.Status),
		CampaignID:    args.CampaignID,
		Kind:          kuvert.Kind(args.Kind),
		CorrelationID: args.CorrelationID,
		Page:          args.Page,
		PageSize:      args.PageSize,
	})
	if err != nil {
		return err
	}
	return output(page)
}

func show(c *cli.Context, e *env) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	m, err := e.queue.Get(c.Context, id)
	if err != nil {
		return err
	}
	entries, err := e.queue.Log(c.Context, id)
	if err != nil {
		return err
	}
	return output(map[string]interface{}{"message": m, "log": entries})
}

func createCampaign(c *cli.Context, e *env) error {
	args := clix.Parse[campaignArgs](c)
	camp, err := e.campaigns.Create(c.Context, campaign.Draft{
		Name:     args.Name,
		Subject:  args.Subject,
		Text:     args.Text,
		HTML:     args.HTML,
		Audience: kuvert.Audience(args.Audience),
	})
	if err != nil {
		return err
	}
	if args.At != nil {
		camp, err = e.campaigns.Schedule(c.Context, camp.ID, *args.At)
		if err != nil {
			return err
		}
	}
	return output(camp)
}

func listCampaigns(c *cli.Context, e *env) error {
	list, total, err := e.campaigns.List(c.Context, kuvert.CampaignStatus(c.String("status")), 1, queue.MaxPageSize)
	if err != nil {
		return err
	}
	return output(map[string]interface{}{"campaigns": list, "total": total})
}
