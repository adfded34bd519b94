package clix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type Status string

type paging struct {
	Page     int `cli:"page"`
	PageSize int `cli:"page-size"`
}

type query struct {
	Status   Status        `cli:"status"`
	Statuses []Status      `cli:"statuses"`
	Verbose  bool          `cli:"verbose"`
	Every    time.Duration `cli:"every"`
	At       *time.Time    `cli:"at"`
	Limit    *int          `cli:"limit"`
	Paging   paging

	ignored string
}

func run(t *testing.T, args ...string) query {
	t.Helper()
	var q query
	app := &cli.App{
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status"},
			&cli.StringSliceFlag{Name: "statuses"},
			&cli.BoolFlag{Name: "verbose"},
			&cli.DurationFlag{Name: "every", Value: time.Minute},
			&cli.TimestampFlag{Name: "at", Layout: "2006-01-02T15:04:05"},
			&cli.IntFlag{Name: "limit"},
			&cli.IntFlag{Name: "page", Value: 1},
			&cli.IntFlag{Name: "page-size", Value: 20},
		},
		Action: func(c *cli.Context) error {
			q = Parse[query](c)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	return q
}

func TestParse(t *testing.T) {
	q := run(t,
		"--status", "failed",
		"--statuses", "failed", "--statuses", "cancelled",
		"--verbose",
		"--every", "5m",
		"--at", "2024-03-01T12:00:00",
		"--limit", "7",
		"--page-size", "50",
	)

	assert.Equal(t, Status("failed"), q.Status)
	assert.Equal(t, []Status{"failed", "cancelled"}, q.Statuses)
	assert.True(t, q.Verbose)
	assert.Equal(t, 5*time.Minute, q.Every)
	require.NotNil(t, q.At)
	assert.Equal(t, "2024-03-01T12:00:00", q.At.Format("2006-01-02T15:04:05"))
	require.NotNil(t, q.Limit)
	assert.Equal(t, 7, *q.Limit)
	assert.Equal(t, paging{Page: 1, PageSize: 50}, q.Paging)
	assert.Equal(t, "", q.ignored)
}

func TestParse_Defaults(t *testing.T) {
	q := run(t)

	assert.Equal(t, Status(""), q.Status)
	assert.Empty(t, q.Statuses)
	assert.Equal(t, time.Minute, q.Every)
	assert.Nil(t, q.At)
	assert.Nil(t, q.Limit)
	assert.Equal(t, paging{Page: 1, PageSize: 20}, q.Paging)
}
