package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
	"github.com/jdziat/simple-scheduled-mail/pkg/queue"
)

var (
	scheduleFlags = []cli.Flag{
		cli.StringFlag{Name: "to, t", Usage: "recipient address"},
		cli.StringFlag{Name: "subject, s", Usage: "subject line"},
		cli.StringFlag{Name: "body, b", Usage: "message body"},
		cli.StringFlag{Name: "body-file", Usage: "read the body from a file"},
		cli.StringFlag{Name: "at", Usage: "due time, 2006-01-02T15:04:05 (UTC) or RFC 3339 (default: now)"},
		cli.StringFlag{Name: "recurrence, r", Usage: "none, daily, weekly, monthly or quarterly", Value: "none"},
		cli.StringFlag{Name: "detail", Usage: "free-form recurrence detail"},
		cli.StringSliceFlag{Name: "attach, a", Usage: "attach a file (repeatable)"},
		cli.IntFlag{Name: "max-attempts", Usage: "dispatch attempts before the item fails", Value: queue.DefaultMaxAttempts},
	}

	listFlags = []cli.Flag{
		cli.StringFlag{Name: "status", Usage: "only items in this status"},
		cli.StringFlag{Name: "parent", Usage: "only continuations of this item"},
		cli.IntFlag{Name: "limit, n", Usage: "maximum number of items", Value: 50},
		cli.IntFlag{Name: "offset", Usage: "skip this many items"},
	}
)

func schedule(c *cli.Context) error {
	body := c.String("body")
	if path := c.String("body-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = string(data)
	}

	req := queue.Request{
		Recipient:        c.String("to"),
		Subject:          c.String("subject"),
		Body:             body,
		ScheduleAt:       c.String("at"),
		Recurrence:       c.String("recurrence"),
		RecurrenceDetail: c.String("detail"),
	}
	if req.ScheduleAt == "" {
		req.ScheduleTime = time.Now().UTC()
	}
	for _, path := range c.StringSlice("attach") {
		req.Attachments = append(req.Attachments, core.Attachment{URI: path})
	}

	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	id, err := env.queue.Schedule(ctx, req, queue.Attempts(c.Int("max-attempts")))
	if err != nil {
		return err
	}
	item, err := env.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, item)
}

func list(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	items, err := env.queue.List(context.Background(), core.ListFilter{
		Status:   core.Status(c.String("status")),
		ParentID: c.String("parent"),
		Limit:    c.Int("limit"),
		Offset:   c.Int("offset"),
	})
	if err != nil {
		return err
	}
	if items == nil {
		items = []*core.ScheduledItem{}
	}
	return printJSON(c.App.Writer, items)
}

func get(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("get: missing item id")
	}
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	item, err := env.queue.Get(context.Background(), id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, item)
}

func cancel(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("cancel: missing item id")
	}
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	if err := env.queue.Cancel(ctx, id); err != nil {
		return err
	}
	item, err := env.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, item)
}
