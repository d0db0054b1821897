package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/studio-console/internal/api"
	"github.com/rickgao/studio-console/internal/config"
	"github.com/rickgao/studio-console/internal/model"
	"github.com/rickgao/studio-console/internal/poller"
	"github.com/rickgao/studio-console/internal/session"
	"github.com/rickgao/studio-console/internal/tasks"
)

type command struct {
	cfg    *config.ConsoleConfig
	out    io.Writer
	logger *slog.Logger
	client *api.Client
}

func newClient(cfg *config.ConsoleConfig, logger *slog.Logger) *api.Client {
	return api.FromConfig(cfg.API,
		api.WithLogger(logger),
		api.WithUserAgent("taskctl"),
	)
}

func flagSet(name string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func (c *command) create(ctx context.Context, args []string) error {
	fs := flagSet("create", c.out)
	params := fs.StringToStringP("param", "p", nil, "job parameter as key=value (repeatable)")
	wait := fs.BoolP("wait", "w", false, "follow the job over the session until it finishes")
	timeout := fs.Duration("timeout", 30*time.Minute, "give up waiting after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: create needs exactly one kind (crawl, generate, tag)", errUsage)
	}

	kind := model.TaskKind(fs.Arg(0))
	task, err := c.client.CreateTask(ctx, kind, *params)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "created %s job %s (%s)\n", task.Kind, task.ID, task.Status)

	if !*wait || task.Status.IsTerminal() {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	final, err := c.follow(waitCtx, *task)
	if err != nil {
		return err
	}
	return printJSON(c.out, final)
}

// follow opens a session, tracks the job and blocks until it reaches a
// terminal status. Progress is printed as pushes arrive; the poller asks
// for updates and falls back to HTTP while the session is down.
func (c *command) follow(ctx context.Context, task model.Task) (model.Task, error) {
	svc := session.New(session.FromConfig(c.cfg), c.logger)
	defer svc.Close()

	tracker := tasks.NewTracker(tasks.DefaultConfig(), c.logger)
	tracker.Attach(svc)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ch := range tracker.Changes() {
			if ch.TaskID == task.ID {
				fmt.Fprintf(c.out, "%s %5.1f%%\n", ch.NewStatus, ch.Task.Progress)
			}
		}
	}()
	defer func() {
		tracker.Close()
		<-printed
	}()

	tracker.Track(task)

	p := poller.New(poller.Config{
		Interval:    5 * time.Second,
		Concurrency: 1,
		Timeout:     c.cfg.Poller.Timeout,
	}, svc, c.client, tracker, c.logger)

	svc.Connect(c.cfg.API.WSURL)
	if err := p.Start(ctx); err != nil {
		return model.Task{}, err
	}
	defer p.Stop(context.Background())

	final, err := tracker.Wait(ctx, task.ID)
	if err != nil {
		return model.Task{}, fmt.Errorf("wait for job %s: %w", task.ID, err)
	}
	return final, nil
}

func (c *command) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: get needs a job id", errUsage)
	}
	task, err := c.client.GetTask(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(c.out, task)
}

func (c *command) list(ctx context.Context, args []string) error {
	fs := flagSet("list", c.out)
	status := fs.String("status", "", "only jobs with this status")
	kind := fs.String("kind", "", "only jobs of this kind")
	limit := fs.Int("limit", 50, "maximum jobs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := c.client.ListTasks(ctx, api.ListTasksOptions{Status: *status, Kind: *kind, Limit: *limit})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tPROGRESS\tCREATED")
	for _, t := range list {
		created := "-"
		if !t.CreatedAt.IsZero() {
			created = t.CreatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\n", t.ID, t.Kind, t.Status, t.Progress, created)
	}
	return tw.Flush()
}

func (c *command) cancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: cancel needs a job id", errUsage)
	}
	if err := c.client.CancelTask(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "cancel requested for %s\n", args[0])
	return nil
}

func (c *command) history(ctx context.Context, args []string) error {
	fs := flagSet("history", c.out)
	limit := fs.Int("limit", 20, "maximum entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := c.client.GetHistory(ctx, *limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tKIND\tSTATUS\tFINISHED\tSUMMARY")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.TaskID, e.Kind, e.Status, e.FinishedAt, oneLine(e.Summary))
	}
	return tw.Flush()
}

func (c *command) showConfig(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: config takes no arguments", errUsage)
	}
	cfg, err := c.client.GetConfig(ctx)
	if err != nil {
		return err
	}
	return printJSON(c.out, cfg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
