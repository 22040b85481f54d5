// Command taskctl manages tasks over the JSON API. Every change is applied to
// a local copy of the list first and reconciled with the server afterwards.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/apiclient"
	"taskify/backend/internal/logger"
	"taskify/backend/internal/optimistic"
	"taskify/backend/internal/utils"
	"taskify/backend/internal/validation"
)

const usage = `usage: taskctl [flags] <command> [args]

commands:
  register                       create the account given by -email/-password
  list                           show tasks
  add [-desc d] [-due date] title
  status <id> <TODO|IN_PROGRESS|DONE>
  edit <id> [-title t] [-desc d] [-due date|-no-due]
  rm <id>
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "taskctl:", optimistic.ErrorMessage(err))
		}
		os.Exit(1)
	}
}

type cli struct {
	client *apiclient.Client
	log    logrus.FieldLogger
	out    io.Writer
	errOut io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("taskctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage); fs.PrintDefaults() }

	serverURL := fs.String("server", utils.GetEnv("TASKCTL_SERVER", "http://localhost:8080"), "API base URL")
	email := fs.String("email", utils.GetEnv("TASKCTL_EMAIL", ""), "account email")
	password := fs.String("password", utils.GetEnv("TASKCTL_PASSWORD", ""), "account password")
	dueBy := fs.String("due-by", "", "list tasks due on or before this date (YYYY-MM-DD)")
	status := fs.String("status", "", "list tasks with this status (todo, in_progress, done)")
	logLevel := fs.String("log-level", utils.GetEnv("TASKCTL_LOG_LEVEL", "warn"), "log level")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	log := logger.NewWithOutput(stderr, "taskctl", *logLevel, "text")
	c := &cli{
		client: apiclient.NewClient(*serverURL, apiclient.WithLogger(log)),
		log:    log,
		out:    stdout,
		errOut: stderr,
	}
	c.client.SetFilter(*dueBy, *status)

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "register" {
		user, err := c.client.Register(ctx, *email, *password)
		if err != nil {
			return c.reportInvalid(err)
		}
		fmt.Fprintf(stdout, "registered %s\n", user.Email)
		return nil
	}

	if _, err := c.client.Login(ctx, *email, *password); err != nil {
		return err
	}
	defer func() {
		if err := c.client.Logout(context.Background()); err != nil {
			log.WithError(err).Debug("logout failed")
		}
	}()

	switch cmd {
	case "list":
		tasks, err := c.client.FetchTasks(ctx)
		if err != nil {
			return err
		}
		c.print(optimistic.Entries(tasks), nil)
		return nil
	case "add":
		return c.add(ctx, rest)
	case "status":
		if len(rest) != 2 {
			fmt.Fprint(stderr, usage)
			return errUsage
		}
		value := strings.ToUpper(rest[1])
		return c.update(ctx, validation.TaskUpdateInput{ID: rest[0], Status: &value})
	case "edit":
		return c.edit(ctx, rest)
	case "rm":
		if len(rest) != 1 {
			fmt.Fprint(stderr, usage)
			return errUsage
		}
		id, err := validation.ValidateTaskID(rest[0])
		if err != nil {
			return c.reportInvalid(err)
		}
		return c.submit(ctx, optimistic.Delete(id))
	}
	fmt.Fprintf(stderr, "unknown command %q\n", cmd)
	fs.Usage()
	return errUsage
}

func (c *cli) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	desc := fs.String("desc", "", "description")
	due := fs.String("due", "", "due date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	task, err := validation.ValidateNewTask(validation.TaskInput{
		Title:       strings.Join(fs.Args(), " "),
		Description: *desc,
		DueDate:     *due,
	})
	if err != nil {
		return c.reportInvalid(err)
	}
	return c.submit(ctx, optimistic.Create(task))
}

func (c *cli) edit(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.errOut, usage)
		return errUsage
	}
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	title := fs.String("title", "", "new title")
	desc := fs.String("desc", "", "new description")
	due := fs.String("due", "", "new due date (YYYY-MM-DD)")
	noDue := fs.Bool("no-due", false, "remove the due date")
	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}

	in := validation.TaskUpdateInput{ID: args[0]}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			in.Title = title
		case "desc":
			in.Description = desc
		case "due":
			in.DueDate = due
		}
	})
	if *noDue {
		empty := ""
		in.DueDate = &empty
	}
	return c.update(ctx, in)
}

func (c *cli) update(ctx context.Context, in validation.TaskUpdateInput) error {
	id, patch, err := validation.ValidateUpdateTask(in)
	if err != nil {
		return c.reportInvalid(err)
	}
	return c.submit(ctx, optimistic.Update(id, patch))
}

// submit runs one action through a dispatcher seeded with the current list
// and prints the list the user ends up with.
func (c *cli) submit(ctx context.Context, action optimistic.Action) error {
	tasks, err := c.client.FetchTasks(ctx)
	if err != nil {
		return err
	}
	d := optimistic.NewDispatcher(optimistic.NewList(tasks), c.client, c.client, c.log)

	res, err := d.Submit(ctx, action)
	if err != nil {
		return err
	}
	if res.Failed {
		c.print(res.Entries, &action)
		return res.Err
	}
	c.print(res.Entries, nil)
	if action.Kind == optimistic.ActionCreate && res.Task.ID != uuid.Nil {
		fmt.Fprintf(c.out, "created %s\n", res.Task.ID)
	}
	return nil
}

// reportInvalid prints field errors one per line. Other errors pass through.
func (c *cli) reportInvalid(err error) error {
	var verr *validation.Errors
	if !errors.As(err, &verr) {
		return err
	}
	for field, msgs := range verr.Fields {
		for _, msg := range msgs {
			fmt.Fprintf(c.errOut, "%s: %s\n", field, msg)
		}
	}
	return err
}

// print writes the list. When failed is set, the entries the action touched
// are flagged as not saved.
func (c *cli) print(entries []optimistic.Entry, failed *optimistic.Action) {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDUE\tTITLE")
	for _, e := range entries {
		title := e.Task.Title
		touched := e.Pending() || (failed != nil && failed.Kind == optimistic.ActionUpdate && e.Task.ID == failed.ID)
		switch {
		case failed != nil && touched:
			title += " (not saved)"
		case e.Pending():
			title += " (saving)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID(), e.Task.Status.Label(), dueLabel(e.Task.DueDate), title)
	}
	w.Flush()
}

func dueLabel(t *time.Time) string {
	if t == nil {
		return "-"
	}
	local := t.In(validation.Location)
	return utils.FormatDate(&local)
}
