package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"reportbot/internal/app"
	"reportbot/internal/report"
	"reportbot/internal/schedule"
	"reportbot/internal/storage"
	"reportbot/internal/task"
	"reportbot/internal/taskmgr"
)

func createTaskCmd() *command {
	return &command{
		name:    "create-task",
		summary: "create a scheduled report task (interactive form when no -name is given)",
		setup: func(fs *flag.FlagSet) runFunc {
			var def taskmgr.Definition
			var testDelivery bool
			fs.StringVar(&def.Name, "name", "", "unique task name")
			fs.StringVar(&def.Description, "description", "", "what the report is for")
			fs.StringVar(&def.ReportReference, "report", "", "saved report configuration name")
			fs.StringVar(&def.ReportType, "type", report.TypeSavedConfig, "report type ("+report.TypeSavedConfig+" or "+report.TypeMessage+")")
			fs.StringVar(&def.DeliveryTarget, "target", "", "Telegram chat id, optionally <chat_id>/<thread_id>")
			fs.StringVar(&def.TimeOfDay, "time", "", "time of day, HH:MM")
			fs.StringVar(&def.Frequency, "frequency", "daily", "daily, weekly or monthly")
			fs.BoolVar(&def.Disabled, "disabled", false, "create the task inactive")
			fs.BoolVar(&testDelivery, "test-delivery", false, "send a test message to the target after creating")

			return func(ctx context.Context, e *env, args []string) error {
				if len(args) > 0 {
					return usagef("unexpected arguments: %s", strings.Join(args, " "))
				}
				if strings.TrimSpace(def.Name) == "" {
					if !e.interactive {
						return usagef("-name is required when not running in a terminal")
					}
					var err error
					if testDelivery, err = createForm(e, &def); err != nil {
						return err
					}
				}
				t, err := e.app.Tasks().Create(ctx, def)
				if err != nil {
					return err
				}
				fmt.Fprintf(e.stdout, "Task %q created: %s, next run %s\n", t.Name, fmtSchedule(t), fmtTime(t.NextRun))
				if testDelivery {
					sendTestMessage(ctx, e, t)
				}
				return nil
			}
		},
	}
}

func sendTestMessage(ctx context.Context, e *env, t task.Task) {
	msg := fmt.Sprintf("<b>Test message</b>\nTask <b>%s</b> will deliver %s reports here (%s).",
		html.EscapeString(t.Name), html.EscapeString(t.ReportReference), html.EscapeString(fmtSchedule(t)))
	if err := e.app.Notifier().Deliver(ctx, t.DeliveryTarget, msg, ""); err != nil {
		fmt.Fprintf(e.stderr, "warning: test delivery to %s failed: %v\n", t.DeliveryTarget, err)
		return
	}
	fmt.Fprintf(e.stdout, "Test message sent to %s\n", t.DeliveryTarget)
}

func listTasksCmd() *command {
	return &command{
		name:    "list-tasks",
		summary: "list tasks with schedule, next run and success rate",
		setup: func(fs *flag.FlagSet) runFunc {
			long := fs.Bool("long", false, "print one detail block per task")
			asJSON := fs.Bool("json", false, "print tasks as JSON")

			return func(ctx context.Context, e *env, args []string) error {
				if len(args) > 0 {
					return usagef("unexpected arguments: %s", strings.Join(args, " "))
				}
				tasks, err := e.app.Tasks().List(ctx)
				if err != nil {
					return err
				}
				switch {
				case *asJSON:
					enc := json.NewEncoder(e.stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(tasks)
				case len(tasks) == 0:
					fmt.Fprintln(e.stdout, "No scheduled tasks found.")
				case *long:
					printTaskDetails(e, tasks)
				default:
					printTaskTable(e, tasks)
				}
				fmt.Fprintln(e.stdout, schedulerLine(e, tasks))
				return nil
			}
		},
	}
}

func printTaskTable(e *env, tasks []task.Task) {
	tbl := newTable("Name", "State", "Schedule", "Report", "Target", "Next run", "Last run", "Runs", "Success")
	for _, t := range tasks {
		tbl.Row(t.Name, fmtActive(t.Active), fmtSchedule(t), fmtReport(t), t.DeliveryTarget,
			fmtTime(t.NextRun), fmtTime(t.LastRun), strconv.Itoa(t.RunCount), fmtRate(t))
	}
	fmt.Fprintln(e.stdout, tbl.Render())
}

func printTaskDetails(e *env, tasks []task.Task) {
	for i, t := range tasks {
		if i > 0 {
			fmt.Fprintln(e.stdout)
		}
		fmt.Fprintln(e.stdout, styleTitle.Render(t.Name))
		row := func(label, value string) {
			fmt.Fprintf(e.stdout, "  %s %s\n", styleLabel.Render(fmt.Sprintf("%-13s", label+":")), value)
		}
		row("Description", t.Description)
		row("Report", fmtReport(t))
		row("Target", t.DeliveryTarget)
		row("Schedule", fmtSchedule(t))
		row("Status", fmtActive(t.Active))
		row("Created", fmtTime(&t.CreatedAt))
		row("Next run", fmtTime(t.NextRun))
		row("Last run", fmtTime(t.LastRun))
		row("Runs", fmt.Sprintf("%d (%d ok, %d failed)", t.RunCount, t.SuccessCount, t.ErrorCount))
		row("Success rate", fmtRate(t))
		if t.LastError != nil {
			row("Last error", *t.LastError)
		}
		if t.Active {
			next := schedule.Preview(t.TimeOfDay, t.Frequency, e.app.Now(), 3)
			upcoming := make([]string, 0, len(next))
			for _, n := range next {
				upcoming = append(upcoming, n.Format(timeLayout))
			}
			row("Upcoming", strings.Join(upcoming, ", "))
		}
	}
}

// schedulerLine reports whether a daemon is running for this config.
func schedulerLine(e *env, tasks []task.Task) string {
	active := 0
	for _, t := range tasks {
		if t.Active {
			active++
		}
	}
	state := "stopped"
	if pid, err := app.DaemonPID(e.app.Config().Scheduler.PIDFile); err == nil {
		state = fmt.Sprintf("running (pid %d)", pid)
	}
	return fmt.Sprintf("Scheduler: %s | Tasks: %d/%d active", state, active, len(tasks))
}

func executeTaskCmd() *command {
	return &command{
		name:    "execute-task",
		args:    "<name>",
		summary: "run a task now, regardless of its schedule",
		setup: func(*flag.FlagSet) runFunc {
			return func(ctx context.Context, e *env, args []string) error {
				name, err := oneName(args)
				if err != nil {
					return err
				}
				return executeTask(ctx, e, name)
			}
		},
	}
}

func executeTask(ctx context.Context, e *env, name string) error {
	start := time.Now()
	ok, err := e.app.Tasks().ExecuteNow(ctx, name)
	if err != nil {
		return err
	}
	took := time.Since(start).Truncate(time.Millisecond)
	if ok {
		fmt.Fprintf(e.stdout, "Task %q executed successfully in %s\n", name, took)
		return nil
	}
	reason := "unknown error"
	if t, gerr := e.app.Tasks().Get(ctx, name); gerr == nil && t.LastError != nil {
		reason = *t.LastError
	}
	return fmt.Errorf("task %q failed after %s: %s", name, took, reason)
}

func toggleTaskCmd() *command {
	return &command{
		name:    "toggle-task",
		args:    "<name>",
		summary: "activate an inactive task or deactivate an active one",
		setup: func(*flag.FlagSet) runFunc {
			return func(ctx context.Context, e *env, args []string) error {
				name, err := oneName(args)
				if err != nil {
					return err
				}
				t, err := e.app.Tasks().Toggle(ctx, name)
				if err != nil {
					return err
				}
				if t.Active {
					fmt.Fprintf(e.stdout, "Task %q activated, next run %s\n", t.Name, fmtTime(t.NextRun))
				} else {
					fmt.Fprintf(e.stdout, "Task %q deactivated\n", t.Name)
				}
				return nil
			}
		},
	}
}

func deleteTaskCmd() *command {
	return &command{
		name:    "delete-task",
		args:    "<name>",
		summary: "delete a task",
		setup: func(fs *flag.FlagSet) runFunc {
			yes := fs.Bool("yes", false, "do not ask for confirmation")

			return func(ctx context.Context, e *env, args []string) error {
				name, err := oneName(args)
				if err != nil {
					return err
				}
				if !*yes && e.interactive {
					ok, err := confirm(fmt.Sprintf("Delete task %q?", name))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(e.stdout, "Cancelled.")
						return nil
					}
				}
				deleted, err := e.app.Tasks().Delete(ctx, name)
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("%w: %s", task.ErrTaskNotFound, name)
				}
				fmt.Fprintf(e.stdout, "Task %q deleted\n", name)
				return nil
			}
		},
	}
}

func historyCmd() *command {
	return &command{
		name:    "history",
		args:    "[name]",
		summary: "show recent runs, for one task or all",
		setup: func(fs *flag.FlagSet) runFunc {
			limit := fs.Int("n", 20, "number of runs to show")

			return func(ctx context.Context, e *env, args []string) error {
				if len(args) > 1 {
					return usagef("expected at most one task name")
				}
				if *limit <= 0 {
					return usagef("-n must be positive")
				}
				name := ""
				if len(args) == 1 {
					name = strings.TrimSpace(args[0])
				}
				runs, err := e.app.History()
				if errors.Is(err, storage.ErrDisabled) {
					return errors.New("run history is disabled (storage.history.driver is none)")
				}
				if err != nil {
					return err
				}
				recs, err := runs.Recent(ctx, name, *limit)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(e.stdout, "No runs recorded.")
					return nil
				}
				tbl := newTable("Started", "Task", "Trigger", "Result", "Took", "Error")
				for _, r := range recs {
					result := "ok"
					if !r.OK {
						result = "failed"
					}
					tbl.Row(fmtTime(&r.Started), r.Task, r.Trigger, result, r.Duration.Truncate(time.Millisecond).String(), r.Error)
				}
				fmt.Fprintln(e.stdout, tbl.Render())
				return nil
			}
		},
	}
}

func executeDueCmd() *command {
	return &command{
		name:    "execute-due",
		summary: "run one scheduler sweep now and exit (for cron-driven setups)",
		setup: func(*flag.FlagSet) runFunc {
			return func(ctx context.Context, e *env, args []string) error {
				if len(args) > 0 {
					return usagef("unexpected arguments: %s", strings.Join(args, " "))
				}
				n, err := e.app.Scheduler().SweepOnce(ctx, e.app.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(e.stdout, "%d due task(s) executed\n", n)
				return nil
			}
		},
	}
}
