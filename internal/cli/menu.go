package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"reportbot/internal/app"
)

const (
	actionCreate    = "create"
	actionList      = "list"
	actionExecute   = "execute"
	actionToggle    = "toggle"
	actionDelete    = "delete"
	actionDashboard = "dashboard"
	actionHistory   = "history"
	actionStart     = "start"
	actionStop      = "stop"
	actionExit      = "exit"
)

func menuCmd() *command {
	return &command{
		name:    "menu",
		summary: "interactive menu for all task operations",
		setup: func(*flag.FlagSet) runFunc {
			return func(ctx context.Context, e *env, args []string) error {
				if len(args) > 0 {
					return usagef("unexpected arguments: %s", strings.Join(args, " "))
				}
				if !e.interactive {
					return usagef("menu needs a terminal")
				}
				return runMenu(ctx, e)
			}
		},
	}
}

func runMenu(ctx context.Context, e *env) error {
	for ctx.Err() == nil {
		tasks, err := e.app.Tasks().List(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.stdout)
		fmt.Fprintln(e.stdout, styleTitle.Render("Scheduled Task Manager"))
		fmt.Fprintln(e.stdout, schedulerLine(e, tasks))

		_, running := daemonPID(e)
		schedAction := huh.NewOption("Start scheduler (foreground)", actionStart)
		if running {
			schedAction = huh.NewOption("Stop scheduler", actionStop)
		}
		action := actionList
		err = huh.NewSelect[string]().
			Title("Select an action").
			Options(
				huh.NewOption("Create new task", actionCreate),
				huh.NewOption("List tasks", actionList),
				huh.NewOption("Execute task", actionExecute),
				huh.NewOption("Toggle task (enable/disable)", actionToggle),
				huh.NewOption("Delete task", actionDelete),
				huh.NewOption("Dashboard", actionDashboard),
				huh.NewOption("Run history", actionHistory),
				schedAction,
				huh.NewOption("Exit", actionExit),
			).
			Value(&action).
			Run()
		if err != nil {
			if errors.Is(formErr(err), errCancelled) {
				return nil
			}
			return err
		}
		if action == actionExit {
			return nil
		}
		if err := menuAction(ctx, e, action); err != nil {
			if errors.Is(err, errCancelled) {
				continue
			}
			fmt.Fprintln(e.stderr, "error:", err)
		}
	}
	return nil
}

func menuAction(ctx context.Context, e *env, action string) error {
	switch action {
	case actionCreate:
		return runSub(ctx, e, createTaskCmd(), nil)
	case actionList:
		return runSub(ctx, e, listTasksCmd(), nil)
	case actionDashboard:
		return runSub(ctx, e, dashboardCmd(), nil)
	case actionHistory:
		return runSub(ctx, e, historyCmd(), []string{"-n", "15"})
	case actionStart:
		fmt.Fprintln(e.stdout, "Press Ctrl+C to stop the scheduler and exit.")
		return runSub(ctx, e, startSchedulerCmd(), nil)
	case actionStop:
		return runSub(ctx, e, stopSchedulerCmd(), nil)
	}

	name, err := pickTask(ctx, e, "Select task")
	if err != nil {
		return err
	}
	switch action {
	case actionExecute:
		return runSub(ctx, e, executeTaskCmd(), []string{name})
	case actionToggle:
		return runSub(ctx, e, toggleTaskCmd(), []string{name})
	case actionDelete:
		return runSub(ctx, e, deleteTaskCmd(), []string{name})
	}
	return fmt.Errorf("unknown action %q", action)
}

// runSub runs another command with the menu's already-loaded app.
func runSub(ctx context.Context, e *env, c *command, args []string) error {
	fs := flag.NewFlagSet(c.name, flag.ContinueOnError)
	run := c.setup(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return run(ctx, e, fs.Args())
}

func daemonPID(e *env) (int, bool) {
	pid, err := app.DaemonPID(e.app.Config().Scheduler.PIDFile)
	return pid, err == nil
}
