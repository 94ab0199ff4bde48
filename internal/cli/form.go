package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"reportbot/internal/report"
	"reportbot/internal/schedule"
	"reportbot/internal/task"
	"reportbot/internal/taskmgr"
	kit "reportbot/internal/transport"
)

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

// createForm fills def interactively and reports whether a test message
// should be sent afterwards.
func createForm(e *env, def *taskmgr.Definition) (bool, error) {
	cfg := e.app.Config()
	names, err := report.SavedConfigNames(cfg.Reports.SavedConfigsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(e.stderr, "warning: cannot read saved configs: %v\n", err)
	}

	var reportField huh.Field
	if len(names) > 0 {
		reportField = huh.NewSelect[string]().
			Title("Saved report configuration").
			Options(huh.NewOptions(names...)...).
			Value(&def.ReportReference)
	} else {
		reportField = huh.NewInput().
			Title("Saved report configuration").
			Value(&def.ReportReference).
			Validate(required("report configuration"))
	}

	if def.Frequency == "" {
		def.Frequency = "daily"
	}
	if def.ReportType == "" {
		def.ReportType = report.TypeSavedConfig
	}
	testDelivery := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Task name").
				Placeholder("daily_pnl").
				Value(&def.Name).
				Validate(task.ValidateName),
			huh.NewInput().
				Title("Description").
				Value(&def.Description).
				Validate(required("description")),
		).Title("Task"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Report type").
				Options(huh.NewOptions(e.app.Reports().Types()...)...).
				Value(&def.ReportType),
			reportField,
		).Title("Report"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Frequency").
				Options(
					huh.NewOption("Daily", "daily"),
					huh.NewOption("Weekly (Mondays)", "weekly"),
					huh.NewOption("Monthly (1st day)", "monthly"),
				).
				Value(&def.Frequency),
			huh.NewInput().
				Title("Time of day (HH:MM)").
				Placeholder("09:00").
				Value(&def.TimeOfDay).
				Validate(func(s string) error {
					_, err := schedule.ParseTimeOfDay(s)
					return err
				}),
		).Title("Schedule"),

		huh.NewGroup(
			huh.NewInput().
				Title("Telegram chat id").
				Description("<chat_id> or <chat_id>/<thread_id>").
				Value(&def.DeliveryTarget).
				Validate(func(s string) error {
					_, err := kit.ParseChatTarget(s)
					return err
				}),
			huh.NewConfirm().
				Title("Send a test message now?").
				Value(&testDelivery),
		).Title("Delivery"),
	)
	if err := form.Run(); err != nil {
		return false, formErr(err)
	}
	return testDelivery, nil
}

func confirm(title string) (bool, error) {
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, formErr(err)
	}
	return ok, nil
}

// pickTask asks for one of the existing task names.
func pickTask(ctx context.Context, e *env, title string) (string, error) {
	tasks, err := e.app.Tasks().List(ctx)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "", errNoTasks
	}
	opts := make([]huh.Option[string], 0, len(tasks))
	for _, t := range tasks {
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s (%s, %s)", t.Name, fmtSchedule(t), fmtActive(t.Active)), t.Name))
	}
	var name string
	if err := huh.NewSelect[string]().Title(title).Options(opts...).Value(&name).Run(); err != nil {
		return "", formErr(err)
	}
	return name, nil
}

var (
	errNoTasks   = errors.New("no tasks available")
	errCancelled = errors.New("cancelled")
)

func formErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errCancelled
	}
	return err
}
