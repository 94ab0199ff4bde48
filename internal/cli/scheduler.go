package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"reportbot/internal/app"
	"reportbot/internal/config"
	"reportbot/internal/report"
	"reportbot/pkg/systemd"
)

func startSchedulerCmd() *command {
	return &command{
		name:    "start-scheduler",
		summary: "run the scheduling daemon in the foreground until interrupted",
		setup: func(*flag.FlagSet) runFunc {
			return func(ctx context.Context, e *env, args []string) error {
				if len(args) > 0 {
					return usagef("unexpected arguments: %s", strings.Join(args, " "))
				}
				alreadyRunning := func(err error) {
					fmt.Fprintf(e.stderr, "warning: scheduler is already running; nothing to start (%v)\n", err)
				}
				if path := e.app.Config().Scheduler.PIDFile; path != "" {
					if pid, err := app.DaemonPID(path); err == nil {
						alreadyRunning(fmt.Errorf("pid %d, %s", pid, path))
						return nil
					}
				}
				fmt.Fprintf(e.stdout, "Scheduler starting (config %s); press Ctrl+C to stop\n", e.app.ConfigPath())
				if !e.app.DeliveryConfigured() {
					fmt.Fprintf(e.stderr, "warning: no Telegram token configured (set telegram.token or %s); deliveries will fail\n", config.EnvTelegramToken)
				}
				if err := e.app.RunDaemon(ctx); err != nil {
					if errors.Is(err, app.ErrDaemonRunning) {
						alreadyRunning(err)
						return nil
					}
					return err
				}
				fmt.Fprintln(e.stdout, "Scheduler stopped")
				return nil
			}
		},
	}
}

func stopSchedulerCmd() *command {
	return &command{
		name:    "stop-scheduler",
		summary: "stop a running scheduler daemon (via its pid file or a systemd unit)",
		noApp:   true,
		setup: func(fs *flag.FlagSet) runFunc {
			unit := fs.String("unit", "", "systemd unit to stop (defaults to scheduler.systemd_unit)")
			wait := fs.Duration("timeout", 2*time.Minute, "how long to wait for in-flight runs to finish")

			return func(ctx context.Context, e *env, args []string) error {
				if len(args) > 0 {
					return usagef("unexpected arguments: %s", strings.Join(args, " "))
				}
				cfg, err := loadConfig(e.cfgPath)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(ctx, *wait)
				defer cancel()

				if u := firstNonEmpty(*unit, cfg.Scheduler.SystemdUnit); u != "" {
					if err := systemd.StopUnit(ctx, u); err != nil {
						return err
					}
					st, err := systemd.GetUnitStatus(ctx, u)
					if err != nil {
						fmt.Fprintf(e.stdout, "Stopped %s\n", systemd.UnitName(u))
						return nil
					}
					fmt.Fprintln(e.stdout, st.String())
					return nil
				}

				pidPath := cfg.Scheduler.PIDFile
				pid, err := app.StopDaemon(pidPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(e.stdout, "Sent stop signal to scheduler (pid %d); waiting for in-flight runs\n", pid)
				if err := waitStopped(ctx, pidPath); err != nil {
					return fmt.Errorf("scheduler (pid %d) still running: %w", pid, err)
				}
				fmt.Fprintln(e.stdout, "Scheduler stopped")
				return nil
			}
		},
	}
}

func waitStopped(ctx context.Context, pidPath string) error {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		if _, err := app.DaemonPID(pidPath); errors.Is(err, app.ErrDaemonNotRunning) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func validateConfigCmd() *command {
	return &command{
		name:    "validate-config",
		summary: "check the config file and the saved report configurations",
		noApp:   true,
		setup: func(*flag.FlagSet) runFunc {
			return func(_ context.Context, e *env, args []string) error {
				if len(args) > 0 {
					return usagef("unexpected arguments: %s", strings.Join(args, " "))
				}
				cfg, err := loadConfig(e.cfgPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(e.stdout, "Config %s: OK\n", e.cfgPath)

				var problems []error
				configs, err := report.LoadSavedConfigs(cfg.Reports.SavedConfigsPath)
				switch {
				case errors.Is(err, os.ErrNotExist):
					fmt.Fprintf(e.stdout, "Saved configs %s: missing (no reports can be generated)\n", cfg.Reports.SavedConfigsPath)
				case err != nil:
					problems = append(problems, fmt.Errorf("saved configs: %w", err))
				default:
					fmt.Fprintf(e.stdout, "Saved configs %s: %d configuration(s)\n", cfg.Reports.SavedConfigsPath, len(configs))
				}
				if ds := strings.TrimSpace(cfg.Reports.Datasource); ds != "" {
					if _, err := os.Stat(ds); err != nil {
						problems = append(problems, fmt.Errorf("reports.datasource: %w", err))
					}
				}

				token := "set"
				if strings.TrimSpace(cfg.Telegram.Token) == "" {
					token = "missing"
				}
				fmt.Fprintf(e.stdout, "Telegram token: %s\n", token)
				fmt.Fprintf(e.stdout, "Tasks file: %s\n", cfg.Storage.TasksPath)
				return errors.Join(problems...)
			}
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	m := config.NewConfigManager(path)
	if err := m.LoadEnvFiles(); err != nil {
		return nil, err
	}
	return m.Load()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
