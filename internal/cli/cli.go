// Package cli implements the reportbot command line: task management,
// the scheduler daemon, the health dashboard and an interactive menu.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"

	"reportbot/internal/app"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

const (
	// EnvConfigPath overrides the default config location.
	EnvConfigPath     = "REPORTBOT_CONFIG"
	defaultConfigPath = "./config.yaml"
)

// usageError marks errors caused by bad arguments.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// env carries what a command needs besides its own flags.
type env struct {
	cfgPath string
	stdout  io.Writer
	stderr  io.Writer
	// interactive is true when stdin and stdout are terminals.
	interactive bool

	app *app.App
}

type runFunc func(ctx context.Context, e *env, args []string) error

type command struct {
	name    string
	args    string
	summary string
	// noApp commands load the config themselves.
	noApp bool
	// setup registers the command's flags on a fresh FlagSet and returns
	// the function that runs it with those flag values.
	setup func(fs *flag.FlagSet) runFunc
}

var commands map[string]*command

func init() {
	list := []*command{
		createTaskCmd(),
		listTasksCmd(),
		executeTaskCmd(),
		toggleTaskCmd(),
		deleteTaskCmd(),
		historyCmd(),
		executeDueCmd(),
		startSchedulerCmd(),
		stopSchedulerCmd(),
		dashboardCmd(),
		menuCmd(),
		validateConfigCmd(),
	}
	commands = make(map[string]*command, len(list))
	for _, c := range list {
		commands[c.name] = c
	}
}

// Run executes one command line and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	gfs := flag.NewFlagSet("reportbot", flag.ContinueOnError)
	gfs.SetOutput(io.Discard)
	cfgPath := gfs.String("config", envOr(EnvConfigPath, defaultConfigPath), "path to config file (JSON or YAML)")
	if err := gfs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage(stdout)
			return ExitOK
		}
		fmt.Fprintln(stderr, "error:", err)
		usage(stderr)
		return ExitUsage
	}
	rest := gfs.Args()
	if len(rest) == 0 {
		usage(stderr)
		return ExitUsage
	}
	name := rest[0]
	if name == "help" {
		usage(stdout)
		return ExitOK
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "error: unknown command %q\n", name)
		usage(stderr)
		return ExitUsage
	}

	e := &env{
		cfgPath:     *cfgPath,
		stdout:      stdout,
		stderr:      stderr,
		interactive: isTerminal(os.Stdin) && isTerminal(os.Stdout),
	}
	return runCommand(ctx, e, cmd, rest[1:])
}

func runCommand(ctx context.Context, e *env, cmd *command, args []string) int {
	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	run := cmd.setup(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			commandUsage(e.stdout, cmd, fs)
			return ExitOK
		}
		fmt.Fprintln(e.stderr, "error:", err)
		commandUsage(e.stderr, cmd, fs)
		return ExitUsage
	}

	if !cmd.noApp {
		a, err := app.New(e.cfgPath)
		if err != nil {
			fmt.Fprintln(e.stderr, "error:", err)
			return ExitError
		}
		defer a.Close()
		e.app = a
	}

	err := run(ctx, e, fs.Args())
	var ue usageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ue):
		fmt.Fprintln(e.stderr, "error:", err)
		commandUsage(e.stderr, cmd, fs)
		return ExitUsage
	default:
		fmt.Fprintln(e.stderr, "error:", err)
		return ExitError
	}
}

// oneName returns the single positional task name.
func oneName(args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", usagef("expected exactly one task name")
	}
	return strings.TrimSpace(args[0]), nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: reportbot [-config path] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c := commands[n]
		fmt.Fprintf(w, "  %-16s %s\n", n, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "The config path defaults to $%s or %s.\n", EnvConfigPath, defaultConfigPath)
}

func commandUsage(w io.Writer, c *command, fs *flag.FlagSet) {
	line := "usage: reportbot " + c.name
	hasFlags := false
	fs.VisitAll(func(*flag.Flag) { hasFlags = true })
	if hasFlags {
		line += " [flags]"
	}
	if c.args != "" {
		line += " " + c.args
	}
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "  "+c.summary)
	fs.VisitAll(func(f *flag.Flag) {
		fmt.Fprintf(w, "  -%-16s %s\n", f.Name, f.Usage)
	})
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
