package cli

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	btable "github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"reportbot/internal/app"
	"reportbot/internal/health"
	"reportbot/internal/taskmgr"
	"reportbot/pkg/systemd"
)

func dashboardCmd() *command {
	return &command{
		name:    "dashboard",
		summary: "show the task health dashboard",
		setup: func(fs *flag.FlagSet) runFunc {
			watch := fs.Bool("watch", false, "keep the dashboard open and refresh it")
			interval := fs.Duration("interval", 5*time.Second, "refresh interval with -watch")

			return func(ctx context.Context, e *env, args []string) error {
				if len(args) > 0 {
					return usagef("unexpected arguments: %s", strings.Join(args, " "))
				}
				if *interval <= 0 {
					return usagef("-interval must be positive")
				}
				if *watch {
					if !e.interactive {
						return usagef("-watch needs a terminal")
					}
					return watchDashboard(ctx, e, *interval)
				}
				d, err := e.app.Tasks().Dashboard(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(e.stdout, renderSummary(d, daemonState(ctx, e)))
				if len(d.Rows) > 0 {
					fmt.Fprintln(e.stdout, renderHealthTable(d.Rows))
				}
				return nil
			}
		},
	}
}

// daemonState describes the scheduler daemon and, when configured, its
// systemd unit.
func daemonState(ctx context.Context, e *env) string {
	cfg := e.app.Config()
	state := "stopped"
	if pid, err := app.DaemonPID(cfg.Scheduler.PIDFile); err == nil {
		state = fmt.Sprintf("running (pid %d)", pid)
	}
	if u := strings.TrimSpace(cfg.Scheduler.SystemdUnit); u != "" {
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if st, err := systemd.GetUnitStatus(sctx, u); err == nil {
			state += " | " + st.String()
		}
	}
	return state
}

func renderSummary(d taskmgr.Dashboard, scheduler string) string {
	s := d.Summary
	line := func(label, value string) string {
		return styleLabel.Render(fmt.Sprintf("%-18s", label)) + value
	}
	rate := "-"
	if s.TotalRuns > 0 {
		rate = fmt.Sprintf("%.1f%%", s.SuccessRate)
	}
	body := strings.Join([]string{
		line("Scheduler", scheduler),
		line("Tasks", fmt.Sprintf("%d total, %d active, %d inactive", s.TotalTasks, s.ActiveTasks, s.InactiveTasks)),
		line("Runs", fmt.Sprintf("%d total, %d ok, %d failed", s.TotalRuns, s.SuccessfulRuns, s.FailedRuns)),
		line("Success rate", rate),
		line("Tasks with errors", strconv.Itoa(s.TasksWithErrors)),
		line("Next run", fmtTime(s.NextRun)),
		line("Last run", fmtTime(s.LastRun)),
		line("Health", renderByStatus(s.ByStatus)),
	}, "\n")
	title := styleTitle.Render("Report tasks - " + d.Generated.Format("2006-01-02 15:04:05"))
	return lipgloss.JoinVertical(lipgloss.Left, title, styleBox.Render(body))
}

func renderByStatus(by map[health.Status]int) string {
	order := []health.Status{health.Healthy, health.Warning, health.Unhealthy, health.Inactive}
	parts := make([]string, 0, len(order))
	for _, st := range order {
		if n := by[st]; n > 0 {
			parts = append(parts, statusStyle(st).Render(fmt.Sprintf("%s %s %d", statusIcon(st), st, n)))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "  ")
}

func renderHealthTable(rows []health.Row) string {
	tbl := newTable("Status", "Task", "Schedule", "Next run", "Last run", "Runs", "Success", "Reason")
	for _, r := range rows {
		st := r.Assessment.Status
		tbl.Row(statusStyle(st).Render(statusIcon(st)+" "+string(st)), r.Task.Name, fmtSchedule(r.Task),
			fmtTime(r.Task.NextRun), fmtTime(r.Task.LastRun), strconv.Itoa(r.Task.RunCount), fmtRate(r.Task), r.Assessment.Reason)
	}
	return tbl.Render()
}

// Live dashboard.

type refreshMsg struct {
	d     taskmgr.Dashboard
	state string
	err   error
}

type tickMsg time.Time

type dashboardModel struct {
	ctx      context.Context
	e        *env
	interval time.Duration

	table  btable.Model
	last   taskmgr.Dashboard
	state  string
	err    error
	loaded bool
}

func newDashboardModel(ctx context.Context, e *env, interval time.Duration) dashboardModel {
	t := btable.New(
		btable.WithColumns([]btable.Column{
			{Title: "Status", Width: 11},
			{Title: "Task", Width: 20},
			{Title: "Schedule", Width: 14},
			{Title: "Next run", Width: 16},
			{Title: "Last run", Width: 16},
			{Title: "Runs", Width: 5},
			{Title: "Success", Width: 8},
			{Title: "Reason", Width: 40},
		}),
		btable.WithFocused(true),
		btable.WithHeight(12),
	)
	st := btable.DefaultStyles()
	st.Header = st.Header.BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).BorderBottom(true).Bold(true)
	st.Selected = st.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(st)
	return dashboardModel{ctx: ctx, e: e, interval: interval, table: t}
}

func (m dashboardModel) refresh() tea.Cmd {
	return func() tea.Msg {
		d, err := m.e.app.Tasks().Dashboard(m.ctx)
		return refreshMsg{d: d, state: daemonState(m.ctx, m.e), err: err}
	}
}

func (m dashboardModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
	case tea.WindowSizeMsg:
		if h := msg.Height - 16; h > 3 {
			m.table.SetHeight(h)
		}
	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())
	case refreshMsg:
		m.err = msg.err
		if msg.err == nil {
			m.last, m.state, m.loaded = msg.d, msg.state, true
			m.table.SetRows(healthRows(msg.d.Rows))
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m dashboardModel) View() string {
	if !m.loaded {
		if m.err != nil {
			return "error: " + m.err.Error() + "\n"
		}
		return "loading...\n"
	}
	parts := []string{renderSummary(m.last, m.state), m.table.View()}
	if m.err != nil {
		parts = append(parts, styleUnhealthy.Render("refresh failed: "+m.err.Error()))
	}
	parts = append(parts, styleHelp.Render(fmt.Sprintf("↑/↓ select • r refresh • q quit • every %s", m.interval)))
	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
}

func healthRows(rows []health.Row) []btable.Row {
	out := make([]btable.Row, 0, len(rows))
	for _, r := range rows {
		st := r.Assessment.Status
		out = append(out, btable.Row{
			statusIcon(st) + " " + string(st),
			r.Task.Name,
			fmtSchedule(r.Task),
			fmtTime(r.Task.NextRun),
			fmtTime(r.Task.LastRun),
			strconv.Itoa(r.Task.RunCount),
			fmtRate(r.Task),
			r.Assessment.Reason,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i][1] < out[j][1] })
	return out
}

func watchDashboard(ctx context.Context, e *env, interval time.Duration) error {
	p := tea.NewProgram(newDashboardModel(ctx, e, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
