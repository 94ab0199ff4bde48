package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
)

const (
	defaultPreviewRows = 10
	maxCellRunes       = 32
)

// Options are shared by the built-in generators.
type Options struct {
	SavedConfigsPath string
	// Datasource is the default sqlite database for configs that do not
	// name their own.
	Datasource  string
	OutputDir   string
	BusyTimeout time.Duration
	// PreviewRows bounds the inline table of the message type.
	PreviewRows int
	Now         func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) datasourceFor(c SavedConfig) string {
	if ds := strings.TrimSpace(c.Datasource); ds != "" {
		if !filepath.IsAbs(ds) && o.SavedConfigsPath != "" {
			ds = filepath.Join(filepath.Dir(o.SavedConfigsPath), ds)
		}
		return ds
	}
	return o.Datasource
}

// NewRegistryWithDefaults registers the saved_config and message types.
func NewRegistryWithDefaults(opt Options) *Registry {
	r := NewRegistry()
	r.Register(TypeSavedConfig, NewSavedConfigGenerator(opt))
	r.Register(TypeMessage, NewMessageGenerator(opt))
	return r
}

// SavedConfigGenerator runs a saved configuration's query and attaches the
// result as a CSV file under OutputDir.
type SavedConfigGenerator struct {
	opt Options
}

func NewSavedConfigGenerator(opt Options) *SavedConfigGenerator {
	return &SavedConfigGenerator{opt: opt}
}

func (g *SavedConfigGenerator) Generate(ctx context.Context, ref string) (Artifact, error) {
	c, err := lookupSavedConfig(g.opt.SavedConfigsPath, ref)
	if err != nil {
		return Artifact{}, err
	}
	tbl, err := queryTable(ctx, g.opt.datasourceFor(c), c.Query, c.Limit, g.opt.BusyTimeout)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", ref, err)
	}

	at := g.opt.now()
	path, err := writeCSV(g.opt.OutputDir, ref, at, tbl)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: write artifact: %w", ref, err)
	}
	var size int64
	if st, err := os.Stat(path); err == nil {
		size = st.Size()
	}

	var b strings.Builder
	writeHeader(&b, ref, c, at, tbl)
	fmt.Fprintf(&b, "\n<b>Attached:</b> %s (%s)", html.EscapeString(filepath.Base(path)), humanSize(size))
	return Artifact{Path: path, Message: b.String()}, nil
}

// MessageGenerator renders a short inline summary of a saved configuration
// without an attachment.
type MessageGenerator struct {
	opt Options
}

func NewMessageGenerator(opt Options) *MessageGenerator {
	return &MessageGenerator{opt: opt}
}

func (g *MessageGenerator) Generate(ctx context.Context, ref string) (Artifact, error) {
	c, err := lookupSavedConfig(g.opt.SavedConfigsPath, ref)
	if err != nil {
		return Artifact{}, err
	}
	preview := g.opt.PreviewRows
	if preview <= 0 {
		preview = defaultPreviewRows
	}
	limit := c.Limit
	if limit <= 0 || limit > preview {
		limit = preview
	}
	tbl, err := queryTable(ctx, g.opt.datasourceFor(c), c.Query, limit, g.opt.BusyTimeout)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", ref, err)
	}

	var b strings.Builder
	writeHeader(&b, ref, c, g.opt.now(), tbl)
	if len(tbl.Rows) > 0 {
		b.WriteString("\n<pre>")
		b.WriteString(html.EscapeString(formatTable(tbl)))
		b.WriteString("</pre>")
	}
	return Artifact{Message: b.String()}, nil
}

func writeHeader(b *strings.Builder, ref string, c SavedConfig, at time.Time, tbl Table) {
	fmt.Fprintf(b, "<b>%s</b>\n", html.EscapeString(c.Title))
	if d := strings.TrimSpace(c.Description); d != "" {
		fmt.Fprintf(b, "%s\n", html.EscapeString(d))
	}
	fmt.Fprintf(b, "<b>Configuration:</b> %s\n", html.EscapeString(ref))
	fmt.Fprintf(b, "<b>Generated:</b> %s\n", at.Format("2006-01-02 15:04:05"))
	rows := fmt.Sprintf("%d", len(tbl.Rows))
	if tbl.Truncated {
		rows += " (limit reached)"
	}
	fmt.Fprintf(b, "<b>Rows:</b> %s\n", rows)

	if len(c.Details) > 0 {
		keys := make([]string, 0, len(c.Details))
		for k := range c.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n<b>Details:</b>\n")
		for _, k := range keys {
			fmt.Fprintf(b, "• %s: %s\n", html.EscapeString(k), html.EscapeString(c.Details[k]))
		}
	}
}

func formatTable(tbl Table) string {
	lines := make([]string, 0, len(tbl.Rows)+1)
	lines = append(lines, strings.Join(clipCells(tbl.Columns), " | "))
	for _, r := range tbl.Rows {
		lines = append(lines, strings.Join(clipCells(r), " | "))
	}
	return strings.Join(lines, "\n")
}

func clipCells(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		r := []rune(s)
		if len(r) > maxCellRunes {
			s = string(r[:maxCellRunes-1]) + "…"
		}
		out[i] = s
	}
	return out
}

func writeCSV(dir, ref string, at time.Time, tbl Table) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.csv", fileSafe(ref), at.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	w := csv.NewWriter(f)
	_ = w.Write(tbl.Columns)
	_ = w.WriteAll(tbl.Rows)
	werr := w.Error()
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		if werr != nil {
			return "", werr
		}
		return "", cerr
	}
	return path, nil
}

func fileSafe(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "report"
	}
	return b.String()
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
