package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

const (
	TypeSavedConfig = "saved_config"
	TypeMessage     = "message"
)

var (
	ErrUnknownType    = errors.New("unknown report type")
	ErrConfigNotFound = errors.New("saved report configuration not found")
	ErrInvalidConfig  = errors.New("invalid saved report configuration")
	ErrEmptyReference = errors.New("report reference is required")
	ErrNoDatasource   = errors.New("no datasource configured")
)

// Artifact is the output of one generation. Path is empty for text-only
// reports.
type Artifact struct {
	Path    string
	Message string
}

// Cleanup removes the attachment file, if any. A file that is already gone
// is not an error.
func (a Artifact) Cleanup() error {
	if strings.TrimSpace(a.Path) == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Generator builds an Artifact for a report reference.
type Generator interface {
	Generate(ctx context.Context, ref string) (Artifact, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, ref string) (Artifact, error)

func (f GeneratorFunc) Generate(ctx context.Context, ref string) (Artifact, error) {
	return f(ctx, ref)
}

// Registry dispatches by report type. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	gens map[string]Generator
}

func NewRegistry() *Registry {
	return &Registry{gens: map[string]Generator{}}
}

// Register binds typ to g, replacing any previous binding.
func (r *Registry) Register(typ string, g Generator) {
	typ = normalizeType(typ)
	r.mu.Lock()
	r.gens[typ] = g
	r.mu.Unlock()
}

// Lookup returns the generator for typ; an empty typ means TypeSavedConfig.
func (r *Registry) Lookup(typ string) (Generator, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	key := normalizeType(typ)
	if key == "" {
		key = TypeSavedConfig
	}
	r.mu.RLock()
	g := r.gens[key]
	r.mu.RUnlock()
	if g == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return g, nil
}

// Has reports whether typ is registered.
func (r *Registry) Has(typ string) bool {
	_, err := r.Lookup(typ)
	return err == nil
}

// Types lists registered types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.gens))
	for k := range r.gens {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeType(typ string) string {
	return strings.ToLower(strings.TrimSpace(typ))
}
