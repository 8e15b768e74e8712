package alarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	logp "github.com/charmbracelet/log"
	"golang.org/x/exp/slices"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "alarm",
})

// Registry holds the known panels and dispatches commands to them.
type Registry struct {
	mu     sync.RWMutex
	panels map[string]Panel
	log    *logp.Logger
}

type Option func(*Registry)

func WithLogger(l *logp.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		panels: map[string]Panel{},
		log:    log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a batch of discovered panels.
// If a panel ID is already registered, the first one is kept.
func (r *Registry) Register(panels ...Panel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range panels {
		if _, ok := r.panels[p.ID()]; ok {
			r.log.Warn("panel already registered", "id", p.ID(), "name", p.Name())
			continue
		}
		r.panels[p.ID()] = p
		r.log.Info("registered panel", "id", p.ID(), "name", p.Name())
	}
}

func (r *Registry) Get(id string) (Panel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.panels[id]
	return p, ok
}

// Panels returns all registered panels sorted by ID.
func (r *Registry) Panels() []Panel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Panel, 0, len(r.panels))
	for _, p := range r.panels {
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b Panel) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return result
}

// Resolve returns the panels matching the given IDs, or all panels if no ID is
// given. Unknown IDs are ignored.
func (r *Registry) Resolve(ids ...string) []Panel {
	if len(ids) == 0 {
		return r.Panels()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []Panel
	seen := map[string]bool{}
	for _, id := range ids {
		p, ok := r.panels[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, p)
	}
	return result
}

// Dispatch runs the command on all its target panels, one after the other.
//
// Commands without a code are dropped.
// A failing panel doesn't prevent the remaining ones from being called, all
// errors are joined in the returned error.
func (r *Registry) Dispatch(ctx context.Context, cmd Command) error {
	if cmd.Code == nil {
		r.log.Debug("no code given, ignoring command", "service", cmd.Kind)
		return nil
	}

	var errs []error
	for _, p := range r.Resolve(cmd.Targets...) {
		if err := cmd.Kind.Apply(ctx, p, *cmd.Code); err != nil {
			r.log.Error("command failed", "service", cmd.Kind, "id", p.ID(), "err", err)
			errs = append(errs, fmt.Errorf("%s %s: %w", cmd.Kind, p.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Update refreshes every panel that implements Updater.
func (r *Registry) Update(ctx context.Context) error {
	var errs []error
	for _, p := range r.Panels() {
		u, ok := p.(Updater)
		if !ok {
			continue
		}
		if err := u.Update(ctx); err != nil {
			r.log.Error("could not update panel", "id", p.ID(), "err", err)
			errs = append(errs, fmt.Errorf("update %s: %w", p.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Attributes returns the state attributes of every panel by ID.
func (r *Registry) Attributes() map[string]map[string]any {
	result := map[string]map[string]any{}
	for _, p := range r.Panels() {
		result[p.ID()] = Attributes(p)
	}
	return result
}
