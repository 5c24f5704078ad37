package runtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Handler runs one job_type. Run reports infrastructure errors by returning
// them; domain failures are recorded on the Context (Fail, Abort).
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

// Registry maps job_type to its handler for the worker and Temporal activity.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds every handler it can and returns the rejected ones joined:
// nil handlers, empty types and duplicates.
func (r *Registry) Register(hs ...Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, h := range hs {
		if h == nil {
			errs = append(errs, errors.New("nil handler"))
			continue
		}
		t := h.Type()
		switch {
		case t == "":
			errs = append(errs, fmt.Errorf("%T: empty job type", h))
		case r.handlers[t] != nil:
			errs = append(errs, fmt.Errorf("job_type=%s already registered", t))
		default:
			r.handlers[t] = h
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists the registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
