package jobs

import (
	"context"
	"fmt"
	"sync"
)

// Router dispatches jobs to the handler registered for their type.
type Router struct {
	mu       sync.RWMutex
	handlers map[JobType]JobHandler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[JobType]JobHandler)}
}

// Handle registers h for jobs of type t, replacing any previous handler.
func (r *Router) Handle(t JobType, h JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Dispatch runs the handler registered for job.Type. It has the JobHandler
// signature so a Router can be passed straight to Consumer.Start.
func (r *Router) Dispatch(ctx context.Context, job *Job) error {
	r.mu.RLock()
	h, ok := r.handlers[job.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for job type %q", job.Type)
	}
	return h(ctx, job)
}
