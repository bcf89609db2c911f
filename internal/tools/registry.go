package tools

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
)

// Handler executes one tool. Returned errors are wrapped into the envelope
// by Dispatch; handlers never build failure envelopes themselves.
type Handler func(ctx context.Context, req *Request) (*Result, error)

// Registry maps tool names to handlers.
type Registry struct {
	handlers map[string]Handler
	now      func() time.Time
	log      zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		now:      time.Now,
		log:      log.With().Str("component", "tools").Logger(),
	}
}

// Register adds a handler; registering a duplicate name panics, since the
// tool table is assembled once at startup.
func (r *Registry) Register(name string, h Handler) {
	if _, exists := r.handlers[name]; exists {
		panic("tool registered twice: " + name)
	}
	r.handlers[name] = h
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the named tool and always returns an envelope; errors are
// folded in with their stable code, never propagated raw.
func (r *Registry) Dispatch(ctx context.Context, req *Request) *Result {
	now := r.now()
	if req.UserID == "" {
		return failure(req, now, domain.NewValidation("user_id is required"))
	}
	handler, ok := r.handlers[req.Tool]
	if !ok {
		return failure(req, now, domain.NewValidation("unknown tool %q", req.Tool))
	}

	started := time.Now()
	result, err := handler(ctx, req)
	if err != nil {
		r.log.Warn().Str("tool", req.Tool).Str("user", req.UserID).Err(err).
			Msg("Tool failed")
		return failure(req, now, err)
	}
	r.log.Debug().Str("tool", req.Tool).Str("user", req.UserID).
		Dur("elapsed", time.Since(started)).Msg("Tool completed")

	if req.Format != FormatAgent {
		result.Snapshot = nil
	}
	if req.Format == FormatSummary {
		result.Detail = nil
	}
	return result
}
