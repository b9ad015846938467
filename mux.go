package sluice

import "context"

// Invocation carries one decoded task into a handler.
type Invocation struct {
	// Task is the raw claimed task.
	Task Task
	// Payload is the decoded payload variant (*AnalyzeBatch, *SynthesizeRun).
	Payload Payload
	// Inputs maps each referenced artifact ID (canonical form) to its
	// content, resolved from the store before the handler runs.
	Inputs map[string][]byte
}

// HandlerFunc processes one task and returns the result bytes to store.
// An error or empty result marks the attempt failed and leaves the task
// pending for reclaim. Because a task may be delivered again after a reclaim,
// a handler's effects must be safe to repeat.
type HandlerFunc func(ctx context.Context, inv *Invocation) ([]byte, error)

// Middleware is a function that wraps a HandlerFunc to provide cross-cutting concerns.
type Middleware func(HandlerFunc) HandlerFunc

// Mux routes tasks to their respective handlers based on payload type.
type Mux struct {
	handlers    map[string]HandlerFunc
	middlewares []Middleware
}

// NewMux creates a new task Mux.
func NewMux() *Mux {
	return &Mux{
		handlers:    make(map[string]HandlerFunc),
		middlewares: []Middleware{},
	}
}

// Handle registers a handler for a specific payload type.
func (m *Mux) Handle(payloadType string, fn HandlerFunc) {
	m.handlers[payloadType] = fn
}

// Use adds middleware(s) to the mux. Middlewares are executed in the order they are added.
func (m *Mux) Use(mw Middleware) {
	m.middlewares = append(m.middlewares, mw)
}

// resolve returns the wrapped handler for a payload type.
func (m *Mux) resolve(payloadType string) (HandlerFunc, bool) {
	h, ok := m.handlers[payloadType]
	if !ok {
		return nil, false
	}
	return m.wrapHandler(h), true
}

func (m *Mux) wrapHandler(h HandlerFunc) HandlerFunc {
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		h = m.middlewares[i](h)
	}
	return h
}
