// Package otel translates simulator events into OpenTelemetry spans and
// metrics.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/waveline-labs/chatflow/sim"
)

// TracingHandler turns simulator events into spans: one root span per
// session, a child span per node entered, and span events for the input
// exchanges. Node spans end at the next node boundary since a chat node
// is "active" until the conversation moves on.
type TracingHandler struct {
	tracer trace.Tracer

	mu           sync.Mutex
	sessionSpans map[string]trace.Span
	sessionCtxs  map[string]context.Context
	nodeSpans    map[string]trace.Span // sessionID -> current node span
}

// NewTracingHandler creates a TracingHandler over the given tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:       tracer,
		sessionSpans: make(map[string]trace.Span),
		sessionCtxs:  make(map[string]context.Context),
		nodeSpans:    make(map[string]trace.Span),
	}
}

// Handle processes a simulator event. It satisfies sim.EventHandler via
// a method value.
func (h *TracingHandler) Handle(e sim.Event) {
	switch e.Kind {
	case sim.EventSimStarted:
		h.handleSessionStarted(e)
	case sim.EventNodeEntered:
		h.handleNodeEntered(e)
	case sim.EventMessageEmitted, sim.EventInputRequired,
		sim.EventInputReceived, sim.EventInputRejected:
		h.handleSpanEvent(e)
	case sim.EventSimCompleted:
		h.handleSessionCompleted(e)
	}
}

func (h *TracingHandler) handleSessionStarted(e sim.Event) {
	ctx, span := h.tracer.Start(context.Background(), "session:"+e.SessionID,
		trace.WithAttributes(
			attribute.String("chatflow.session_id", e.SessionID),
		),
		trace.WithTimestamp(e.Time),
	)
	if trigger, ok := e.Payload["trigger"].(string); ok && trigger != "" {
		span.SetAttributes(attribute.String("chatflow.trigger", trigger))
	}

	h.mu.Lock()
	h.sessionSpans[e.SessionID] = span
	h.sessionCtxs[e.SessionID] = ctx
	h.mu.Unlock()
}

// handleNodeEntered ends the previous node span and opens the next one.
func (h *TracingHandler) handleNodeEntered(e sim.Event) {
	h.mu.Lock()
	if prev, ok := h.nodeSpans[e.SessionID]; ok {
		prev.End(trace.WithTimestamp(e.Time))
	}
	parentCtx, ok := h.sessionCtxs[e.SessionID]
	h.mu.Unlock()

	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "node:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("chatflow.session_id", e.SessionID),
			attribute.String("chatflow.node_id", e.NodeID),
			attribute.String("chatflow.node_type", string(e.NodeType)),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodeSpans[e.SessionID] = span
	h.mu.Unlock()
}

// handleSpanEvent attaches message and input events to the current node span.
func (h *TracingHandler) handleSpanEvent(e sim.Event) {
	h.mu.Lock()
	span, ok := h.nodeSpans[e.SessionID]
	h.mu.Unlock()

	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("chatflow.event_kind", string(e.Kind)),
	}
	if awaiting, found := e.Payload["awaiting"].(string); found {
		attrs = append(attrs, attribute.String("chatflow.awaiting", awaiting))
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// handleSessionCompleted ends the open node span and the root session span.
func (h *TracingHandler) handleSessionCompleted(e sim.Event) {
	h.mu.Lock()
	nodeSpan, hadNode := h.nodeSpans[e.SessionID]
	span, ok := h.sessionSpans[e.SessionID]
	delete(h.nodeSpans, e.SessionID)
	delete(h.sessionSpans, e.SessionID)
	delete(h.sessionCtxs, e.SessionID)
	h.mu.Unlock()

	if hadNode {
		nodeSpan.End(trace.WithTimestamp(e.Time))
	}
	if !ok {
		return
	}

	if steps, found := e.Payload["steps"].(int); found {
		span.SetAttributes(attribute.Int("chatflow.steps", steps))
	}
	span.SetAttributes(attribute.String("chatflow.duration", e.Elapsed.String()))
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSessionSpanContext returns the SpanContext of a live session's
// root span, or an empty SpanContext when the session is unknown.
func (h *TracingHandler) ActiveSessionSpanContext(sessionID string) trace.SpanContext {
	h.mu.Lock()
	span, ok := h.sessionSpans[sessionID]
	h.mu.Unlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}
