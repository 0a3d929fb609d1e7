package ctxutil

import "context"

// TraceData correlates an HTTP request with the jobs it dispatches.
type TraceData struct {
	TraceID   string
	RequestID string
}

const (
	traceIDKey   = "trace_id"
	requestIDKey = "request_id"
)

type traceDataKey struct{}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	td, _ := ctx.Value(traceDataKey{}).(*TraceData)
	return td
}

// Fields returns the non-empty ids as logger key/value pairs.
func (td *TraceData) Fields() []interface{} {
	if td == nil {
		return nil
	}
	var out []interface{}
	if td.TraceID != "" {
		out = append(out, traceIDKey, td.TraceID)
	}
	if td.RequestID != "" {
		out = append(out, requestIDKey, td.RequestID)
	}
	return out
}

// WriteTo copies the ids into a job payload.
func (td *TraceData) WriteTo(payload map[string]any) {
	if td == nil || payload == nil {
		return
	}
	if td.TraceID != "" {
		payload[traceIDKey] = td.TraceID
	}
	if td.RequestID != "" {
		payload[requestIDKey] = td.RequestID
	}
}

// TraceDataFrom reads ids written by WriteTo, or nil when there are none.
func TraceDataFrom(payload map[string]any) *TraceData {
	td := &TraceData{}
	td.TraceID, _ = payload[traceIDKey].(string)
	td.RequestID, _ = payload[requestIDKey].(string)
	if td.TraceID == "" && td.RequestID == "" {
		return nil
	}
	return td
}

// Default returns ctx, or context.Background when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// Detach keeps the trace data of ctx on a fresh background context, for work that
// outlives the request that started it.
func Detach(ctx context.Context) context.Context {
	out := context.Background()
	if td := GetTraceData(ctx); td != nil {
		cp := *td
		out = WithTraceData(out, &cp)
	}
	return out
}
