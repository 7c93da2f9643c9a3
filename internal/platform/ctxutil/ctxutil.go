// Package ctxutil carries per-request identity through context so logging
// and auditing below the HTTP layer can tag their output without threading
// extra parameters.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	traceKey ctxKey = iota
	requestKey
)

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// TraceData identifies one HTTP request across log lines and trace spans.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	if td == nil {
		return ctx
	}
	return context.WithValue(ctx, traceKey, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	td, _ := ctx.Value(traceKey).(*TraceData)
	return td
}

// RequestData names the authenticated principal behind a request.
type RequestData struct {
	UserID uuid.UUID
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	if rd == nil {
		return ctx
	}
	return context.WithValue(ctx, requestKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	rd, _ := ctx.Value(requestKey).(*RequestData)
	return rd
}
