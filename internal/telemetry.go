package internal

import (
	"context"
	"strconv"
	"sync"
)

// Telemetry hook layer for content server calls. By default the emitter is a
// no-op; callers register an OpenTelemetry-backed emitter or a test stub via
// RegisterTelemetryEmitter.

// TelemetryEmitter receives one measurement.
type TelemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl TelemetryEmitter = func(context.Context, string, map[string]string, any) {}
)

// RegisterTelemetryEmitter registers a custom emitter function. nil restores the no-op.
func RegisterTelemetryEmitter(fn TelemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(context.Context, string, map[string]string, any) {}
		return
	}
	teleImpl = fn
}

func emit(ctx context.Context, name string, labels map[string]string, value any) {
	teleMu.Lock()
	fn := teleImpl
	teleMu.Unlock()
	fn(ctx, name, labels, value)
}

// EmitRequestLatency records the latency (milliseconds) of one transport call,
// retries included.
// name: "otcs_request_latency_ms" with labels {"method", "outcome": "ok"|"error"|"circuit_open"}
func EmitRequestLatency(ctx context.Context, method, outcome string, ms int64) {
	emit(ctx, "otcs_request_latency_ms", map[string]string{"method": method, "outcome": outcome}, ms)
}

// EmitRetry counts one retried request.
// name: "otcs_request_retries" with label {"method"}
func EmitRetry(ctx context.Context, method string) {
	emit(ctx, "otcs_request_retries", map[string]string{"method": method}, int64(1))
}

// EmitCategoryWrites records the outcome of a multi-category write.
// name: "otcs_category_writes" with label {"result": "updated"|"failed"}
func EmitCategoryWrites(ctx context.Context, workspaceID int64, updated, failed int) {
	ws := strconv.FormatInt(workspaceID, 10)
	emit(ctx, "otcs_category_writes", map[string]string{"workspace_id": ws, "result": "updated"}, int64(updated))
	emit(ctx, "otcs_category_writes", map[string]string{"workspace_id": ws, "result": "failed"}, int64(failed))
}
