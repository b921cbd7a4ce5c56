package httpapi

import "context"

// shutdownCtx is canceled when the server begins shutting down, so requests
// still waiting for the model give up instead of holding shutdown open.
var shutdownCtx = context.Background()

// SetBaseContext sets the context whose cancellation marks server shutdown.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	shutdownCtx = ctx
}

// withShutdown derives a request context that is also canceled on shutdown.
// The returned cancel func must be called when the handler ends.
func withShutdown(req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(shutdownCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
