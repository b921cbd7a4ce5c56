package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestWithShutdown_CanceledByShutdown(t *testing.T) {
	base, shutdown := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)

	ctx, cancel := withShutdown(context.Background())
	defer cancel()
	shutdown()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("request context not canceled on shutdown")
	}
}

func TestWithShutdown_FollowsRequest(t *testing.T) {
	req, cancelReq := context.WithCancel(context.Background())
	ctx, cancel := withShutdown(req)
	defer cancel()
	cancelReq()
	<-ctx.Done()
	if ctx.Err() != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", ctx.Err())
	}
}
