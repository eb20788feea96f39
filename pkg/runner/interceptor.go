package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aretw0/agentrun/pkg/api"
)

// ErrDenied is returned for calls an Interceptor blocks.
var ErrDenied = errors.New("operation denied")

// Interceptor inspects a request before it reaches the service.
// A non-nil error blocks the call and is reported as its response.
type Interceptor func(ctx context.Context, req Request) error

// MultiInterceptor chains interceptors; the first error wins.
func MultiInterceptor(interceptors ...Interceptor) Interceptor {
	return func(ctx context.Context, req Request) error {
		for _, interceptor := range interceptors {
			if err := interceptor(ctx, req); err != nil {
				return err
			}
		}
		return nil
	}
}

// ReadOnly blocks every operation that changes the execution state of a session.
// agent_init is allowed so that a console can attach to an existing session.
func ReadOnly() Interceptor {
	return Allow(api.OpAgentInit, api.OpGetExecutionState, api.OpGetExecutionTrace, api.OpGetSharedContext)
}

// Allow blocks every operation not listed.
func Allow(ops ...string) Interceptor {
	return func(ctx context.Context, req Request) error {
		if slices.Contains(ops, req.Op) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDenied, req.Op)
	}
}

// AutoApprove allows everything.
func AutoApprove() Interceptor {
	return func(ctx context.Context, req Request) error { return nil }
}
