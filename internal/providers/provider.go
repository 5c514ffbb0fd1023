// Package providers adapts heterogeneous external generation services to one
// contract: a kind and its parameters go in, one artifact reference comes out,
// or the call fails with a *domain.ProviderError.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/metrics"
)

// Executor is implemented by every provider client.
type Executor interface {
	Name() string
	Execute(ctx context.Context, kind domain.JobKind, params domain.Parameters) (string, error)
}

// Registry routes each kind to its Executor and bounds every call with a
// timeout. Long-running kinds get their own budget.
type Registry struct {
	executors   map[domain.JobKind]Executor
	timeout     time.Duration
	longTimeout time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

type RegistryOptions struct {
	Timeout     time.Duration
	LongTimeout time.Duration
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.LongTimeout <= 0 {
		opts.LongTimeout = opts.Timeout
	}
	return &Registry{
		executors:   make(map[domain.JobKind]Executor),
		timeout:     opts.Timeout,
		longTimeout: opts.LongTimeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Register binds exec to kinds, replacing any earlier binding.
func (r *Registry) Register(exec Executor, kinds ...domain.JobKind) {
	for _, k := range kinds {
		r.executors[k] = exec
	}
}

// Supports reports whether an executor is bound to kind.
func (r *Registry) Supports(kind domain.JobKind) bool {
	_, ok := r.executors[kind]
	return ok
}

// Timeout returns the call budget for kind.
func (r *Registry) Timeout(kind domain.JobKind) time.Duration {
	if kind.LongRunning() {
		return r.longTimeout
	}
	return r.timeout
}

// Execute invokes the executor for kind. Every failure, including a missing
// executor, a timeout, a panic or an empty artifact, is returned as a
// *domain.ProviderError.
func (r *Registry) Execute(ctx context.Context, kind domain.JobKind, params domain.Parameters) (artifact string, err error) {
	exec, ok := r.executors[kind]
	if !ok {
		return "", &domain.ProviderError{Kind: kind, Message: "no provider configured for " + string(kind)}
	}

	timeout := r.Timeout(kind)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			artifact = ""
			err = &domain.ProviderError{Kind: kind, Provider: exec.Name(), Message: fmt.Sprintf("provider panicked: %v", rec)}
		}
		r.metrics.ProviderCall(string(kind), time.Since(start), err)
		if err != nil {
			r.logger.Warn().Err(err).Str("kind", string(kind)).Str("provider", exec.Name()).Dur("elapsed", time.Since(start)).Msg("provider call failed")
		}
	}()

	artifact, err = exec.Execute(callCtx, kind, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", &domain.ProviderError{Kind: kind, Provider: exec.Name(), Message: fmt.Sprintf("timed out after %s", timeout), Err: err}
		}
		return "", domain.AsProviderError(kind, exec.Name(), err)
	}
	artifact = strings.TrimSpace(artifact)
	if artifact == "" {
		return "", &domain.ProviderError{Kind: kind, Provider: exec.Name(), Message: "provider returned no output"}
	}
	if u, perr := url.Parse(artifact); perr != nil || u.Scheme == "" {
		return "", &domain.ProviderError{Kind: kind, Provider: exec.Name(), Message: fmt.Sprintf("malformed artifact reference %q", artifact)}
	}
	return artifact, nil
}
