package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Provider with a token-bucket limiter so a chatty
// reasoning loop cannot burn through an API quota.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited creates a rate-limited provider decorator.
func NewRateLimited(inner Provider, requestsPerSecond float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Name returns the wrapped provider's name
func (r *RateLimited) Name() string {
	return r.inner.Name()
}

// CreateCompletion blocks until the limiter admits the request, then
// delegates to the wrapped provider.
func (r *RateLimited) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, NewProviderError(r.inner.Name(), ErrorCodeTimeout, "rate limit wait: "+err.Error(), err)
	}
	return r.inner.CreateCompletion(ctx, req)
}
