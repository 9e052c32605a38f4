package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited paces calls to p to at most rps requests per second with the given
// burst. A non-positive rps returns p unchanged.
func Limited(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &limited{next: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

type limited struct {
	next    Provider
	limiter *rate.Limiter
}

func (l *limited) Invoke(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Invoke(ctx, req)
}
