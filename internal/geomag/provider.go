package geomag

import (
	"context"
)

// Upstream abstracts the third-party time-series API (e.g. Tilde v4).
// Implementations translate failures into *Error values and never cache.
type Upstream interface {
	Fetch(ctx context.Context, key QueryKey) (Series, error)
	Summary(ctx context.Context, domain string) (DataSummary, error)
}
