package fetcher

import (
	"context"
	"errors"

	"github.com/tidwall/gjson"
)

// ErrFetchFailure wraps every transport, timeout, status or decode failure of the feed.
var ErrFetchFailure = errors.New("fetch failure")

// PoolFeed retrieves the raw, untyped pool records of one refresh cycle.
type PoolFeed interface {
	FetchPools(ctx context.Context) ([]gjson.Result, error)
}
