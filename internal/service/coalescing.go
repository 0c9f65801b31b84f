package service

import (
	"golang.org/x/sync/singleflight"
)

// requestCoalescer lets concurrent misses on one key share a single upstream
// call. Only the first caller's fetch runs; the rest receive its result.
type requestCoalescer struct {
	group singleflight.Group
}

func newRequestCoalescer() *requestCoalescer {
	return &requestCoalescer{}
}

// coalesce runs fn once per in-flight key. shared reports whether the result
// was handed to more than one caller.
func coalesce[V any](rc *requestCoalescer, key string, fn func() (V, error)) (V, error, bool) {
	res, err, shared := rc.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	v, _ := res.(V)
	return v, err, shared
}
