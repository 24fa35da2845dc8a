// Package ratelimit provides a windowed counter abstraction shared by the
// per-recipient send throttle and the dispatch queue admission control.
package ratelimit

// Counter tracks how many operations happened for a key inside a rolling
// window. CheckAndIncrement reports whether the operation is admitted and,
// if so, counts it.
type Counter interface {
	CheckAndIncrement(key string, windowSecs int, limit int) (bool, error)
}
