// Package dedupe remembers the outcome of recently applied requests so a
// request retried under the same key returns the original result.
package dedupe
