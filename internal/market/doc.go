// Package market holds the two pieces of shared state behind the stream manager:
// the reference-counted interest registry and the latest-tick cache.
//
// Neither type is safe for concurrent use. Both are owned by connection.Manager,
// which serialises every access behind its own lock.
package market
