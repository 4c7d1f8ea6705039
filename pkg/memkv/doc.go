// Package memkv is a thread-safe in-memory key-value store with per-key TTL.
//
// Keys are spread over RW-locked shards. A background goroutine removes
// expired keys; reads also drop expired entries lazily. Values are copied on
// the way in and out. Options.MaxBytes caps the total size of stored values.
//
// The broker keeps node metadata here through package peers.
package memkv
