// Package redis provides a Redis-backed cache backend so several foldline
// processes can share the result and feature tiers.
//
// Entries are stored as JSON records under "<prefix>:<tier>:<key>". Entries
// with an expiry are written with a native Redis TTL, so Redis evicts them
// without a purge pass.
package redis
