// Package shard maps keys onto a fixed number of buckets.
package shard

import "hash/fnv"

// Index returns the bucket for key in [0, n). The same key always lands in
// the same bucket, which is what keeps per-symbol work ordered.
func Index(key string, n int) int {
	return IndexBytes([]byte(key), n)
}

// IndexBytes is Index for raw message keys.
func IndexBytes(key []byte, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(n))
}
