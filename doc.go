// Package tiercache serves decoded, memory-expensive artifacts (bitmaps,
// parsed documents) through three tiers: memory, a local persistent store,
// and a remote origin.
//
// Components:
//   - pool: reference-counted buffers. Every artifact lives in a pooled
//     Resource; whoever receives one from Get owns one hold and must Release it.
//   - memcache: strong LRU demoting into a weak tier keyed by claim Token.
//   - store: persistent entries with numbered slots (diskstore, kvstore).
//   - Network: fetches the origin payload, usually a download.Controller.
//   - Strategy: turns a network result or a disk snapshot into a buffer.
//
// At most one tier walk runs per key: callers for the same key wait on a
// named lock and the later ones are served from memory.
//
// Pattern:
//
//	res, ok := cache.Get(ctx, tiercache.Request{Key: "avatar:42:210", Locator: url})
//	if ok {
//	    defer res.Release()
//	    draw(res.Value())
//	}
package tiercache
