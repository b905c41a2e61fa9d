/*
Package chunkserver implements the federated chunk cache and pull-through
HTTP server described for Conary's chunk distribution tier.

Unlike internal/cas (the permanent, never-evicted object store backing a
single installed system), the chunk server's store is a disk cache: chunks
may be fetched from an upstream on miss and discarded again once the cache
grows past its configured high water mark. A Bloom filter mirrors the set
of hashes present on disk so that a "definitely absent" answer never costs
a disk stat, and internal/cache.LRUCache tracks last-access order so
eviction always removes the coldest chunks first.

# HTTP surface

	HEAD /chunks/<hash>          existence + size, Bloom-filter-gated
	GET  /chunks/<hash>           stream bytes, pull-through on miss
	POST /chunks/find-missing     batch existence check
	POST /chunks/batch            batch fetch (base64 bodies)
	GET  /admin/cache/stats       cache/bloom/metric snapshot
	POST /admin/evict             force a low-water-mark eviction pass
	POST /admin/bloom/rebuild     rescan disk and rebuild the Bloom filter
*/
package chunkserver
