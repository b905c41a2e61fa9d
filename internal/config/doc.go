/*
Package config provides configuration management for conary with multi-source support.

Configuration is loaded in increasing precedence: compiled-in defaults, a YAML
file, then environment variables (CONARY_*). Callers apply each layer in turn
and call Validate before using the result.

# Configuration Structure

Global: logging, metrics/health ports.

Store: the content-addressed object store's data root and temp staging area.

Catalog: the sqlite catalog database path and busy-timeout.

Capability: the tiered inference engine's confidence threshold, Tier 4 worker
pool size, and Tier 3 config scan roots.

ChunkServer: listen address, bloom filter sizing, LRU cache watermarks,
pull-through upstreams and timeout, conversion worker count.

Federation: trust policy and signing key paths.

Network: timeouts, retry policy, and circuit breaker parameters. The chunk
server's pull-through fetch does not read them; it uses
ChunkServer.PullThroughTimeout and the retry package's defaults.

Monitoring: Prometheus metrics toggle and structured logging format.

Features: flags gating auto-conversion on cache miss and manifest signature
enforcement.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/conary/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Example configuration file:

	global:
	  log_level: INFO
	  metrics_port: 9100
	  health_port: 9101

	store:
	  data_root: /var/lib/conary

	catalog:
	  database_path: catalog.db

	capability:
	  confidence_threshold: 0.5
	  tier4_worker_pool_size: 8

	chunk_server:
	  listen_addr: ":8442"
	  bloom_false_positive_rate: 0.01
	  cache_max_bytes: 10737418240
	  pull_through_upstreams:
	    - "https://chunks.conarylabs.example"

	federation:
	  trust_policy_path: /etc/conary/trust.toml
*/
package config
