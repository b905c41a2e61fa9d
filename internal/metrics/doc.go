/*
Package metrics provides Prometheus-based metrics collection for conary.

# Overview

The collector tracks transaction operations (install, remove, rollback),
chunk cache performance, bloom filter false positives, in-flight conversion
jobs, and classified errors. It exports both a Prometheus registry and a set
of human-readable debug endpoints.

# Core Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9100,
		Path:      "/metrics",
		Namespace: "conary",
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Operations

	start := time.Now()
	_, err := engine.Transaction(ctx, "install nginx 1.24", body)
	collector.RecordOperation("install", time.Since(start), sizeBytes, err == nil)

# Chunk Cache and Conversion Metrics

	collector.RecordCacheHit(chunkHash, size)
	collector.RecordCacheMiss(chunkHash, size)
	collector.UpdateCacheSize("chunk-store", currentBytes)

	collector.RecordBloomFalsePositive()
	collector.SetConversionJobsInState("converting", activeJobs)

# Exported Prometheus Metrics

Counters:
  - conary_operations_total{operation,status}
  - conary_cache_requests_total{type,source}
  - conary_errors_total{operation,type}
  - conary_bloom_false_positives_total

Histograms:
  - conary_operation_duration_seconds{operation}
  - conary_operation_size_bytes{operation}

Gauges:
  - conary_cache_size_bytes{level}
  - conary_active_connections
  - conary_conversion_jobs{state}

# HTTP Endpoints

/metrics serves the Prometheus registry. /health returns a liveness check.
/debug/metrics and /debug/operations return human-readable summaries for
troubleshooting without a Prometheus scraper.

# Thread Safety

All Collector methods are safe for concurrent use.
*/
package metrics
