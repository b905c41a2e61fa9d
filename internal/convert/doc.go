// Package convert implements the on-demand foreign-package conversion job
// manager: when a client asks for a package this install root has never
// ingested, a job runs the ingest pipeline against the source package,
// reassembles the result as a CCS container, splits that payload into
// fixed-size chunks, and commits each chunk to the content-addressed store
// so it can be deployed and served like any natively-ingested trove.
//
// Jobs are keyed by (distro, name, version) so concurrent requests for the
// same package share one job rather than converting it twice; the
// converted_packages catalog table is the durable record of a job's state,
// surviving a server restart. Manager additionally tracks in-flight jobs in
// memory so a second request arriving while a job is running attaches to
// the same goroutine's progress rather than polling the database.
package convert
