// Package cmd defines the hostinv command line.
//
// Architecture overview:
//   - Fetch unit (hostinv fetch): one poll loop per configured source. Each loop POSTs
//     <url>?skip=N&limit=M with the Token header through the Colly client, advances its
//     cursor by the page limit, tags every record with source_name and publishes it on
//     the transport channel. Retryable failures (transport errors, 429, 5xx) back off and
//     retry the same page; anything else stops that loop only.
//   - Transport channel: NATS subject with a queue group, a Pub/Sub topic with ordering
//     keys, or an in-process bounded channel when both units share a process (hostinv run).
//   - Normalize unit (hostinv normalize): a single consumer looks up the mapper registered
//     for the record's source, maps it to a HostRecord and enqueues it on the bounded work
//     queue. A single writer drains the queue and upserts by hostname, merging field by
//     field over the stored document.
//   - Stores: in-memory, Postgres (jsonb documents) or GCS objects named after the host.
//   - Configuration & plumbing: Viper populates config from file and HOSTINV_* env vars;
//     zap provides structured logging; Prometheus metrics are exported at /metrics; the
//     OpenTelemetry tracer records page fetches and upserts.
//
// Operational notes:
//   - Queues are bounded. queue.full_policy chooses between blocking, dropping the
//     oldest item and rejecting the new one; drops are counted.
//   - SIGINT/SIGTERM cancel every loop; transports and stores are closed in reverse
//     build order.
//   - /v1/sources shows each cursor and whether its loop has stopped; /v1/hosts/{hostname}
//     returns the stored document.
package cmd
