// Package relayq provides a resilient delivery client for operation-style
// requests (save/load/reset configuration and similar) against a single
// remote endpoint:
//
//   - Three-lane priority queue (high / normal / low) with strict FIFO per lane
//   - Fingerprint based de-duplication of pending work and coalescing of
//     identical in-flight submissions
//   - Retries with per-error-class exponential backoff + jitter
//   - Error taxonomy (network / timeout / server / rate-limit / client / security)
//   - Per-target circuit breaker (open / half-open / closed states)
//   - Optional durable queue snapshot through a pluggable key-value store
//   - Bounded settlement history, Prometheus metrics, structured debug logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Strictly serialized delivery by default (maxConcurrent = 1) so
//     concurrent writes to shared remote state cannot race
//   - Every Submit settles exactly once, with a result or a classified error
//   - Extensibility via the injected Transport, Store, Logger and metrics
//
// Typical usage:
//
//	client := relayq.New(
//	    relayq.WithTransport(transport),
//	    relayq.WithMaxRetries(3),
//	    relayq.WithDedupKeys("save_setting", "setting_key", "value"),
//	    relayq.WithPersistence(relayq.NewMemoryStore(), "relayq:queue"),
//	    relayq.WithMetrics(),
//	)
//	defer client.Close()
//
//	result, err := client.Submit(ctx, "save_setting", payload,
//	    relayq.WithPriority(relayq.PriorityHigh))
//
// The library does not speak any wire protocol itself: the Transport owns
// the endpoint, encoding and credentials. relayq owns ordering, retries and
// failure policy.
package relayq
