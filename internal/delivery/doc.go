// Package delivery is the outbound message pipeline.
//
// A Controller owns three per-group components:
//
//   - Sequencer issues monotonically increasing sequence numbers per group.
//     The transport uses them for ordering and duplicate detection.
//   - RateLimiter rejects identical content sent to the same group within
//     Config.RateLimit.
//   - Queue is a bounded FIFO per group. It never blocks; a full queue is
//     reported with ErrQueueFull and the caller applies backpressure.
//
// Controller.Send runs one message through rate check, sequencing and the
// Transport, then applies the recovery policy:
//
//   - rate limited: fail immediately, no retry
//   - duplicate sequence: reset the group's sequence once and retry at once
//   - fatal transport error: fail immediately
//   - anything else: retry up to Config.MaxRetry times, RetryDelay apart
//
// Total attempts per call never exceed MaxRetry+2.
//
// The Controller does not serialize concurrent sends for one group. Callers
// needing strict per-group order drain each group with a single worker
// (see internal/outbox).
package delivery
