// Package sync drains the durable operation queue to the server and keeps
// the local task cache reconciled with the server's authoritative state.
//
// Two layers live here:
//
//   - Engine drains the queue in bounded FIFO batches. Batches within one
//     drain are uploaded strictly in submission order because later
//     operations may depend on entity ids created by earlier ones. The
//     queue is cleared only after the server has accepted every batch; any
//     transport failure aborts the whole drain and leaves the queue
//     untouched so the same items are retried later. Resubmission is safe
//     because every item carries a stable op_id the server deduplicates on.
//
//   - Orchestrator is the periodic/resume-time entry point. It runs the
//     engine first; when the queue was empty or the drain failed it falls
//     back to a hash-compared full reconciliation, fetching the remote set
//     before hashing anything locally so a dead network costs no hashing
//     work. Auxiliary group/user refreshes are best-effort: their failures
//     are logged and swallowed, never failing the overall sync.
//
// Outbox is the write-side companion: it applies a user mutation to the
// local store and appends the matching queue item synchronously, so the app
// stays fully usable offline.
package sync
