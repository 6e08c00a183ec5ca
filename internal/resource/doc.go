// Package resource governs the shared budgets of an index:
//
//   - Memory: arena chunks of every dynamic segment are charged against a
//     hard limit. AcquireMemory never blocks; exceeding the limit fails fast
//     with ErrMemoryLimitExceeded, which the dynamic index reports as an
//     allocation overflow so the segment layer can rotate.
//   - Background slots: commit and merge jobs hold a slot while they run.
//   - IO: a token bucket throttles the bytes written by background jobs.
//
// A nil *Controller is valid and imposes no limits.
package resource
