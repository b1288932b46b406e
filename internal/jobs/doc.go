// Package jobs persists scheduled work in SQLite.
//
// A job is an immutable execution request (rule, subject, action list)
// plus mutable lifecycle state. Queued jobs are drained by priority;
// deferred jobs carry the guardrail reason that blocked them and the
// time at which they become due for recheck.
package jobs
