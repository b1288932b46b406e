// Package dispatch turns events into jobs.
//
// The dispatcher walks the active rule set for each event: trigger and
// conditions select matching rules, the active-hours window gates dispatch
// hard, the quiet period coalesces bursts, and guardrails decide whether the
// resulting job is queued or deferred. It also answers dry-run questions
// about what an event would do, without side effects.
package dispatch
