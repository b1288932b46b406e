// Package guardrails gates rule execution on live external state.
//
// Guardrails are evaluated in document order at decision time against a
// fresh snapshot from the live-state provider; the first blocking guardrail
// wins and supplies the defer reason and retry delay. A provider failure is
// itself a block: a guardrail the engine cannot evaluate is never bypassed.
package guardrails
