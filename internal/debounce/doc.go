// Package debounce holds matched events during a rule's quiet period.
//
// Tracking is keyed by rule and subject. Each new event for a pending key
// restarts the quiet window and replaces the held event, so one settled
// dispatch emerges from a burst. Generation counters make superseded timers
// inert without needing to win a race against them.
package debounce
