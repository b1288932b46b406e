package dispatch

import (
	"sort"
	"sync"

	"slate/internal/rules"
)

// RuleSet is the live collection of compiled rules, swapped atomically on
// reload.
type RuleSet struct {
	mu    sync.RWMutex
	byID  map[string]*rules.Rule
	order []*rules.Rule
}

func NewRuleSet() *RuleSet {
	return &RuleSet{byID: make(map[string]*rules.Rule)}
}

// Replace installs a new rule collection and reports which rule ids were
// added, changed, or removed relative to the previous set. A rule whose hash
// is unchanged keeps its original compile time, so reloads do not shuffle
// tie-break order.
func (rs *RuleSet) Replace(next []*rules.Rule) (added, changed, removed []string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	incoming := make(map[string]*rules.Rule, len(next))
	for _, rule := range next {
		if previous, ok := rs.byID[rule.ID]; ok {
			if previous.Hash == rule.Hash {
				rule = previous
			} else {
				changed = append(changed, rule.ID)
			}
		} else {
			added = append(added, rule.ID)
		}
		incoming[rule.ID] = rule
	}
	for id := range rs.byID {
		if _, ok := incoming[id]; !ok {
			removed = append(removed, id)
		}
	}

	order := make([]*rules.Rule, 0, len(incoming))
	for _, rule := range incoming {
		order = append(order, rule)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].Priority != order[j].Priority {
			return order[i].Priority > order[j].Priority
		}
		if !order[i].CompiledAt.Equal(order[j].CompiledAt) {
			return order[i].CompiledAt.Before(order[j].CompiledAt)
		}
		return order[i].ID < order[j].ID
	})

	rs.byID = incoming
	rs.order = order
	sort.Strings(added)
	sort.Strings(changed)
	sort.Strings(removed)
	return added, changed, removed
}

// Get returns a rule by id, or nil.
func (rs *RuleSet) Get(id string) *rules.Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.byID[id]
}

// All returns every rule in evaluation order.
func (rs *RuleSet) All() []*rules.Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return append([]*rules.Rule(nil), rs.order...)
}

// ByTrigger returns enabled rules matching a trigger, in evaluation order.
func (rs *RuleSet) ByTrigger(trigger rules.TriggerType) []*rules.Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var matched []*rules.Rule
	for _, rule := range rs.order {
		if rule.Enabled && rule.Trigger == trigger {
			matched = append(matched, rule)
		}
	}
	return matched
}

// Len reports the number of installed rules.
func (rs *RuleSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.order)
}
