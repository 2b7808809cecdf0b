// Package filter provides composable match rules for arbitrary objects.
package filter

import "sync/atomic"

type MatchType int

const (
	// MatchAll requires every rule to match.
	MatchAll MatchType = iota
	// MatchAny requires at least one rule to match.
	MatchAny
)

// Rule IDs are unique across all filters.
var ruleIDCounter atomic.Int64

// Filter holds an ordered list of rules determining whether an object
// matches. A rule is either a predicate function or a nested Filter with its
// own match type.
type Filter[T any] struct {
	matchType MatchType
	name      string
	rules     []ruleEntry[T]
}

type ruleEntry[T any] struct {
	id     int
	name   string
	fn     func(T) bool
	nested *Filter[T]
}

func New[T any](matchType MatchType, name string) *Filter[T] {
	return &Filter[T]{matchType: matchType, name: name}
}

func (f *Filter[T]) MatchType() MatchType { return f.matchType }

func (f *Filter[T]) Name() string { return f.name }

// Len returns the number of rules. Rules within nested filters do not count.
func (f *Filter[T]) Len() int { return len(f.rules) }

// Add registers a predicate under the given name and returns its rule ID.
// The name does not have to be unique; it can be used to remove several
// rules at once.
func (f *Filter[T]) Add(fn func(T) bool, name string) int {
	id := int(ruleIDCounter.Add(1))
	f.rules = append(f.rules, ruleEntry[T]{id: id, name: name, fn: fn})
	return id
}

// AddFilter registers a nested filter as a single rule and returns its rule
// ID. The nested filter matches according to its own match type.
func (f *Filter[T]) AddFilter(nested *Filter[T]) int {
	id := int(ruleIDCounter.Add(1))
	f.rules = append(f.rules, ruleEntry[T]{id: id, name: nested.name, nested: nested})
	return id
}

// AddTemp registers a predicate and returns its ID along with a function
// removing it again.
func (f *Filter[T]) AddTemp(fn func(T) bool, name string) (int, func()) {
	id := f.Add(fn, name)
	return id, func() { f.Remove(id) }
}

// Contains reports whether a rule with the given ID is registered.
func (f *Filter[T]) Contains(id int) bool {
	for _, r := range f.rules {
		if r.id == id {
			return true
		}
	}
	return false
}

// Nested returns the nested filter registered under id, or nil if id does
// not refer to a nested filter.
func (f *Filter[T]) Nested(id int) *Filter[T] {
	for _, r := range f.rules {
		if r.id == id {
			return r.nested
		}
	}
	return nil
}

// Find returns the IDs of all rules with the given name, in insertion order.
func (f *Filter[T]) Find(name string) []int {
	var ids []int
	for _, r := range f.rules {
		if r.name == name {
			ids = append(ids, r.id)
		}
	}
	return ids
}

// Remove removes the rule with the given ID and reports whether it was
// present.
func (f *Filter[T]) Remove(id int) bool {
	for i, r := range f.rules {
		if r.id == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveByName removes all rules with the given name and returns their IDs.
func (f *Filter[T]) RemoveByName(name string) []int {
	ids := f.Find(name)
	for _, id := range ids {
		f.Remove(id)
	}
	return ids
}

// IsMatch reports whether obj matches the filter. A filter with no rules
// matches everything regardless of match type.
func (f *Filter[T]) IsMatch(obj T) bool {
	if len(f.rules) == 0 {
		return true
	}

	switch f.matchType {
	case MatchAny:
		for _, r := range f.rules {
			if r.matches(obj) {
				return true
			}
		}
		return false
	default:
		for _, r := range f.rules {
			if !r.matches(obj) {
				return false
			}
		}
		return true
	}
}

func (r ruleEntry[T]) matches(obj T) bool {
	if r.nested != nil {
		return r.nested.IsMatch(obj)
	}
	return r.fn(obj)
}

// Reset removes all rules, keeping the match type.
func (f *Filter[T]) Reset() {
	f.rules = nil
}
