// Package invoke maintains ordered pipelines of actions grouped by name
// and runs a named group against a list of arguments.
package invoke

import (
	"errors"
	"fmt"
	"sync/atomic"
)

const (
	// DefaultGroup is the group used when none is specified.
	DefaultGroup = "default"
	// AllGroups selects every group that currently exists. Passing it as
	// the sole group to Add registers the action only in existing groups.
	AllGroups = "all"
)

// Done signals that an action or hook has finished all the work it will
// ever do. Invoke removes the entry from the group being invoked and
// continues without reporting an error.
var Done = errors.New("action done")

// Func is a single pipeline step. It receives the entry's stored arguments
// with any invocation arguments spliced in. The returned value is passed to
// the After part of hooks wrapping this step.
type Func func(args []any) (any, error)

// Hook runs around every regular action in a group. Before runs ahead of
// the wrapped action and After runs once it finishes, receiving its result.
// Either part may be nil. With multiple hooks, all Before parts run in
// registration order, then the action, then all After parts in registration
// order.
type Hook struct {
	Before func(args []any) error
	After  func(args []any, result any) error
}

var actionIDCounter atomic.Int64

type entryKind int

const (
	entryAction entryKind = iota
	entryHook
	entryInvoker
)

type entry struct {
	id     int
	name   string
	kind   entryKind
	fn     Func
	hook   Hook
	nested *Invoker
	args   []any
	groups map[string]struct{}
}

func (e *entry) inGroup(group string) bool {
	_, ok := e.groups[group]
	return ok
}

// Invoker holds actions in named groups and invokes them in registration
// order. Actions may be plain functions, hooks wrapping every other action
// in their group, or nested Invoker instances.
type Invoker struct {
	actions    map[string][]*entry
	hooks      map[string][]*entry
	entries    map[int]*entry
	groupOrder []string
}

// NewInvoker returns an empty invoker with no groups.
func NewInvoker() *Invoker {
	return &Invoker{
		actions: map[string][]*entry{},
		hooks:   map[string][]*entry{},
		entries: map[int]*entry{},
	}
}

// Add registers fn under the given groups and returns its ID. Nil or empty
// groups mean the default group; missing groups are created. The stored
// args are passed to fn on every invocation.
func (inv *Invoker) Add(fn Func, name string, groups []string, args ...any) int {
	e := &entry{
		id:     inv.nextID(),
		name:   name,
		kind:   entryAction,
		fn:     fn,
		args:   args,
		groups: map[string]struct{}{},
	}
	for _, group := range inv.normalizeGroups(groups) {
		inv.addToGroup(e, group)
	}
	return e.id
}

// AddIfAbsent behaves like Add unless an entry with the same name already
// exists in at least one of the groups, in which case nothing is added and
// ok is false.
func (inv *Invoker) AddIfAbsent(fn Func, name string, groups []string, args ...any) (id int, ok bool) {
	if inv.Contains(name, groups) {
		return 0, false
	}
	return inv.Add(fn, name, groups, args...), true
}

// AddHook registers a hook running around every regular action in the given
// groups. The stored args are passed to both hook parts on every
// invocation.
func (inv *Invoker) AddHook(hook Hook, name string, groups []string, args ...any) int {
	e := &entry{
		id:     inv.nextID(),
		name:   name,
		kind:   entryHook,
		hook:   hook,
		args:   args,
		groups: map[string]struct{}{},
	}
	for _, group := range inv.normalizeGroups(groups) {
		inv.addToGroup(e, group)
	}
	return e.id
}

// AddInvoker registers a nested invoker. Invoking a group of this invoker
// invokes the same group of the nested one, with the same arguments. Hooks
// do not wrap nested invokers.
func (inv *Invoker) AddInvoker(nested *Invoker, groups []string) int {
	e := &entry{
		id:     inv.nextID(),
		kind:   entryInvoker,
		nested: nested,
		groups: map[string]struct{}{},
	}
	for _, group := range inv.normalizeGroups(groups) {
		inv.addToGroup(e, group)
	}
	return e.id
}

// AddToGroups adds an already registered action to further groups. Groups
// already containing the action are left untouched.
func (inv *Invoker) AddToGroups(id int, groups []string) error {
	e, ok := inv.entries[id]
	if !ok {
		return fmt.Errorf("action with ID %d does not exist", id)
	}
	for _, group := range inv.normalizeGroups(groups) {
		if !e.inGroup(group) {
			inv.addToGroup(e, group)
		}
	}
	return nil
}

// Invoke runs every action in each of the given groups in registration
// order. Nil or empty groups mean the default group; groups that do not
// exist are created empty. args are spliced into each entry's stored
// arguments at argsPosition; a negative position appends them. The first
// error stops the invocation and is returned.
func (inv *Invoker) Invoke(groups []string, args []any, argsPosition int) error {
	for _, group := range inv.normalizeGroups(groups) {
		inv.initGroup(group)

		// Actions may be removed during invocation, so walk a snapshot
		// and check membership before each call.
		items := make([]*entry, len(inv.actions[group]))
		copy(items, inv.actions[group])

		for _, e := range items {
			if !e.inGroup(group) {
				continue
			}

			var err error
			switch e.kind {
			case entryInvoker:
				err = e.nested.Invoke([]string{group}, args, argsPosition)
			default:
				err = inv.invokeAction(e, group, args, argsPosition)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (inv *Invoker) invokeAction(e *entry, group string, args []any, argsPosition int) error {
	hooks := make([]*entry, len(inv.hooks[group]))
	copy(hooks, inv.hooks[group])

	finished := map[*entry]bool{}
	for _, h := range hooks {
		if h.hook.Before == nil {
			continue
		}
		err := h.hook.Before(spliceArgs(h.args, args, argsPosition))
		if errors.Is(err, Done) {
			inv.removeFromGroup(h, group)
			finished[h] = true
			continue
		}
		if err != nil {
			return err
		}
	}

	result, err := e.fn(spliceArgs(e.args, args, argsPosition))
	if errors.Is(err, Done) {
		inv.removeFromGroup(e, group)
		return nil
	}
	if err != nil {
		return err
	}

	for _, h := range hooks {
		if h.hook.After == nil || finished[h] {
			continue
		}
		err := h.hook.After(spliceArgs(h.args, args, argsPosition), result)
		if errors.Is(err, Done) {
			inv.removeFromGroup(h, group)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Contains reports whether an entry with the given name exists in at least
// one of the groups.
func (inv *Invoker) Contains(name string, groups []string) bool {
	return len(inv.Find(name, groups)) > 0
}

// Find returns the IDs of entries with the given name across the given
// groups, in registration order. Nonexistent groups are skipped.
func (inv *Invoker) Find(name string, groups []string) []int {
	var ids []int
	seen := map[int]bool{}
	for _, group := range inv.normalizeGroups(groups) {
		for _, lists := range [][]*entry{inv.actions[group], inv.hooks[group]} {
			for _, e := range lists {
				if e.name == name && !seen[e.id] {
					seen[e.id] = true
					ids = append(ids, e.id)
				}
			}
		}
	}
	return ids
}

// HasAction reports whether the action with the given ID exists in at least
// one of the groups.
func (inv *Invoker) HasAction(id int, groups []string) bool {
	e, ok := inv.entries[id]
	if !ok {
		return false
	}
	for _, group := range inv.normalizeGroups(groups) {
		if e.inGroup(group) {
			return true
		}
	}
	return false
}

// Position returns the invocation position of the action within the group.
func (inv *Invoker) Position(id int, group string) (int, error) {
	e, ok := inv.entries[id]
	if !ok {
		return 0, fmt.Errorf("action with ID %d does not exist", id)
	}
	if !e.inGroup(group) {
		return 0, fmt.Errorf("action with ID %d is not in group %q", id, group)
	}
	for i, candidate := range inv.listFor(e.kind, group) {
		if candidate == e {
			return i, nil
		}
	}
	return 0, fmt.Errorf("action with ID %d is not in group %q", id, group)
}

// ListActions returns the IDs of regular actions and nested invokers in the
// group, in invocation order. The second return value is false if the group
// does not exist.
func (inv *Invoker) ListActions(group string) ([]int, bool) {
	entries, ok := inv.actions[group]
	if !ok {
		return nil, false
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	return ids, true
}

// ListHooks returns the IDs of hooks in the group, in invocation order. The
// second return value is false if the group does not exist.
func (inv *Invoker) ListHooks(group string) ([]int, bool) {
	entries, ok := inv.hooks[group]
	if !ok {
		return nil, false
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	return ids, true
}

// Groups returns all group names in the order they were created. With
// includeEmpty false, groups with no actions and no hooks are omitted.
func (inv *Invoker) Groups(includeEmpty bool) []string {
	if includeEmpty {
		return append([]string(nil), inv.groupOrder...)
	}
	var groups []string
	for _, group := range inv.groupOrder {
		if len(inv.actions[group]) > 0 || len(inv.hooks[group]) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// Reorder moves the action with the given ID to position within the group.
// Position 0 is the beginning; a negative position counts from the end, -1
// being the last position.
func (inv *Invoker) Reorder(id, position int, group string) error {
	e, ok := inv.entries[id]
	if !ok {
		return fmt.Errorf("action with ID %d does not exist", id)
	}
	if _, ok := inv.actions[group]; !ok {
		return fmt.Errorf("group %q does not exist", group)
	}
	if !e.inGroup(group) {
		return fmt.Errorf("action with ID %d is not in group %q", id, group)
	}

	list := inv.listFor(e.kind, group)
	list = removeEntry(list, e)

	if position < 0 {
		position = len(list) + position + 1
		if position < 0 {
			position = 0
		}
	}
	if position > len(list) {
		position = len(list)
	}

	list = append(list, nil)
	copy(list[position+1:], list[position:])
	list[position] = e
	inv.setListFor(e.kind, group, list)
	return nil
}

// Remove removes the action with the given ID from the given groups. Groups
// not containing the action are left untouched. The action itself is
// dropped once it belongs to no group.
func (inv *Invoker) Remove(id int, groups []string) error {
	e, ok := inv.entries[id]
	if !ok {
		return fmt.Errorf("action with ID %d does not exist", id)
	}

	for _, group := range inv.normalizeGroups(groups) {
		if _, ok := inv.actions[group]; !ok {
			return fmt.Errorf("group %q does not exist", group)
		}
		if e.inGroup(group) {
			inv.removeFromGroup(e, group)
			if _, ok := inv.entries[id]; !ok {
				break
			}
		}
	}
	return nil
}

// RemoveGroups removes the given groups with all their actions and hooks.
// Nonexistent groups are ignored.
func (inv *Invoker) RemoveGroups(groups []string) {
	for _, group := range inv.normalizeGroups(groups) {
		if _, ok := inv.actions[group]; !ok {
			continue
		}

		for _, e := range append(append([]*entry(nil), inv.actions[group]...), inv.hooks[group]...) {
			inv.removeFromGroup(e, group)
		}

		delete(inv.actions, group)
		delete(inv.hooks, group)
		for i, name := range inv.groupOrder {
			if name == group {
				inv.groupOrder = append(inv.groupOrder[:i], inv.groupOrder[i+1:]...)
				break
			}
		}
	}
}

func (inv *Invoker) nextID() int {
	return int(actionIDCounter.Add(1))
}

func (inv *Invoker) normalizeGroups(groups []string) []string {
	if len(groups) == 0 {
		return []string{DefaultGroup}
	}
	if len(groups) == 1 && groups[0] == AllGroups {
		return inv.Groups(true)
	}
	return groups
}

func (inv *Invoker) initGroup(group string) {
	if _, ok := inv.actions[group]; !ok {
		inv.actions[group] = []*entry{}
		inv.hooks[group] = []*entry{}
		inv.groupOrder = append(inv.groupOrder, group)
	}
}

func (inv *Invoker) addToGroup(e *entry, group string) {
	inv.initGroup(group)

	if e.kind == entryHook {
		inv.hooks[group] = append(inv.hooks[group], e)
	} else {
		inv.actions[group] = append(inv.actions[group], e)
	}

	e.groups[group] = struct{}{}
	inv.entries[e.id] = e
}

func (inv *Invoker) removeFromGroup(e *entry, group string) {
	inv.setListFor(e.kind, group, removeEntry(inv.listFor(e.kind, group), e))

	delete(e.groups, group)
	if len(e.groups) == 0 {
		delete(inv.entries, e.id)
	}
}

func (inv *Invoker) listFor(kind entryKind, group string) []*entry {
	if kind == entryHook {
		return inv.hooks[group]
	}
	return inv.actions[group]
}

func (inv *Invoker) setListFor(kind entryKind, group string, list []*entry) {
	if kind == entryHook {
		inv.hooks[group] = list
	} else {
		inv.actions[group] = list
	}
}

// spliceArgs inserts extra into stored at position. A negative position or
// one past the end appends.
func spliceArgs(stored, extra []any, position int) []any {
	if position < 0 || position > len(stored) {
		return append(append([]any(nil), stored...), extra...)
	}
	out := make([]any, 0, len(stored)+len(extra))
	out = append(out, stored[:position]...)
	out = append(out, extra...)
	out = append(out, stored[position:]...)
	return out
}

func removeEntry(entries []*entry, target *entry) []*entry {
	for i, e := range entries {
		if e == target {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}
