// Package itemtree stores file paths, images and layers in a tree-like
// structure with a flat linked traversal order.
package itemtree

import (
	"fmt"

	"batchwand/internal/filter"
)

// Kind distinguishes how an object participates in a tree.
type Kind int

const (
	// KindItem is a regular item.
	KindItem Kind = iota
	// KindGroup is an item whose underlying object is a group with children
	// but acts as a single merged item with no children of its own.
	KindGroup
	// KindFolder is an item containing children, such as a directory or a
	// layer group.
	KindFolder
)

// Object is an external object that can be stored in a tree. Objects of
// KindGroup are inserted twice, once as a folder and once as a group item.
type Object interface {
	// ID uniquely identifies the underlying object among all objects of the
	// same source.
	ID() string
	Name() string
	Kind() Kind
	// Children lists the object's immediate children. Non-container objects
	// return nil.
	Children() []Object
}

// Key addresses an item within a tree. An object present both as a folder
// and as a group occupies two keys differing in the Folder flag.
type Key struct {
	ID     string
	Folder bool
}

// Item wraps an Object inside a tree. The name and the parent/child lists
// are mutable; the original values are kept for resets.
type Item struct {
	object Object
	kind   Kind
	id     string

	// Name can be modified to avoid renaming the underlying object.
	Name string

	// Raw is a derived object that procedures operate on, such as an image
	// loaded from the item's file path. May be nil until assigned.
	Raw any

	parents  []*Item
	children []*Item
	prev     *Item
	next     *Item

	origName     string
	origParents  []*Item
	origChildren []*Item

	savedStates      []State
	savedNamedStates map[string]State
}

// State is a snapshot of an item's mutable attributes.
type State struct {
	Name     string
	Parents  []*Item
	Children []*Item
}

func newItem(obj Object, kind Kind, parents []*Item) *Item {
	name := obj.Name()
	return &Item{
		object:      obj,
		kind:        kind,
		id:          obj.ID(),
		Name:        name,
		origName:    name,
		parents:     parents,
		origParents: append([]*Item(nil), parents...),
	}
}

// NewNameOnlyItem returns a parentless item carrying just a name, detached
// from any tree and without an underlying object. Export modes gathering
// several items into one output use such items to name the result.
func NewNameOnlyItem(name string) *Item {
	return &Item{Name: name, origName: name}
}

// Object returns the wrapped external object.
func (it *Item) Object() Object { return it.object }

func (it *Item) Kind() Kind { return it.kind }

// ID identifies the underlying object. It never changes for this instance.
func (it *Item) ID() string { return it.id }

// Key returns the tree key of this item, distinguishing folder items from
// their group counterparts.
func (it *Item) Key() Key {
	return Key{ID: it.id, Folder: it.kind == KindFolder}
}

// Parents lists the item's parents from the topmost folder down to the
// immediate parent.
func (it *Item) Parents() []*Item { return it.parents }

// SetParents replaces the item's parent chain.
func (it *Item) SetParents(parents []*Item) { it.parents = parents }

func (it *Item) Children() []*Item { return it.children }

// Parent returns the immediate parent, or nil for top-level items.
func (it *Item) Parent() *Item {
	if len(it.parents) == 0 {
		return nil
	}
	return it.parents[len(it.parents)-1]
}

// Depth returns the number of parents. Top-level items have depth 0.
func (it *Item) Depth() int { return len(it.parents) }

// Prev returns the previous item in the tree's flat order, or nil.
func (it *Item) Prev() *Item { return it.prev }

// Next returns the next item in the tree's flat order, or nil.
func (it *Item) Next() *Item { return it.next }

// OrigName returns the name the item had when created.
func (it *Item) OrigName() string { return it.origName }

// OrigParent returns the immediate parent the item had when created, or nil.
func (it *Item) OrigParent() *Item {
	if len(it.origParents) == 0 {
		return nil
	}
	return it.origParents[len(it.origParents)-1]
}

// AllChildren returns all descendants of a folder item, including the
// contents of nested folders. Non-folder items have no descendants.
func (it *Item) AllChildren() []*Item {
	if it.kind != KindFolder {
		return nil
	}

	var all []*Item
	queue := append([]*Item(nil), it.children...)
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		all = append(all, item)
		if item.kind == KindFolder {
			queue = append(queue, item.children...)
		}
	}
	return all
}

func (it *Item) childObjects() []Object {
	if it.object == nil {
		return nil
	}
	return it.object.Children()
}

// PushState saves the current name and parent/child lists. PopState
// restores the most recently pushed state.
func (it *Item) PushState() {
	it.savedStates = append(it.savedStates, State{
		Name:     it.Name,
		Parents:  it.parents,
		Children: it.children,
	})
}

// PopState restores the attributes saved by the last PushState call. It
// does nothing if no state was pushed.
func (it *Item) PopState() {
	if len(it.savedStates) == 0 {
		return
	}
	state := it.savedStates[len(it.savedStates)-1]
	it.savedStates = it.savedStates[:len(it.savedStates)-1]

	it.Name = state.Name
	it.parents = state.Parents
	it.children = state.Children
}

// SaveState saves the current attributes under the given name, overwriting
// any previous state with the same name.
func (it *Item) SaveState(name string) {
	if it.savedNamedStates == nil {
		it.savedNamedStates = map[string]State{}
	}
	it.savedNamedStates[name] = State{
		Name:     it.Name,
		Parents:  it.parents,
		Children: it.children,
	}
}

// NamedState returns the state saved under name.
func (it *Item) NamedState(name string) (State, bool) {
	state, ok := it.savedNamedStates[name]
	return state, ok
}

// SetNamedState replaces the state saved under name.
func (it *Item) SetNamedState(name string, state State) {
	if it.savedNamedStates == nil {
		it.savedNamedStates = map[string]State{}
	}
	it.savedNamedStates[name] = state
}

// DeleteNamedState removes the state saved under name, if any.
func (it *Item) DeleteNamedState(name string) {
	delete(it.savedNamedStates, name)
}

// ResetState restores the item's attributes to the values it was created
// with.
func (it *Item) ResetState() {
	it.Name = it.origName
	it.parents = append([]*Item(nil), it.origParents...)
	it.children = append([]*Item(nil), it.origChildren...)
}

func (it *Item) clearSavedStates() {
	it.savedStates = nil
	it.savedNamedStates = nil
}

// InsertionMode selects where Reorder places an item relative to the
// reference item.
type InsertionMode int

const (
	InsertAfter InsertionMode = iota
	InsertBefore
)

// AddOptions control how Add links new items into the tree. A nil options
// value adds at the end of the tree with folders included and expanded.
type AddOptions struct {
	// Parent is the folder item under which to add all items. Nil adds at
	// the top level.
	Parent *Item
	// InsertAfter is an existing item after which to insert. Nil inserts
	// after the last existing item (or the last child of Parent).
	InsertAfter *Item
	// WithFolders controls whether container objects are added as folder
	// items.
	WithFolders bool
	// ExpandFolders controls whether children of container objects are
	// added recursively. No effect if WithFolders is false.
	ExpandFolders bool
}

// IterOptions control iteration. The zero value excludes folders and empty
// groups and applies the tree filter, matching the most common traversal.
type IterOptions struct {
	WithFolders     bool
	WithEmptyGroups bool
	// Unfiltered disables the tree's filter for this traversal.
	Unfiltered bool
	Reverse    bool
}

// Tree stores Items in a flat doubly-linked order with parent/child links.
// Adding an object whose key is already present reuses the existing Item so
// external references stay valid.
type Tree struct {
	// IsFiltered enables the filter during iteration.
	IsFiltered bool
	// Filter decides which items filtered traversals yield.
	Filter *filter.Filter[*Item]

	matchType filter.MatchType

	first *Item
	last  *Item
	items map[Key]*Item
}

// NewTree returns an empty tree with filtering enabled and an empty
// match-all filter.
func NewTree() *Tree {
	return newTreeWithMatchType(filter.MatchAll)
}

func newTreeWithMatchType(matchType filter.MatchType) *Tree {
	return &Tree{
		IsFiltered: true,
		Filter:     filter.New[*Item](matchType, ""),
		matchType:  matchType,
		items:      map[Key]*Item{},
	}
}

// Get returns the item stored under key.
func (t *Tree) Get(key Key) (*Item, bool) {
	item, ok := t.items[key]
	return item, ok
}

// Contains reports whether an item with the given key is in the tree,
// regardless of filters.
func (t *Tree) Contains(key Key) bool {
	_, ok := t.items[key]
	return ok
}

// Len returns the number of items excluding folders and empty groups,
// honoring the filter if enabled.
func (t *Tree) Len() int {
	return len(t.List(IterOptions{}))
}

// TotalLen returns the number of stored items of all kinds, ignoring the
// filter.
func (t *Tree) TotalLen() int {
	return len(t.items)
}

// Add inserts objects as items. Container objects become folder items and,
// when expanded, their children are added recursively directly after them.
// Objects already present are reused and not reported as added.
func (t *Tree) Add(objects []Object, opts *AddOptions) ([]*Item, error) {
	if opts == nil {
		opts = &AddOptions{WithFolders: true, ExpandFolders: true}
	}
	if len(objects) == 0 {
		return nil, nil
	}

	parent := opts.Parent
	insertAfter := opts.InsertAfter

	if parent != nil && insertAfter != nil && parent != insertAfter && !containsItem(parent.children, insertAfter) {
		return nil, fmt.Errorf("insert-after item must be the parent item or one of its children")
	}
	if parent != nil && !t.Contains(parent.Key()) {
		return nil, fmt.Errorf("parent item %s does not exist in this tree", parent.id)
	}
	if insertAfter != nil && !t.Contains(insertAfter.Key()) {
		return nil, fmt.Errorf("insert-after item %s does not exist in this tree", insertAfter.id)
	}

	var parentsForChild []*Item
	if parent != nil {
		parentsForChild = append(append([]*Item(nil), parent.parents...), parent)
	}

	anchor := insertAfter
	if anchor == nil {
		if parent == nil {
			anchor = t.last
		} else if len(parent.children) > 0 {
			anchor = parent.children[len(parent.children)-1]
		} else {
			anchor = parent
		}
	}

	var pending []*Item
	for _, obj := range objects {
		pending = synthesizeItems(pending, obj, copyItems(parentsForChild), opts.WithFolders)
	}

	var added []*Item
	for len(pending) > 0 {
		item := pending[0]
		pending = pending[1:]

		if item.kind == KindFolder {
			item = t.attach(item, &added)

			if opts.ExpandFolders {
				childParents := append(copyItems(item.parents), item)

				var childItems []*Item
				for _, obj := range item.childObjects() {
					childItems = synthesizeItems(childItems, obj, copyItems(childParents), opts.WithFolders)
				}
				pending = append(childItems, pending...)
			}
		} else {
			t.attach(item, &added)
		}
	}

	// Link the new items among themselves, then splice the run into the
	// chain after the anchor.
	for i := 1; i < len(added); i++ {
		added[i].prev = added[i-1]
		added[i-1].next = added[i]
	}

	if t.first != nil && t.last != nil && len(added) > 0 {
		last := added[len(added)-1]
		last.next = anchor.next
		if anchor.next != nil {
			anchor.next.prev = last
		} else {
			t.last = last
		}
		added[0].prev = anchor
		anchor.next = added[0]
	} else if t.first == nil && t.last == nil && len(added) > 0 {
		t.first = added[0]
		t.last = added[len(added)-1]
	}

	return added, nil
}

// synthesizeItems appends the items an object expands to. Group objects
// yield a folder item and a group item sharing the underlying object.
func synthesizeItems(dst []*Item, obj Object, parents []*Item, withFolders bool) []*Item {
	switch obj.Kind() {
	case KindFolder:
		if withFolders {
			dst = append(dst, newItem(obj, KindFolder, parents))
		}
	case KindGroup:
		if withFolders {
			dst = append(dst, newItem(obj, KindFolder, parents))
		}
		dst = append(dst, newItem(obj, KindGroup, copyItems(parents)))
	default:
		dst = append(dst, newItem(obj, KindItem, parents))
	}
	return dst
}

// attach stores the item under its key. If the key is taken, the existing
// item is returned and the new instance is discarded, preserving external
// references to the existing item.
func (t *Tree) attach(item *Item, added *[]*Item) *Item {
	if existing, ok := t.items[item.Key()]; ok {
		return existing
	}

	t.items[item.Key()] = item
	*added = append(*added, item)

	if p := item.Parent(); p != nil {
		p.origChildren = append(p.origChildren, item)
		p.children = append(p.children, item)
	}
	return item
}

// Remove unlinks the given items. Folder and group items remove their
// counterpart of the other kind, and folders remove all descendants. Items
// not present are ignored.
func (t *Tree) Remove(items []*Item) []*Item {
	var removed []*Item
	seen := map[*Item]bool{}

	for _, item := range items {
		keys := []Key{{ID: item.id}}
		if item.kind != KindItem {
			keys = append(keys, Key{ID: item.id, Folder: true})
		}

		var toRemove []*Item
		for _, key := range keys {
			if found, ok := t.items[key]; ok {
				toRemove = append(toRemove, found)
				toRemove = append(toRemove, found.AllChildren()...)
			}
		}

		for _, victim := range toRemove {
			if seen[victim] {
				continue
			}
			seen[victim] = true

			delete(t.items, Key{ID: victim.id})
			delete(t.items, Key{ID: victim.id, Folder: true})

			if victim.prev != nil {
				victim.prev.next = victim.next
			}
			if victim.next != nil {
				victim.next.prev = victim.prev
			}

			if p := victim.Parent(); p != nil {
				p.children = removeItem(p.children, victim)
			}
			if p := victim.OrigParent(); p != nil {
				p.origChildren = removeItem(p.origChildren, victim)
			}

			if victim == t.first {
				t.first = victim.next
			}
			if victim == t.last {
				t.last = victim.prev
			}

			removed = append(removed, victim)
		}
	}
	return removed
}

// Reorder relinks item before or after reference. Moving after a folder
// re-parents the item under that folder; any other move adopts the
// reference item's parent.
func (t *Tree) Reorder(item, reference *Item, mode InsertionMode) error {
	if !t.Contains(item.Key()) {
		return fmt.Errorf("item %s not found in this tree", item.id)
	}
	if containsItem(reference.parents, item) {
		return fmt.Errorf("cannot move item %s inside one of its own children", item.id)
	}
	if mode != InsertBefore && mode != InsertAfter {
		return fmt.Errorf("invalid insertion mode %d", mode)
	}
	if item == reference {
		return nil
	}

	if item.prev != nil {
		item.prev.next = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	}
	if item == t.first {
		t.first = item.next
	}
	if item == t.last {
		t.last = item.prev
	}

	t.updateParentsForReorder(item, reference, mode)

	if mode == InsertBefore {
		prevRef := reference.prev
		reference.prev = item
		item.prev = prevRef
		item.next = reference
		if prevRef != nil {
			prevRef.next = item
		} else {
			t.first = item
		}
	} else {
		nextRef := reference.next
		reference.next = item
		item.prev = reference
		item.next = nextRef
		if nextRef != nil {
			nextRef.prev = item
		} else {
			t.last = item
		}
	}
	return nil
}

func (t *Tree) updateParentsForReorder(item, reference *Item, mode InsertionMode) {
	adoptFolder := mode == InsertAfter && reference.kind == KindFolder

	if item.Parent() == reference.Parent() && !adoptFolder {
		return
	}

	if p := item.Parent(); p != nil {
		p.children = removeItem(p.children, item)
	}
	if adoptFolder {
		item.parents = append(copyItems(reference.parents), reference)
	} else {
		item.parents = reference.parents
	}
	if p := item.Parent(); p != nil && !containsItem(p.children, item) {
		p.children = append(p.children, item)
	}

	if p := item.OrigParent(); p != nil {
		p.origChildren = removeItem(p.origChildren, item)
	}
	if adoptFolder {
		item.origParents = append(copyItems(reference.origParents), reference)
	} else {
		item.origParents = reference.origParents
	}
	if p := item.OrigParent(); p != nil && !containsItem(p.origChildren, item) {
		p.origChildren = append(p.origChildren, item)
	}
}

// List walks the flat chain and returns the items passing the given
// options. Folders always precede their descendants.
func (t *Tree) List(opts IterOptions) []*Item {
	var out []*Item

	current := t.first
	if opts.Reverse {
		current = t.last
	}

	total := len(t.items)
	count := 0
	for current != nil {
		if count >= total {
			panic("itemtree: item count exceeded, possible cycle in linked order")
		}

		if t.shouldYield(current, opts) {
			out = append(out, current)
		}

		if opts.Reverse {
			current = current.prev
		} else {
			current = current.next
		}
		count++
	}
	return out
}

func (t *Tree) shouldYield(item *Item, opts IterOptions) bool {
	if !opts.WithFolders && item.kind == KindFolder {
		return false
	}
	if !opts.WithEmptyGroups && item.kind == KindGroup && len(item.childObjects()) == 0 {
		return false
	}
	if !opts.Unfiltered && t.IsFiltered && !t.Filter.IsMatch(item) {
		return false
	}
	return true
}

// Next returns the item following item in the flat order, honoring the same
// skip rules as List. Folders, when included, bypass the filter.
func (t *Tree) Next(item *Item, opts IterOptions) *Item {
	return t.step(item, opts, false)
}

// Prev returns the item preceding item in the flat order, honoring the same
// skip rules as List. Folders, when included, bypass the filter.
func (t *Tree) Prev(item *Item, opts IterOptions) *Item {
	return t.step(item, opts, true)
}

func (t *Tree) step(item *Item, opts IterOptions, backward bool) *Item {
	adjacent := item
	for {
		if backward {
			adjacent = adjacent.prev
		} else {
			adjacent = adjacent.next
		}
		if adjacent == nil {
			return nil
		}

		if adjacent.kind == KindFolder {
			if opts.WithFolders {
				return adjacent
			}
			continue
		}
		if adjacent.kind == KindGroup && len(adjacent.childObjects()) == 0 {
			if opts.WithEmptyGroups {
				return adjacent
			}
			continue
		}

		if !opts.Unfiltered && t.IsFiltered {
			if t.Filter.IsMatch(adjacent) {
				return adjacent
			}
			continue
		}
		return adjacent
	}
}

// ResetFilter replaces the filter with a fresh empty one of the same match
// type.
func (t *Tree) ResetFilter() {
	t.Filter = filter.New[*Item](t.matchType, "")
}

// Clear removes all items unconditionally.
func (t *Tree) Clear() {
	t.first = nil
	t.last = nil
	t.items = map[Key]*Item{}
}

func containsItem(items []*Item, target *Item) bool {
	for _, it := range items {
		if it == target {
			return true
		}
	}
	return false
}

func removeItem(items []*Item, target *Item) []*Item {
	for i, it := range items {
		if it == target {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}

func copyItems(items []*Item) []*Item {
	return append([]*Item(nil), items...)
}
