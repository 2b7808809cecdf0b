package export

import (
	"batchwand/internal/itemtree"
	"batchwand/internal/pathutil"
)

// ItemUniquifier hands out names that are unique among all items visited
// under the same parent, inserting a numbering suffix on collisions. An
// item visited once keeps the name it was given.
type ItemUniquifier struct {
	visited map[*itemtree.Item]map[*itemtree.Item]bool
	names   map[*itemtree.Item]map[string]bool
}

// NewItemUniquifier returns a uniquifier with no visited items.
func NewItemUniquifier() *ItemUniquifier {
	return &ItemUniquifier{
		visited: map[*itemtree.Item]map[*itemtree.Item]bool{},
		names:   map[*itemtree.Item]map[string]bool{},
	}
}

// Uniquify returns name adjusted so it differs from the names of all
// previously visited siblings of item, inserting the numbering suffix at
// position. A negative position appends the suffix.
func (u *ItemUniquifier) Uniquify(item *itemtree.Item, name string, position int) string {
	parent := item.Parent()
	if u.visited[parent][item] {
		return name
	}

	if u.visited[parent] == nil {
		u.visited[parent] = map[*itemtree.Item]bool{}
		u.names[parent] = map[string]bool{}
	}
	u.visited[parent][item] = true

	names := u.names[parent]
	if names[name] {
		name = pathutil.Uniquify(name, func(candidate string) bool {
			return !names[candidate]
		}, position, nil)
	}
	names[name] = true
	return name
}

// Reset forgets all visited items and names.
func (u *ItemUniquifier) Reset() {
	u.visited = map[*itemtree.Item]map[*itemtree.Item]bool{}
	u.names = map[*itemtree.Item]map[string]bool{}
}
