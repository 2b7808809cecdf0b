package proc

import "fmt"

// Origin distinguishes where a command's implementation comes from.
type Origin int

const (
	// OriginBuiltin commands resolve through this package's registry.
	OriginBuiltin Origin = iota
	// OriginWand commands also resolve through the registry but are
	// configured as raw wand operations. The distinction is kept for
	// recipes and stored configurations.
	OriginWand
)

// Command groups that every run recognizes. Configured procedures and
// conditions land in the two default groups; the remaining groups bracket
// stages of a run and accept extra commands via the run's invoker.
const (
	DefaultProceduresGroup = "default_procedures"
	DefaultConditionsGroup = "default_conditions"

	// NameGroup holds the name-only counterparts of renaming and export
	// commands, invoked by previews in place of the full pipeline.
	NameGroup = "name"

	BeforeItemsGroup          = "before_process_items"
	BeforeItemsContentsGroup  = "before_process_items_contents"
	AfterItemsGroup           = "after_process_items"
	AfterItemsContentsGroup   = "after_process_items_contents"
	BeforeItemGroup           = "before_process_item"
	BeforeItemContentsGroup   = "before_process_item_contents"
	AfterItemGroup            = "after_process_item"
	AfterItemContentsGroup    = "after_process_item_contents"
	CleanupContentsGroup      = "cleanup_contents"
	AfterCleanupContentsGroup = "after_cleanup_contents"
)

// Spec is one configured command: a procedure or condition scheduled for a
// run, with its resolved name, arguments and command groups.
type Spec struct {
	Name               string
	OrigName           string
	Enabled            bool
	EnabledForPreviews bool

	// AlsoApplyToParentFolders extends a condition to the item's ancestor
	// folders. It has no effect on procedures.
	AlsoApplyToParentFolders bool

	Origin Origin
	Args   []Arg
	Groups []string
}

// Clone returns a deep copy of the spec.
func (s *Spec) Clone() *Spec {
	c := *s
	c.Args = append([]Arg(nil), s.Args...)
	c.Groups = append([]string(nil), s.Groups...)
	return &c
}

// NewProcedureSpec returns an enabled spec for a registered procedure with
// its declared default arguments.
func NewProcedureSpec(origName string) (*Spec, error) {
	p, ok := LookupProcedure(origName)
	if !ok {
		return nil, fmt.Errorf("unknown procedure %q", origName)
	}
	return &Spec{
		Name:               origName,
		OrigName:           origName,
		Enabled:            true,
		EnabledForPreviews: true,
		Origin:             OriginBuiltin,
		Args:               p.DefaultArgs(),
		Groups:             []string{DefaultProceduresGroup},
	}, nil
}

// NewConditionSpec returns an enabled spec for a registered condition with
// its declared default arguments.
func NewConditionSpec(origName string) (*Spec, error) {
	c, ok := LookupCondition(origName)
	if !ok {
		return nil, fmt.Errorf("unknown condition %q", origName)
	}
	return &Spec{
		Name:               origName,
		OrigName:           origName,
		Enabled:            true,
		EnabledForPreviews: true,
		Origin:             OriginBuiltin,
		Args:               c.DefaultArgs(),
		Groups:             []string{DefaultConditionsGroup},
	}, nil
}

// List is an ordered collection of command specs with unique names.
type List struct {
	specs []*Spec
}

// Add appends the spec, adjusting its name with a numeric suffix until it is
// unique within the list. The spec's original name is preserved so the
// underlying function can still be resolved.
func (l *List) Add(spec *Spec) *Spec {
	if spec.OrigName == "" {
		spec.OrigName = spec.Name
	}
	spec.Name = l.uniquifyName(spec.Name)
	l.specs = append(l.specs, spec)
	return spec
}

func (l *List) uniquifyName(name string) string {
	if _, ok := l.Get(name); !ok {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if _, ok := l.Get(candidate); !ok {
			return candidate
		}
	}
}

// Get returns the spec with the given name.
func (l *List) Get(name string) (*Spec, bool) {
	for _, s := range l.specs {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Index returns the position of the named spec, or -1 when absent.
func (l *List) Index(name string) int {
	for i, s := range l.specs {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Reorder moves the named spec to the given position. Negative positions
// count from the end, -1 being the last position.
func (l *List) Reorder(name string, position int) error {
	current := l.Index(name)
	if current < 0 {
		return fmt.Errorf("command %q not found", name)
	}
	if position < 0 {
		position = max(len(l.specs)+position, 0)
	}

	spec := l.specs[current]
	l.specs = append(l.specs[:current], l.specs[current+1:]...)
	if position > len(l.specs) {
		position = len(l.specs)
	}
	l.specs = append(l.specs[:position], append([]*Spec{spec}, l.specs[position:]...)...)
	return nil
}

// Remove deletes the named spec from the list.
func (l *List) Remove(name string) error {
	i := l.Index(name)
	if i < 0 {
		return fmt.Errorf("command %q not found", name)
	}
	l.specs = append(l.specs[:i], l.specs[i+1:]...)
	return nil
}

// Specs returns the specs in order.
func (l *List) Specs() []*Spec {
	return append([]*Spec(nil), l.specs...)
}

// Len returns the number of specs.
func (l *List) Len() int { return len(l.specs) }

// Clear removes all specs.
func (l *List) Clear() { l.specs = nil }
