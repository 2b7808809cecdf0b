package proc

import (
	"sort"
	"sync"

	"batchwand/internal/itemtree"
)

// Param is one declared parameter of a registered command. A Placeholder
// default marks the parameter as symbolic: recipes supply placeholder names
// for it instead of literal values.
type Param struct {
	Name    string
	Default any
}

// ProcedureFunc is the implementation of a procedure. Args arrive resolved,
// in the order the procedure declares its parameters.
type ProcedureFunc func(ctx Context, args []any) (any, error)

// ConditionFunc decides whether an item passes a condition.
type ConditionFunc func(item *itemtree.Item, ctx Context, args []any) bool

// Procedure is a registry entry binding a procedure name to its
// implementation and declared parameters.
type Procedure struct {
	Name   string
	Params []Param
	Fn     ProcedureFunc

	// New produces a fresh function per run for procedures that keep state
	// across items. It takes precedence over Fn.
	New func() ProcedureFunc
}

// Func returns the callable to use for one run.
func (p *Procedure) Func() ProcedureFunc {
	if p.New != nil {
		return p.New()
	}
	return p.Fn
}

// DefaultArgs returns the declared parameter defaults as arguments.
func (p *Procedure) DefaultArgs() []Arg { return defaultArgs(p.Params) }

// Condition is a registry entry binding a condition name to its
// implementation and declared parameters.
type Condition struct {
	Name   string
	Params []Param
	Fn     ConditionFunc
}

// DefaultArgs returns the declared parameter defaults as arguments.
func (c *Condition) DefaultArgs() []Arg { return defaultArgs(c.Params) }

func defaultArgs(params []Param) []Arg {
	args := make([]Arg, len(params))
	for i, p := range params {
		if ph, ok := p.Default.(Placeholder); ok {
			args[i] = Arg{Placeholder: ph}
		} else {
			args[i] = Arg{Value: p.Default}
		}
	}
	return args
}

var (
	registryMu sync.RWMutex
	procedures = map[string]*Procedure{}
	conditions = map[string]*Condition{}
)

// RegisterProcedure adds a procedure to the registry, replacing any entry
// with the same name.
func RegisterProcedure(p *Procedure) {
	registryMu.Lock()
	defer registryMu.Unlock()
	procedures[p.Name] = p
}

// LookupProcedure returns the registered procedure with the given name.
func LookupProcedure(name string) (*Procedure, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := procedures[name]
	return p, ok
}

// RegisterCondition adds a condition to the registry, replacing any entry
// with the same name.
func RegisterCondition(c *Condition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	conditions[c.Name] = c
}

// LookupCondition returns the registered condition with the given name.
func LookupCondition(name string) (*Condition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := conditions[name]
	return c, ok
}

// RegisteredProcedures returns all registered procedures sorted by name.
func RegisteredProcedures() []*Procedure {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Procedure, 0, len(procedures))
	for _, p := range procedures {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisteredConditions returns all registered conditions sorted by name.
func RegisteredConditions() []*Condition {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Condition, 0, len(conditions))
	for _, c := range conditions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
