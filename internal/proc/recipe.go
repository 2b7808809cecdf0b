package proc

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RunOptions are the run-level settings of a recipe. Enumerated values such
// as the overwrite and export modes stay strings here; callers translate
// them when building a batch run.
type RunOptions struct {
	NamePattern     string `yaml:"name_pattern,omitempty"`
	FileExtension   string `yaml:"file_extension,omitempty"`
	OutputDirectory string `yaml:"output_directory,omitempty"`
	OverwriteMode   string `yaml:"overwrite_mode,omitempty"`
	ExportMode      string `yaml:"export_mode,omitempty"`
	EditMode        bool   `yaml:"edit_mode,omitempty"`
	KeepImageCopies bool   `yaml:"keep_image_copies,omitempty"`
}

type recipeDoc struct {
	RunOptions `yaml:",inline"`
	Procedures []recipeCommand `yaml:"procedures"`
	Conditions []recipeCommand `yaml:"conditions"`
}

type recipeCommand struct {
	Name                     string         `yaml:"name"`
	Enabled                  *bool          `yaml:"enabled"`
	EnabledForPreviews       *bool          `yaml:"enabled_for_previews"`
	AlsoApplyToParentFolders bool           `yaml:"also_apply_to_parent_folders"`
	Groups                   []string       `yaml:"groups"`
	Args                     map[string]any `yaml:"args"`
}

// LoadRecipe reads a YAML recipe from path.
func LoadRecipe(path string) (RunOptions, []*Spec, []*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunOptions{}, nil, nil, fmt.Errorf("reading recipe: %w", err)
	}
	opts, procedures, conditions, err := ParseRecipe(data)
	if err != nil {
		return RunOptions{}, nil, nil, fmt.Errorf("parsing recipe %s: %w", path, err)
	}
	return opts, procedures, conditions, nil
}

// ParseRecipe parses a YAML recipe into run options and ordered procedure
// and condition specs. Commands with unknown names are kept so they surface
// as failed commands when the run reaches them.
func ParseRecipe(data []byte) (RunOptions, []*Spec, []*Spec, error) {
	var doc recipeDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return RunOptions{}, nil, nil, err
	}

	var procedures List
	for _, cmd := range doc.Procedures {
		spec, err := procedureSpec(cmd)
		if err != nil {
			return RunOptions{}, nil, nil, err
		}
		procedures.Add(spec)
	}

	var conditions List
	for _, cmd := range doc.Conditions {
		spec, err := conditionSpec(cmd)
		if err != nil {
			return RunOptions{}, nil, nil, err
		}
		conditions.Add(spec)
	}

	return doc.RunOptions, procedures.Specs(), conditions.Specs(), nil
}

func procedureSpec(cmd recipeCommand) (*Spec, error) {
	p, ok := LookupProcedure(cmd.Name)
	if !ok {
		return unknownCommandSpec(cmd, DefaultProceduresGroup), nil
	}
	args, err := buildArgs(cmd.Name, p.Params, cmd.Args)
	if err != nil {
		return nil, err
	}
	spec := &Spec{
		Name:               cmd.Name,
		OrigName:           cmd.Name,
		Enabled:            boolOrTrue(cmd.Enabled),
		EnabledForPreviews: boolOrTrue(cmd.EnabledForPreviews),
		Origin:             OriginBuiltin,
		Args:               args,
		Groups:             commandGroups(cmd, DefaultProceduresGroup),
	}
	return spec, nil
}

func conditionSpec(cmd recipeCommand) (*Spec, error) {
	c, ok := LookupCondition(cmd.Name)
	if !ok {
		spec := unknownCommandSpec(cmd, DefaultConditionsGroup)
		spec.AlsoApplyToParentFolders = cmd.AlsoApplyToParentFolders
		return spec, nil
	}
	args, err := buildArgs(cmd.Name, c.Params, cmd.Args)
	if err != nil {
		return nil, err
	}
	spec := &Spec{
		Name:                     cmd.Name,
		OrigName:                 cmd.Name,
		Enabled:                  boolOrTrue(cmd.Enabled),
		EnabledForPreviews:       boolOrTrue(cmd.EnabledForPreviews),
		AlsoApplyToParentFolders: cmd.AlsoApplyToParentFolders,
		Origin:                   OriginBuiltin,
		Args:                     args,
		Groups:                   commandGroups(cmd, DefaultConditionsGroup),
	}
	return spec, nil
}

// unknownCommandSpec keeps a command the registry does not know. Its args
// are carried as literals in declaration order by name.
func unknownCommandSpec(cmd recipeCommand, defaultGroup string) *Spec {
	return &Spec{
		Name:               cmd.Name,
		OrigName:           cmd.Name,
		Enabled:            boolOrTrue(cmd.Enabled),
		EnabledForPreviews: boolOrTrue(cmd.EnabledForPreviews),
		Origin:             OriginBuiltin,
		Args:               literalArgs(cmd.Args),
		Groups:             commandGroups(cmd, defaultGroup),
	}
}

// buildArgs resolves named recipe args against declared parameters. Unnamed
// parameters keep their defaults. A string value for a parameter whose
// default is a placeholder must name a placeholder.
func buildArgs(command string, params []Param, named map[string]any) ([]Arg, error) {
	args := defaultArgs(params)
	for name, value := range named {
		i := paramIndex(params, name)
		if i < 0 {
			return nil, fmt.Errorf("command %q has no argument %q (valid: %v)",
				command, name, paramNames(params))
		}
		if _, symbolic := params[i].Default.(Placeholder); symbolic {
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("command %q argument %q: expected a placeholder name, got %T",
					command, name, value)
			}
			ph, ok := LookupPlaceholder(s)
			if !ok {
				return nil, fmt.Errorf("command %q argument %q: unknown placeholder %q",
					command, name, s)
			}
			args[i] = Arg{Placeholder: ph}
			continue
		}
		args[i] = Arg{Value: coerceValue(params[i].Default, value)}
	}
	return args, nil
}

// coerceValue widens integers to float64 when the declared default is a
// float, matching how YAML decodes whole numbers.
func coerceValue(def, value any) any {
	if _, isFloat := def.(float64); isFloat {
		switch v := value.(type) {
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return value
}

func literalArgs(named map[string]any) []Arg {
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	args := make([]Arg, len(names))
	for i, name := range names {
		args[i] = Arg{Value: named[name]}
	}
	return args
}

func paramIndex(params []Param, name string) int {
	for i, p := range params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func paramNames(params []Param) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	sort.Strings(names)
	return names
}

func commandGroups(cmd recipeCommand, defaultGroup string) []string {
	if len(cmd.Groups) > 0 {
		return append([]string(nil), cmd.Groups...)
	}
	return []string{defaultGroup}
}

func boolOrTrue(b *bool) bool {
	return b == nil || *b
}
