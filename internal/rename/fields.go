package rename

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
	"batchwand/internal/pathutil"
)

// Variant selects the field set appropriate for the items being renamed.
type Variant int

const (
	// ForImages names image files processed as whole images.
	ForImages Variant = iota
	// ForLayers names layers exported from a single image.
	ForLayers
)

// Context supplies the live data fields draw on during one rename call.
type Context struct {
	// Item is the item being renamed.
	Item *itemtree.Item

	// Items and ItemsAndParents are the items matching the current run's
	// conditions, without and with parent folders. A nil slice means the
	// match has not been computed; Tree is consulted instead.
	Items           []*itemtree.Item
	ItemsAndParents []*itemtree.Item
	Tree            *itemtree.Tree

	// FileExtension is the run's output file extension, without a leading
	// period.
	FileExtension string
	// OutputDirectory is the run's export destination.
	OutputDirectory string

	// Image and Layer describe the image and layer currently processed.
	// Either may be nil.
	Image *magick.Image
	Layer *magick.Layer
}

// Renamer substitutes name patterns for items, one item per Rename call.
// Numbering fields keep their counters between calls, so a single Renamer
// must be used for all items of one run.
type Renamer struct {
	Pattern *Pattern[*Context]

	// RenameItems and RenameFolders mirror which items the caller renames
	// with this pattern. They only affect how descending numbering fields
	// derive their initial count.
	RenameItems   bool
	RenameFolders bool

	fields  []Field[*Context]
	numbers map[string]map[*itemtree.Item]*numberGenerator
}

// NewRenamer parses pattern with the field set of the given variant.
func NewRenamer(pattern string, variant Variant, renameItems, renameFolders bool) *Renamer {
	r := &Renamer{
		RenameItems:   renameItems,
		RenameFolders: renameFolders,
		numbers:       make(map[string]map[*itemtree.Item]*numberGenerator),
	}
	r.fields = r.fieldSpecs(variant)
	r.Pattern = New(pattern, r.fields)
	return r
}

// FieldNames lists the fields available to patterns of the given variant,
// in declaration order. Numbering fields match any digit sequence and are
// represented by "001".
func FieldNames(variant Variant) []string {
	r := &Renamer{numbers: make(map[string]map[*itemtree.Item]*numberGenerator)}
	var names []string
	for _, f := range r.fieldSpecs(variant) {
		if f.Name == "^[0-9]+$" {
			names = append(names, "001")
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

// Rename returns the substituted name for ctx.Item.
func (r *Renamer) Rename(ctx *Context) string {
	return r.Pattern.Substitute(ctx)
}

func (r *Renamer) fieldSpecs(variant Variant) []Field[*Context] {
	fields := []Field[*Context]{
		{Name: "^[0-9]+$", Fn: r.number, MaxArgs: -1},
	}

	switch variant {
	case ForImages:
		fields = append(fields,
			Field[*Context]{Name: "image name", Fn: itemName, MaxArgs: 1},
			Field[*Context]{Name: "image path", Fn: itemPath, MaxArgs: 3},
		)
	case ForLayers:
		fields = append(fields,
			Field[*Context]{Name: "image name", Fn: sourceImageName, MaxArgs: 1},
			Field[*Context]{Name: "layer name", Fn: itemName, MaxArgs: 1},
			Field[*Context]{Name: "full layer name", Fn: fullItemName},
			Field[*Context]{Name: "layer path", Fn: itemPath, MaxArgs: 3},
		)
	}

	fields = append(fields,
		Field[*Context]{Name: "output folder", Fn: outputFolder, MaxArgs: 3},
		Field[*Context]{Name: "current date", Fn: currentDate, MaxArgs: 1},
		Field[*Context]{Name: "attributes", Fn: attributes, MinArgs: 1, MaxArgs: 2},
		Field[*Context]{Name: "replace", Fn: r.replaceField, MinArgs: 3, MaxArgs: -1},
	)
	return fields
}

type numberGenerator struct {
	current   int
	padding   int
	ascending bool
}

func (g *numberGenerator) next() string {
	s := strconv.Itoa(g.current)
	if len(s) < g.padding {
		s = strings.Repeat("0", g.padding-len(s)) + s
	}
	if g.ascending {
		g.current++
	} else {
		g.current--
	}
	return s
}

// number implements numbering fields such as "001". The numeric field name
// sets the initial value and the zero padding. "%n" continues numbering
// across folders instead of restarting per parent. "%d" counts down, with
// an optional padding override ("%d3"); a descending field starting at 0
// starts from the number of items at the same level instead.
func (r *Renamer) number(ctx *Context, field string, args []string) (string, error) {
	resetOnParent := true
	ascending := true
	padding := len(field)

	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		switch {
		case arg == "%n":
			resetOnParent = false
		case strings.HasPrefix(arg, "%d"):
			ascending = false
			if n, err := strconv.Atoi(arg[len("%d"):]); err == nil {
				padding = n
			}
		}
	}

	var parent *itemtree.Item
	if resetOnParent {
		parent = ctx.Item.Parent()
	}

	perParent := r.numbers[field]
	if perParent == nil {
		perParent = make(map[*itemtree.Item]*numberGenerator)
		r.numbers[field] = perParent
	}

	gen := perParent[parent]
	if gen == nil {
		initial, err := strconv.Atoi(field)
		if err != nil {
			return "", err
		}
		if initial == 0 && !ascending {
			initial = r.countAtLevel(ctx, parent)
		}
		gen = &numberGenerator{current: initial, padding: padding, ascending: ascending}
		perParent[parent] = gen
	}
	return gen.next(), nil
}

func (r *Renamer) countAtLevel(ctx *Context, parent *itemtree.Item) int {
	items := r.numberingItems(ctx)

	n := 0
	for _, it := range items {
		if parent != nil {
			if it.Depth() == parent.Depth()+1 && it.Parent() == parent {
				n++
			}
		} else if it.Depth() == 0 {
			n++
		}
	}
	return n
}

func (r *Renamer) numberingItems(ctx *Context) []*itemtree.Item {
	switch {
	case r.RenameItems && r.RenameFolders:
		if ctx.ItemsAndParents != nil {
			return ctx.ItemsAndParents
		}
	case !r.RenameItems && r.RenameFolders:
		if ctx.ItemsAndParents != nil {
			folders := []*itemtree.Item{}
			for _, it := range ctx.ItemsAndParents {
				if it.Kind() == itemtree.KindFolder {
					folders = append(folders, it)
				}
			}
			return folders
		}
	default:
		if ctx.Items != nil {
			return ctx.Items
		}
	}
	if ctx.Tree != nil {
		return ctx.Tree.List(itemtree.IterOptions{})
	}
	return nil
}

// stripPerMode strips or keeps the file extension of name. "%e" always
// keeps it, "%i" keeps it only when equal to the run's output extension,
// "%n" only when different. Any other mode strips it.
func stripPerMode(name, mode, runExtension string) string {
	ext := pathutil.FileExtension(name)
	if ext == "" {
		return name
	}

	keep := false
	switch mode {
	case "%e":
		keep = true
	case "%i":
		keep = strings.EqualFold(ext, runExtension)
	case "%n":
		keep = !strings.EqualFold(ext, runExtension)
	}
	if keep {
		return name
	}
	return pathutil.Root(name)
}

func itemName(ctx *Context, _ string, args []string) (string, error) {
	mode := ""
	if len(args) > 0 {
		mode = args[0]
	}
	return stripPerMode(ctx.Item.Name, mode, ctx.FileExtension), nil
}

func fullItemName(ctx *Context, field string, _ []string) (string, error) {
	return itemName(ctx, field, []string{"%e"})
}

func sourceImageName(ctx *Context, _ string, args []string) (string, error) {
	name := ""
	if ctx.Image != nil {
		name = ctx.Image.Name
	}
	if name == "" {
		name = "Untitled"
	}
	if len(args) > 0 && args[0] == "%e" {
		return name, nil
	}
	return pathutil.Root(name), nil
}

func itemPath(ctx *Context, field string, args []string) (string, error) {
	separator := "-"
	wrapper := ""
	mode := ""
	if len(args) > 0 {
		separator = args[0]
	}
	if len(args) > 1 {
		wrapper = args[1]
	}
	if len(args) > 2 {
		mode = args[2]
	}

	var components []string
	for _, parent := range ctx.Item.Parents() {
		components = append(components, parent.Name)
	}
	leaf, err := itemName(ctx, field, []string{mode})
	if err != nil {
		return "", err
	}
	components = append(components, leaf)

	return joinComponents(components, separator, wrapper), nil
}

// outputFolder renders components of the run's output directory. The strip
// mode "%b<n>" keeps the last n components (default 1), "%f<n>" the first
// n; anything else keeps all of them.
func outputFolder(ctx *Context, _ string, args []string) (string, error) {
	strip := "%b"
	separator := "-"
	wrapper := ""
	if len(args) > 0 {
		strip = args[0]
	}
	if len(args) > 1 {
		separator = args[1]
	}
	if len(args) > 2 {
		wrapper = args[2]
	}

	components := pathComponents(ctx.OutputDirectory)
	switch {
	case strings.HasPrefix(strip, "%b"):
		n := 1
		if v, err := strconv.Atoi(strip[len("%b"):]); err == nil {
			n = v
		}
		if n > 0 && n < len(components) {
			components = components[len(components)-n:]
		}
	case strings.HasPrefix(strip, "%f"):
		n := 1
		if v, err := strconv.Atoi(strip[len("%f"):]); err == nil {
			n = v
		}
		if n > 0 && n < len(components) {
			components = components[:n]
		}
	}

	return joinComponents(components, separator, wrapper), nil
}

func pathComponents(path string) []string {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	var components []string
	for _, c := range strings.Split(cleaned, "/") {
		if c != "" && c != "." {
			components = append(components, c)
		}
	}
	return components
}

// joinComponents joins components with separator. A non-empty wrapper
// containing "%c" is applied to each component first.
func joinComponents(components []string, separator, wrapper string) string {
	if wrapper == "" || !strings.Contains(wrapper, "%c") {
		return strings.Join(components, separator)
	}
	wrapped := make([]string, len(components))
	for i, c := range components {
		wrapped[i] = strings.ReplaceAll(wrapper, "%c", c)
	}
	return strings.Join(wrapped, separator)
}

func currentDate(_ *Context, _ string, args []string) (string, error) {
	format := "%Y-%m-%d"
	if len(args) > 0 {
		format = args[0]
	}
	return time.Now().Format(strftimeLayout(format)), nil
}

var strftimeToLayout = map[byte]string{
	'Y': "2006", 'y': "06", 'm': "01", 'd': "02",
	'H': "15", 'I': "03", 'M': "04", 'S': "05",
	'p': "PM", 'a': "Mon", 'A': "Monday", 'b': "Jan", 'B': "January",
	'j': "002", '%': "%",
}

// strftimeLayout translates common strftime directives to a time.Format
// layout. Unrecognized directives are kept verbatim.
func strftimeLayout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			b.WriteByte(format[i])
			continue
		}
		i++
		if layout, ok := strftimeToLayout[format[i]]; ok {
			b.WriteString(layout)
		} else {
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}

// attributes substitutes image and layer attributes into its first
// argument: %iw/%ih for image width and height, %lw/%lh/%lx/%ly for layer
// width, height and offsets. The measure argument is "%px" for pixels
// (default) or "%pc<digits>" for ratios relative to the image size.
func attributes(ctx *Context, _ string, args []string) (string, error) {
	pattern := args[0]
	measure := "%px"
	if len(args) > 1 {
		measure = args[1]
	}

	values := map[string]string{}
	switch {
	case measure == "%px":
		if ctx.Image != nil {
			values["iw"] = strconv.FormatUint(uint64(ctx.Image.Width), 10)
			values["ih"] = strconv.FormatUint(uint64(ctx.Image.Height), 10)
		}
		if ctx.Layer != nil {
			values["lw"] = strconv.FormatUint(uint64(ctx.Layer.Width()), 10)
			values["lh"] = strconv.FormatUint(uint64(ctx.Layer.Height()), 10)
			values["lx"] = strconv.Itoa(ctx.Layer.OffsetX)
			values["ly"] = strconv.Itoa(ctx.Layer.OffsetY)
		}
	case strings.HasPrefix(measure, "%pc"):
		digits := 2
		if v, err := strconv.Atoi(measure[len("%pc"):]); err == nil {
			digits = v
		}
		if ctx.Image != nil {
			values["iw"] = "1.0"
			values["ih"] = "1.0"
			if ctx.Layer != nil && ctx.Image.Width > 0 && ctx.Image.Height > 0 {
				w, h := float64(ctx.Image.Width), float64(ctx.Image.Height)
				values["lw"] = formatRatio(roundTo(float64(ctx.Layer.Width())/w, digits))
				values["lh"] = formatRatio(roundTo(float64(ctx.Layer.Height())/h, digits))
				values["lx"] = formatRatio(roundTo(float64(ctx.Layer.OffsetX)/w, digits))
				values["ly"] = formatRatio(roundTo(float64(ctx.Layer.OffsetY)/h, digits))
			}
		}
	}

	return percentSubstitute(pattern, values), nil
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

func formatRatio(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// percentSubstitute replaces %name and %{name} references in pattern with
// entries from values, leaving unknown references and stray percent signs
// in place. "%%" produces a literal percent sign.
func percentSubstitute(pattern string, values map[string]string) string {
	isStart := func(c byte) bool {
		return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	isPart := func(c byte) bool {
		return isStart(c) || (c >= '0' && c <= '9')
	}

	var b strings.Builder
	i := 0
	for i < len(pattern) {
		if pattern[i] != '%' {
			b.WriteByte(pattern[i])
			i++
			continue
		}
		if i+1 < len(pattern) && pattern[i+1] == '%' {
			b.WriteByte('%')
			i += 2
			continue
		}
		if i+1 < len(pattern) && pattern[i+1] == '{' {
			if end := strings.IndexByte(pattern[i+2:], '}'); end >= 0 {
				if v, ok := values[pattern[i+2:i+2+end]]; ok {
					b.WriteString(v)
					i += end + 3
					continue
				}
			}
			b.WriteByte('%')
			i++
			continue
		}
		j := i + 1
		if j < len(pattern) && isStart(pattern[j]) {
			for j < len(pattern) && isPart(pattern[j]) {
				j++
			}
			if v, ok := values[pattern[i+1:j]]; ok {
				b.WriteString(v)
				i = j
				continue
			}
		}
		b.WriteByte('%')
		i++
	}
	return b.String()
}

// replaceField applies a regular expression replacement to another field's
// value. Arguments: the field to evaluate (e.g. "layer name, %e"), the
// expression, the replacement, then optionally a replacement count and
// flag names ("ignorecase", "multiline", "dotall").
func (r *Renamer) replaceField(ctx *Context, _ string, args []string) (string, error) {
	fieldRef, expr, replacement := args[0], args[1], args[2]

	count := 0
	flags := ""
	for _, extra := range args[3:] {
		extra = strings.TrimSpace(extra)
		if n, err := strconv.Atoi(extra); err == nil {
			count = n
			continue
		}
		switch strings.ToLower(extra) {
		case "ignorecase":
			flags += "i"
		case "multiline":
			flags += "m"
		case "dotall":
			flags += "s"
		}
	}

	name, fieldArgs, err := ParseField(fieldRef)
	if err != nil {
		return "", err
	}
	value, err := r.evaluate(ctx, name, fieldArgs)
	if err != nil {
		return "", err
	}

	if flags != "" {
		expr = "(?" + flags + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return "", err
	}
	if count <= 0 {
		return re.ReplaceAllString(value, replacement), nil
	}
	return replaceLimited(re, value, replacement, count), nil
}

func (r *Renamer) evaluate(ctx *Context, name string, args []string) (string, error) {
	for _, f := range r.fields {
		if !fieldNameMatches(f.Name, name) {
			continue
		}
		if len(args) < f.MinArgs || (f.MaxArgs >= 0 && len(args) > f.MaxArgs) {
			return "", fmt.Errorf("field %q: wrong number of arguments", name)
		}
		return f.Fn(ctx, name, args)
	}
	return "", fmt.Errorf("unknown field %q", name)
}

func fieldNameMatches(spec, name string) bool {
	if re, err := regexp.Compile("^(?:" + spec + ")$"); err == nil {
		return re.MatchString(name)
	}
	return spec == name
}

func replaceLimited(re *regexp.Regexp, s, replacement string, count int) string {
	var b strings.Builder
	remaining := s
	for count > 0 {
		loc := re.FindStringIndex(remaining)
		if loc == nil {
			break
		}
		b.WriteString(remaining[:loc[0]])
		b.WriteString(re.ReplaceAllString(remaining[loc[0]:loc[1]], replacement))
		remaining = remaining[loc[1]:]
		count--
		if loc[0] == loc[1] {
			if remaining == "" {
				break
			}
			b.WriteByte(remaining[0])
			remaining = remaining[1:]
		}
	}
	b.WriteString(remaining)
	return b.String()
}
