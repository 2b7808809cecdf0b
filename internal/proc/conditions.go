package proc

import (
	"os"
	"regexp"
	"strings"

	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
	"batchwand/internal/pathutil"
)

// Match modes for the matches_text condition.
const (
	MatchStartsWith     = "starts_with"
	MatchDoesNotStart   = "does_not_start_with"
	MatchContains       = "contains"
	MatchDoesNotContain = "does_not_contain"
	MatchEndsWith       = "ends_with"
	MatchDoesNotEndWith = "does_not_end_with"
	MatchRegex          = "regex"
)

func init() {
	for _, c := range []*Condition{
		{
			Name: "is_item",
			Fn: func(item *itemtree.Item, _ Context, _ []any) bool {
				return item.Kind() == itemtree.KindItem
			},
		},
		{
			Name: "is_nonempty_group",
			Fn: func(item *itemtree.Item, _ Context, _ []any) bool {
				return item.Kind() == itemtree.KindGroup && len(item.Children()) > 0
			},
		},
		{
			Name: "is_top_level",
			Fn: func(item *itemtree.Item, _ Context, _ []any) bool {
				return item.Depth() == 0
			},
		},
		{
			Name: "is_visible",
			Fn:   isVisible,
		},
		{
			Name: "has_matching_file_extension",
			Fn: func(item *itemtree.Item, ctx Context, _ []any) bool {
				if ctx == nil {
					return false
				}
				return strings.EqualFold(
					pathutil.FileExtension(item.OrigName()), ctx.FileExtension())
			},
		},
		{
			Name: "matches_text",
			Params: []Param{
				{Name: "match_mode", Default: MatchContains},
				{Name: "text", Default: ""},
				{Name: "ignore_case", Default: false},
			},
			Fn: matchesText,
		},
		{
			Name: "is_raw_file",
			Fn: func(item *itemtree.Item, _ Context, _ []any) bool {
				return pathutil.IsRAWFile(item.ID())
			},
		},
		{
			Name: "is_not_raw_file",
			Fn: func(item *itemtree.Item, _ Context, _ []any) bool {
				return !pathutil.IsRAWFile(item.ID())
			},
		},
		{
			Name: "recognized_file_format",
			Fn: func(item *itemtree.Item, _ Context, _ []any) bool {
				ext := pathutil.FileExtension(item.OrigName())
				return ext != "" && magick.CanLoadFormat(ext)
			},
		},
		{
			Name: "file_exists",
			Fn: func(item *itemtree.Item, _ Context, _ []any) bool {
				_, err := os.Lstat(item.ID())
				return err == nil
			},
		},
	} {
		RegisterCondition(c)
	}
}

// isVisible reports the visibility of the layer behind item. Items without
// a layer are treated as visible.
func isVisible(item *itemtree.Item, _ Context, _ []any) bool {
	if layer := itemLayer(item); layer != nil {
		return layer.Visible
	}
	return true
}

// matchesText matches the item name against text. Empty text matches
// everything. An invalid regular expression matches nothing.
func matchesText(item *itemtree.Item, _ Context, args []any) bool {
	mode := stringArg(args, 0)
	text := stringArg(args, 1)
	ignoreCase := boolArg(args, 2)

	if text == "" {
		return true
	}

	name := item.Name
	if mode != MatchRegex && ignoreCase {
		name = strings.ToLower(name)
		text = strings.ToLower(text)
	}

	switch mode {
	case MatchStartsWith:
		return strings.HasPrefix(name, text)
	case MatchDoesNotStart:
		return !strings.HasPrefix(name, text)
	case MatchContains:
		return strings.Contains(name, text)
	case MatchDoesNotContain:
		return !strings.Contains(name, text)
	case MatchEndsWith:
		return strings.HasSuffix(name, text)
	case MatchDoesNotEndWith:
		return !strings.HasSuffix(name, text)
	case MatchRegex:
		if ignoreCase {
			text = "(?i)" + text
		}
		re, err := regexp.Compile(text)
		if err != nil {
			return false
		}
		return re.MatchString(name)
	default:
		return false
	}
}
