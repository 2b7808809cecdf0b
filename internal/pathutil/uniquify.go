package pathutil

import (
	"fmt"
	"os"
)

// NumberSuffix returns a generator producing " (2)", " (3)", ... suffixes.
// Each call to the returned function yields the next suffix.
func NumberSuffix() func() string {
	n := 1
	return func() string {
		n++
		return fmt.Sprintf(" (%d)", n)
	}
}

// Uniquify returns str unchanged if isUnique(str) holds, otherwise appends
// suffixes from generator until the result is unique. position, when
// non-negative, is the character index at which the suffix is inserted
// (e.g. just before the file extension); otherwise the suffix is appended.
// A nil generator defaults to NumberSuffix.
func Uniquify(str string, isUnique func(string) bool, position int, generator func() string) string {
	if isUnique(str) {
		return str
	}
	if generator == nil {
		generator = NumberSuffix()
	}

	insert := func(suffix string) string {
		if position < 0 || position > len(str) {
			return str + suffix
		}
		return str[:position] + suffix + str[position:]
	}

	for {
		candidate := insert(generator())
		if isUnique(candidate) {
			return candidate
		}
	}
}

// UniquifyFilepath makes path unique against the filesystem, inserting the
// suffix at position (pass a negative position to append).
func UniquifyFilepath(path string, position int) string {
	return Uniquify(path, func(p string) bool {
		_, err := os.Lstat(p)
		return err != nil
	}, position, nil)
}
