package itemtree

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"batchwand/internal/pathutil"
)

// FileObject adapts a file or directory path to the Object interface.
// Directories act as folders whose children are their sorted entries.
type FileObject struct {
	path string
}

// NewFileObject wraps path, normalized to its absolute form.
func NewFileObject(path string) FileObject {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return FileObject{path: abs}
}

func (o FileObject) ID() string { return o.path }

func (o FileObject) Name() string { return filepath.Base(o.path) }

func (o FileObject) Kind() Kind {
	info, err := os.Stat(o.path)
	if err == nil && info.IsDir() {
		return KindFolder
	}
	return KindItem
}

// Children lists the directory entries sorted by path. Files are kept only
// when they carry a loadable image extension. Symbolic links pointing to an
// ancestor of the directory are skipped to avoid loops.
func (o FileObject) Children() []Object {
	entries, err := os.ReadDir(o.path)
	if err != nil {
		return nil
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		paths = append(paths, filepath.Join(o.path, entry.Name()))
	}
	sort.Strings(paths)

	var children []Object
	for _, path := range paths {
		info, err := os.Lstat(path)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				continue
			}
			resolvedInfo, err := os.Stat(resolved)
			if err != nil {
				continue
			}
			if resolvedInfo.IsDir() {
				if isAncestorOf(resolved, o.path) {
					continue
				}
			} else if !pathutil.IsImageFile(path) {
				continue
			}
		} else if !info.IsDir() && !pathutil.IsImageFile(path) {
			continue
		}
		children = append(children, NewFileObject(path))
	}
	return children
}

// isAncestorOf reports whether dir is path itself or one of its ancestors.
func isAncestorOf(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FileTree is a Tree over files and directories on disk.
type FileTree struct {
	Tree
}

// NewFileTree returns an empty file tree.
func NewFileTree() *FileTree {
	return &FileTree{Tree: *NewTree()}
}

// AddPaths adds the given file or directory paths, expanding directories
// recursively.
func (t *FileTree) AddPaths(paths []string) ([]*Item, error) {
	objects := make([]Object, 0, len(paths))
	for _, p := range paths {
		objects = append(objects, NewFileObject(p))
	}
	return t.Add(objects, nil)
}

// Refresh resets every item's attributes and drops all saved states. Files
// or folders that no longer exist on disk are kept.
func (t *FileTree) Refresh() {
	for _, item := range t.List(IterOptions{WithFolders: true, WithEmptyGroups: true, Unfiltered: true}) {
		item.ResetState()
		item.clearSavedStates()
	}
}
