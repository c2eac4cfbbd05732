package proto

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/hcl/v2"
)

//go:embed builtin/*.proto
var builtinFS embed.FS

// Set resolves proto references such as `proto/liGRU.proto`. User
// directories are searched first (by the reference as written, then by its
// base name), then the embedded built-ins by base name. Parsed protos are
// cached; a Set is safe for concurrent use.
type Set struct {
	dirs []string

	mu    sync.Mutex
	cache map[string]*entry
}

type entry struct {
	proto *Proto
	diags hcl.Diagnostics
}

// NewSet returns a Set searching dirs before the built-ins.
func NewSet(dirs ...string) *Set {
	return &Set{dirs: dirs, cache: make(map[string]*entry)}
}

// Lookup resolves and parses ref.
func (s *Set) Lookup(ref string) (*Proto, hcl.Diagnostics) {
	src, filename, err := s.resolve(ref)
	if err != nil {
		return nil, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Proto not found",
			Detail:   fmt.Sprintf("Cannot resolve %q: %s.", ref, err),
		}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache[filename]; ok {
		return e.proto, e.diags
	}
	p, diags := Parse(src, filename)
	s.cache[filename] = &entry{proto: p, diags: diags}
	return p, diags
}

// Builtins lists the names of the embedded protos.
func Builtins() []string {
	entries, _ := fs.ReadDir(builtinFS, "builtin")
	var names []string
	for _, e := range entries {
		names = append(names, baseName(e.Name()))
	}
	sort.Strings(names)
	return names
}

// BuiltinOrigin is the Origin of a proto served from the embedded set.
const BuiltinOrigin = "built-in"

// Origin reports where ref resolves: the file found in a proto directory,
// or BuiltinOrigin. It is empty when ref cannot be resolved.
func (s *Set) Origin(ref string) string {
	_, filename, found, err := s.fromDirs(ref)
	switch {
	case err != nil:
		return ""
	case found:
		return filename
	}
	if _, err := builtinFS.ReadFile(builtinPath(ref)); err != nil {
		return ""
	}
	return BuiltinOrigin
}

func (s *Set) resolve(ref string) ([]byte, string, error) {
	src, filename, found, err := s.fromDirs(ref)
	if err != nil {
		return nil, "", err
	}
	if found {
		return src, filename, nil
	}
	name := builtinPath(ref)
	src, err = builtinFS.ReadFile(name)
	if err != nil {
		return nil, "", fmt.Errorf("not found in %d proto directories or the built-ins", len(s.dirs))
	}
	return src, name, nil
}

// fromDirs searches the user directories by the reference as written, then
// by its base name.
func (s *Set) fromDirs(ref string) ([]byte, string, bool, error) {
	base := filepath.Base(filepath.FromSlash(ref))
	for _, dir := range s.dirs {
		for _, candidate := range []string{filepath.Join(dir, filepath.FromSlash(ref)), filepath.Join(dir, base)} {
			src, err := os.ReadFile(candidate)
			if err == nil {
				return src, candidate, true, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, "", false, err
			}
		}
	}
	return nil, "", false, nil
}

func builtinPath(ref string) string {
	return path.Join("builtin", filepath.Base(filepath.FromSlash(ref)))
}
