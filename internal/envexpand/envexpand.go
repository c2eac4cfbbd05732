// Package envexpand substitutes $VAR and ${VAR} references in path values.
package envexpand

import (
	"os"
	"sort"
	"strings"
)

// Env is a snapshot of environment variables.
type Env map[string]string

// FromOS returns the current process environment.
func FromOS() Env {
	return FromList(os.Environ())
}

// FromList builds an Env from KEY=VALUE pairs. Malformed pairs are skipped.
func FromList(pairs []string) Env {
	env := make(Env, len(pairs))
	for _, e := range pairs {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) == 2 {
			env[pair[0]] = pair[1]
		}
	}
	return env
}

// Expand replaces variable references in s. Variables that are not set are
// replaced by the empty string and returned, sorted and deduplicated.
func (env Env) Expand(s string) (string, []string) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	missing := make(map[string]struct{})
	out := os.Expand(s, func(name string) string {
		v, ok := env[name]
		if !ok {
			missing[name] = struct{}{}
		}
		return v
	})
	if len(missing) == 0 {
		return out, nil
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return out, names
}

// HasRefs reports whether s refers to any variable.
func HasRefs(s string) bool {
	found := false
	os.Expand(s, func(string) string {
		found = true
		return ""
	})
	return found
}
