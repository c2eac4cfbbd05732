package cfgfile

import (
	"fmt"
	"strings"
)

// ParseBool accepts the boolean spellings understood by the training
// framework, case-insensitively: True/False, yes/no, on/off, 1/0, y/n, t/f.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1", "y", "t":
		return true, nil
	case "false", "no", "off", "0", "n", "f":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// FormatBool renders b the way the framework writes booleans.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// SplitList splits a comma separated value into trimmed elements. An empty
// value yields an empty list.
func SplitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// IsNone reports whether v is the framework's spelling of "no value".
func IsNone(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "none")
}
