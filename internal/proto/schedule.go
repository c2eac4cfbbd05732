package proto

import (
	"fmt"
	"strconv"
	"strings"
)

// Step is one `value*epochs` segment of a schedule. Epochs is zero for a
// bare value, which covers every epoch.
type Step struct {
	Raw    string
	Epochs int
}

// Schedule is a compact per-epoch value such as `0.08*12|0.004*12`.
type Schedule []Step

// ParseSchedule splits a compact schedule into its steps.
func ParseSchedule(raw string) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	var out Schedule
	for _, seg := range strings.Split(raw, "|") {
		seg = strings.TrimSpace(seg)
		val, count, hasCount := strings.Cut(seg, "*")
		val = strings.TrimSpace(val)
		if val == "" {
			return nil, fmt.Errorf("empty value in schedule %q", raw)
		}
		step := Step{Raw: val}
		if hasCount {
			n, err := strconv.Atoi(strings.TrimSpace(count))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid epoch count %q in schedule %q", count, raw)
			}
			step.Epochs = n
		}
		out = append(out, step)
	}
	return out, nil
}

// Expand returns one raw value per epoch. A bare value stands for all
// epochs; the expanded length must equal epochs.
func (s Schedule) Expand(epochs int) ([]string, error) {
	var out []string
	for _, step := range s {
		n := step.Epochs
		if n == 0 {
			n = epochs
		}
		for i := 0; i < n; i++ {
			out = append(out, step.Raw)
		}
	}
	if len(out) != epochs {
		return nil, fmt.Errorf("schedule covers %d epochs, expected %d", len(out), epochs)
	}
	return out, nil
}

// ExpandFloat is Expand with every value parsed as a float.
func (s Schedule) ExpandFloat(epochs int) ([]float64, error) {
	raw, err := s.Expand(epochs)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, r := range raw {
		f, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q in schedule", r)
		}
		out[i] = f
	}
	return out, nil
}

// ExpandInt is Expand with every value parsed as an integer.
func (s Schedule) ExpandInt(epochs int) ([]int, error) {
	raw, err := s.Expand(epochs)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(raw))
	for i, r := range raw {
		n, err := strconv.Atoi(r)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q in schedule", r)
		}
		out[i] = n
	}
	return out, nil
}

func (s Schedule) String() string {
	parts := make([]string, len(s))
	for i, step := range s {
		if step.Epochs == 0 {
			parts[i] = step.Raw
		} else {
			parts[i] = step.Raw + "*" + strconv.Itoa(step.Epochs)
		}
	}
	return strings.Join(parts, "|")
}
