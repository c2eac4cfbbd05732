package schedule

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
)

// Split divides lines into n contiguous parts whose sizes differ by at most
// one; the first len(lines)%n parts are the longer ones.
func Split(lines []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	out := make([][]string, n)
	size, extra := len(lines)/n, len(lines)%n
	start := 0
	for i := range out {
		end := start + size
		if i < extra {
			end++
		}
		out[i] = lines[start:end:end]
		start = end
	}
	return out
}

// SplitChunks shuffles a copy of lines with seed and splits it into n
// parts. The same seed always yields the same chunks.
func SplitChunks(lines []string, n int, seed int64) [][]string {
	shuffled := slices.Clone(lines)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return Split(shuffled, n)
}

// UttID returns the utterance id of a list line, its first field.
func UttID(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// SplitAligned splits the lists of several features into n chunks that hold
// the same utterances. The order comes from the first feature's list,
// shuffled with seed when shuffle is set; the other lists are matched to it
// by utterance id.
func SplitAligned(names []string, lists map[string][]string, n int, shuffle bool, seed int64) (map[string][][]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	lead := names[0]
	var parts [][]string
	if shuffle {
		parts = SplitChunks(lists[lead], n, seed)
	} else {
		parts = Split(lists[lead], n)
	}

	out := map[string][][]string{lead: parts}
	for _, name := range names[1:] {
		byID := make(map[string]string, len(lists[name]))
		for _, l := range lists[name] {
			byID[UttID(l)] = l
		}
		aligned := make([][]string, len(parts))
		for i, part := range parts {
			aligned[i] = make([]string, len(part))
			for j, l := range part {
				line, ok := byID[UttID(l)]
				if !ok {
					return nil, fmt.Errorf("utterance %q of feature %q is missing from feature %q", UttID(l), lead, name)
				}
				aligned[i][j] = line
			}
		}
		if len(byID) != len(lists[lead]) {
			return nil, fmt.Errorf("feature %q lists %d utterances, feature %q lists %d", name, len(byID), lead, len(lists[lead]))
		}
		out[name] = aligned
	}
	return out, nil
}

// SeqLengths returns the maximum training sequence length of each epoch.
// When increase is set the length starts at start and is multiplied by
// factor after every epoch, never exceeding that epoch's maximum.
func SeqLengths(maxLens []int, increase bool, start, factor int) []int {
	out := make([]int, len(maxLens))
	cur := start
	factor = max(factor, 1)
	for ep, m := range maxLens {
		if !increase {
			out[ep] = m
			continue
		}
		out[ep] = min(cur, m)
		if cur < m {
			// Clamp before multiplying so large factors cannot overflow.
			if cur > m/factor {
				cur = m
			} else {
				cur *= factor
			}
		}
	}
	return out
}

// NextLR applies newbob halving: the learning rate is multiplied by
// halving when the improvement of the validation error, relative to the
// current error, falls below threshold.
func NextLR(lr, prevErr, currErr, threshold, halving float64) float64 {
	if prevErr <= 0 || currErr <= 0 {
		return lr
	}
	if (prevErr-currErr)/currErr < threshold {
		return lr * halving
	}
	return lr
}
