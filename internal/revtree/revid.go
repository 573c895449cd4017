package revtree

import (
	"fmt"
	"regexp"
	"strconv"
)

// revIDPattern is the wire format for a rev-id: ^[1-9][0-9]*-[A-Za-z0-9]+$
var revIDPattern = regexp.MustCompile(`^[1-9][0-9]*-[A-Za-z0-9]+$`)

// ParseRevID splits a rev-id into its generation and opaque suffix,
// rejecting anything that doesn't match the wire format.
func ParseRevID(revID string) (generation int, suffix string, err error) {
	if !revIDPattern.MatchString(revID) {
		return 0, "", fmt.Errorf("malformed rev-id %q", revID)
	}
	for i, c := range revID {
		if c == '-' {
			generation, err = strconv.Atoi(revID[:i])
			if err != nil {
				return 0, "", fmt.Errorf("malformed rev-id %q: %w", revID, err)
			}
			return generation, revID[i+1:], nil
		}
	}
	return 0, "", fmt.Errorf("malformed rev-id %q", revID)
}

// FormatRevID reassembles a rev-id from its parts.
func FormatRevID(generation int, suffix string) string {
	return fmt.Sprintf("%d-%s", generation, suffix)
}

// NextRevID computes the child rev-id for parentRevID (empty string for a
// root revision): generation = parent generation + 1 (or 1 for a root),
// suffix is a fresh opaque identifier from newSuffix.
func NextRevID(parentRevID string, newSuffix func() string) (string, error) {
	generation := 1
	if parentRevID != "" {
		parentGen, _, err := ParseRevID(parentRevID)
		if err != nil {
			return "", err
		}
		generation = parentGen + 1
	}
	return FormatRevID(generation, newSuffix()), nil
}

// Less implements the winning-revision tie-break comparator used in place
// of raw-string rev-id ordering: compare on the parsed (generation,
// suffix) pair instead of the ASCII value of the full string, so
// generations that cross a digit-count boundary (9-x vs 10-y) order the
// way a human expects.
//
// Less(a, b) reports whether a orders below b on (generation, suffix) —
// i.e. it returns true when b should be preferred as the winner over a,
// so that under "rev-id DESC" b sorts before a.
func Less(a, b string) (bool, error) {
	ag, as, err := ParseRevID(a)
	if err != nil {
		return false, err
	}
	bg, bs, err := ParseRevID(b)
	if err != nil {
		return false, err
	}
	if ag != bg {
		return ag < bg, nil
	}
	return as < bs, nil
}
