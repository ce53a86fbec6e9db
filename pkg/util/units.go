package util

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	bandwidthRe = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)(bit|kbit|mbit|gbit)$`)
	delayRe     = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)(us|ms|s)$`)
)

// ParseBandwidth converts a tc-style rate string ("5mbit", "512kbit")
// to bits per second.
func ParseBandwidth(s string) (uint64, error) {
	m := bandwidthRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid bandwidth %q, expected forms like 10mbit or 512kbit", s)
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth %q: %w", s, err)
	}
	switch m[2] {
	case "bit":
		return uint64(val), nil
	case "kbit":
		return uint64(val * 1e3), nil
	case "mbit":
		return uint64(val * 1e6), nil
	default: // gbit
		return uint64(val * 1e9), nil
	}
}

// ParseDelay converts a tc-style delay string ("5ms", "100us") to a
// duration.
func ParseDelay(s string) (time.Duration, error) {
	m := delayRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid delay %q, expected forms like 5ms or 100us", s)
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q: %w", s, err)
	}
	switch m[2] {
	case "us":
		return time.Duration(val * float64(time.Microsecond)), nil
	case "ms":
		return time.Duration(val * float64(time.Millisecond)), nil
	default: // s
		return time.Duration(val * float64(time.Second)), nil
	}
}
