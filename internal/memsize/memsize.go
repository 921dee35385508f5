// Package memsize implements the CLI's exact memory-size parser: decimal
// integer, optional case-insensitive k/m/g suffix, 1024-based.
package memsize

import (
	"strconv"
	"strings"

	"github.com/keeprun/keep/internal/model"
)

// Parse accepts a decimal integer with an optional k/m/g suffix: "" is
// invalid, "0" is 0, "100m" is 100*1024*1024; negative numbers and unknown
// suffixes fail.
func Parse(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, model.ErrInvalidMemory
	}

	mul := uint64(1)
	numPart := s
	switch last := s[len(s)-1]; last {
	case 'k', 'K':
		mul = 1024
		numPart = s[:len(s)-1]
	case 'm', 'M':
		mul = 1024 * 1024
		numPart = s[:len(s)-1]
	case 'g', 'G':
		mul = 1024 * 1024 * 1024
		numPart = s[:len(s)-1]
	}
	numPart = strings.TrimSpace(numPart)
	if numPart == "" {
		return 0, model.ErrInvalidMemory
	}

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil || n < 0 {
		return 0, model.ErrInvalidMemory
	}
	return uint64(n) * mul, nil
}
