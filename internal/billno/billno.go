// Package billno implements the bill numbering scheme. Sales bills carry the
// NB prefix; the matching return bill and engine-derived updated bill reuse
// the numeric part under the RB and UB prefixes (NB007 -> RB007 / UB007).
package billno

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	SalePrefix    = "NB"
	ReturnPrefix  = "RB"
	UpdatedPrefix = "UB"

	// DefaultWidth is the zero-padded width of the numeric part.
	DefaultWidth = 3
)

var ErrInvalidBillNo = errors.New("bill number does not contain the sale prefix")

// BillNo is a validated sales bill number. Construct via Parse so the
// derived-id substitutions below are total functions.
type BillNo string

func Parse(input string) (BillNo, error) {
	trimmed := strings.TrimSpace(input)
	if !strings.Contains(trimmed, SalePrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBillNo, input)
	}
	return BillNo(trimmed), nil
}

func (n BillNo) String() string {
	return string(n)
}

// ReturnID derives the return bill id by swapping the first sale prefix
// occurrence for the return prefix.
func (n BillNo) ReturnID() string {
	return strings.Replace(string(n), SalePrefix, ReturnPrefix, 1)
}

// UpdatedID derives the updated bill id by swapping the first sale prefix
// occurrence for the updated prefix.
func (n BillNo) UpdatedID() string {
	return strings.Replace(string(n), SalePrefix, UpdatedPrefix, 1)
}

// Next returns the bill number following lastNo, e.g. NB005 -> NB006.
// Malformed or empty input degrades to sequence 1; Next never fails.
func Next(lastNo string, prefix string, width int) string {
	next := 1
	trimmed := strings.TrimSpace(lastNo)
	if strings.HasPrefix(trimmed, prefix) {
		if parsed, err := strconv.Atoi(strings.Replace(trimmed, prefix, "", 1)); err == nil && parsed >= 0 {
			next = parsed + 1
		}
	}
	return prefix + pad(strconv.Itoa(next), width)
}

// NormalizeLookup turns free-form user input like "7" into both the verbatim
// key and the canonical padded form ("NB007"), so a lookup can match a legacy
// unpadded record as well as a canonical one.
func NormalizeLookup(input string, prefix string, width int) (raw string, formatted string) {
	raw = strings.TrimSpace(input)
	digits := strings.TrimPrefix(raw, prefix)
	return raw, prefix + pad(digits, width)
}

func pad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}
