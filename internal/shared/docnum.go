package shared

import "fmt"

// DocNumber formats document numbers as PREFIX-YY-NNNN, sequenced per
// calendar year.
func DocNumber(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%02d-%04d", prefix, year%100, seq)
}
