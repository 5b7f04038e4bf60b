package normalize

import (
	"fmt"
	"unicode/utf8"
)

// TruncationMarker is appended to bodies cut down to the ceiling.
func TruncationMarker(originalLength int) string {
	return fmt.Sprintf("\n\n[... Content truncated. Original length: %d characters]", originalLength)
}

// Truncate cuts s to ceiling characters and appends TruncationMarker when s
// is longer than ceiling. Shorter input is returned unchanged.
func Truncate(s string, ceiling int) string {
	length := utf8.RuneCountInString(s)
	if length <= ceiling {
		return s
	}
	return Cut(s, ceiling) + TruncationMarker(length)
}

// Cut returns the first n characters of s.
func Cut(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for idx := range s {
		if count == n {
			return s[:idx]
		}
		count++
	}
	return s
}
