// Package format renders sizes and durations for terminal output.
package format

import (
	"fmt"
	"strconv"
)

var sizeSuffixes = []string{"KB", "MB", "GB", "TB", "PB"}

// HumanizeBytes converts a byte count into a human-readable string (e.g., "1.5 MB").
// Negative counts render as "0 B".
func HumanizeBytes(b int64) string {
	const unit = 1024
	if b < 0 {
		b = 0
	}
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < len(sizeSuffixes)-1; n /= unit {
		div *= unit
		exp++
	}
	var buf [24]byte
	s := strconv.AppendFloat(buf[:0], float64(b)/float64(div), 'f', 1, 64)
	return string(s) + " " + sizeSuffixes[exp]
}

// Countdown renders whole seconds as mm:ss. Minutes are not wrapped into
// hours; negative input renders as 00:00.
func Countdown(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}
