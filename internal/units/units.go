// Package units converts the CPU, memory and timestamp values reported by the
// cluster API into the fixed display units used by snapshots.
//
// All functions are pure and total: unparseable input maps to the zero value
// of the display unit rather than an error.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// ZeroCPU is the display value for missing CPU usage
	ZeroCPU = "0m"
	// ZeroMemory is the display value for missing memory usage
	ZeroMemory = "0Mi"
	// JustNow is the age label used below one minute
	JustNow = "Just now"

	bytesPerMebibyte = 1024 * 1024
)

// NormalizeCPU converts a CPU quantity to whole millicores with an "m" suffix.
// "250000000n" -> "250m", "1" -> "1000m", "250m" -> "250m".
func NormalizeCPU(value string) string {
	return FormatMillicores(ParseMillicores(value))
}

// NormalizeMemory converts a memory quantity to whole mebibytes with an "Mi" suffix.
// "1048576Ki" -> "1024Mi", "2Gi" -> "2048Mi", "1048576" -> "1Mi".
func NormalizeMemory(value string) string {
	return FormatMebibytes(ParseMebibytes(value))
}

// FormatMillicores renders a millicore count for display
func FormatMillicores(m int64) string {
	return fmt.Sprintf("%dm", m)
}

// FormatMebibytes renders a mebibyte count for display
func FormatMebibytes(mi int64) string {
	return fmt.Sprintf("%dMi", mi)
}

// ParseMillicores returns the number of millicores a CPU quantity represents
func ParseMillicores(value string) int64 {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0
	}

	var millis float64
	switch {
	case strings.HasSuffix(v, "n"):
		n, ok := parseNumber(strings.TrimSuffix(v, "n"))
		if !ok {
			return 0
		}
		millis = n / 1e6
	case strings.HasSuffix(v, "u"):
		n, ok := parseNumber(strings.TrimSuffix(v, "u"))
		if !ok {
			return 0
		}
		millis = n / 1e3
	case strings.HasSuffix(v, "m"):
		n, ok := parseNumber(strings.TrimSuffix(v, "m"))
		if !ok {
			return 0
		}
		millis = n
	default:
		n, ok := parseNumber(v)
		if !ok {
			return 0
		}
		millis = n * 1000
	}

	return clampRound(millis)
}

// memorySuffixes maps a quantity suffix to the number of bytes per unit.
// Two-letter binary suffixes must be matched before the decimal ones.
var memorySuffixes = []struct {
	suffix string
	bytes  float64
}{
	{"Ki", 1024},
	{"Mi", bytesPerMebibyte},
	{"Gi", 1024 * bytesPerMebibyte},
	{"Ti", 1024 * 1024 * bytesPerMebibyte},
	{"k", 1e3},
	{"M", 1e6},
	{"G", 1e9},
	{"T", 1e12},
	{"m", 1e-3},
}

// ParseMebibytes returns the number of mebibytes a memory quantity represents
func ParseMebibytes(value string) int64 {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0
	}

	for _, s := range memorySuffixes {
		if !strings.HasSuffix(v, s.suffix) {
			continue
		}
		n, ok := parseNumber(strings.TrimSuffix(v, s.suffix))
		if !ok {
			return 0
		}
		switch s.suffix {
		case "Ki":
			return clampRound(n / 1024)
		case "Mi":
			return clampRound(n)
		case "Gi":
			return clampRound(n * 1024)
		default:
			return clampRound(n * s.bytes / bytesPerMebibyte)
		}
	}

	n, ok := parseNumber(v)
	if !ok {
		return 0
	}
	return clampRound(n / bytesPerMebibyte)
}

// Age renders the time elapsed since created as a single whole unit:
// days, then hours, then minutes, or "Just now".
func Age(created, now time.Time) string {
	if created.IsZero() {
		return ""
	}

	diff := now.Sub(created)
	if diff < 0 {
		return JustNow
	}

	days := int(diff.Hours() / 24)
	hours := int(diff.Hours())
	minutes := int(diff.Minutes())

	switch {
	case days > 0:
		return fmt.Sprintf("%dd", days)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return JustNow
	}
}

// Percent returns used/capacity as a percentage capped at 100 and rounded to one decimal.
// A non-positive capacity yields 0.
func Percent(used, capacity float64) float64 {
	if capacity <= 0 || used <= 0 {
		return 0
	}
	p := used / capacity * 100
	if p > 100 {
		p = 100
	}
	return math.Round(p*10) / 10
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// clampRound rounds v into [0, MaxInt64]
func clampRound(v float64) int64 {
	if v <= 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Round(v))
}
