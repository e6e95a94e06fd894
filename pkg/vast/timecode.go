package vast

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ConvertTimestamp converts an HH:MM:SS[.mmm] string to milliseconds as
// ((H*3600)+(M*60)+S)*1000 + mmm. Components are not range checked, so
// "00:00:150" is 150000. Any negative component makes the value invalid; a
// literal "-0" parses as zero and stays valid.
func ConvertTimestamp(s string) (int64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, false
	}

	secPart, msPart, hasMs := strings.Cut(parts[2], ".")

	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, false
	}
	var millis int64
	if hasMs {
		if millis, err = strconv.ParseInt(msPart, 10, 64); err != nil {
			return 0, false
		}
	}

	if hours < 0 || minutes < 0 || seconds < 0 || millis < 0 {
		return 0, false
	}

	return ((hours*3600)+(minutes*60)+seconds)*1000 + millis, true
}

// ConvertPercent converts "N%" into round(totalMs * N / 100).
func ConvertPercent(s string, totalMs int64) (int64, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
	if err != nil || n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return int64(math.Round(float64(totalMs) * n / 100)), true
}

// IsPercent reports whether an offset is expressed as a percentage.
func IsPercent(s string) bool {
	return strings.HasSuffix(strings.TrimSpace(s), "%")
}

// FormatDuration formats a time.Duration to VAST duration string
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	if ms > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
