package ioutils

import (
	"fmt"
	"strings"
)

// FormatBytes formats bytes as a human-readable string using binary units.
func FormatBytes(b int64) string {
	const (
		KiB = 1024
		MiB = KiB * 1024
		GiB = MiB * 1024
		TiB = GiB * 1024
	)

	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2f TiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// FormatRate formats a transfer rate given in kilobytes per second.
func FormatRate(kbps float64) string {
	return FormatBytes(int64(kbps*1024)) + "/s"
}

// ParseBytes parses a human-readable byte string such as "64KiB", "1.5MiB"
// or "2MB". Binary (KiB) and SI (KB) suffixes are both accepted.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)

	units := []struct {
		suffix string
		mult   float64
	}{
		{"TiB", 1 << 40}, {"GiB", 1 << 30}, {"MiB", 1 << 20}, {"KiB", 1 << 10},
		{"TB", 1e12}, {"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
		{"B", 1},
	}

	mult := 1.0
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			mult = u.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	var value float64
	if _, err := fmt.Sscanf(s, "%g", &value); err != nil {
		return 0, fmt.Errorf("invalid byte string: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative byte string: %q", s)
	}

	return int64(value * mult), nil
}
