package util

import "fmt"

// FormatBytes renders a byte count as a human-readable size
// (B/KB/MB/GB/TB, binary 1024 steps), used by the summary report and
// doctor diagnostics.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
