package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/abcpipeline/audiobook-organizer/internal/ledger"
	"github.com/abcpipeline/audiobook-organizer/internal/util"
)

// SummaryReport is the aggregate of one batch run, built from the
// ledger's per-book outcomes plus the run's event log path.
type SummaryReport struct {
	GeneratedAt time.Time

	BooksDiscovered int
	BooksCompleted  int
	BooksFailed     int
	BooksDuplicate  int

	StageFailures map[string]int

	BytesWritten int64

	TopErrors []ErrorSummary
	Conflicts []ConflictInfo

	RootPath     string
	LibraryRoot  string
	Mode         string
	LedgerPath   string
	EventLogPath string
	Duration     time.Duration
}

// ErrorSummary is an error category with its occurrence count.
type ErrorSummary struct {
	Category string
	Message  string
	Count    int
}

// ConflictInfo is a destination path contested by more than one source.
type ConflictInfo struct {
	SrcPath  string
	DestPath string
	Reason   string
}

// GenerateSummaryReport builds a SummaryReport for runID from the
// ledger, the non-authoritative audit trail populated by
// internal/batch during the run.
func GenerateSummaryReport(l *ledger.Ledger, runID int64, eventLogPath string) (*SummaryReport, error) {
	report := &SummaryReport{
		GeneratedAt:   time.Now(),
		EventLogPath:  eventLogPath,
		StageFailures: make(map[string]int),
		TopErrors:     make([]ErrorSummary, 0),
		Conflicts:     make([]ConflictInfo, 0),
	}

	outcomes, err := l.OutcomesForRun(runID)
	if err != nil {
		return nil, fmt.Errorf("load outcomes for run %d: %w", runID, err)
	}

	errorCounts := make(map[string]*ErrorSummary)
	seenBooks := make(map[string]bool)

	for _, o := range outcomes {
		if seenBooks[o.BookHash] {
			continue
		}
		seenBooks[o.BookHash] = true
		report.BooksDiscovered++

		switch o.Status {
		case "completed":
			report.BooksCompleted++
		case "failed":
			report.BooksFailed++
			if o.FailedStage != "" {
				report.StageFailures[o.FailedStage]++
			}
			if o.ErrorMessage != "" {
				key := o.ErrorCategory + ":" + o.ErrorMessage
				if existing, ok := errorCounts[key]; ok {
					existing.Count++
				} else {
					errorCounts[key] = &ErrorSummary{
						Category: o.ErrorCategory,
						Message:  o.ErrorMessage,
						Count:    1,
					}
				}
			}
		case "duplicate":
			report.BooksDuplicate++
		}
	}

	for _, e := range errorCounts {
		report.TopErrors = append(report.TopErrors, *e)
	}
	sort.Slice(report.TopErrors, func(i, j int) bool {
		return report.TopErrors[i].Count > report.TopErrors[j].Count
	})
	if len(report.TopErrors) > 10 {
		report.TopErrors = report.TopErrors[:10]
	}

	run, err := l.GetBatchRun(runID)
	if err == nil && run != nil {
		report.RootPath = run.RootPath
		report.Mode = run.Mode
		if run.CompletedAt.Valid {
			report.Duration = run.CompletedAt.Time.Sub(run.StartedAt)
		}
	}

	return report, nil
}

// WriteMarkdownReport writes report as a Markdown document at outputPath.
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString("# Audiobook Organizer - Batch Summary\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	if report.RootPath != "" {
		md.WriteString(fmt.Sprintf("**Source Root:** `%s`\n\n", report.RootPath))
	}
	if report.Mode != "" {
		md.WriteString(fmt.Sprintf("**Mode:** %s\n\n", report.Mode))
	}
	if report.LedgerPath != "" {
		md.WriteString(fmt.Sprintf("**Ledger:** `%s`\n\n", report.LedgerPath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## 📚 Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Books Discovered | %d |\n", report.BooksDiscovered))
	md.WriteString(fmt.Sprintf("| Books Completed | %d |\n", report.BooksCompleted))
	if report.BooksFailed > 0 {
		md.WriteString(fmt.Sprintf("| Books Failed | %d |\n", report.BooksFailed))
	}
	if report.BooksDuplicate > 0 {
		md.WriteString(fmt.Sprintf("| Duplicates Skipped | %d |\n", report.BooksDuplicate))
	}
	if report.BytesWritten > 0 {
		md.WriteString(fmt.Sprintf("| Bytes Written | %s |\n", util.FormatBytes(report.BytesWritten)))
	}
	if report.Duration > 0 {
		md.WriteString(fmt.Sprintf("| Duration | %s |\n", report.Duration.Round(time.Second)))
	}
	md.WriteString("\n")

	if len(report.StageFailures) > 0 {
		md.WriteString("## 🛑 Failures by Stage\n\n")
		md.WriteString("| Stage | Failures |\n")
		md.WriteString("|-------|----------|\n")

		stages := make([]string, 0, len(report.StageFailures))
		for s := range report.StageFailures {
			stages = append(stages, s)
		}
		sort.Slice(stages, func(i, j int) bool {
			return report.StageFailures[stages[i]] > report.StageFailures[stages[j]]
		})
		for _, s := range stages {
			md.WriteString(fmt.Sprintf("| %s | %d |\n", s, report.StageFailures[s]))
		}
		md.WriteString("\n")
	}

	if len(report.TopErrors) > 0 {
		md.WriteString("## ⚠️ Top Errors\n\n")
		md.WriteString("| Count | Category | Message |\n")
		md.WriteString("|-------|----------|---------|\n")
		for _, err := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s | %s |\n", err.Count, err.Category, truncatePath(err.Message, 80)))
		}
		md.WriteString("\n")
	}

	if len(report.Conflicts) > 0 {
		md.WriteString("## 🚨 Conflicts\n\n")
		md.WriteString("| Source | Destination | Reason |\n")
		md.WriteString("|--------|-------------|--------|\n")
		for _, conflict := range report.Conflicts {
			md.WriteString(fmt.Sprintf("| `%s` | `%s` | %s |\n",
				truncatePath(conflict.SrcPath, 40),
				truncatePath(conflict.DestPath, 40),
				conflict.Reason))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by abc - Audiobook Organizer*\n")

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// truncatePath truncates a long string to maxLen, keeping its start and end.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
