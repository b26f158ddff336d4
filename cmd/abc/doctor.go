package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/abcpipeline/audiobook-organizer/internal/concurrency"
	"github.com/abcpipeline/audiobook-organizer/internal/ledger"
	"github.com/abcpipeline/audiobook-organizer/internal/util"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure abc can operate correctly.

This command checks:
- Required tool (the configured prober, default ffprobe)
- Required tool (the configured encoder, default ffmpeg)
- Batch lock file acquisition
- Run ledger accessibility and integrity
- Disk space availability at the library root

Use this command to troubleshoot issues before running abc operations.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().String("library-root", "", "library root to check disk space against (optional)")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== ABC Doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	results = append(results, checkTool("Prober", GetConfigString("prober_binary", "ffprobe"), true))
	results = append(results, checkTool("Encoder", GetConfigString("encoder_binary", "ffmpeg"), true))
	results = append(results, checkLock(GetConfigString("lock_path", "abc.lock")))
	results = append(results, checkLedger(GetConfigString("ledger_path", "abc-ledger.db")))

	libraryRoot, _ := cmd.Flags().GetString("library-root")
	if libraryRoot == "" {
		libraryRoot = GetConfigString("library_root", "")
	}
	if libraryRoot != "" {
		results = append(results, checkDiskSpace(libraryRoot))
	}

	if workDir := GetConfigString("work_dir", ""); workDir != "" {
		results = append(results, checkWorkDir(workDir))
	}

	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before running abc.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed! System is ready for abc operations.")
	}

	return nil
}

// checkTool verifies binary is on PATH and reports its version line,
// per internal/probe's checkAvailable / lookPathOrConfigError pattern.
func checkTool(label, binary string, required bool) checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "-version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return checkResult{
			name:    label,
			error:   required,
			warning: !required,
			message: fmt.Sprintf("%s not found or not executable", binary),
		}
	}

	lines := strings.Split(string(output), "\n")
	version := "unknown"
	if len(lines) > 0 {
		parts := strings.Fields(lines[0])
		if len(parts) >= 3 {
			version = parts[2]
		}
	}

	return checkResult{name: label, message: fmt.Sprintf("%s version %s", binary, version)}
}

// checkLock verifies the batch lock file can be acquired and released.
func checkLock(path string) checkResult {
	lock, err := concurrency.AcquireLock(path)
	if err != nil {
		return checkResult{
			name:    "Batch lock",
			error:   true,
			message: fmt.Sprintf("cannot acquire %s: %v", path, err),
		}
	}
	lock.Release()
	return checkResult{name: "Batch lock", message: fmt.Sprintf("%s (acquirable)", path)}
}

// checkLedger verifies the ledger database can be opened and passes
// its integrity check.
func checkLedger(path string) checkResult {
	l, err := ledger.Open(path)
	if err != nil {
		return checkResult{
			name:    "Run ledger",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", path, err),
		}
	}
	defer l.Close()

	if err := l.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Run ledger",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	return checkResult{name: "Run ledger", message: fmt.Sprintf("%s (ok)", path)}
}

// checkDiskSpace verifies the library root has reasonable free space.
func checkDiskSpace(libraryRoot string) checkResult {
	if _, err := os.Stat(libraryRoot); os.IsNotExist(err) {
		if err := os.MkdirAll(libraryRoot, 0755); err != nil {
			return checkResult{
				name:    "Disk space (library root)",
				error:   true,
				message: fmt.Sprintf("cannot create %s: %v", libraryRoot, err),
			}
		}
	}

	ok, free, err := concurrency.CheckDiskSpace(libraryRoot, 0, 1)
	if err != nil {
		return checkResult{
			name:    "Disk space (library root)",
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	freeGB := float64(free) / (1024 * 1024 * 1024)
	if !ok || freeGB < 10 {
		return checkResult{
			name:    "Disk space (library root)",
			warning: true,
			message: fmt.Sprintf("%.1f GB available (low space!)", freeGB),
		}
	}

	return checkResult{name: "Disk space (library root)", message: fmt.Sprintf("%.1f GB available", freeGB)}
}

// checkWorkDir verifies the configured scratch directory is on local
// storage; concat/convert write large intermediate files there and a
// network mount would defeat atomic-rename semantics across devices.
func checkWorkDir(workDir string) checkResult {
	if err := util.EnsureWorkDirLocal(workDir); err != nil {
		return checkResult{name: "Work directory", warning: true, message: err.Error()}
	}
	return checkResult{name: "Work directory", message: fmt.Sprintf("%s (local)", workDir)}
}
