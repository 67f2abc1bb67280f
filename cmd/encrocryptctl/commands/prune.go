package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	pruneDir                string
	pruneKeepDays           int
	pruneHoursPerRecording  int
	pruneRemoveUnrecognized bool
	pruneDryRun             bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete container files older than the retention window",
	Long: `Applies the same retention rule as the original source's
shouldRemove: files named rec-<slot>.encrocam are kept for keep-days days,
where <slot> encodes the file's start time in hours-per-recording-hour
buckets. Files whose name doesn't fit that pattern are removed only if
--remove-unrecognized is set.`,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().StringVar(&pruneDir, "dir", "", "directory containing container files")
	pruneCmd.Flags().IntVar(&pruneKeepDays, "keep-days", 7, "retention window in days")
	pruneCmd.Flags().IntVar(&pruneHoursPerRecording, "hours-per-recording", 24, "hours encoded per filename slot")
	pruneCmd.Flags().BoolVar(&pruneRemoveUnrecognized, "remove-unrecognized", true, "remove files whose name does not parse as rec-<slot>.encrocam")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "log what would be removed without deleting")
	_ = pruneCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(pruneCmd)
}

// filenameToTime mirrors config_encrypted.defaults.py's filenameToTime: a
// container named "rec-<slot>.encrocam" started at slot*hoursPerRecording
// hours since the Unix epoch.
func filenameToTime(name string, hoursPerRecording int) (int64, error) {
	base := filepath.Base(name)
	if filepath.Ext(base) != ".encrocam" {
		return 0, fmt.Errorf("does not have the .encrocam extension")
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.SplitN(base, "-", 2)
	if len(parts) != 2 || parts[0] != "rec" {
		return 0, fmt.Errorf("does not match rec-<slot> naming")
	}
	slot, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric slot: %w", err)
	}
	return slot * int64(hoursPerRecording) * 3600, nil
}

// shouldRemove reimplements sync.py's shouldRemove for a single filename.
func shouldRemove(name string, hoursPerRecording, keepDays int, removeUnrecognized bool, now time.Time) bool {
	t, err := filenameToTime(name, hoursPerRecording)
	if err != nil {
		return removeUnrecognized
	}

	if t > now.Unix() && removeUnrecognized {
		return true
	}

	deleteIfBefore := now.Unix() - int64(keepDays)*24*3600
	return t < deleteIfBefore
}

func runPrune(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(pruneDir)
	if err != nil {
		return fmt.Errorf("encrocryptctl: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !shouldRemove(entry.Name(), pruneHoursPerRecording, pruneKeepDays, pruneRemoveUnrecognized, now) {
			continue
		}

		path := filepath.Join(pruneDir, entry.Name())
		if pruneDryRun {
			logrus.WithField("file", path).Info("would remove (dry run)")
			continue
		}
		if rerr := os.Remove(path); rerr != nil {
			logrus.WithField("file", path).WithError(rerr).Warn("failed to remove")
			continue
		}
		logrus.WithField("file", path).Info("removed")
		removed++
	}

	logrus.WithField("removed", removed).Info("prune complete")
	return nil
}
