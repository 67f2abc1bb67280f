package commands

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilenameToTime(t *testing.T) {
	tm, err := filenameToTime("rec-10.encrocam", 24)
	require.NoError(t, err)
	require.Equal(t, int64(10*24*3600), tm)

	_, err = filenameToTime("notes.txt", 24)
	require.Error(t, err)

	_, err = filenameToTime("rec-abc.encrocam", 24)
	require.Error(t, err)
}

func TestShouldRemove(t *testing.T) {
	now := time.Unix(1_000_000_000, 0)
	hoursPerRecording := 24
	keepDays := 7

	oldSlot := (now.Unix() - int64(keepDays+1)*24*3600) / (int64(hoursPerRecording) * 3600)
	recentSlot := now.Unix() / (int64(hoursPerRecording) * 3600)
	futureSlot := (now.Unix() + 24*3600) / (int64(hoursPerRecording) * 3600)

	cases := []struct {
		name               string
		filename           string
		removeUnrecognized bool
		want               bool
	}{
		{"old file is removed", filenameFor(oldSlot), true, true},
		{"recent file is kept", filenameFor(recentSlot), true, false},
		{"future-dated file is removed when unrecognized removal is on", filenameFor(futureSlot), true, true},
		{"unrecognized name removed when flag set", "garbage.bin", true, true},
		{"unrecognized name kept when flag unset", "garbage.bin", false, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := shouldRemove(c.filename, hoursPerRecording, keepDays, c.removeUnrecognized, now)
			require.Equal(t, c.want, got)
		})
	}
}

func filenameFor(slot int64) string {
	return "rec-" + strconv.FormatInt(slot, 10) + ".encrocam"
}
