package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskAddFolderDedupesByID(t *testing.T) {
	task := &Task{Name: "capture"}
	folder := NewWatchFolder("/tmp/in")

	require.True(t, task.AddFolder(folder))
	require.False(t, task.AddFolder(folder))
	require.Len(t, task.Folders(), 1)

	samePath := NewWatchFolder("/tmp/in")
	require.True(t, task.AddFolder(samePath), "same path with a new id is a separate folder")
	require.Len(t, task.Folders(), 2)
}

func TestTaskRemoveFolder(t *testing.T) {
	folder := NewWatchFolder("/tmp/in")
	task := &Task{WatchFolders: []*WatchFolder{folder}}

	require.True(t, task.RemoveFolder(folder.ID))
	require.False(t, task.HasFolder(folder.ID))
	require.False(t, task.RemoveFolder(folder.ID))
}

func TestTaskCloneIsIsolated(t *testing.T) {
	folder := NewWatchFolder("/tmp/in")
	task := &Task{
		Name:               "capture",
		WatchFolderEnabled: true,
		WatchFolders:       []*WatchFolder{folder},
		ScreenshotsFolder:  "/tmp/shots",
	}

	snapshot := task.Clone()
	task.SetWatchingEnabled(false)
	task.RemoveFolder(folder.ID)
	task.mu.Lock()
	task.ScreenshotsFolder = "/elsewhere"
	task.mu.Unlock()

	require.True(t, snapshot.WatchingEnabled())
	require.Len(t, snapshot.Folders(), 1)
	require.Equal(t, folder.ID, snapshot.Folders()[0].ID)
	require.NotSame(t, folder, snapshot.Folders()[0])
	require.Equal(t, "/tmp/shots", snapshot.ScreenshotsFolder)
}

func TestWatchFolderFilters(t *testing.T) {
	cases := []struct {
		filter   string
		expected []string
	}{
		{filter: "", expected: nil},
		{filter: "*.*", expected: nil},
		{filter: "*.png", expected: []string{"*.png"}},
		{filter: "*.png; *.jpg,*.gif", expected: []string{"*.png", "*.jpg", "*.gif"}},
		{filter: "*.png;*", expected: nil},
	}
	for _, testCase := range cases {
		folder := &WatchFolder{Filter: testCase.filter}
		require.Equal(t, testCase.expected, folder.Filters(), "filter %q", testCase.filter)
	}
}

func TestNilTaskIsSafe(t *testing.T) {
	var task *Task
	require.False(t, task.WatchingEnabled())
	require.Nil(t, task.Folders())
	require.Nil(t, task.Clone())
	require.False(t, task.AddFolder(NewWatchFolder("/tmp")))
}
