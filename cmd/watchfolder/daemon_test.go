package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"watchfolder/internal/config"
	"watchfolder/internal/metrics"
	"watchfolder/internal/notify"
	"watchfolder/internal/upload"
	"watchfolder/internal/watchfolder"
)

const daemonFolderID = "22222222-2222-2222-2222-222222222222"

func writeDaemonSettings(t *testing.T, path, inbox, shots, dataDir string, extra string) {
	t.Helper()
	payload := fmt.Sprintf(`
[default_task]
name = "default"
watch_folder_enabled = true
screenshots_folder = %q
sub_folder_pattern = "-"

[[default_task.watch_folders]]
id = %q
path = %q
filter = "*.png"
move_to_screenshots_folder = true
%s
[daemon]
data_dir = %q
http_addr = "127.0.0.1:0"
settle_ms = 20
`, shots, daemonFolderID, inbox, extra, dataDir)
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
}

type daemonFixture struct {
	root     string
	inbox    string
	shots    string
	dataDir  string
	settings string
}

func newDaemonFixture(t *testing.T) daemonFixture {
	t.Helper()
	root := t.TempDir()
	fixture := daemonFixture{
		root:     root,
		inbox:    filepath.Join(root, "inbox"),
		shots:    filepath.Join(root, "shots"),
		dataDir:  filepath.Join(root, "data"),
		settings: filepath.Join(root, "settings", "watchfolder.toml"),
	}
	for _, dir := range []string{fixture.inbox, filepath.Dir(fixture.settings)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	writeDaemonSettings(t, fixture.settings, fixture.inbox, fixture.shots, fixture.dataDir, "")
	return fixture
}

func startTestDaemon(t *testing.T, fixture daemonFixture) *daemon {
	t.Helper()
	settings, err := config.Load(fixture.settings)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	d, err := startDaemon(context.Background(), daemonOptions{
		SettingsPath: fixture.settings,
		Settings:     settings,
		Metrics:      &metrics.Registry{},
		ReloadDelay:  30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	return d
}

func waitForCondition(t *testing.T, timeout time.Duration, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonMovesAndQueuesNewFiles(t *testing.T) {
	fixture := newDaemonFixture(t)
	d := startTestDaemon(t, fixture)
	defer d.Shutdown(context.Background())

	submitted, cancel := d.events.SubscribeTypes(notify.KindFileSubmitted)
	defer cancel()

	if err := os.WriteFile(filepath.Join(fixture.inbox, "shot.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case event := <-submitted:
		want := filepath.Join(fixture.shots, "shot.png")
		if event.Fields["path"] != want {
			t.Fatalf("expected submitted path %q, got %q", want, event.Fields["path"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for submission")
	}

	resp, err := http.Get("http://" + d.Addr() + "/api/watches")
	if err != nil {
		t.Fatalf("get watches: %v", err)
	}
	defer resp.Body.Close()
	var entries []watchfolder.EntryInfo
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode watches: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != daemonFolderID || !entries[0].Active {
		t.Fatalf("unexpected watches: %+v", entries)
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	queue, err := upload.Open(context.Background(), fixture.dataDir, upload.Options{})
	if err != nil {
		t.Fatalf("reopen queue: %v", err)
	}
	defer queue.Close()
	items, err := queue.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Path != filepath.Join(fixture.shots, "shot.png") || items[0].TaskName != "default" {
		t.Fatalf("unexpected queue contents: %+v", items)
	}
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	fixture := newDaemonFixture(t)
	d := startTestDaemon(t, fixture)
	defer d.Shutdown(context.Background())

	settings, err := config.Load(fixture.settings)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	_, err = startDaemon(context.Background(), daemonOptions{SettingsPath: fixture.settings, Settings: settings})
	if !errors.Is(err, errAlreadyRunning) {
		t.Fatalf("expected errAlreadyRunning, got %v", err)
	}
}

func TestDaemonReloadsOnSettingsChange(t *testing.T) {
	fixture := newDaemonFixture(t)
	d := startTestDaemon(t, fixture)
	defer d.Shutdown(context.Background())

	if d.registry.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", d.registry.Len())
	}

	second := filepath.Join(fixture.root, "second")
	if err := os.MkdirAll(second, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	extra := fmt.Sprintf(`
[[default_task.watch_folders]]
id = "33333333-3333-3333-3333-333333333333"
path = %q
`, second)
	writeDaemonSettings(t, fixture.settings, fixture.inbox, fixture.shots, fixture.dataDir, extra)

	waitForCondition(t, 5*time.Second, "second watch entry", func() bool {
		return d.registry.Len() == 2
	})
}

func TestDaemonKeepsWatchesWhenSettingsBreak(t *testing.T) {
	fixture := newDaemonFixture(t)
	d := startTestDaemon(t, fixture)
	defer d.Shutdown(context.Background())

	if err := os.WriteFile(fixture.settings, []byte("[default_task\nbroken"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if d.registry.Len() != 1 {
		t.Fatalf("expected previous entry to survive, got %d", d.registry.Len())
	}
}

func TestStartDaemonWithHTTPOff(t *testing.T) {
	fixture := newDaemonFixture(t)
	settings, err := config.Load(fixture.settings)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	settings.Daemon.HTTPAddr = "off"
	d, err := startDaemon(context.Background(), daemonOptions{SettingsPath: fixture.settings, Settings: settings})
	if err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	if d.Addr() != "" {
		t.Fatalf("expected no listener, got %q", d.Addr())
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestRunDaemonStopsOnCancel(t *testing.T) {
	fixture := newDaemonFixture(t)
	settings, err := config.Load(fixture.settings)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- runDaemon(ctx, daemonOptions{
			SettingsPath: fixture.settings,
			Settings:     settings,
			Ready:        func(*daemon) { close(ready) },
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for daemon to start")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run daemon: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for daemon to stop")
	}
}
