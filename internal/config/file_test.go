package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFileSource_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "appsettings.yaml", `
StudyUpdateFIFOQueue: https://sqs.ap-south-1.amazonaws.com/111122223333/study-updates.fifo
Refresh: false
Kafka:
  Brokers: a:9092,b:9092
  Tls:
    Enabled: true
Tags:
  - imaging
  - dicom
Empty:
`)
	values, err := (&FileSource{Path: path}).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := map[string]string{
		"StudyUpdateFIFOQueue": "https://sqs.ap-south-1.amazonaws.com/111122223333/study-updates.fifo",
		"Refresh":              "false",
		"Kafka.Brokers":        "a:9092,b:9092",
		"Kafka.Tls.Enabled":    "true",
		"Tags.0":               "imaging",
		"Tags.1":               "dicom",
		"Empty":                "",
	}
	for k, v := range want {
		if got, ok := values[k]; !ok || got != v {
			t.Errorf("%s = %q (present %v), want %q", k, got, ok, v)
		}
	}
	if len(values) != len(want) {
		t.Errorf("got %d keys, want %d: %v", len(values), len(want), values)
	}
}

func TestFileSource_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "appsettings.json",
		`{"StudyUpdateFIFOQueue":"q.fifo","Redis":{"Url":"redis://localhost:6379/0","MaxLen":5000}}`)

	values, err := (&FileSource{Path: path}).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if values["StudyUpdateFIFOQueue"] != "q.fifo" {
		t.Errorf("queue = %q", values["StudyUpdateFIFOQueue"])
	}
	if values["Redis.Url"] != "redis://localhost:6379/0" {
		t.Errorf("redis url = %q", values["Redis.Url"])
	}
	if values["Redis.MaxLen"] != "5000" {
		t.Errorf("redis maxlen = %q", values["Redis.MaxLen"])
	}
}

func TestFileSource_NonStringKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "appsettings.yaml", `
1: one
Ports:
  80: http
  443: https
  Admin:
    true: enabled
`)
	values, err := (&FileSource{Path: path}).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := map[string]string{
		"1":                "one",
		"Ports.80":         "http",
		"Ports.443":        "https",
		"Ports.Admin.true": "enabled",
	}
	for k, v := range want {
		if got, ok := values[k]; !ok || got != v {
			t.Errorf("%s = %q (present %v), want %q", k, got, ok, v)
		}
	}
	if len(values) != len(want) {
		t.Errorf("got %d keys, want %d: %v", len(values), len(want), values)
	}
}

func TestFileSource_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	values, err := (&FileSource{Path: path, Optional: true}).Load(context.Background())
	if err != nil {
		t.Fatalf("optional file: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected empty layer, got %v", values)
	}

	if _, err := (&FileSource{Path: path}).Load(context.Background()); err == nil {
		t.Error("expected error for missing required file")
	}
}

func TestFileSource_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "key: [unclosed"},
		{"top level sequence", "- a\n- b\n"},
		{"top level scalar", "just a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "appsettings.yaml", tt.content)
			if _, err := (&FileSource{Path: path}).Load(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFileSource_EmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "appsettings.yaml", "")
	values, err := (&FileSource{Path: path}).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected no keys, got %v", values)
	}
}

func TestWatch_DetectsChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "appsettings.yaml", "StudyUpdateFIFOQueue: original.fifo\n")

	p := NewProvider(nil, &FileSource{Path: path})
	if _, err := p.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	changed := make(chan *Snapshot, 8)
	p.OnChange(func(s *Snapshot) {
		select {
		case changed <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := p.Watch(ctx); err != nil {
			t.Errorf("watch error: %v", err)
		}
	}()

	// Give watcher time to start
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "appsettings.yaml", "StudyUpdateFIFOQueue: updated.fifo\n")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-changed:
			if snap.Get(KeyQueueDestination) == "updated.fifo" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config change notification")
		}
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "appsettings.yaml", "Refresh: false\n")

	p := NewProvider(nil, &FileSource{Path: path})
	if _, err := p.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "unrelated.txt", "noise")
	time.Sleep(200 * time.Millisecond)

	if v := p.Snapshot().Version(); v != 1 {
		t.Errorf("version = %d, expected unrelated file to be ignored", v)
	}
}

func TestWatch_StopCleanly(t *testing.T) {
	path := writeFile(t, t.TempDir(), "appsettings.yaml", "Refresh: false\n")
	p := NewProvider(nil, &FileSource{Path: path})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Watch(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_NoFileSources(t *testing.T) {
	p := NewProvider(nil, &EnvSource{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Watch(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
