package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipmill/clipmill-agent/internal/job"
)

func TestWorkspace_WriteReadJSON(t *testing.T) {
	ws, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	in := map[string]string{"schema": "script.v1"}
	if err := ws.WriteJSON(ScriptFile, in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var out map[string]string
	if err := ws.ReadJSON(ScriptFile, &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out["schema"] != "script.v1" {
		t.Errorf("round trip mismatch: %v", out)
	}

	entries, _ := os.ReadDir(ws.Dir())
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestWorkspace_PathRejectsEscapes(t *testing.T) {
	ws, _ := Open(t.TempDir())
	for _, name := range []string{"../x", "/etc/passwd", "", "clips/../../x"} {
		if _, err := ws.Path(name); err == nil {
			t.Errorf("Path(%q) should fail", name)
		}
	}
	if p, err := ws.Path("clips/clip_001.mp4"); err != nil || filepath.Dir(p) != filepath.Join(ws.Dir(), "clips") {
		t.Errorf("Path(clips/clip_001.mp4) = %q, %v", p, err)
	}
}

func TestWorkspace_WriteJob(t *testing.T) {
	ws, _ := Open(t.TempDir())
	j := job.New("reddit:abc123", ws.Dir(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	j.FailedStage = job.StageNarrate
	j.ErrorKind = "fatal"
	j.Error = "invalid api key"

	if err := ws.WriteJob(j); err != nil {
		t.Fatal(err)
	}
	var f jobFile
	if err := ws.ReadJSON(JobFile, &f); err != nil {
		t.Fatal(err)
	}
	if f.ID != j.ID || f.SourceRef != "reddit:abc123" || f.Status != job.StatusPending {
		t.Errorf("job.json = %+v", f)
	}
	if f.Failure == nil || f.Failure.Stage != job.StageNarrate {
		t.Errorf("failure not recorded: %+v", f.Failure)
	}
}

func TestWorkspace_TempDirCleanup(t *testing.T) {
	ws, _ := Open(t.TempDir())
	dir, cleanup, err := ws.TempDir("assemble")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "list.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cleanup()
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temp dir still present: %v", err)
	}
}

func TestLock_BlocksConcurrentAcquire(t *testing.T) {
	ws, _ := Open(t.TempDir())

	lock, err := ws.Lock()
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}
	defer func() {
		_ = lock.Release()
	}()

	if _, err := ws.Lock(); !errors.Is(err, ErrLocked) {
		t.Fatalf("second acquire error = %v, want ErrLocked", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release lock: %v", err)
	}

	lock2, err := ws.Lock()
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := lock2.Release(); err != nil {
		t.Fatalf("release second lock: %v", err)
	}
}
