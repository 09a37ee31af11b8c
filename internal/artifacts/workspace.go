// Package artifacts manages the per-job working directory where every stage
// writes its output.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipmill/clipmill-agent/internal/job"
)

// Well-known artifact names inside a job workspace.
const (
	JobFile            = "job.json"
	SourceFile         = "source.json"
	ClassificationFile = "classification.json"
	ScriptFile         = "script.json"
	MetadataFile       = "metadata.json"
	PolicyFile         = "policy.json"
	NarrationFile      = "narration.wav"
	ClipsDir           = "clips"
	ClipsFile          = "clips.json"
	ShotlistFile       = "shotlist.json"
	TimelineFile       = "timeline.edl"
	VideoFile          = "video.mp4"
	ThumbnailFile      = "thumbnail.jpg"
	ReceiptFile        = "receipt.json"
)

// Root is the directory holding one workspace per job.
type Root struct {
	dir string
}

func NewRoot(dir string) (*Root, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("artifacts root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts root %s: %w", dir, err)
	}
	return &Root{dir: dir}, nil
}

func (r *Root) Dir() string { return r.dir }

// JobDir returns the workspace path for id without creating it.
func (r *Root) JobDir(id string) string {
	return filepath.Join(r.dir, id)
}

// Open returns the workspace at dir, creating it if needed.
func Open(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Workspace{dir: dir}, nil
}

type Workspace struct {
	dir string
}

func (w *Workspace) Dir() string { return w.dir }

// Path resolves name inside the workspace. Names that escape it are rejected.
func (w *Workspace) Path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(w.dir, clean), nil
}

// MustPath is Path for the constant names above.
func (w *Workspace) MustPath(name string) string {
	p, err := w.Path(name)
	if err != nil {
		panic(err)
	}
	return p
}

func (w *Workspace) Exists(name string) bool {
	p, err := w.Path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

func (w *Workspace) WriteBytes(name string, data []byte) error {
	p, err := w.Path(name)
	if err != nil {
		return err
	}
	return WriteBytes(p, data)
}

func (w *Workspace) WriteJSON(name string, v any) error {
	p, err := w.Path(name)
	if err != nil {
		return err
	}
	return WriteJSON(p, v)
}

func (w *Workspace) ReadJSON(name string, v any) error {
	p, err := w.Path(name)
	if err != nil {
		return err
	}
	return ReadJSON(p, v)
}

// WriteFrom streams r into name through a temp file.
func (w *Workspace) WriteFrom(name string, r io.Reader) (int64, error) {
	p, err := w.Path(name)
	if err != nil {
		return 0, err
	}
	return WriteStream(p, r)
}

// jobFile is the job.json view of a job.
type jobFile struct {
	ID        string            `json:"id"`
	StartedAt string            `json:"started_at"`
	SourceRef string            `json:"source_reference"`
	Status    job.Status        `json:"status"`
	UpdatedAt string            `json:"updated_at"`
	SafeMode  bool              `json:"safe_mode,omitempty"`
	Stages    []job.StageState  `json:"stages"`
	Failure   *jobFailure       `json:"failure,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

type jobFailure struct {
	Stage string `json:"stage"`
	Kind  string `json:"kind"`
	Cause string `json:"cause"`
}

// WriteJob mirrors j into job.json.
func (w *Workspace) WriteJob(j *job.Job) error {
	f := jobFile{
		ID:        j.ID,
		StartedAt: j.CreatedAt.UTC().Format(timeLayout),
		SourceRef: j.SourceRef,
		Status:    j.Status,
		UpdatedAt: j.UpdatedAt.UTC().Format(timeLayout),
		SafeMode:  j.SafeMode,
		Stages:    j.Stages,
		Artifacts: j.Artifacts(),
	}
	if j.FailedStage != "" || j.Error != "" {
		f.Failure = &jobFailure{Stage: j.FailedStage, Kind: j.ErrorKind, Cause: j.Error}
	}
	return w.WriteJSON(JobFile, f)
}

// TempDir creates a scratch directory inside the workspace. The returned
// cleanup removes it and is safe to call more than once.
func (w *Workspace) TempDir(prefix string) (string, func(), error) {
	dir, err := os.MkdirTemp(w.dir, ".tmp-"+prefix+"-*")
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func WriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

// WriteStream copies r into path through a temp file and rename.
func WriteStream(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create parent for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return n, nil
}

func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteBytes(path, data)
}

func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}
