// Package job holds the Job record that is handed from stage to stage and
// persisted after every stage attempt.
package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage names, in execution order.
const (
	StageIngest      = "ingest"
	StageClassify    = "classify"
	StageScript      = "script-generate"
	StagePolicy      = "policy-check"
	StageNarrate     = "narrate"
	StageSelectMedia = "select-media"
	StageAssemble    = "assemble"
	StageThumbnail   = "thumbnail"
	StageUpload      = "upload"
)

// StageOrder is the fixed total order every job runs in.
var StageOrder = []string{
	StageIngest,
	StageClassify,
	StageScript,
	StagePolicy,
	StageNarrate,
	StageSelectMedia,
	StageAssemble,
	StageThumbnail,
	StageUpload,
}

// StageIndex returns the position of name in StageOrder, or -1.
func StageIndex(name string) int {
	for i, s := range StageOrder {
		if s == name {
			return i
		}
	}
	return -1
}

type StageState struct {
	Name        string            `json:"name"`
	Completed   bool              `json:"completed"`
	Artifact    string            `json:"artifact,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

type Job struct {
	ID               string       `json:"id"`
	SourceRef        string       `json:"source_reference"`
	Status           Status       `json:"status"`
	Stages           []StageState `json:"stages"`
	SafeMode         bool         `json:"safe_mode"`
	PolicyRejections int          `json:"policy_rejections"`
	FailedStage      string       `json:"failed_stage,omitempty"`
	ErrorKind        string       `json:"error_kind,omitempty"`
	Error            string       `json:"error,omitempty"`
	Dir              string       `json:"dir"`
	CreatedAt        time.Time    `json:"started_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func NewID() string {
	return uuid.NewString()
}

// New creates a pending job with every stage incomplete.
func New(sourceRef, dir string, now time.Time) *Job {
	j := &Job{
		ID:        NewID(),
		SourceRef: sourceRef,
		Status:    StatusPending,
		Dir:       dir,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	j.Stages = make([]StageState, len(StageOrder))
	for i, name := range StageOrder {
		j.Stages[i] = StageState{Name: name}
	}
	return j
}

// NextStage returns the first incomplete stage. ok is false when every stage is done.
func (j *Job) NextStage() (name string, ok bool) {
	for _, s := range j.Stages {
		if !s.Completed {
			return s.Name, true
		}
	}
	return "", false
}

// Stage returns the state for name, or nil.
func (j *Job) Stage(name string) *StageState {
	for i := range j.Stages {
		if j.Stages[i].Name == name {
			return &j.Stages[i]
		}
	}
	return nil
}

// Complete records name as done. Only the first incomplete stage may complete.
func (j *Job) Complete(name, artifact string, meta map[string]string, now time.Time) error {
	next, ok := j.NextStage()
	if !ok {
		return fmt.Errorf("job %s: all stages already complete", j.ID)
	}
	if next != name {
		return fmt.Errorf("job %s: cannot complete %q before %q", j.ID, name, next)
	}
	if strings.TrimSpace(artifact) == "" {
		return fmt.Errorf("job %s: stage %q produced no artifact", j.ID, name)
	}
	st := j.Stage(name)
	at := now.UTC()
	st.Completed = true
	st.Artifact = artifact
	st.Meta = meta
	st.CompletedAt = &at
	j.UpdatedAt = at
	return nil
}

// Rewind marks name and every later stage incomplete, dropping their artifacts.
func (j *Job) Rewind(name string) error {
	idx := StageIndex(name)
	if idx < 0 {
		return fmt.Errorf("unknown stage %q", name)
	}
	for i := range j.Stages {
		if StageIndex(j.Stages[i].Name) >= idx {
			j.Stages[i] = StageState{Name: j.Stages[i].Name}
		}
	}
	return nil
}

// CompletedPrefix reports whether completed stages form a prefix of StageOrder
// and no incomplete stage carries an artifact.
func (j *Job) CompletedPrefix() bool {
	if len(j.Stages) != len(StageOrder) {
		return false
	}
	seenIncomplete := false
	for i, s := range j.Stages {
		if s.Name != StageOrder[i] {
			return false
		}
		if !s.Completed {
			if s.Artifact != "" {
				return false
			}
			seenIncomplete = true
			continue
		}
		if seenIncomplete {
			return false
		}
	}
	return true
}

// CompletedCount returns the number of completed stages.
func (j *Job) CompletedCount() int {
	n := 0
	for _, s := range j.Stages {
		if s.Completed {
			n++
		}
	}
	return n
}

// IsDone reports whether every stage completed.
func (j *Job) IsDone() bool {
	_, pending := j.NextStage()
	return !pending
}

// Artifacts maps completed stage names to their artifact references.
func (j *Job) Artifacts() map[string]string {
	out := make(map[string]string, len(j.Stages))
	for _, s := range j.Stages {
		if s.Completed {
			out[s.Name] = s.Artifact
		}
	}
	return out
}

// ClearFailure drops the recorded failure before a resume.
func (j *Job) ClearFailure() {
	j.FailedStage = ""
	j.ErrorKind = ""
	j.Error = ""
}
