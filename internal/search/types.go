package search

import "time"

// SessionStatus is the overall state of a search session. Transitions are
// forward-only: running -> completed | failed.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// TaskState tracks one platform's progress within a session.
// waiting -> connecting -> acquiring -> completed, with any state able to
// fail-fast into failed. completed and failed are terminal.
type TaskState string

const (
	TaskWaiting    TaskState = "waiting"
	TaskConnecting TaskState = "connecting"
	TaskAcquiring  TaskState = "acquiring"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool { return s == TaskCompleted || s == TaskFailed }

// Tier identifies which acquisition strategy produced a result.
type Tier string

const (
	TierAutomation Tier = "automation"
	TierCredential Tier = "credential"
	TierSimulated  Tier = "simulated"
)

// NominalConfidence is the confidence assigned to a cleanly completed
// acquisition on this tier.
func (t Tier) NominalConfidence() float64 {
	switch t {
	case TierCredential:
		return 0.85
	default:
		return 0.9
	}
}

// PlatformTask is the per-platform execution unit inside a session. Content
// is append-only while acquiring and frozen once the task is terminal.
type PlatformTask struct {
	Platform     string    `json:"platform"`
	State        TaskState `json:"state"`
	Content      string    `json:"content"`
	ProgressText string    `json:"progress_text"`
	SubProgress  float64   `json:"sub_progress"`
	Tier         Tier      `json:"tier,omitempty"`
	Simulated    bool      `json:"simulated,omitempty"`
	Confidence   float64   `json:"confidence"`
	ErrorCode    Code      `json:"error_code,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
}

// SearchSession is one query's end-to-end execution across all requested
// platforms. It is the single piece of shared mutable state per search; all
// writes go through the registry's atomic Update and readers only ever see
// snapshots.
type SearchSession struct {
	ID        string                   `json:"id"`
	Query     string                   `json:"query"`
	Platforms []string                 `json:"platforms"`
	Status    SessionStatus            `json:"status"`
	Progress  float64                  `json:"progress"`
	Tasks     map[string]*PlatformTask `json:"tasks"`
	Document  *AggregatedDocument      `json:"document,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Stopping  bool                     `json:"stopping,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// NewSession builds a running session with one waiting task per platform.
func NewSession(id, query string, platforms []string) *SearchSession {
	now := time.Now()
	tasks := make(map[string]*PlatformTask, len(platforms))
	for _, p := range platforms {
		tasks[p] = &PlatformTask{
			Platform:     p,
			State:        TaskWaiting,
			ProgressText: "waiting to start",
		}
	}
	return &SearchSession{
		ID:        id,
		Query:     query,
		Platforms: append([]string(nil), platforms...),
		Status:    SessionRunning,
		Tasks:     tasks,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Task returns the task for a platform, nil when the platform was not part
// of this session.
func (s *SearchSession) Task(platform string) *PlatformTask { return s.Tasks[platform] }

// Terminal reports whether every platform task reached a terminal state.
func (s *SearchSession) Terminal() bool {
	for _, name := range s.Platforms {
		if t := s.Tasks[name]; t == nil || !t.State.Terminal() {
			return false
		}
	}
	return true
}

// CompletedTasks returns the tasks that finished successfully, in platform
// request order.
func (s *SearchSession) CompletedTasks() []PlatformTask {
	var out []PlatformTask
	for _, name := range s.Platforms {
		if t := s.Tasks[name]; t != nil && t.State == TaskCompleted {
			out = append(out, *t)
		}
	}
	return out
}

// RecomputeProgress refreshes the aggregate progress fraction: terminal
// tasks count as 1, in-flight tasks contribute their sub-step credit.
// Progress never moves backwards while the session runs.
func (s *SearchSession) RecomputeProgress() {
	if len(s.Platforms) == 0 {
		return
	}
	var sum float64
	for _, name := range s.Platforms {
		t := s.Tasks[name]
		if t == nil {
			continue
		}
		switch {
		case t.State.Terminal():
			sum++
		default:
			sum += t.SubProgress
		}
	}
	if p := sum / float64(len(s.Platforms)); p > s.Progress {
		s.Progress = p
	}
}

// Clone returns a deep copy so pollers never observe a half-applied update.
func (s *SearchSession) Clone() *SearchSession {
	cp := *s
	cp.Platforms = append([]string(nil), s.Platforms...)
	cp.Tasks = make(map[string]*PlatformTask, len(s.Tasks))
	for k, v := range s.Tasks {
		t := *v
		cp.Tasks[k] = &t
	}
	if s.Document != nil {
		doc := *s.Document
		doc.Contributions = append([]Contribution(nil), s.Document.Contributions...)
		cp.Document = &doc
	}
	return &cp
}

// Contribution is one platform's retained share of the merged document.
type Contribution struct {
	Platform   string  `json:"platform"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Simulated  bool    `json:"simulated,omitempty"`
}

// AggregatedDocument is the final deduplicated, labeled merge of all
// completed platform contents. Immutable once produced.
type AggregatedDocument struct {
	Content       string         `json:"content"`
	Contributions []Contribution `json:"contributions"`
	SourceCount   int            `json:"source_count"`
	NoResults     bool           `json:"no_results,omitempty"`
}
