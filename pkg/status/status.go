// Package status holds the join progress record shared between the
// handshake and whatever displays it.
package status

import "sync"

type Status int

const (
	Pending Status = iota
	Complete
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Complete:
		return "COMPLETE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool { return s == Complete || s == Failed }

// Snapshot is a consistent copy of a JoinStatus.
type Snapshot struct {
	Activity string
	Progress float32
	Status   Status
	Err      error
}

// JoinStatus is written by the handshake and read by observers. Once the
// status is Complete or Failed every setter is a no-op.
type JoinStatus struct {
	mu       sync.RWMutex
	activity string
	progress float32
	status   Status
	err      error
}

func New() *JoinStatus {
	return &JoinStatus{}
}

func (j *JoinStatus) Activity() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.activity
}

func (j *JoinStatus) Progress() float32 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

func (j *JoinStatus) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Err returns the failure cause, or nil unless the status is Failed.
func (j *JoinStatus) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// ErrorMessage returns the user-facing failure message, or "".
func (j *JoinStatus) ErrorMessage() string {
	if err := j.Err(); err != nil {
		return err.Error()
	}
	return ""
}

func (j *JoinStatus) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Snapshot{Activity: j.activity, Progress: j.progress, Status: j.status, Err: j.err}
}

func (j *JoinStatus) SetActivity(activity string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.activity = activity
}

// SetProgress records a fraction, clamped to [0, 1].
func (j *JoinStatus) SetProgress(p float32) {
	if p < 0 || p != p {
		p = 0
	} else if p > 1 {
		p = 1
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.progress = p
}

// Complete marks the join successful. It reports false if the status was
// already terminal.
func (j *JoinStatus) Complete() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = Complete
	return true
}

// Fail marks the join failed with err. Only the first terminal transition
// wins; later calls report false and leave the record untouched.
func (j *JoinStatus) Fail(err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = Failed
	j.err = err
	return true
}
