package exq

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a queue entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusDone,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseStatus normalizes a status string. The boolean reports validity.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := statusSet[status]
	return status, ok
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// CancelledReason is the attempt error recorded when an operator cancels
// a running entry.
const CancelledReason = "cancelled by operator"

// ShutdownReason is the attempt error recorded when the daemon stops
// with an entry still running.
const ShutdownReason = "exposure queue daemon stopped"

// Frame types accepted by the cameras.
const (
	FrameNormal = "normal"
	FrameGlance = "glance"
)

// Image types recorded in exposure metadata.
const (
	ImageScience = "science"
	ImageBias    = "bias"
	ImageDark    = "dark"
	ImageFlat    = "flat"
	ImageFocus   = "focus"
)

// ExposureSpec describes one exposure set: a single shutter open across
// the selected camera units with a common filter and binning.
type ExposureSpec struct {
	Target     string        `json:"target"`
	ImageType  string        `json:"image_type"`
	FrameType  string        `json:"frame_type"`
	Filter     string        `json:"filter"`
	ExpTime    time.Duration `json:"exptime"`
	Binning    int           `json:"binning"`
	UnitMask   []int         `json:"unit_mask,omitempty"`
	FocusCheck bool          `json:"focus_check"`
}

// Normalize applies defaults for omitted fields.
func (s *ExposureSpec) Normalize() {
	s.Target = strings.TrimSpace(s.Target)
	s.ImageType = strings.ToLower(strings.TrimSpace(s.ImageType))
	s.FrameType = strings.ToLower(strings.TrimSpace(s.FrameType))
	s.Filter = strings.ToUpper(strings.TrimSpace(s.Filter))
	if s.ImageType == "" {
		s.ImageType = ImageScience
	}
	if s.FrameType == "" {
		s.FrameType = FrameNormal
	}
	if s.Binning <= 0 {
		s.Binning = 1
	}
}

// Validate rejects specs the hardware cannot execute.
func (s ExposureSpec) Validate() error {
	if s.ExpTime < 0 {
		return fmt.Errorf("negative exposure time %v", s.ExpTime)
	}
	switch s.FrameType {
	case FrameNormal, FrameGlance:
	default:
		return fmt.Errorf("unknown frame type %q", s.FrameType)
	}
	switch s.ImageType {
	case ImageScience, ImageBias, ImageDark, ImageFlat, ImageFocus:
	default:
		return fmt.Errorf("unknown image type %q", s.ImageType)
	}
	if s.ImageType == ImageBias && s.ExpTime != 0 {
		return fmt.Errorf("bias frames must have zero exposure time, got %v", s.ExpTime)
	}
	if s.Binning > 8 {
		return fmt.Errorf("binning %d exceeds maximum 8", s.Binning)
	}
	for _, unit := range s.UnitMask {
		if unit < 0 {
			return fmt.Errorf("invalid unit %d in unit mask", unit)
		}
	}
	return nil
}

// NeedsFilter reports whether the set requires a filter change first.
// Bias and dark frames expose with the shutter closed.
func (s ExposureSpec) NeedsFilter() bool {
	return s.Filter != "" && s.ImageType != ImageBias && s.ImageType != ImageDark
}

// Entry is one persisted exposure queue entry.
type Entry struct {
	ID          int64
	Spec        ExposureSpec
	Priority    int
	RequestedBy string
	Status      Status
	Attempts    int
	MaxAttempts int
	LastError   string
	EnqueuedAt  time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	UpdatedAt   time.Time
}

// AttemptsLeft reports whether the entry may be retried after a failure.
func (e *Entry) AttemptsLeft() bool {
	return e.Attempts < e.MaxAttempts
}
