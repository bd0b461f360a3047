package ipc

import (
	"time"

	"meridian/internal/command"
)

// Command is the wire form of a command submission.
type Command struct {
	Name          string            `json:"name"`
	Args          map[string]string `json:"args,omitempty"`
	Unit          *int              `json:"unit,omitempty"`
	Interruptible *bool             `json:"interruptible,omitempty"`
}

// ToModel converts the wire command into the owned model form, assigning
// the submission id and timestamp.
func (c Command) ToModel() command.Command {
	unit := 0
	if c.Unit != nil {
		unit = *c.Unit
	}
	cmd := command.NewForUnit(c.Name, c.Args, unit)
	if c.Interruptible != nil {
		cmd.Interruptible = *c.Interruptible
	}
	return cmd
}

// SubmitRequest queues one command on the target daemon.
type SubmitRequest struct {
	Command Command `json:"command"`
}

// SubmitResponse acknowledges a submission. Accepted=false carries the
// synchronous rejection reason (overload, fault, unknown unit).
type SubmitResponse struct {
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
	CommandID string `json:"command_id,omitempty"`
}

// EmergencyStopRequest pre-empts in-flight hardware work.
type EmergencyStopRequest struct{}

// EmergencyStopResponse confirms the stop was issued.
type EmergencyStopResponse struct {
	Stopped bool `json:"stopped"`
}

// InterruptRequest stops the current command if it is interruptible,
// leaving queued commands in place.
type InterruptRequest struct{}

// InterruptResponse reports whether a command was interrupted.
type InterruptResponse struct {
	Interrupted bool `json:"interrupted"`
}

// StatusRequest fetches the daemon's latest published status.
type StatusRequest struct{}

// StatusResponse carries the status snapshot.
type StatusResponse struct {
	Status command.DaemonStatus `json:"status"`
}

// PingRequest verifies control-loop liveness.
type PingRequest struct{}

// PingResponse reports liveness; a stalled loop sets Detail.
type PingResponse struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// ShutdownRequest asks the daemon process to exit cleanly.
type ShutdownRequest struct{}

// ShutdownResponse confirms shutdown was initiated.
type ShutdownResponse struct {
	OK bool `json:"ok"`
}

// ExposureSpec is the wire form of one requested exposure set.
type ExposureSpec struct {
	Target     string `json:"target"`
	ImageType  string `json:"image_type"`
	FrameType  string `json:"frame_type"`
	Filter     string `json:"filter"`
	ExpTimeMS  int    `json:"exptime_ms"`
	Binning    int    `json:"binning"`
	UnitMask   []int  `json:"unit_mask,omitempty"`
	FocusCheck bool   `json:"focus_check"`
}

// QueueEntry is the wire form of one exposure queue entry.
type QueueEntry struct {
	ID          int64        `json:"id"`
	Spec        ExposureSpec `json:"spec"`
	Priority    int          `json:"priority"`
	RequestedBy string       `json:"requested_by"`
	Status      string       `json:"status"`
	Attempts    int          `json:"attempts"`
	MaxAttempts int          `json:"max_attempts"`
	LastError   string       `json:"last_error,omitempty"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// EnqueueRequest adds an exposure set to the queue.
type EnqueueRequest struct {
	Spec        ExposureSpec `json:"spec"`
	Priority    int          `json:"priority"`
	RequestedBy string       `json:"requested_by"`
}

// EnqueueResponse returns the new entry id.
type EnqueueResponse struct {
	ID int64 `json:"id"`
}

// CancelRequest cancels a pending or running entry.
type CancelRequest struct {
	ID int64 `json:"id"`
}

// CancelResponse reports whether the entry was cancelled.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// QueueListRequest filters entries by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses,omitempty"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Entries []QueueEntry `json:"entries"`
	Paused  bool         `json:"paused"`
}

// QueuePauseRequest suspends dispatch without dropping entries.
type QueuePauseRequest struct{}

// QueuePauseResponse confirms the pause.
type QueuePauseResponse struct {
	Paused bool `json:"paused"`
}

// QueueResumeRequest resumes dispatch.
type QueueResumeRequest struct{}

// QueueResumeResponse confirms the resume.
type QueueResumeResponse struct {
	Paused bool `json:"paused"`
}

// QueueClearRequest removes finished entries ("done", "failed",
// "cancelled") or, with All set, every entry not currently running.
type QueueClearRequest struct {
	All bool `json:"all"`
}

// QueueClearResponse reports number of removed entries.
type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// PilotStatusRequest fetches the pilot's night summary.
type PilotStatusRequest struct{}

// PilotStatusResponse reports pilot phase and safety state.
type PilotStatusResponse struct {
	Phase           string    `json:"phase"`
	Safe            bool      `json:"safe"`
	SafetyReason    string    `json:"safety_reason,omitempty"`
	LastPoll        time.Time `json:"last_poll"`
	AbortReason     string    `json:"abort_reason,omitempty"`
	EntriesObserved int       `json:"entries_observed"`
}

// PilotAbortRequest forces the pilot into its emergency abort phase.
type PilotAbortRequest struct {
	Reason string `json:"reason"`
}

// PilotAbortResponse confirms the abort was initiated.
type PilotAbortResponse struct {
	Aborting bool `json:"aborting"`
}
