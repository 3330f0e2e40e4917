// Package cbreview implements the moderation workflow shared by attachment
// requests and user verification requests: a record starts pending and takes
// exactly one reviewer decision, after which it's permanently approved or
// rejected.
package cbreview

import (
	"fmt"
	"time"

	"golang.org/x/xerrors"

	"github.com/corkboard/corkboard/internal/util/stringutil"
	"github.com/corkboard/corkboard/internal/util/timeutil"
)

// MaxNoteLength is the cap on a reviewer note, in runes. Longer notes are
// truncated rather than rejected.
const MaxNoteLength = 800

// ErrAlreadyReviewed is returned when reviewing a record whose decision has
// already been taken. Reviews are one-shot; neither the decision nor the
// note can be amended afterwards.
var ErrAlreadyReviewed = xerrors.New("request has already been reviewed")

// Status is the moderation state of a reviewable record. It's a closed
// enumeration: values outside the three named states don't round-trip
// through the document, so a corrupted status surfaces as a parse error
// instead of leaking an impossible state into the program.
type Status uint8

const (
	// StatusPending is the initial state, deliberately the zero value:
	// awaiting a reviewer decision and invisible to the public.
	StatusPending Status = iota

	// StatusApproved makes the record's payload publicly visible.
	StatusApproved

	// StatusRejected permanently refuses the record. The payload is kept for
	// the requester and reviewers but never shown publicly.
	StatusRejected
)

var statusStrings = [...]string{
	StatusPending:  "pending",
	StatusApproved: "approved",
	StatusRejected: "rejected",
}

func (s Status) String() string {
	if int(s) >= len(statusStrings) {
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
	return statusStrings[s]
}

// MarshalText implements encoding.TextMarshaler so statuses serialize into
// the document as their names.
func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusStrings) {
		return nil, xerrors.Errorf("cannot marshal unknown status %d", uint8(s))
	}
	return []byte(statusStrings[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names are an
// error so that a corrupted document fails the load instead of smuggling an
// unrepresentable state in.
func (s *Status) UnmarshalText(data []byte) error {
	for i, name := range statusStrings {
		if string(data) == name {
			*s = Status(i)
			return nil
		}
	}
	return xerrors.Errorf("unknown review status %q", string(data))
}

// ParseStatus parses a status name, for filter parameters and the like.
func ParseStatus(s string) (Status, error) {
	var status Status
	if err := status.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return status, nil
}

// Action is a reviewer decision.
type Action uint8

const (
	ActionApprove Action = iota
	ActionReject
)

var actionStrings = [...]string{
	ActionApprove: "approve",
	ActionReject:  "reject",
}

func (a Action) String() string {
	if int(a) >= len(actionStrings) {
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
	return actionStrings[a]
}

// UnknownActionError is returned when parsing a review action outside the
// closed approve/reject set.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown review action %q", e.Action)
}

// ParseAction parses a reviewer decision sent over the wire.
func ParseAction(s string) (Action, error) {
	for i, name := range actionStrings {
		if s == name {
			return Action(i), nil
		}
	}
	return 0, &UnknownActionError{Action: s}
}

// Ticket is the review state embedded in each reviewable record.
type Ticket struct {
	Status     Status `json:"status"`
	ReviewedAt string `json:"reviewedAt"`
	Note       string `json:"note"`
}

// NewTicket returns a ticket in the pending state with no review stamp.
func NewTicket() Ticket {
	return Ticket{Status: StatusPending}
}

// Reviewed reports whether a decision has been taken.
func (t *Ticket) Reviewed() bool {
	return t.Status != StatusPending
}

// Review takes the one-shot reviewer decision, stamping the review time and
// storing the note (truncated to MaxNoteLength). Reviewing anything but a
// pending ticket fails with ErrAlreadyReviewed and mutates nothing.
func (t *Ticket) Review(action Action, note string, now time.Time) error {
	if t.Status != StatusPending {
		return ErrAlreadyReviewed
	}

	switch action {
	case ActionApprove:
		t.Status = StatusApproved
	case ActionReject:
		t.Status = StatusRejected
	default:
		return &UnknownActionError{Action: action.String()}
	}

	t.ReviewedAt = timeutil.Stamp(now)
	t.Note = stringutil.TruncateRunes(note, MaxNoteLength)
	return nil
}
