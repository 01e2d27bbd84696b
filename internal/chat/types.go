package chat

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrMutationInFlight = errors.New("mutation already in flight")
	ErrRemoteFailure    = errors.New("remote failure")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrNoConversation   = errors.New("no conversation open")
)

// RemoteFailureError wraps a failed remote call. The mutation that caused
// it has already been reverted by the time the caller sees this error.
type RemoteFailureError struct {
	Op    string
	Table string
	Err   error
}

func (e *RemoteFailureError) Error() string {
	return fmt.Sprintf("remote %s on %s failed: %v", e.Op, e.Table, e.Err)
}

func (e *RemoteFailureError) Is(target error) bool {
	return target == ErrRemoteFailure
}

func (e *RemoteFailureError) Unwrap() error {
	return e.Err
}

// MalformedEventError marks a change-event payload that could not be
// normalized. The event is dropped; stream processing continues.
type MalformedEventError struct {
	Table  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %s", e.Table, e.Reason)
}

func (e *MalformedEventError) Is(target error) bool {
	return target == ErrMalformedEvent
}

const (
	UnknownUserName  = "Unknown User"
	UnknownUserPhone = "N/A"
)

type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// PlaceholderProfile stands in for a partner whose profile lookup missed.
func PlaceholderProfile(id string) Profile {
	return Profile{ID: id, Name: UnknownUserName, Phone: UnknownUserPhone}
}

// Message is a single chat message. ID is either a server-assigned id or,
// while the message is pending, a locally generated temporary id. The two
// are never mixed: a message moves from temporary to server identity
// exactly once, by replacement.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	RepliedID  string    `json:"replied_id,omitempty"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
	Name       string    `json:"name,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Pending    bool      `json:"pending,omitempty"`
}

const tempIDPrefix = "temp_"

// NewTempID returns a process-unique temporary message id.
func NewTempID() string {
	return fmt.Sprintf("%s%d_%06x", tempIDPrefix, time.Now().UnixNano(), rand.Intn(1<<24))
}

// NewLabelCorrelationID returns a correlation id for a label mutation.
func NewLabelCorrelationID() string {
	return fmt.Sprintf("temp_label_%d_%06x", time.Now().UnixNano(), rand.Intn(1<<24))
}

// IsTempID reports whether id is a locally generated temporary id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Label is an immutable label definition.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"label_name"`
	Color string `json:"color"`
}

// LabelAssignment is the set of labels a user applied to one conversation
// partner. An assignment is always replaced whole, never merged.
type LabelAssignment struct {
	UserID    string  `json:"user_id"`
	PartnerID string  `json:"chat_partner_id"`
	Labels    []Label `json:"labels"`
}

// Has reports whether the assignment contains the label id.
func (a LabelAssignment) Has(labelID string) bool {
	for _, l := range a.Labels {
		if l.ID == labelID {
			return true
		}
	}
	return false
}

type MutationKind string

const (
	KindMessage MutationKind = "message"
	KindLabels  MutationKind = "labels"
)

type MutationState string

const (
	StateIdle       MutationState = "idle"
	StateOptimistic MutationState = "optimistic"
	StatePersisted  MutationState = "persisted"
	StateSubmitted  MutationState = "submitted"
	StateConfirmed  MutationState = "confirmed"
	StateReverted   MutationState = "reverted"
)

// PendingMutation is the single in-flight mutation for one
// (conversation, kind) pair. It is owned by the Controller for its
// lifetime; the pending store only holds a durability copy.
type PendingMutation struct {
	CorrelationID string        `json:"correlation_id"`
	PartnerID     string        `json:"partner_id"`
	Kind          MutationKind  `json:"kind"`
	State         MutationState `json:"state"`
	Message       *Message      `json:"message,omitempty"`
	Labels        []Label       `json:"labels,omitempty"`
}

// ConversationSummary is a derived row of the conversation list. It is
// recomputed by the list projector and never mutated in place.
type ConversationSummary struct {
	PartnerID       string    `json:"person_id"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	LatestMessage   string    `json:"latest_message"`
	LatestMessageAt time.Time `json:"latest_message_timestamp"`
	UnreadCount     int       `json:"unread_count"`
	Labels          []Label   `json:"labels"`
}
