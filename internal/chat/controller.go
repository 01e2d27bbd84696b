package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/piyusht2411/chatting-app/internal/logger"
)

// SendMessageRequest carries one outgoing message. Sender is the
// viewer's profile, used to stamp display fields onto the optimistic row.
type SendMessageRequest struct {
	PartnerID string
	Content   string
	RepliedID string
	Sender    Profile
}

// LabelSelection is the mutable label set of the open conversation. The
// controller swaps it optimistically and swaps it back on revert.
type LabelSelection struct {
	mu     sync.Mutex
	labels []Label
}

func NewLabelSelection(labels []Label) *LabelSelection {
	s := &LabelSelection{}
	s.Set(labels)
	return s
}

func (s *LabelSelection) Set(labels []Label) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append([]Label(nil), labels...)
}

func (s *LabelSelection) Get() []Label {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Label(nil), s.labels...)
}

type ControllerOptions struct {
	Remote Remote
	Store  PendingStore
	Bus    *Bus
	UserID string

	// Now and NewCorrelationID exist for tests; zero values fall back to
	// the clock and the temp-id generator.
	Now              func() time.Time
	NewCorrelationID func() string
}

// Controller drives the optimistic mutation lifecycle. It owns the
// single in-flight mutation per (conversation, kind): apply locally,
// persist to the pending store, submit to the remote, then confirm or
// revert. Projector writes happen before any I/O, so the caller's view
// updates instantly.
type Controller struct {
	opts     ControllerOptions
	mu       sync.Mutex
	inflight map[inflightKey]*PendingMutation
}

type inflightKey struct {
	partnerID string
	kind      MutationKind
}

// cloneLabels always returns a non-nil slice. Label notifications rely on
// that: a nil Labels field means "no label payload", while an empty
// non-nil slice is a confirmed empty set.
func cloneLabels(labels []Label) []Label {
	out := make([]Label, 0, len(labels))
	return append(out, labels...)
}

func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Remote == nil || opts.Store == nil || opts.Bus == nil || opts.UserID == "" {
		return nil, ErrInvalidInput
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewCorrelationID == nil {
		opts.NewCorrelationID = NewLabelCorrelationID
	}
	return &Controller{
		opts:     opts,
		inflight: map[inflightKey]*PendingMutation{},
	}, nil
}

// State reports the lifecycle state of the in-flight mutation for one
// (conversation, kind) pair, or idle.
func (c *Controller) State(partnerID string, kind MutationKind) MutationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.inflight[inflightKey{partnerID, kind}]; ok {
		return m.State
	}
	return StateIdle
}

func (c *Controller) begin(partnerID string, kind MutationKind, m *PendingMutation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := inflightKey{partnerID, kind}
	if _, busy := c.inflight[key]; busy {
		return fmt.Errorf("%w: %s mutation for %s", ErrMutationInFlight, kind, partnerID)
	}
	c.inflight[key] = m
	return nil
}

func (c *Controller) setState(partnerID string, kind MutationKind, state MutationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.inflight[inflightKey{partnerID, kind}]; ok {
		m.State = state
	}
}

func (c *Controller) finish(partnerID string, kind MutationKind, state MutationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := inflightKey{partnerID, kind}
	if m, ok := c.inflight[key]; ok {
		m.State = state
	}
	delete(c.inflight, key)
}

// SendMessage runs the full lifecycle of one outgoing message: add the
// optimistic row to the projector, persist it, submit the insert, then
// replace the row with the confirmed one or remove it. On failure the
// view is restored exactly and the content of the message is discarded.
func (c *Controller) SendMessage(ctx context.Context, thread *ThreadProjector, req SendMessageRequest) (Message, error) {
	if c == nil || thread == nil {
		return Message{}, ErrInvalidInput
	}
	if req.PartnerID == "" || req.Content == "" {
		return Message{}, ErrInvalidInput
	}

	temp := Message{
		ID:         NewTempID(),
		SenderID:   c.opts.UserID,
		ReceiverID: req.PartnerID,
		Content:    req.Content,
		RepliedID:  req.RepliedID,
		CreatedAt:  c.opts.Now(),
		Name:       req.Sender.Name,
		Phone:      req.Sender.Phone,
		Pending:    true,
	}
	mutation := &PendingMutation{
		CorrelationID: temp.ID,
		PartnerID:     req.PartnerID,
		Kind:          KindMessage,
		State:         StateOptimistic,
		Message:       &temp,
	}
	if err := c.begin(req.PartnerID, KindMessage, mutation); err != nil {
		return Message{}, err
	}

	thread.AddPending(temp)

	// Durability is best effort: a store failure degrades to
	// session-only pending state, it never blocks the send.
	if err := AppendPendingMessage(ctx, c.opts.Store, req.PartnerID, temp); err != nil {
		storeFailuresTotal.Inc()
		logger.Warn("pending message not persisted", "partner_id", req.PartnerID, "err", err)
	} else {
		c.setState(req.PartnerID, KindMessage, StatePersisted)
	}

	c.setState(req.PartnerID, KindMessage, StateSubmitted)
	row := Row{
		"sender_id":   temp.SenderID,
		"receiver_id": temp.ReceiverID,
		"content":     temp.Content,
		"is_read":     false,
	}
	if temp.RepliedID != "" {
		row["replied_id"] = temp.RepliedID
	}
	inserted, err := c.opts.Remote.Insert(ctx, "messages", row)
	if err != nil {
		thread.RemovePending(temp.ID)
		c.removePendingMessage(ctx, req.PartnerID, temp.ID)
		c.finish(req.PartnerID, KindMessage, StateReverted)
		mutationsRevertedTotal.WithLabelValues(string(KindMessage)).Inc()
		c.opts.Bus.Publish(Notification{
			Kind:           NotifyRevert,
			ConversationID: req.PartnerID,
			CorrelationID:  temp.ID,
		})
		return Message{}, &RemoteFailureError{Op: "insert", Table: "messages", Err: err}
	}

	confirmed := Message{
		ID:         toString(inserted["id"]),
		SenderID:   temp.SenderID,
		ReceiverID: temp.ReceiverID,
		Content:    toString(inserted["content"]),
		RepliedID:  toString(inserted["replied_id"]),
		IsRead:     toBool(inserted["is_read"]),
		CreatedAt:  toTime(inserted["created_at"]),
		Name:       temp.Name,
		Phone:      temp.Phone,
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = temp.CreatedAt
	}
	thread.ConfirmPending(temp.ID, confirmed)
	c.removePendingMessage(ctx, req.PartnerID, temp.ID)
	c.finish(req.PartnerID, KindMessage, StateConfirmed)
	mutationsConfirmedTotal.WithLabelValues(string(KindMessage)).Inc()
	c.opts.Bus.Publish(Notification{
		Kind:           NotifyUpdate,
		ConversationID: req.PartnerID,
		Message:        &confirmed,
	})
	return confirmed, nil
}

func (c *Controller) removePendingMessage(ctx context.Context, partnerID, tempID string) {
	if err := RemovePendingMessage(ctx, c.opts.Store, partnerID, tempID); err != nil {
		storeFailuresTotal.Inc()
		logger.Warn("pending message not removed from store", "partner_id", partnerID, "err", err)
	}
}

// SetLabels replaces the conversation's label set optimistically and
// submits the upsert. The mutation stays submitted until the remote
// echoes the write back on the change stream; HandleLabelEcho completes
// it. On submit failure the previous confirmed set is refetched and the
// selection restored.
func (c *Controller) SetLabels(ctx context.Context, selection *LabelSelection, partnerID string, labels []Label) error {
	if c == nil || selection == nil || partnerID == "" {
		return ErrInvalidInput
	}
	previous := selection.Get()
	correlationID := c.opts.NewCorrelationID()
	mutation := &PendingMutation{
		CorrelationID: correlationID,
		PartnerID:     partnerID,
		Kind:          KindLabels,
		State:         StateOptimistic,
		Labels:        append([]Label(nil), labels...),
	}
	if err := c.begin(partnerID, KindLabels, mutation); err != nil {
		return err
	}

	selection.Set(labels)

	if err := SavePendingLabels(ctx, c.opts.Store, c.opts.UserID, partnerID, labels); err != nil {
		storeFailuresTotal.Inc()
		logger.Warn("pending labels not persisted", "partner_id", partnerID, "err", err)
	} else {
		c.setState(partnerID, KindLabels, StatePersisted)
	}

	c.opts.Bus.Publish(Notification{
		Kind:           NotifyUpdate,
		ConversationID: partnerID,
		CorrelationID:  correlationID,
		Labels:         cloneLabels(labels),
	})

	c.setState(partnerID, KindLabels, StateSubmitted)
	encoded := make([]any, 0, len(labels))
	for _, label := range labels {
		encoded = append(encoded, Row{
			"id":         label.ID,
			"label_name": label.Name,
			"color":      label.Color,
		})
	}
	row := Row{
		"user_id":         c.opts.UserID,
		"chat_partner_id": partnerID,
		"label_name":      encoded,
	}
	if err := c.opts.Remote.Upsert(ctx, "chat_labels", row, "user_id,chat_partner_id"); err != nil {
		c.revertLabels(ctx, selection, partnerID, correlationID, previous)
		return &RemoteFailureError{Op: "upsert", Table: "chat_labels", Err: err}
	}
	return nil
}

func (c *Controller) revertLabels(ctx context.Context, selection *LabelSelection, partnerID, correlationID string, previous []Label) {
	// Prefer the remote's confirmed set over the captured previous one:
	// another device may have changed it while we were submitting.
	restored := previous
	rows, err := c.opts.Remote.Query(ctx, "chat_labels", Filter{
		"user_id":         c.opts.UserID,
		"chat_partner_id": partnerID,
	})
	if err == nil && len(rows) > 0 {
		restored = ParseLabelList(rows[0]["label_name"])
	}
	selection.Set(restored)

	if err := DeletePendingLabels(ctx, c.opts.Store, c.opts.UserID, partnerID); err != nil {
		storeFailuresTotal.Inc()
		logger.Warn("pending labels not removed from store", "partner_id", partnerID, "err", err)
	}
	c.finish(partnerID, KindLabels, StateReverted)
	mutationsRevertedTotal.WithLabelValues(string(KindLabels)).Inc()
	c.opts.Bus.Publish(Notification{
		Kind:           NotifyRevert,
		ConversationID: partnerID,
		CorrelationID:  correlationID,
	})
	c.opts.Bus.Publish(Notification{
		Kind:           NotifyUpdate,
		ConversationID: partnerID,
		Labels:         cloneLabels(restored),
	})
}

// HandleLabelEcho completes a label mutation when the remote echoes the
// assignment back on the change stream. The echoed set is authoritative:
// it replaces the selection even when it differs from what was submitted.
func (c *Controller) HandleLabelEcho(ctx context.Context, selection *LabelSelection, assignment LabelAssignment) {
	if c == nil || assignment.UserID != c.opts.UserID {
		return
	}
	selection.Set(assignment.Labels)

	c.mu.Lock()
	_, inflight := c.inflight[inflightKey{assignment.PartnerID, KindLabels}]
	c.mu.Unlock()

	if inflight {
		if err := DeletePendingLabels(ctx, c.opts.Store, c.opts.UserID, assignment.PartnerID); err != nil {
			storeFailuresTotal.Inc()
			logger.Warn("pending labels not removed from store", "partner_id", assignment.PartnerID, "err", err)
		}
		c.finish(assignment.PartnerID, KindLabels, StateConfirmed)
		mutationsConfirmedTotal.WithLabelValues(string(KindLabels)).Inc()
	}
	c.opts.Bus.Publish(Notification{
		Kind:           NotifyUpdate,
		ConversationID: assignment.PartnerID,
		Labels:         cloneLabels(assignment.Labels),
	})
}
