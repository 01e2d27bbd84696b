package chat

import (
	"context"
	"sync"
	"time"

	"github.com/piyusht2411/chatting-app/internal/logger"
)

type ThreadViewOptions struct {
	Remote     Remote
	Store      PendingStore
	Bus        *Bus
	Controller *Controller
	Self       Profile
}

// ThreadView is one open conversation: the merged message projection,
// the label selection, and the live change-stream subscriptions that
// keep both converged with the remote.
type ThreadView struct {
	opts      ThreadViewOptions
	partnerID string
	partner   Profile
	norm      *Normalizer

	projector *ThreadProjector
	selection *LabelSelection
	catalog   []Label

	mu       sync.Mutex
	msgSub   Subscription
	labelSub Subscription
	closed   bool
}

// OpenThread opens a conversation with one partner. Subscriptions are
// established before the confirmed history is fetched, so a write that
// lands between the two is observed on the stream rather than lost.
func OpenThread(ctx context.Context, opts ThreadViewOptions, partnerID string) (*ThreadView, error) {
	if opts.Remote == nil || opts.Store == nil || opts.Bus == nil || opts.Controller == nil || opts.Self.ID == "" {
		return nil, ErrInvalidInput
	}
	if partnerID == "" {
		return nil, ErrInvalidInput
	}

	partner := PlaceholderProfile(partnerID)
	if rows, err := opts.Remote.Query(ctx, "profiles", Filter{"id": partnerID}); err != nil {
		return nil, err
	} else if len(rows) > 0 {
		partner = profileFromRow(rows[0])
	}

	v := &ThreadView{
		opts:      opts,
		partnerID: partnerID,
		partner:   partner,
		projector: NewThreadProjector(),
		selection: NewLabelSelection(nil),
	}
	v.norm = NewNormalizer(opts.Self, func(id string) (Profile, bool) {
		if id == partnerID {
			return partner, true
		}
		return Profile{}, false
	})

	msgSub, err := opts.Remote.Subscribe(ctx, "messages", nil, v.handleMessageEvent)
	if err != nil {
		return nil, err
	}
	labelSub, err := opts.Remote.Subscribe(ctx, "chat_labels", Filter{
		"user_id":         opts.Self.ID,
		"chat_partner_id": partnerID,
	}, v.handleLabelEvent)
	if err != nil {
		_ = msgSub.Unsubscribe()
		return nil, err
	}
	v.msgSub = msgSub
	v.labelSub = labelSub

	if err := v.loadHistory(ctx); err != nil {
		_ = v.Close()
		return nil, err
	}
	if err := v.loadLabels(ctx); err != nil {
		_ = v.Close()
		return nil, err
	}
	return v, nil
}

func (v *ThreadView) loadHistory(ctx context.Context) error {
	sent, err := v.opts.Remote.Query(ctx, "messages", Filter{
		"sender_id":   v.opts.Self.ID,
		"receiver_id": v.partnerID,
	})
	if err != nil {
		return err
	}
	received, err := v.opts.Remote.Query(ctx, "messages", Filter{
		"sender_id":   v.partnerID,
		"receiver_id": v.opts.Self.ID,
	})
	if err != nil {
		return err
	}

	confirmed := make([]Message, 0, len(sent)+len(received))
	for _, row := range append(sent, received...) {
		msg, err := v.norm.MessageFromRow(row)
		if err != nil {
			logger.Warn("history row dropped", "partner_id", v.partnerID, "err", err)
			continue
		}
		confirmed = append(confirmed, msg)
	}

	pending, err := LoadPendingMessages(ctx, v.opts.Store, v.partnerID)
	if err != nil {
		storeFailuresTotal.Inc()
		logger.Warn("pending messages not loaded", "partner_id", v.partnerID, "err", err)
		pending = nil
	}

	// A crash between a successful insert and the store cleanup leaves a
	// pending entry whose confirmed copy is already in history. Such
	// entries are satisfied, not pending: drop them from the store so the
	// merged view does not show the message twice.
	kept := pending[:0]
	for _, msg := range pending {
		if hasConfirmedMatch(confirmed, msg) {
			if err := RemovePendingMessage(ctx, v.opts.Store, v.partnerID, msg.ID); err != nil {
				storeFailuresTotal.Inc()
				logger.Warn("satisfied pending message not removed from store", "partner_id", v.partnerID, "err", err)
			}
			continue
		}
		kept = append(kept, msg)
	}
	v.projector.Reset(confirmed, kept)
	return nil
}

// Pending and confirmed timestamps come from different clocks, so the
// match tolerates skew between them.
const confirmedMatchWindow = 5 * time.Minute

func hasConfirmedMatch(confirmed []Message, pending Message) bool {
	for _, msg := range confirmed {
		if msg.SenderID != pending.SenderID || msg.ReceiverID != pending.ReceiverID || msg.Content != pending.Content {
			continue
		}
		delta := msg.CreatedAt.Sub(pending.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= confirmedMatchWindow {
			return true
		}
	}
	return false
}

func (v *ThreadView) loadLabels(ctx context.Context) error {
	rows, err := v.opts.Remote.Query(ctx, "chat_label_separate", nil)
	if err != nil {
		return err
	}
	catalog := make([]Label, 0, len(rows))
	for _, row := range rows {
		catalog = append(catalog, Label{
			ID:    toString(row["id"]),
			Name:  toString(row["label_name"]),
			Color: toString(row["color"]),
		})
	}
	v.catalog = catalog

	// A persisted pending set takes precedence over the confirmed one:
	// the mutation it belongs to has not resolved yet.
	pending, ok, err := LoadPendingLabels(ctx, v.opts.Store, v.opts.Self.ID, v.partnerID)
	if err != nil {
		storeFailuresTotal.Inc()
		logger.Warn("pending labels not loaded", "partner_id", v.partnerID, "err", err)
		ok = false
	}
	if ok {
		v.selection.Set(pending)
		return nil
	}

	assigned, err := v.opts.Remote.Query(ctx, "chat_labels", Filter{
		"user_id":         v.opts.Self.ID,
		"chat_partner_id": v.partnerID,
	})
	if err != nil {
		return err
	}
	if len(assigned) > 0 {
		v.selection.Set(ParseLabelList(assigned[0]["label_name"]))
	}
	return nil
}

func (v *ThreadView) handleMessageEvent(event ChangeEvent) {
	if event.Kind != EventInsert {
		return
	}
	msg, err := v.norm.NormalizeMessageEvent(event)
	if err != nil {
		logger.Warn("message event dropped", "partner_id", v.partnerID, "err", err)
		return
	}
	if !v.belongsToThread(msg) {
		return
	}
	if v.projector.ApplyConfirmed(msg) {
		v.opts.Bus.Publish(Notification{
			Kind:           NotifyUpdate,
			ConversationID: v.partnerID,
			Message:        &msg,
		})
	}
}

func (v *ThreadView) belongsToThread(msg Message) bool {
	userID := v.opts.Self.ID
	return (msg.SenderID == userID && msg.ReceiverID == v.partnerID) ||
		(msg.SenderID == v.partnerID && msg.ReceiverID == userID)
}

func (v *ThreadView) handleLabelEvent(event ChangeEvent) {
	assignment, err := v.norm.NormalizeLabelEvent(event)
	if err != nil {
		logger.Warn("label event dropped", "partner_id", v.partnerID, "err", err)
		return
	}
	if assignment.PartnerID != v.partnerID {
		return
	}
	v.opts.Controller.HandleLabelEcho(context.Background(), v.selection, assignment)
}

// SendMessage sends one message in this conversation through the
// optimistic lifecycle.
func (v *ThreadView) SendMessage(ctx context.Context, content, repliedID string) (Message, error) {
	if v == nil {
		return Message{}, ErrNoConversation
	}
	return v.opts.Controller.SendMessage(ctx, v.projector, SendMessageRequest{
		PartnerID: v.partnerID,
		Content:   content,
		RepliedID: repliedID,
		Sender:    v.opts.Self,
	})
}

// SetLabels replaces this conversation's label set optimistically.
func (v *ThreadView) SetLabels(ctx context.Context, labels []Label) error {
	if v == nil {
		return ErrNoConversation
	}
	return v.opts.Controller.SetLabels(ctx, v.selection, v.partnerID, labels)
}

// Messages returns the merged view, oldest first.
func (v *ThreadView) Messages() []Message {
	return v.projector.Messages()
}

// SelectedLabels returns the conversation's current label set, pending
// overlay included.
func (v *ThreadView) SelectedLabels() []Label {
	return v.selection.Get()
}

// Labels returns the label catalog.
func (v *ThreadView) Labels() []Label {
	return append([]Label(nil), v.catalog...)
}

func (v *ThreadView) Partner() Profile {
	return v.partner
}

// Replied resolves a replied-to message id against the merged view.
func (v *ThreadView) Replied(id string) (Message, bool) {
	if id == "" {
		return Message{}, false
	}
	return v.projector.Find(id)
}

// PendingState reports the in-flight mutation state for this
// conversation and kind.
func (v *ThreadView) PendingState(kind MutationKind) MutationState {
	return v.opts.Controller.State(v.partnerID, kind)
}

// Close tears down the change-stream subscriptions. Idempotent.
func (v *ThreadView) Close() error {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	var firstErr error
	if v.msgSub != nil {
		if err := v.msgSub.Unsubscribe(); err != nil {
			firstErr = err
		}
	}
	if v.labelSub != nil {
		if err := v.labelSub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func profileFromRow(row Row) Profile {
	return Profile{
		ID:    toString(row["id"]),
		Name:  toString(row["name"]),
		Phone: toString(row["phone"]),
	}
}

// ThreadSession enforces the one-open-conversation rule: opening a
// conversation closes the previous one first.
type ThreadSession struct {
	opts    ThreadViewOptions
	mu      sync.Mutex
	current *ThreadView
}

func NewThreadSession(opts ThreadViewOptions) *ThreadSession {
	return &ThreadSession{opts: opts}
}

// Open switches to the given conversation.
func (s *ThreadSession) Open(ctx context.Context, partnerID string) (*ThreadView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		if err := s.current.Close(); err != nil {
			logger.Warn("previous conversation not closed cleanly", "err", err)
		}
		s.current = nil
	}
	view, err := OpenThread(ctx, s.opts, partnerID)
	if err != nil {
		return nil, err
	}
	s.current = view
	return view, nil
}

// Current returns the open conversation, if any.
func (s *ThreadSession) Current() (*ThreadView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

// Close closes the open conversation, if any.
func (s *ThreadSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}
