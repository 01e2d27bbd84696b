package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/piyusht2411/chatting-app/internal/logger"
)

const defaultSearchDebounce = 500 * time.Millisecond

type ListViewOptions struct {
	Remote Remote
	Bus    *Bus
	Cache  *SummaryCache
	Self   Profile

	// SearchDebounce delays search execution after the last keystroke.
	SearchDebounce time.Duration
}

// ListView is the conversation list: confirmed summaries kept converged
// through the notification bus, plus debounced fuzzy search over the
// session cache.
type ListView struct {
	opts      ListViewOptions
	projector *ListProjector

	mu          sync.Mutex
	sortByName  bool
	searchTimer *time.Timer
	unsubscribe func()
	closed      bool
}

func NewListView(opts ListViewOptions) (*ListView, error) {
	if opts.Remote == nil || opts.Bus == nil || opts.Self.ID == "" {
		return nil, ErrInvalidInput
	}
	if opts.Cache == nil {
		opts.Cache = NewSummaryCache()
	}
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = defaultSearchDebounce
	}
	v := &ListView{
		opts:      opts,
		projector: NewListProjector(),
	}
	v.unsubscribe = opts.Bus.Subscribe(v.handleNotification)
	return v, nil
}

func (v *ListView) handleNotification(n Notification) {
	switch n.Kind {
	case NotifyUpdate:
		if n.Message != nil {
			unread := 0
			if n.Message.SenderID != v.opts.Self.ID && !n.Message.IsRead {
				unread = 1
			}
			v.projector.ApplyLatestMessage(n.ConversationID, n.Message.Content, n.Message.CreatedAt, unread)
			return
		}
		if n.Labels != nil || n.CorrelationID != "" {
			v.projector.ApplyUpdate(n.ConversationID, n.CorrelationID, n.Labels)
		}
	case NotifyRevert:
		v.projector.ApplyRevert(n.ConversationID, n.CorrelationID)
	}
}

// Refresh rebuilds the confirmed summaries from the remote: every
// conversation the viewer participates in, with its latest message,
// unread count, partner profile, and label set.
func (v *ListView) Refresh(ctx context.Context) error {
	if v == nil {
		return ErrInvalidInput
	}
	userID := v.opts.Self.ID
	sent, err := v.opts.Remote.Query(ctx, "messages", Filter{"sender_id": userID})
	if err != nil {
		return err
	}
	received, err := v.opts.Remote.Query(ctx, "messages", Filter{"receiver_id": userID})
	if err != nil {
		return err
	}

	type threadAccum struct {
		latest   string
		latestAt time.Time
		unread   int
	}
	threads := map[string]*threadAccum{}
	accumulate := func(row Row, partnerID string, incoming bool) {
		acc, ok := threads[partnerID]
		if !ok {
			acc = &threadAccum{}
			threads[partnerID] = acc
		}
		at := toTime(row["created_at"])
		if at.After(acc.latestAt) {
			acc.latest = toString(row["content"])
			acc.latestAt = at
		}
		if incoming && !toBool(row["is_read"]) {
			acc.unread++
		}
	}
	for _, row := range sent {
		accumulate(row, toString(row["receiver_id"]), false)
	}
	for _, row := range received {
		accumulate(row, toString(row["sender_id"]), true)
	}
	if len(threads) == 0 {
		v.projector.Reset(nil)
		v.opts.Cache.Put(nil)
		return nil
	}

	partnerIDs := make([]any, 0, len(threads))
	for partnerID := range threads {
		partnerIDs = append(partnerIDs, partnerID)
	}
	profiles := map[string]Profile{}
	profileRows, err := v.opts.Remote.Query(ctx, "profiles", Filter{"id": partnerIDs})
	if err != nil {
		return err
	}
	for _, row := range profileRows {
		profile := profileFromRow(row)
		profiles[profile.ID] = profile
	}

	labelRows, err := v.opts.Remote.Query(ctx, "chat_labels", Filter{"user_id": userID})
	if err != nil {
		return err
	}
	labels := map[string][]Label{}
	for _, row := range labelRows {
		labels[toString(row["chat_partner_id"])] = ParseLabelList(row["label_name"])
	}

	summaries := make([]ConversationSummary, 0, len(threads))
	for partnerID, acc := range threads {
		profile, ok := profiles[partnerID]
		if !ok {
			profile = PlaceholderProfile(partnerID)
		}
		summaries = append(summaries, ConversationSummary{
			PartnerID:       partnerID,
			Name:            profile.Name,
			Phone:           profile.Phone,
			LatestMessage:   acc.latest,
			LatestMessageAt: acc.latestAt,
			UnreadCount:     acc.unread,
			Labels:          labels[partnerID],
		})
	}
	v.projector.Reset(summaries)
	v.opts.Cache.Put(v.projector.Summaries())
	return nil
}

// Summaries returns the conversation list, most recent first, or by
// name descending when that ordering is toggled on.
func (v *ListView) Summaries() []ConversationSummary {
	out := v.projector.Summaries()
	v.mu.Lock()
	byName := v.sortByName
	v.mu.Unlock()
	if byName {
		sortSummariesByNameDesc(out)
	}
	return out
}

// ToggleNameSort flips between recency order and name-descending order,
// returning the new setting.
func (v *ListView) ToggleNameSort() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sortByName = !v.sortByName
	return v.sortByName
}

func sortSummariesByNameDesc(summaries []ConversationSummary) {
	for i := 1; i < len(summaries); i++ {
		for j := i; j > 0 && strings.ToLower(summaries[j-1].Name) < strings.ToLower(summaries[j].Name); j-- {
			summaries[j-1], summaries[j] = summaries[j], summaries[j-1]
		}
	}
}

// Search fuzzy-matches conversation names against the session cache and
// delivers the result after the debounce window. A newer search cancels
// an undelivered older one.
func (v *ListView) Search(query string, deliver func([]ConversationSummary)) {
	if v == nil || deliver == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.searchTimer != nil {
		v.searchTimer.Stop()
	}
	if v.closed {
		return
	}
	v.searchTimer = time.AfterFunc(v.opts.SearchDebounce, func() {
		deliver(v.SearchNow(query))
	})
}

// SearchNow is the undebounced search, matched on conversation names.
func (v *ListView) SearchNow(query string) []ConversationSummary {
	query = strings.TrimSpace(query)
	cached, _ := v.opts.Cache.Snapshot()
	if query == "" {
		return cached
	}
	names := make([]string, len(cached))
	for i, summary := range cached {
		names[i] = summary.Name
	}
	matches := fuzzy.Find(query, names)
	out := make([]ConversationSummary, 0, len(matches))
	for _, match := range matches {
		out = append(out, cached[match.Index])
	}
	return out
}

// SearchContacts looks up profiles by phone substring after the
// debounce window, excluding the viewer's own profile.
func (v *ListView) SearchContacts(ctx context.Context, phone string, deliver func([]Profile)) {
	if v == nil || deliver == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.searchTimer != nil {
		v.searchTimer.Stop()
	}
	if v.closed {
		return
	}
	v.searchTimer = time.AfterFunc(v.opts.SearchDebounce, func() {
		profiles, err := v.SearchContactsNow(ctx, phone)
		if err != nil {
			logger.Warn("contact search failed", "err", err)
			return
		}
		deliver(profiles)
	})
}

// SearchContactsNow is the undebounced contact lookup.
func (v *ListView) SearchContactsNow(ctx context.Context, phone string) ([]Profile, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, nil
	}
	rows, err := v.opts.Remote.Query(ctx, "profiles", nil)
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(rows))
	for _, row := range rows {
		profile := profileFromRow(row)
		if profile.ID == v.opts.Self.ID {
			continue
		}
		if strings.Contains(profile.Phone, phone) {
			out = append(out, profile)
		}
	}
	return out, nil
}

// Close detaches the view from the bus and cancels a pending search.
func (v *ListView) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	if v.searchTimer != nil {
		v.searchTimer.Stop()
		v.searchTimer = nil
	}
	if v.unsubscribe != nil {
		v.unsubscribe()
	}
	return nil
}
