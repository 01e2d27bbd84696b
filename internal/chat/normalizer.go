package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/piyusht2411/chatting-app/internal/logger"
)

const labelSchemaJSON = `{
	"type": "object",
	"required": ["id", "label_name", "color"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"label_name": {"type": "string", "minLength": 1},
		"color": {"type": "string", "minLength": 1}
	}
}`

var labelSchema = mustCompileLabelSchema()

func mustCompileLabelSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(labelSchemaJSON))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("label.json", doc); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("label.json")
	if err != nil {
		panic(err)
	}
	return schema
}

// ProfileLookup resolves a partner id to a known profile.
type ProfileLookup func(id string) (Profile, bool)

// Normalizer turns raw rows and change events into domain values. Sender
// display fields are resolved from the viewer's own profile or the lookup,
// falling back to the placeholder profile on a miss.
type Normalizer struct {
	userID string
	self   Profile
	lookup ProfileLookup
}

func NewNormalizer(self Profile, lookup ProfileLookup) *Normalizer {
	return &Normalizer{userID: self.ID, self: self, lookup: lookup}
}

// MessageFromRow builds a Message from one wire row. Rows with no id,
// sender, or receiver are rejected.
func (n *Normalizer) MessageFromRow(row Row) (Message, error) {
	id := toString(row["id"])
	senderID := toString(row["sender_id"])
	receiverID := toString(row["receiver_id"])
	if id == "" || senderID == "" || receiverID == "" {
		return Message{}, &MalformedEventError{Table: "messages", Reason: "missing id, sender_id or receiver_id"}
	}
	msg := Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    toString(row["content"]),
		RepliedID:  toString(row["replied_id"]),
		IsRead:     toBool(row["is_read"]),
		CreatedAt:  toTime(row["created_at"]),
	}
	profile := n.resolve(senderID)
	msg.Name = profile.Name
	msg.Phone = profile.Phone
	return msg, nil
}

func (n *Normalizer) resolve(id string) Profile {
	if n != nil && id == n.userID {
		return n.self
	}
	if n != nil && n.lookup != nil {
		if profile, ok := n.lookup(id); ok {
			return profile
		}
	}
	return PlaceholderProfile(id)
}

// NormalizeMessageEvent normalizes one messages change event.
func (n *Normalizer) NormalizeMessageEvent(event ChangeEvent) (Message, error) {
	if event.Table != "messages" {
		return Message{}, &MalformedEventError{Table: event.Table, Reason: "not a messages event"}
	}
	msg, err := n.MessageFromRow(event.Row)
	if err != nil {
		malformedEventsTotal.WithLabelValues("messages").Inc()
		return Message{}, err
	}
	return msg, nil
}

// NormalizeLabelEvent normalizes one chat_labels change event into a
// label assignment. Individual label elements that fail to decode or
// validate are dropped; a missing user or partner rejects the event whole.
func (n *Normalizer) NormalizeLabelEvent(event ChangeEvent) (LabelAssignment, error) {
	if event.Table != "chat_labels" {
		return LabelAssignment{}, &MalformedEventError{Table: event.Table, Reason: "not a chat_labels event"}
	}
	userID := toString(event.Row["user_id"])
	partnerID := toString(event.Row["chat_partner_id"])
	if userID == "" || partnerID == "" {
		malformedEventsTotal.WithLabelValues("chat_labels").Inc()
		return LabelAssignment{}, &MalformedEventError{Table: "chat_labels", Reason: "missing user_id or chat_partner_id"}
	}
	return LabelAssignment{
		UserID:    userID,
		PartnerID: partnerID,
		Labels:    ParseLabelList(event.Row["label_name"]),
	}, nil
}

// ParseLabelList decodes the label_name column, which carries either
// label objects or JSON-encoded strings of them. Invalid elements are
// dropped one by one; the rest of the list survives.
func ParseLabelList(raw any) []Label {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	labels := make([]Label, 0, len(list))
	for _, element := range list {
		label, err := decodeLabel(element)
		if err != nil {
			logger.Warn("invalid label element dropped", "err", err)
			malformedEventsTotal.WithLabelValues("chat_labels").Inc()
			continue
		}
		labels = append(labels, label)
	}
	return labels
}

func decodeLabel(element any) (Label, error) {
	value := element
	if encoded, ok := element.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(encoded), &decoded); err != nil {
			return Label{}, fmt.Errorf("label element is not valid JSON: %w", err)
		}
		value = decoded
	}
	if err := labelSchema.Validate(value); err != nil {
		return Label{}, fmt.Errorf("label element failed validation: %w", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return Label{}, fmt.Errorf("label element is not an object")
	}
	return Label{
		ID:    toString(obj["id"]),
		Name:  toString(obj["label_name"]),
		Color: toString(obj["color"]),
	}, nil
}
