// Package chat keeps per-participant message inboxes exchanged over the
// signaling channel.
package chat

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/AgilWave/examina-proctor/internal/signaling"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrNoRecipient  = errors.New("no recipient")
)

// Record is one message in an inbox.
type Record struct {
	From          string
	ParticipantID string
	Text          string
	SenderName    string
	At            time.Time
	Outgoing      bool
}

// Inbox is the conversation with one counterpart, in arrival order.
type Inbox struct {
	Counterpart string
	Records     []Record
	Open        bool
	Unread      int
}

// Options configures a Relay.
type Options struct {
	LocalID   string
	LocalName string
	LocalRole signaling.Role
	Send      func(ev signaling.Event) error
	// OnOpen runs when the user explicitly opens an inbox.
	OnOpen func(counterpart string)
	Now    func() time.Time
}

// Relay is the messaging client. Not safe for concurrent use.
type Relay struct {
	opts    Options
	inboxes map[string]*Inbox
}

// New creates a relay client.
func New(opts Options) *Relay {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Send == nil {
		opts.Send = func(signaling.Event) error { return nil }
	}
	return &Relay{opts: opts, inboxes: make(map[string]*Inbox)}
}

// SetLocalID updates the id stamped on outgoing messages.
func (r *Relay) SetLocalID(id string) {
	r.opts.LocalID = id
}

func (r *Relay) inbox(id string) *Inbox {
	in, ok := r.inboxes[id]
	if !ok {
		in = &Inbox{Counterpart: id}
		r.inboxes[id] = in
	}
	return in
}

// Send emits a private message and appends it to the target's inbox without
// waiting for delivery.
func (r *Relay) Send(targetID, text string) error {
	if targetID == "" {
		return ErrNoRecipient
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	// participantId always names the student side of the conversation.
	participantID := targetID
	if r.opts.LocalRole == signaling.RoleStudent {
		participantID = r.opts.LocalID
	}

	rec := Record{
		From:          r.opts.LocalID,
		ParticipantID: participantID,
		Text:          text,
		SenderName:    r.opts.LocalName,
		At:            r.opts.Now(),
		Outgoing:      true,
	}
	r.inbox(targetID).Records = append(r.inbox(targetID).Records, rec)

	return r.opts.Send(signaling.PrivateMessage{
		To:            targetID,
		From:          r.opts.LocalID,
		Message:       text,
		ParticipantID: participantID,
		SenderName:    r.opts.LocalName,
	})
}

// OnReceive appends an inbound message to the sender's inbox and makes the
// inbox visible.
func (r *Relay) OnReceive(msg signaling.PrivateMessage) {
	in := r.inbox(msg.From)
	in.Records = append(in.Records, Record{
		From:          msg.From,
		ParticipantID: msg.ParticipantID,
		Text:          msg.Message,
		SenderName:    msg.SenderName,
		At:            r.opts.Now(),
	})
	if !in.Open {
		in.Unread++
	}
	in.Open = true
}

// Open shows the inbox for id and acknowledges it.
func (r *Relay) Open(id string) {
	in := r.inbox(id)
	in.Open = true
	in.Unread = 0
	if r.opts.OnOpen != nil {
		r.opts.OnOpen(id)
	}
}

// Close hides the inbox for id. Its messages are kept.
func (r *Relay) Close(id string) {
	if in, ok := r.inboxes[id]; ok {
		in.Open = false
	}
}

// Inbox returns a copy of the conversation with id.
func (r *Relay) Inbox(id string) Inbox {
	in, ok := r.inboxes[id]
	if !ok {
		return Inbox{Counterpart: id}
	}
	out := *in
	out.Records = append([]Record(nil), in.Records...)
	return out
}

// Unread returns the number of messages received while the inbox was closed.
func (r *Relay) Unread(id string) int {
	if in, ok := r.inboxes[id]; ok {
		return in.Unread
	}
	return 0
}

// Conversations returns the ids with an inbox, sorted.
func (r *Relay) Conversations() []string {
	ids := make([]string, 0, len(r.inboxes))
	for id := range r.inboxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear drops every inbox.
func (r *Relay) Clear() {
	r.inboxes = make(map[string]*Inbox)
}
