package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType discriminates the variants carried over the signaling channel.
type EventType string

// Event type constants.
const (
	TypeConnected           EventType = "connected"
	TypeJoinExam            EventType = "join-exam"
	TypeExistingUsers       EventType = "existing-users"
	TypeUserJoined          EventType = "user-joined"
	TypeUserLeft            EventType = "user-left"
	TypeRosterUpdate        EventType = "roster-update"
	TypeSignal              EventType = "signal"
	TypeVoiceSignal         EventType = "voice-signal"
	TypeVoiceConnectRequest EventType = "voice-connect-request"
	TypeVoiceDisconnect     EventType = "voice-disconnect"
	TypeMediaStatus         EventType = "media-status"
	TypeHelpRequest         EventType = "student-help-request"
	TypePrivateMessage      EventType = "private-message"
	TypeError               EventType = "error"
)

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrInvalidEvent = errors.New("invalid event")
)

// Role of a participant in an exam room.
type Role string

// Roles.
const (
	RoleAdmin    Role = "admin"
	RoleLecturer Role = "lecturer"
	RoleStudent  Role = "student"
)

// Proctor reports whether the role watches students rather than publishing.
func (r Role) Proctor() bool {
	return r == RoleAdmin || r == RoleLecturer
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r.Proctor() || r == RoleStudent
}

// Event is one decoded signaling message.
type Event interface {
	Type() EventType
	Validate() error
}

// Routed is implemented by events relayed between participants. Target is
// empty for room broadcasts. Origin is stamped by the relay on delivery.
type Routed interface {
	Event
	Target() string
	Origin() string
	WithOrigin(id string) Event
}

// Member describes one participant in membership events.
type Member struct {
	ID          string `json:"id" msgpack:"id"`
	Role        Role   `json:"role,omitempty" msgpack:"role,omitempty"`
	ExternalID  string `json:"externalId,omitempty" msgpack:"externalId,omitempty"`
	DisplayName string `json:"displayName,omitempty" msgpack:"displayName,omitempty"`
}

// Connected is sent by the relay right after the socket opens and carries
// the id assigned to this connection.
type Connected struct {
	ID string `json:"id" msgpack:"id"`
}

// JoinExam is sent by every participant on entering a room.
type JoinExam struct {
	ExamID      string `json:"examId" msgpack:"examId"`
	Role        Role   `json:"role" msgpack:"role"`
	ExternalID  string `json:"externalId,omitempty" msgpack:"externalId,omitempty"`
	DisplayName string `json:"displayName,omitempty" msgpack:"displayName,omitempty"`
}

// ExistingUsers lists current membership to a newly joined participant.
type ExistingUsers struct {
	Users []Member `json:"users" msgpack:"users"`
}

// UserJoined is broadcast when a participant joins after the receiver.
type UserJoined struct {
	ID          string `json:"id" msgpack:"id"`
	Role        Role   `json:"role,omitempty" msgpack:"role,omitempty"`
	ExternalID  string `json:"externalId,omitempty" msgpack:"externalId,omitempty"`
	DisplayName string `json:"displayName,omitempty" msgpack:"displayName,omitempty"`
}

// Member returns the joined participant's membership record.
func (e UserJoined) Member() Member {
	return Member{ID: e.ID, Role: e.Role, ExternalID: e.ExternalID, DisplayName: e.DisplayName}
}

// UserLeft is broadcast when a participant disconnects.
type UserLeft struct {
	ID string `json:"id" msgpack:"id"`
}

// RosterUpdate carries identity data correlated after the join.
type RosterUpdate struct {
	Users []Member `json:"users" msgpack:"users"`
}

// Signal relays an opaque negotiation payload on the main media keyspace.
type Signal struct {
	To         string     `json:"to,omitempty" msgpack:"to,omitempty"`
	Sender     string     `json:"sender,omitempty" msgpack:"sender,omitempty"`
	SignalData SignalData `json:"signalData" msgpack:"signalData"`
}

// VoiceSignal relays an opaque negotiation payload on the voice keyspace.
type VoiceSignal struct {
	To         string     `json:"to,omitempty" msgpack:"to,omitempty"`
	Sender     string     `json:"sender,omitempty" msgpack:"sender,omitempty"`
	SignalData SignalData `json:"signalData" msgpack:"signalData"`
}

// VoiceConnectRequest asks a participant to open a voice side channel.
type VoiceConnectRequest struct {
	To   string `json:"to" msgpack:"to"`
	From string `json:"from,omitempty" msgpack:"from,omitempty"`
}

// VoiceDisconnect tears the voice side channel down on both ends.
type VoiceDisconnect struct {
	To   string `json:"to" msgpack:"to"`
	From string `json:"from,omitempty" msgpack:"from,omitempty"`
}

// MediaStatus reports a student's camera and microphone state.
type MediaStatus struct {
	Sender string `json:"sender,omitempty" msgpack:"sender,omitempty"`
	Webcam bool   `json:"webcam" msgpack:"webcam"`
	Mic    bool   `json:"mic" msgpack:"mic"`
	ExamID string `json:"examId" msgpack:"examId"`
}

// HelpRequest raises a student's hand for the proctors.
type HelpRequest struct {
	From   string `json:"from,omitempty" msgpack:"from,omitempty"`
	ExamID string `json:"examId" msgpack:"examId"`
}

// PrivateMessage is one chat line between two participants.
type PrivateMessage struct {
	To            string `json:"to" msgpack:"to"`
	From          string `json:"from,omitempty" msgpack:"from,omitempty"`
	Message       string `json:"message" msgpack:"message"`
	ParticipantID string `json:"participantId" msgpack:"participantId"`
	SenderName    string `json:"senderName,omitempty" msgpack:"senderName,omitempty"`
}

// ServerError is reported by the relay.
type ServerError struct {
	Message string `json:"error" msgpack:"error"`
}

func (Connected) Type() EventType           { return TypeConnected }
func (JoinExam) Type() EventType            { return TypeJoinExam }
func (ExistingUsers) Type() EventType       { return TypeExistingUsers }
func (UserJoined) Type() EventType          { return TypeUserJoined }
func (UserLeft) Type() EventType            { return TypeUserLeft }
func (RosterUpdate) Type() EventType        { return TypeRosterUpdate }
func (Signal) Type() EventType              { return TypeSignal }
func (VoiceSignal) Type() EventType         { return TypeVoiceSignal }
func (VoiceConnectRequest) Type() EventType { return TypeVoiceConnectRequest }
func (VoiceDisconnect) Type() EventType     { return TypeVoiceDisconnect }
func (MediaStatus) Type() EventType         { return TypeMediaStatus }
func (HelpRequest) Type() EventType         { return TypeHelpRequest }
func (PrivateMessage) Type() EventType      { return TypePrivateMessage }
func (ServerError) Type() EventType         { return TypeError }

func invalid(t EventType, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidEvent, t, fmt.Sprintf(format, args...))
}

func (e Connected) Validate() error {
	if e.ID == "" {
		return invalid(TypeConnected, "missing id")
	}
	return nil
}

func (e JoinExam) Validate() error {
	if e.ExamID == "" {
		return invalid(TypeJoinExam, "missing examId")
	}
	if !e.Role.Valid() {
		return invalid(TypeJoinExam, "unknown role %q", e.Role)
	}
	return nil
}

func validateMembers(t EventType, users []Member) error {
	for i, u := range users {
		if u.ID == "" {
			return invalid(t, "user %d missing id", i)
		}
	}
	return nil
}

func (e ExistingUsers) Validate() error { return validateMembers(TypeExistingUsers, e.Users) }
func (e RosterUpdate) Validate() error  { return validateMembers(TypeRosterUpdate, e.Users) }

func (e UserJoined) Validate() error {
	if e.ID == "" {
		return invalid(TypeUserJoined, "missing id")
	}
	return nil
}

func (e UserLeft) Validate() error {
	if e.ID == "" {
		return invalid(TypeUserLeft, "missing id")
	}
	return nil
}

func validateSignal(t EventType, to, sender string, data SignalData) error {
	if to == "" && sender == "" {
		return invalid(t, "missing to and sender")
	}
	if len(data) == 0 {
		return invalid(t, "empty signalData")
	}
	return nil
}

func (e Signal) Validate() error      { return validateSignal(TypeSignal, e.To, e.Sender, e.SignalData) }
func (e VoiceSignal) Validate() error { return validateSignal(TypeVoiceSignal, e.To, e.Sender, e.SignalData) }

func (e VoiceConnectRequest) Validate() error {
	if e.To == "" && e.From == "" {
		return invalid(TypeVoiceConnectRequest, "missing to and from")
	}
	return nil
}

func (e VoiceDisconnect) Validate() error {
	if e.To == "" && e.From == "" {
		return invalid(TypeVoiceDisconnect, "missing to and from")
	}
	return nil
}

func (e MediaStatus) Validate() error {
	if e.ExamID == "" {
		return invalid(TypeMediaStatus, "missing examId")
	}
	return nil
}

func (e HelpRequest) Validate() error {
	if e.ExamID == "" {
		return invalid(TypeHelpRequest, "missing examId")
	}
	return nil
}

func (e PrivateMessage) Validate() error {
	if e.To == "" && e.From == "" {
		return invalid(TypePrivateMessage, "missing to and from")
	}
	return nil
}

func (ServerError) Validate() error { return nil }

func (e Signal) Target() string      { return e.To }
func (e Signal) Origin() string      { return e.Sender }
func (e VoiceSignal) Target() string { return e.To }
func (e VoiceSignal) Origin() string { return e.Sender }

func (e VoiceConnectRequest) Target() string { return e.To }
func (e VoiceConnectRequest) Origin() string { return e.From }
func (e VoiceDisconnect) Target() string     { return e.To }
func (e VoiceDisconnect) Origin() string     { return e.From }
func (e MediaStatus) Target() string         { return "" }
func (e MediaStatus) Origin() string         { return e.Sender }
func (e HelpRequest) Target() string         { return "" }
func (e HelpRequest) Origin() string         { return e.From }
func (e PrivateMessage) Target() string      { return e.To }
func (e PrivateMessage) Origin() string      { return e.From }

func (e Signal) WithOrigin(id string) Event {
	e.Sender = id
	return e
}
func (e VoiceSignal) WithOrigin(id string) Event {
	e.Sender = id
	return e
}
func (e VoiceConnectRequest) WithOrigin(id string) Event {
	e.From = id
	return e
}
func (e VoiceDisconnect) WithOrigin(id string) Event {
	e.From = id
	return e
}
func (e MediaStatus) WithOrigin(id string) Event {
	e.Sender = id
	return e
}
func (e HelpRequest) WithOrigin(id string) Event {
	e.From = id
	return e
}

// WithOrigin stamps the sender. ParticipantID names the student side of the
// conversation and is filled from the sender when the client left it empty.
func (e PrivateMessage) WithOrigin(id string) Event {
	e.From = id
	if e.ParticipantID == "" {
		e.ParticipantID = id
	}
	return e
}

// SignalKind is the negotiation step carried by a SignalData payload.
type SignalKind int

// Signal kinds.
const (
	SignalUnknown SignalKind = iota
	SignalOffer
	SignalAnswer
	SignalCandidate
)

func (k SignalKind) String() string {
	switch k {
	case SignalOffer:
		return "offer"
	case SignalAnswer:
		return "answer"
	case SignalCandidate:
		return "candidate"
	default:
		return "unknown"
	}
}

// SignalData is an opaque negotiation payload. It is forwarded byte for
// byte; only Kind peeks inside it.
type SignalData []byte

// MarshalJSON emits the payload verbatim.
func (d SignalData) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON keeps a copy of the raw payload.
func (d *SignalData) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = nil
		return nil
	}
	*d = append((*d)[:0], b...)
	return nil
}

// Kind classifies the payload as offer, answer or candidate.
func (d SignalData) Kind() SignalKind {
	var peek struct {
		Type      string          `json:"type"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(d, &peek); err != nil {
		return SignalUnknown
	}
	switch {
	case peek.Type == "offer":
		return SignalOffer
	case peek.Type == "answer":
		return SignalAnswer
	case len(peek.Candidate) > 0 && string(peek.Candidate) != "null":
		return SignalCandidate
	default:
		return SignalUnknown
	}
}
