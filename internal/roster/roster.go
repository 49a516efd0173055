// Package roster keeps presentation state for the participants of an exam
// room. It never holds connection objects.
package roster

import (
	"sort"
	"time"

	"github.com/AgilWave/examina-proctor/internal/signaling"
)

// MediaStatus is the last camera and microphone state a participant reported.
type MediaStatus struct {
	Webcam bool
	Mic    bool
}

// Participant is one remote party in the room.
type Participant struct {
	ID          string
	Role        signaling.Role
	ExternalID  string
	DisplayName string

	MediaStatus MediaStatus
	// StatusAt is zero until a media-status event arrives.
	StatusAt time.Time

	HandRaised   bool
	HandRaisedAt time.Time

	JoinedAt time.Time
}

// Label is what a view should show for the participant.
func (p Participant) Label() string {
	switch {
	case p.DisplayName != "" && p.ExternalID != "":
		return p.DisplayName + " (" + p.ExternalID + ")"
	case p.DisplayName != "":
		return p.DisplayName
	case p.ExternalID != "":
		return p.ExternalID
	default:
		return p.ID
	}
}

// Reported reports whether any media status has been received.
func (p Participant) Reported() bool {
	return !p.StatusAt.IsZero()
}

func (p *Participant) merge(m signaling.Member) {
	if m.Role != "" {
		p.Role = m.Role
	}
	if m.ExternalID != "" {
		p.ExternalID = m.ExternalID
	}
	if m.DisplayName != "" {
		p.DisplayName = m.DisplayName
	}
}

// Roster maps remote ids to participants. Data about ids that have not
// joined yet is held back and applied when they do. Events for the local id
// and for ids that already left are dropped. Not safe for concurrent use.
type Roster struct {
	ttl     time.Duration
	now     func() time.Time
	localID string
	members map[string]*Participant
	pending map[string]*Participant
	left    map[string]struct{}
}

// New creates a roster. A media status older than ttl is reported stale;
// zero disables staleness.
func New(ttl time.Duration, now func() time.Time) *Roster {
	if now == nil {
		now = time.Now
	}
	return &Roster{
		ttl:     ttl,
		now:     now,
		members: make(map[string]*Participant),
		pending: make(map[string]*Participant),
		left:    make(map[string]struct{}),
	}
}

// SetLocalID names the local participant, which is never listed.
func (r *Roster) SetLocalID(id string) {
	r.localID = id
	delete(r.members, id)
	delete(r.pending, id)
}

// Join records a participant named by a membership event. Known
// participants keep their state and gain any new identity fields.
func (r *Roster) Join(m signaling.Member) *Participant {
	delete(r.left, m.ID)
	if p, ok := r.members[m.ID]; ok {
		p.merge(m)
		return p
	}

	p, ok := r.pending[m.ID]
	if ok {
		delete(r.pending, m.ID)
	} else {
		p = &Participant{ID: m.ID}
	}
	p.JoinedAt = r.now()
	p.merge(m)
	r.members[m.ID] = p
	return p
}

// Correlate applies late identity data. Unknown ids are kept until they join.
func (r *Roster) Correlate(users []signaling.Member) {
	for _, u := range users {
		if p := r.lookup(u.ID); p != nil {
			p.merge(u)
		}
	}
}

// SetMediaStatus records a media-status report.
func (r *Roster) SetMediaStatus(id string, webcam, mic bool) {
	p := r.lookup(id)
	if p == nil {
		return
	}
	p.MediaStatus = MediaStatus{Webcam: webcam, Mic: mic}
	p.StatusAt = r.now()
}

// RaiseHand latches the help flag until Acknowledge.
func (r *Roster) RaiseHand(id string) {
	p := r.lookup(id)
	if p == nil {
		return
	}
	if !p.HandRaised {
		p.HandRaisedAt = r.now()
	}
	p.HandRaised = true
}

// Acknowledge clears the help flag. It is the only way the flag clears.
func (r *Roster) Acknowledge(id string) {
	for _, set := range []map[string]*Participant{r.members, r.pending} {
		if p, ok := set[id]; ok {
			p.HandRaised = false
			p.HandRaisedAt = time.Time{}
		}
	}
}

// lookup returns the member or a pending placeholder for id, or nil when id
// is local or has left.
func (r *Roster) lookup(id string) *Participant {
	if p, ok := r.members[id]; ok {
		return p
	}
	if _, gone := r.left[id]; gone || id == "" || id == r.localID {
		return nil
	}
	p, ok := r.pending[id]
	if !ok {
		p = &Participant{ID: id}
		r.pending[id] = p
	}
	return p
}

// Remove forgets a participant. Later events for id are dropped until it
// joins again.
func (r *Roster) Remove(id string) {
	delete(r.members, id)
	delete(r.pending, id)
	r.left[id] = struct{}{}
}

// Clear forgets everyone.
func (r *Roster) Clear() {
	r.members = make(map[string]*Participant)
	r.pending = make(map[string]*Participant)
	r.left = make(map[string]struct{})
}

// Get returns a copy of the participant.
func (r *Roster) Get(id string) (Participant, bool) {
	p, ok := r.members[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Len returns the number of joined participants.
func (r *Roster) Len() int {
	return len(r.members)
}

// Stale reports whether the participant's media status is missing or older
// than the configured ttl.
func (r *Roster) Stale(id string) bool {
	p, ok := r.members[id]
	if !ok || r.ttl <= 0 {
		return false
	}
	if !p.Reported() {
		return true
	}
	return r.now().Sub(p.StatusAt) > r.ttl
}

// Snapshot returns copies of all participants ordered by join time.
func (r *Roster) Snapshot() []Participant {
	out := make([]Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Students returns the snapshot restricted to students and participants of
// unknown role.
func (r *Roster) Students() []Participant {
	all := r.Snapshot()
	out := all[:0]
	for _, p := range all {
		if !p.Role.Proctor() {
			out = append(out, p)
		}
	}
	return out
}
