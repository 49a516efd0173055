package relay

import "github.com/AgilWave/examina-proctor/internal/signaling"

// Room is the set of connections that joined one exam.
type Room struct {
	// ID is the exam id.
	ID string

	// members in join order.
	members []*Client
}

func (r *Room) add(c *Client) {
	r.members = append(r.members, c)
}

func (r *Room) remove(c *Client) bool {
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) find(id string) *Client {
	for _, m := range r.members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Users lists every member except the one with id skip.
func (r *Room) Users(skip string) []signaling.Member {
	users := make([]signaling.Member, 0, len(r.members))
	for _, m := range r.members {
		if m.ID != skip {
			users = append(users, m.Member)
		}
	}
	return users
}

// Len returns the number of members.
func (r *Room) Len() int {
	return len(r.members)
}
