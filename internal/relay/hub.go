// Package relay is a development signaling relay for exam rooms. It speaks
// the same event contract as the production relay so clients can be run
// end to end.
package relay

import (
	"context"
	"log/slog"

	"github.com/AgilWave/examina-proctor/internal/signaling"
)

// Hub is the central brain of the relay.
// It manages all active rooms and clients.
type Hub struct {
	// Rooms maps exam ids to Room instances.
	Rooms map[string]*Room

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Broadcast carries events read from clients to the hub.
	Broadcast chan *inbound

	log *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Rooms:      make(map[string]*Room),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *inbound),
		log:        logger,
	}
}

// Run starts the hub's main processing loop.
// This is the single goroutine that safely manages all state (rooms, clients).
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.Register:
			h.log.Debug("client registered", "id", c.ID, "codec", c.codec.Name())
			h.deliver(c, signaling.Connected{ID: c.ID})

		case c := <-h.Unregister:
			h.log.Debug("client unregistered", "id", c.ID)
			h.leave(c)
			close(c.send)

		case msg := <-h.Broadcast:
			h.handle(msg.client, msg.ev)
		}
	}
}

func (h *Hub) handle(c *Client, ev signaling.Event) {
	switch ev := ev.(type) {
	case signaling.JoinExam:
		h.join(c, ev)

	case signaling.Routed:
		room, ok := h.Rooms[c.ExamID]
		if !ok {
			h.deliver(c, signaling.ServerError{Message: "You must join an exam first"})
			return
		}
		h.route(room, c, ev)

	default:
		h.log.Debug("unexpected event from client", "id", c.ID, "type", ev.Type())
		h.deliver(c, signaling.ServerError{Message: "unexpected event " + string(ev.Type())})
	}
}

func (h *Hub) join(c *Client, ev signaling.JoinExam) {
	if c.ExamID != "" {
		h.leave(c)
	}

	room, ok := h.Rooms[ev.ExamID]
	if !ok {
		room = &Room{ID: ev.ExamID}
		h.Rooms[ev.ExamID] = room
		h.log.Info("room created", "exam", ev.ExamID)
	}

	c.ExamID = ev.ExamID
	c.Member = signaling.Member{
		ID:          c.ID,
		Role:        ev.Role,
		ExternalID:  ev.ExternalID,
		DisplayName: ev.DisplayName,
	}

	h.deliver(c, signaling.ExistingUsers{Users: room.Users(c.ID)})
	joined := signaling.UserJoined{
		ID:          c.ID,
		Role:        ev.Role,
		ExternalID:  ev.ExternalID,
		DisplayName: ev.DisplayName,
	}
	for _, m := range room.members {
		h.deliver(m, joined)
	}
	room.add(c)
	h.log.Info("client joined exam", "id", c.ID, "exam", ev.ExamID, "role", ev.Role)

	h.broadcastRoster(room)
}

// leave removes c from its room and tells the remaining members.
func (h *Hub) leave(c *Client) {
	room, ok := h.Rooms[c.ExamID]
	c.ExamID = ""
	if !ok || !room.remove(c) {
		return
	}

	if room.Len() == 0 {
		delete(h.Rooms, room.ID)
		h.log.Info("room deleted", "exam", room.ID)
		return
	}
	for _, m := range room.members {
		h.deliver(m, signaling.UserLeft{ID: c.ID})
	}
	h.broadcastRoster(room)
}

func (h *Hub) broadcastRoster(room *Room) {
	update := signaling.RosterUpdate{Users: room.Users("")}
	for _, m := range room.members {
		h.deliver(m, update)
	}
}

// route stamps the sender on ev and forwards it. Addressed events go to one
// member; the rest go to every other member, help requests and media status
// to proctors only.
func (h *Hub) route(room *Room, c *Client, ev signaling.Routed) {
	out := ev.WithOrigin(c.ID)

	if to := ev.Target(); to != "" {
		target := room.find(to)
		if target == nil {
			h.log.Debug("route failed: participant not in room", "from", c.ID, "to", to, "type", ev.Type())
			h.deliver(c, signaling.ServerError{Message: "participant " + to + " not found"})
			return
		}
		h.deliver(target, out)
		return
	}

	proctorsOnly := false
	switch ev.(type) {
	case signaling.HelpRequest, signaling.MediaStatus:
		proctorsOnly = true
	}
	for _, m := range room.members {
		if m == c || (proctorsOnly && !m.Member.Role.Proctor()) {
			continue
		}
		h.deliver(m, out)
	}
}

// deliver encodes ev with the client's codec and queues it. A client whose
// queue is full misses the event.
func (h *Hub) deliver(c *Client, ev signaling.Event) {
	frame, err := c.codec.Encode(ev)
	if err != nil {
		h.log.Warn("encode failed", "id", c.ID, "type", ev.Type(), "error", err)
		return
	}
	select {
	case c.send <- frame:
	default:
		h.log.Warn("send queue full, dropping event", "id", c.ID, "type", ev.Type())
	}
}
