// internal/app/realtime/hub.go
package realtime

import (
	"strings"
	"sync"

	"github.com/josefm09/tracker/internal/app/system/metrics"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Conn is one live client connection. Send must not block; a full or
// closed connection returns an error instead.
type Conn interface {
	ID() string
	UserID() primitive.ObjectID
	Send(Event) error
	Close()
}

// FamilyRoom is the channel every connected member of a family joins.
func FamilyRoom(familyID primitive.ObjectID) string { return "family:" + familyID.Hex() }

// UserRoom is a user's personal channel.
func UserRoom(userID primitive.ObjectID) string { return "user:" + userID.Hex() }

// IsFamilyRoom reports whether room is a family channel.
func IsFamilyRoom(room string) bool { return strings.HasPrefix(room, "family:") }

// Hub tracks connections and the rooms they are subscribed to.
// It is safe for concurrent use.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]Conn
	rooms     map[string]map[string]Conn
	connRooms map[string]map[string]struct{}
	userConns map[primitive.ObjectID]map[string]Conn

	log     *zap.Logger
	metrics metrics.Recorder
}

// NewHub returns an empty hub. A nil rec disables metrics.
func NewHub(log *zap.Logger, rec metrics.Recorder) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Hub{
		conns:     make(map[string]Conn),
		rooms:     make(map[string]map[string]Conn),
		connRooms: make(map[string]map[string]struct{}),
		userConns: make(map[primitive.ObjectID]map[string]Conn),
		log:       log,
		metrics:   rec,
	}
}

// Register adds c and reports whether it is its user's first connection.
func (h *Hub) Register(c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID()]; ok {
		return false
	}
	h.conns[c.ID()] = c
	h.connRooms[c.ID()] = make(map[string]struct{})
	byUser := h.userConns[c.UserID()]
	if byUser == nil {
		byUser = make(map[string]Conn)
		h.userConns[c.UserID()] = byUser
	}
	byUser[c.ID()] = c
	h.metrics.ConnectionOpened()
	return len(byUser) == 1
}

// Unregister removes c from the hub and every room. It reports whether
// c was its user's last connection and returns the rooms c was in.
func (h *Hub) Unregister(c Conn) (bool, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID()]; !ok {
		return false, nil
	}
	var rooms []string
	for room := range h.connRooms[c.ID()] {
		rooms = append(rooms, room)
		h.leaveLocked(c.ID(), room)
	}
	delete(h.connRooms, c.ID())
	delete(h.conns, c.ID())

	last := false
	if byUser := h.userConns[c.UserID()]; byUser != nil {
		delete(byUser, c.ID())
		if len(byUser) == 0 {
			delete(h.userConns, c.UserID())
			last = true
		}
	}
	h.metrics.ConnectionClosed()
	return last, rooms
}

// Join subscribes c to room. Unregistered connections are ignored.
func (h *Hub) Join(c Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c.ID(), room)
}

// Leave unsubscribes c from room.
func (h *Hub) Leave(c Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c.ID(), room)
}

func (h *Hub) joinLocked(connID, room string) {
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]Conn)
		h.rooms[room] = members
	}
	members[connID] = c
	h.connRooms[connID][room] = struct{}{}
}

func (h *Hub) leaveLocked(connID, room string) {
	if members := h.rooms[room]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined := h.connRooms[connID]; joined != nil {
		delete(joined, room)
	}
}

// SubscribeUser joins every connection of userID to the family's room.
// Membership changes made over REST use it to keep live sockets current.
func (h *Hub) SubscribeUser(userID, familyID primitive.ObjectID) {
	room := FamilyRoom(familyID)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.userConns[userID] {
		h.joinLocked(id, room)
	}
}

// UnsubscribeUser removes every connection of userID from the family's room.
func (h *Hub) UnsubscribeUser(userID, familyID primitive.ObjectID) {
	room := FamilyRoom(familyID)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.userConns[userID] {
		h.leaveLocked(id, room)
	}
}

// InRoom reports whether connID is subscribed to room.
func (h *Hub) InRoom(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// Online reports whether userID has at least one connection.
func (h *Hub) Online(userID primitive.ObjectID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns[userID]) > 0
}

// ConnCount returns the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

type emitOptions struct {
	except string
	allow  func(primitive.ObjectID) bool
}

// EmitOption narrows the audience of EmitRooms.
type EmitOption func(*emitOptions)

// Except skips the connection with the given id.
func Except(connID string) EmitOption {
	return func(o *emitOptions) { o.except = connID }
}

// OnlyUsers skips connections whose user fails allow.
func OnlyUsers(allow func(primitive.ObjectID) bool) EmitOption {
	return func(o *emitOptions) { o.allow = allow }
}

// EmitRooms sends ev once to every connection subscribed to any of rooms,
// even when a connection is in several of them. A failed send is logged
// and does not stop delivery to the others. It returns the number of
// connections that accepted the event.
func (h *Hub) EmitRooms(rooms []string, ev Event, opts ...EmitOption) int {
	var o emitOptions
	for _, opt := range opts {
		opt(&o)
	}

	h.mu.RLock()
	seen := make(map[string]bool)
	var targets []Conn
	for _, room := range rooms {
		for id, c := range h.rooms[room] {
			if seen[id] || id == o.except {
				continue
			}
			seen[id] = true
			if o.allow != nil && !o.allow(c.UserID()) {
				continue
			}
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.deliver(targets, ev)
}

// EmitToUser sends ev to every connection of userID.
func (h *Hub) EmitToUser(userID primitive.ObjectID, ev Event) int {
	return h.EmitRooms([]string{UserRoom(userID)}, ev)
}

// SendTo sends ev to a single connection.
func (h *Hub) SendTo(c Conn, ev Event) error {
	if err := c.Send(ev); err != nil {
		h.log.Warn("realtime: send failed",
			zap.String("conn_id", c.ID()),
			zap.String("event", ev.Name),
			zap.Error(err))
		h.metrics.DeliveryFailed(ev.Name)
		return err
	}
	return nil
}

func (h *Hub) deliver(targets []Conn, ev Event) int {
	delivered := 0
	for _, c := range targets {
		if err := c.Send(ev); err != nil {
			h.log.Warn("realtime: delivery failed",
				zap.String("conn_id", c.ID()),
				zap.String("user_id", c.UserID().Hex()),
				zap.String("event", ev.Name),
				zap.Error(err))
			h.metrics.DeliveryFailed(ev.Name)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		h.metrics.EventDelivered(ev.Name, delivered)
	}
	return delivered
}

// CloseUser closes every connection of userID and returns how many there
// were.
func (h *Hub) CloseUser(userID primitive.ObjectID) int {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.userConns[userID]))
	for _, c := range h.userConns[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}

// CloseAll closes every registered connection. Connections unregister
// themselves as their read loops exit.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}
