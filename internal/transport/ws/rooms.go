package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/orderchat/internal/domain"
	"github.com/vedran77/orderchat/internal/metrics"
	"nhooyr.io/websocket"
)

// maxPending bounds how many live events a syncing member may accumulate
// while its history is being replayed.
const maxPending = 1024

// Authorizer decides whether an identity may take part in an order's chat.
type Authorizer interface {
	Authorize(ctx context.Context, orderID uuid.UUID, id domain.Identity) (domain.Role, error)
}

// outbound is an encoded event plus the message sequence it carries (0 for
// events that are not messages).
type outbound struct {
	data []byte
	seq  int64
}

type membership struct {
	client   *Client
	role     domain.Role
	joinedAt time.Time

	// While syncing, live events are held in pending instead of being sent.
	syncing bool
	pending []outbound
}

type room struct {
	mu      sync.Mutex
	members map[uuid.UUID]*membership // keyed by connection ID
}

// Rooms holds the live membership of every order room on this instance.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]*room
	auth   Authorizer
	logger zerolog.Logger

	onEvict func(orderID, connID uuid.UUID)
}

func NewRooms(auth Authorizer, logger zerolog.Logger) *Rooms {
	return &Rooms{
		rooms:  make(map[uuid.UUID]*room),
		auth:   auth,
		logger: logger.With().Str("component", "rooms").Logger(),
	}
}

// OnEvict registers fn to run after a connection is pruned from a room.
// Set it before serving traffic.
func (r *Rooms) OnEvict(fn func(orderID, connID uuid.UUID)) {
	r.onEvict = fn
}

// Join authorizes c for the order and adds it to the room in syncing state.
// created is false when c was already a member; joining again changes nothing.
func (r *Rooms) Join(ctx context.Context, c *Client, orderID uuid.UUID) (role domain.Role, created bool, err error) {
	role, err = r.auth.Authorize(ctx, orderID, c.identity)
	if err != nil {
		return "", false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[orderID]
	if !ok {
		rm = &room{members: make(map[uuid.UUID]*membership)}
		r.rooms[orderID] = rm
		metrics.ActiveRooms.Inc()
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if m, ok := rm.members[c.id]; ok {
		return m.role, false, nil
	}
	rm.members[c.id] = &membership{
		client:   c,
		role:     role,
		joinedAt: time.Now(),
		syncing:  true,
	}
	c.addOrder(orderID)

	r.logger.Debug().
		Str("order_id", orderID.String()).
		Str("conn_id", c.id.String()).
		Str("role", string(role)).
		Msg("joined room")
	return role, true, nil
}

// Leave removes c from the order room. Leaving a room c is not in is a no-op.
func (r *Rooms) Leave(c *Client, orderID uuid.UUID) bool {
	c.removeOrder(orderID)

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[orderID]
	if !ok {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.members[c.id]; !ok {
		return false
	}
	delete(rm.members, c.id)
	if len(rm.members) == 0 {
		delete(r.rooms, orderID)
		metrics.ActiveRooms.Dec()
	}
	return true
}

// Prune removes every member of the order room whose user is no longer a
// participant and tells the connection with a FORBIDDEN error event.
func (r *Rooms) Prune(p domain.Participants) {
	rm := r.room(p.OrderID)
	if rm == nil || !rm.hasStrangers(p) {
		return
	}

	r.mu.Lock()
	rm.mu.Lock()
	var evicted []*Client
	for connID, m := range rm.members {
		if _, ok := p.RoleOf(m.client.identity.UserID); ok {
			continue
		}
		delete(rm.members, connID)
		evicted = append(evicted, m.client)
	}
	if len(rm.members) == 0 && r.rooms[p.OrderID] == rm {
		delete(r.rooms, p.OrderID)
		metrics.ActiveRooms.Dec()
	}
	rm.mu.Unlock()
	r.mu.Unlock()

	orderID := p.OrderID
	for _, c := range evicted {
		c.removeOrder(orderID)
		c.sendEvent(EventTypeError, &orderID, "", ErrorPayload{
			Code:    "FORBIDDEN",
			Message: "You are no longer a participant of this order",
		})
		c.logger.Info().Str("order_id", orderID.String()).Msg("removed from room, no longer a participant")
		if r.onEvict != nil {
			r.onEvict(orderID, c.id)
		}
	}
}

func (rm *room) hasStrangers(p domain.Participants) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, m := range rm.members {
		if _, ok := p.RoleOf(m.client.identity.UserID); !ok {
			return true
		}
	}
	return false
}

// MarkLive ends the syncing phase of c's membership: buffered events are sent
// in arrival order, skipping messages with seq <= lastSeq that the replayed
// history already contained.
func (r *Rooms) MarkLive(orderID, connID uuid.UUID, lastSeq int64) {
	rm := r.room(orderID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.members[connID]
	if !ok || !m.syncing {
		return
	}
	for _, out := range m.pending {
		if out.seq > 0 && out.seq <= lastSeq {
			continue
		}
		if !m.client.enqueue(out.data) {
			break
		}
	}
	m.pending = nil
	m.syncing = false
}

// Broadcast delivers out to every member of the order room except
// excludeConn. It never blocks on a slow connection.
func (r *Rooms) Broadcast(orderID uuid.UUID, out outbound, excludeConn uuid.UUID) {
	rm := r.room(orderID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	for connID, m := range rm.members {
		if connID == excludeConn {
			continue
		}
		if m.syncing {
			if len(m.pending) >= maxPending {
				metrics.DeliveryDrops.WithLabelValues("overflow").Inc()
				m.client.close(websocket.StatusPolicyViolation, "send buffer overflow")
				continue
			}
			m.pending = append(m.pending, out)
			continue
		}
		m.client.enqueue(out.data)
	}
}

// IsMember reports whether connID has joined the order room.
func (r *Rooms) IsMember(orderID, connID uuid.UUID) bool {
	rm := r.room(orderID)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, ok := rm.members[connID]
	return ok
}

// Size returns the number of connections in the order room.
func (r *Rooms) Size(orderID uuid.UUID) int {
	rm := r.room(orderID)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

func (r *Rooms) room(orderID uuid.UUID) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[orderID]
}
