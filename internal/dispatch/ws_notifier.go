package dispatch

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

// wsMessage is the envelope every websocket frame uses.
type wsMessage struct {
	Type    string `json:"type"` // offer | offer_resolved | order_status
	Payload any    `json:"payload"`
}

type offerResolution struct {
	OfferID string `json:"offer_id"`
	OrderID string `json:"order_id"`
	Outcome string `json:"outcome"`
}

// WSSession is one connected client with a write lock, since gorilla
// connections allow a single concurrent writer.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(msg wsMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// WSRegistry holds driver sessions keyed by driver id and order-tracking
// sessions keyed by order id. It implements Notifier.
type WSRegistry struct {
	mu       sync.RWMutex
	drivers  map[string]*WSSession
	trackers map[string][]*WSSession
	offers   map[string]string // offerID -> driverID, for resolution routing
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{
		drivers:  make(map[string]*WSSession),
		trackers: make(map[string][]*WSSession),
		offers:   make(map[string]string),
	}
}

func (r *WSRegistry) AddDriver(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[driverID] = &WSSession{conn: conn}
}

// RemoveDriver drops the driver's session, but only if it still belongs to
// the given connection. A reconnect replaces the map entry, and the old
// connection's teardown must not evict the new one.
func (r *WSRegistry) RemoveDriver(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.drivers[driverID]; ok && s.conn == conn {
		delete(r.drivers, driverID)
	}
}

func (r *WSRegistry) AddTracker(orderID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[orderID] = append(r.trackers[orderID], &WSSession{conn: conn})
}

func (r *WSRegistry) RemoveTracker(orderID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.trackers[orderID]
	for i, s := range list {
		if s.conn == conn {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.trackers, orderID)
		return
	}
	r.trackers[orderID] = list
}

func (r *WSRegistry) OfferProposed(off models.Offer) error {
	r.mu.Lock()
	r.offers[off.ID] = off.DriverID
	s, ok := r.drivers[off.DriverID]
	r.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(wsMessage{Type: "offer", Payload: off})
}

func (r *WSRegistry) OfferResolved(offerID, orderID, outcome string) error {
	r.mu.Lock()
	driverID := r.offers[offerID]
	delete(r.offers, offerID)
	s, ok := r.drivers[driverID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.send(wsMessage{Type: "offer_resolved", Payload: offerResolution{
		OfferID: offerID, OrderID: orderID, Outcome: outcome,
	}})
}

func (r *WSRegistry) OrderStatus(ev models.StatusEvent) error {
	r.mu.RLock()
	sessions := append([]*WSSession(nil), r.trackers[ev.OrderID]...)
	r.mu.RUnlock()
	var firstErr error
	for _, s := range sessions {
		if err := s.send(wsMessage{Type: "order_status", Payload: ev}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
