package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/Kwendataxi/kwenda-sub003/internal/lifecycle"
	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

var ErrNotFound = errors.New("storage: order not found")

// OrderStore defines persistence for orders across all three kinds.
type OrderStore interface {
	SaveOrder(o *models.Order) error
	Get(id string) (*models.Order, error)
	// AssignDriver binds a driver to the order and, for taxi and delivery
	// kinds, moves it to driver_assigned. Bumps the version.
	AssignDriver(orderID, driverID string) (*models.Order, error)
	// UpdateStatus writes the new status and bumps the version.
	UpdateStatus(orderID, status string) (*models.Order, error)
	// ApplyStatus applies a pushed status event unless it is stale, i.e. its
	// version is not newer than what is stored. Returns whether it applied.
	ApplyStatus(ev models.StatusEvent) (bool, error)
	SaveRating(r models.Rating) error
	OrdersByDriver(driverID string) ([]*models.Order, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]*models.Order
	ratings []models.Rating
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*models.Order)}
}

func (m *MemoryStore) SaveOrder(o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) AssignDriver(orderID, driverID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	o.DriverID = driverID
	if st, ok := lifecycle.Assigned(o.Kind); ok {
		o.Status = st
	}
	o.Version++
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(orderID, status string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	o.Status = status
	o.Version++
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) ApplyStatus(ev models.StatusEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ev.OrderID]
	if !ok {
		return false, ErrNotFound
	}
	if ev.Version <= o.Version {
		return false, nil
	}
	o.Status = ev.Status
	o.Version = ev.Version
	o.UpdatedAt = ev.At
	return true, nil
}

func (m *MemoryStore) SaveRating(r models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.ratings = append(m.ratings, r)
	return nil
}

func (m *MemoryStore) OrdersByDriver(driverID string) ([]*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Order
	for _, o := range m.orders {
		if o.DriverID == driverID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Ratings() []models.Rating {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Rating(nil), m.ratings...)
}
