package availability

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
	"github.com/Kwendataxi/kwenda-sub003/internal/observability"
	"github.com/Kwendataxi/kwenda-sub003/internal/presence"
)

var (
	ErrNoLocation   = errors.New("availability: going online requires a location fix")
	ErrOffline      = errors.New("availability: driver is offline")
	ErrActiveOrders = errors.New("availability: driver still holds active orders")
)

// ActiveOrders reports how many orders a driver currently holds. The
// dispatch service provides this.
type ActiveOrders interface {
	ActiveCountFor(driverID string) int
}

// Service is the authority for the two-level driver state: Online (the app
// is on shift) and Available (willing to take the next offer). It refuses
// the transitions the clients used to merely grey out.
type Service struct {
	pres   presence.Presence
	active ActiveOrders
	logger *slog.Logger

	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewService(pres presence.Presence, active ActiveOrders, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pres: pres, active: active, logger: logger, drivers: make(map[string]models.Driver)}
}

// SetOnline brings a driver on shift. A missing or zero location fix blocks
// the transition; there is no fallback to a stale position.
func (s *Service) SetOnline(ctx context.Context, driverID string, loc models.Coord, rating float64) error {
	if loc.IsZero() {
		return ErrNoLocation
	}
	s.mu.Lock()
	d := s.drivers[driverID]
	wasOnline := d.Online
	d.ID = driverID
	d.Loc = loc
	d.Rating = rating
	d.Online = true
	d.Available = true
	d.Updated = time.Now()
	s.drivers[driverID] = d
	s.mu.Unlock()

	s.pres.Upsert(d)
	if !wasOnline {
		observability.DriversOnline.Inc()
	}
	s.logger.Info("driver online", "driver_id", driverID, "lat", loc.Lat, "lon", loc.Lon)
	return nil
}

// SetOffline ends the shift. Refused while the driver holds active orders.
func (s *Service) SetOffline(ctx context.Context, driverID string) error {
	if s.active.ActiveCountFor(driverID) > 0 {
		return ErrActiveOrders
	}
	s.mu.Lock()
	d, ok := s.drivers[driverID]
	if !ok || !d.Online {
		s.mu.Unlock()
		return nil
	}
	d.Online = false
	d.Available = false
	d.Updated = time.Now()
	s.drivers[driverID] = d
	s.mu.Unlock()

	s.pres.Upsert(d)
	observability.DriversOnline.Dec()
	s.logger.Info("driver offline", "driver_id", driverID)
	return nil
}

// SetAvailable toggles willingness to receive offers. Turning it off is
// refused while the driver holds active orders; turning it on requires
// being online.
func (s *Service) SetAvailable(ctx context.Context, driverID string, available bool) error {
	if !available && s.active.ActiveCountFor(driverID) > 0 {
		return ErrActiveOrders
	}
	s.mu.Lock()
	d, ok := s.drivers[driverID]
	if !ok || !d.Online {
		s.mu.Unlock()
		return ErrOffline
	}
	d.Available = available
	d.Updated = time.Now()
	s.drivers[driverID] = d
	s.mu.Unlock()

	s.pres.Upsert(d)
	s.logger.Info("driver availability changed", "driver_id", driverID, "available", available)
	return nil
}

// UpdateLocation records a position fix for an online driver.
func (s *Service) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	if loc.IsZero() {
		return ErrNoLocation
	}
	s.mu.Lock()
	d, ok := s.drivers[driverID]
	if !ok || !d.Online {
		s.mu.Unlock()
		return ErrOffline
	}
	d.Loc = loc
	d.Updated = time.Now()
	s.drivers[driverID] = d
	s.mu.Unlock()

	s.pres.Upsert(d)
	return nil
}

func (s *Service) Status(driverID string) (models.Driver, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[driverID]
	return d, ok
}
