package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kwendataxi/kwenda-sub003/internal/lifecycle"
	"github.com/Kwendataxi/kwenda-sub003/internal/models"
	"github.com/Kwendataxi/kwenda-sub003/internal/observability"
	"github.com/Kwendataxi/kwenda-sub003/internal/payments"
	"github.com/Kwendataxi/kwenda-sub003/internal/presence"
	"github.com/Kwendataxi/kwenda-sub003/internal/storage"
)

var (
	ErrOfferGone   = errors.New("dispatch: offer no longer pending")
	ErrWrongDriver = errors.New("dispatch: offer addressed to another driver")
	ErrInFlight    = errors.New("dispatch: request already in flight for this entity")
	ErrNoDrivers   = errors.New("dispatch: no drivers available")
	ErrNotFinal    = errors.New("dispatch: next transition is not terminal")
	ErrNoPickup    = errors.New("dispatch: order pickup not geocoded")
)

// Offer resolution outcomes, used for fan-out and metrics.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeExpired  = "expired"
)

// EventSink receives the change-feed record for every status write.
type EventSink interface {
	PublishStatus(ev models.StatusEvent) error
}

// Service owns the dispatch state for one process: offers waiting on a
// driver's answer, orders a driver is working, and the per-entity in-flight
// set that stops double submits. Collaborators are injected; nothing here is
// package-level.
type Service struct {
	store  storage.OrderStore
	pres   presence.Presence
	notify Notifier
	logger *slog.Logger

	// Optional collaborators, set before first use.
	Pay    payments.Processor
	Events EventSink

	OfferTTL        time.Duration
	NearbyLimit     int
	DefaultSpeedMps float64

	now func() time.Time

	mu       sync.Mutex
	pending  []*models.Offer // arrival order
	byOffer  map[string]*models.Offer
	active   map[string]*models.Order
	inflight map[string]struct{}
	holds    map[string]string // orderID -> payment hold id
}

func NewService(store storage.OrderStore, pres presence.Presence, notify Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Service{
		store:           store,
		pres:            pres,
		notify:          notify,
		logger:          logger,
		OfferTTL:        30 * time.Second,
		NearbyLimit:     8,
		DefaultSpeedMps: 8.0,
		now:             time.Now,
		byOffer:         make(map[string]*models.Offer),
		active:          make(map[string]*models.Order),
		inflight:        make(map[string]struct{}),
		holds:           make(map[string]string),
	}
}

// Propose picks the best nearby driver for the order and puts a time-limited
// offer in front of them. The deadline is a wall-clock timestamp carried on
// the offer itself, so clients that reload still see the same countdown.
func (s *Service) Propose(ctx context.Context, o *models.Order) (*models.Offer, error) {
	if !o.Pickup.Geocoded() {
		return nil, ErrNoPickup
	}
	cands := s.pres.Nearby(o.Pickup.Coord.Lat, o.Pickup.Coord.Lon, s.NearbyLimit)
	if len(cands) == 0 {
		return nil, ErrNoDrivers
	}

	best := cands[0]
	bestCost := s.cost(best, o.Pickup.Coord)
	for _, d := range cands[1:] {
		if c := s.cost(d, o.Pickup.Coord); c < bestCost {
			best, bestCost = d, c
		}
	}

	distM := presence.Haversine(best.Loc.Lat, best.Loc.Lon, o.Pickup.Coord.Lat, o.Pickup.Coord.Lon)
	off := &models.Offer{
		ID:             uuid.NewString(),
		OrderID:        o.ID,
		Kind:           o.Kind,
		DriverID:       best.ID,
		Pickup:         o.Pickup,
		EstimatedPrice: o.Price,
		DistanceKm:     distM / 1000,
		Urgency:        urgencyFor(distM),
		ExpiresAt:      s.now().Add(s.OfferTTL),
	}

	s.mu.Lock()
	s.pending = append(s.pending, off)
	s.byOffer[off.ID] = off
	s.mu.Unlock()

	observability.OffersProposed.WithLabelValues(string(o.Kind)).Inc()
	if err := s.notify.OfferProposed(*off); err != nil {
		s.logger.Warn("offer fan-out failed", "offer_id", off.ID, "driver_id", best.ID, "error", err)
	}
	s.logger.Info("offer proposed", "offer_id", off.ID, "order_id", o.ID, "driver_id", best.ID,
		"distance_km", off.DistanceKm, "urgency", off.Urgency)
	return off, nil
}

// cost mirrors the matcher weighting: estimated seconds to pickup plus a
// rating penalty.
func (s *Service) cost(d models.Driver, pickup models.Coord) float64 {
	distM := presence.Haversine(d.Loc.Lat, d.Loc.Lon, pickup.Lat, pickup.Lon)
	speed := s.DefaultSpeedMps
	if speed <= 0 {
		speed = 8.0
	}
	return distM/speed + 30.0*(5.0-d.Rating)
}

func urgencyFor(distMeters float64) models.Urgency {
	switch {
	case distMeters <= 1500:
		return models.UrgencyHigh
	case distMeters <= 4000:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

// Accept assigns the offer's order to the driver. On any backend failure the
// offer stays pending and the error is returned; nothing is mutated locally.
func (s *Service) Accept(ctx context.Context, driverID, offerID string) (*models.Order, error) {
	s.mu.Lock()
	off, ok := s.byOffer[offerID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrOfferGone
	}
	// The sweep runs on a timer, so an answer can arrive after the deadline
	// but before the next tick. The deadline wins.
	if off.Expired(s.now()) {
		s.removeOfferLocked(offerID)
		s.mu.Unlock()
		s.notifyExpired(off)
		return nil, ErrOfferGone
	}
	if off.DriverID != driverID {
		s.mu.Unlock()
		return nil, ErrWrongDriver
	}
	if _, busy := s.inflight[offerID]; busy {
		s.mu.Unlock()
		return nil, ErrInFlight
	}
	s.inflight[offerID] = struct{}{}
	s.mu.Unlock()
	defer s.clearInflight(offerID)

	order, err := s.store.AssignDriver(off.OrderID, driverID)
	if err != nil {
		return nil, fmt.Errorf("assign driver: %w", err)
	}

	if s.Pay != nil && order.Price > 0 {
		holdID, err := s.Pay.Hold(ctx, order.Price, "", order.CustomerID)
		if err != nil {
			// The order is assigned either way; the fare is settled in cash
			// when the hold cannot be placed.
			s.logger.Warn("payment hold failed", "order_id", order.ID, "error", err)
		} else {
			s.mu.Lock()
			s.holds[order.ID] = holdID
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.removeOfferLocked(offerID)
	s.active[order.ID] = order
	s.mu.Unlock()

	observability.OffersAccepted.WithLabelValues(string(order.Kind)).Inc()
	observability.ActiveOrders.Inc()
	s.fanOutStatus(order)
	if err := s.notify.OfferResolved(offerID, order.ID, OutcomeAccepted); err != nil {
		s.logger.Warn("offer resolution fan-out failed", "offer_id", offerID, "error", err)
	}
	return order, nil
}

// Reject drops the offer. Only the driver it was addressed to may reject it.
// Rejecting an offer that is already gone (expired, accepted, or rejected
// twice) is a no-op.
func (s *Service) Reject(ctx context.Context, driverID, offerID string) error {
	s.mu.Lock()
	off, ok := s.byOffer[offerID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if off.DriverID != driverID {
		s.mu.Unlock()
		return ErrWrongDriver
	}
	s.removeOfferLocked(offerID)
	s.mu.Unlock()

	observability.OffersRejected.Inc()
	// Best-effort backend notice; a lost rejection only delays re-dispatch.
	if err := s.notify.OfferResolved(offerID, off.OrderID, OutcomeRejected); err != nil {
		s.logger.Warn("reject fan-out failed", "offer_id", offerID, "error", err)
	}
	return nil
}

// Advance moves the order one step forward in its kind's sequence. Local
// state changes only after the store write succeeds.
func (s *Service) Advance(ctx context.Context, orderID string) (*models.Order, error) {
	return s.advance(ctx, orderID, false)
}

// Complete performs the terminal forward transition and settles the payment
// hold. It refuses orders whose next step is not terminal.
func (s *Service) Complete(ctx context.Context, orderID string) (*models.Order, error) {
	return s.advance(ctx, orderID, true)
}

func (s *Service) advance(ctx context.Context, orderID string, requireTerminal bool) (*models.Order, error) {
	s.mu.Lock()
	if _, busy := s.inflight[orderID]; busy {
		s.mu.Unlock()
		return nil, ErrInFlight
	}
	s.inflight[orderID] = struct{}{}
	o, isActive := s.active[orderID]
	s.mu.Unlock()
	defer s.clearInflight(orderID)

	// Marketplace orders move through their merchant stages before any
	// driver holds them; those live only in the store.
	if !isActive {
		stored, err := s.store.Get(orderID)
		if err != nil {
			return nil, err
		}
		o = stored
	}
	kind, status, pickupOnly := o.Kind, o.Status, o.PickupOnly

	next, _, ok, err := lifecycle.Next(kind, status, pickupOnly)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("dispatch: no forward transition for order %s at %q", orderID, status)
	}
	if requireTerminal && !lifecycle.IsTerminal(kind, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNotFinal, status, next)
	}

	updated, err := s.store.UpdateStatus(orderID, next)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	terminal := lifecycle.IsTerminal(kind, next)
	var holdID string
	s.mu.Lock()
	if terminal {
		delete(s.active, orderID)
		holdID = s.holds[orderID]
		delete(s.holds, orderID)
	} else if isActive {
		s.active[orderID] = updated
	}
	s.mu.Unlock()

	observability.StatusTransitions.WithLabelValues(string(kind), next).Inc()
	if terminal && isActive {
		observability.ActiveOrders.Dec()
		if holdID != "" && s.Pay != nil {
			if err := s.Pay.Capture(ctx, holdID); err != nil {
				s.logger.Error("payment capture failed", "order_id", orderID, "hold_id", holdID, "error", err)
			}
		}
	}
	s.fanOutStatus(updated)
	return updated, nil
}

// Cancel voids a non-terminal order and releases any payment hold.
func (s *Service) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	if _, busy := s.inflight[orderID]; busy {
		s.mu.Unlock()
		return nil, ErrInFlight
	}
	s.inflight[orderID] = struct{}{}
	o, isActive := s.active[orderID]
	s.mu.Unlock()
	defer s.clearInflight(orderID)

	if !isActive {
		stored, err := s.store.Get(orderID)
		if err != nil {
			return nil, err
		}
		o = stored
	}
	kind := o.Kind
	if lifecycle.IsTerminal(kind, o.Status) {
		return nil, fmt.Errorf("dispatch: order %s already terminal at %q", orderID, o.Status)
	}

	updated, err := s.store.UpdateStatus(orderID, lifecycle.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}

	s.mu.Lock()
	delete(s.active, orderID)
	holdID := s.holds[orderID]
	delete(s.holds, orderID)
	s.mu.Unlock()

	observability.StatusTransitions.WithLabelValues(string(kind), lifecycle.StatusCancelled).Inc()
	if isActive {
		observability.ActiveOrders.Dec()
	}
	if holdID != "" && s.Pay != nil {
		if err := s.Pay.Release(ctx, holdID); err != nil {
			s.logger.Error("payment release failed", "order_id", orderID, "hold_id", holdID, "error", err)
		}
	}
	s.fanOutStatus(updated)
	return updated, nil
}

// ExpireOverdue sweeps offers whose deadline has passed through the same
// path as an explicit rejection. Removal happens under one lock acquisition,
// so each offer expires at most once no matter how often the sweep runs.
func (s *Service) ExpireOverdue() int {
	now := s.now()
	s.mu.Lock()
	var expired []*models.Offer
	for _, off := range s.pending {
		if off.Expired(now) {
			expired = append(expired, off)
		}
	}
	for _, off := range expired {
		s.removeOfferLocked(off.ID)
	}
	s.mu.Unlock()

	for _, off := range expired {
		s.notifyExpired(off)
	}
	return len(expired)
}

func (s *Service) notifyExpired(off *models.Offer) {
	observability.OffersExpired.Inc()
	if err := s.notify.OfferResolved(off.ID, off.OrderID, OutcomeExpired); err != nil {
		s.logger.Warn("expiry fan-out failed", "offer_id", off.ID, "error", err)
	}
	s.logger.Info("offer expired", "offer_id", off.ID, "order_id", off.OrderID, "driver_id", off.DriverID)
}

// Run drives the expiry sweep until the context ends.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.ExpireOverdue()
		}
	}
}

// Pending returns the offers awaiting a driver response, in arrival order.
func (s *Service) Pending() []models.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Offer, len(s.pending))
	for i, off := range s.pending {
		out[i] = *off
	}
	return out
}

// Active returns copies of the orders currently held by drivers.
func (s *Service) Active() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Order, 0, len(s.active))
	for _, o := range s.active {
		out = append(out, *o)
	}
	return out
}

func (s *Service) ActiveOrder(orderID string) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.active[orderID]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

// ActiveCountFor reports how many orders the driver currently holds. The
// availability toggle uses this to refuse going unavailable mid-job.
func (s *Service) ActiveCountFor(driverID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.active {
		if o.DriverID == driverID {
			n++
		}
	}
	return n
}

func (s *Service) removeOfferLocked(offerID string) {
	delete(s.byOffer, offerID)
	for i, off := range s.pending {
		if off.ID == offerID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
}

func (s *Service) clearInflight(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *Service) fanOutStatus(o *models.Order) {
	ev := models.StatusEvent{OrderID: o.ID, Kind: o.Kind, Status: o.Status, Version: o.Version, At: o.UpdatedAt}
	if s.Events != nil {
		if err := s.Events.PublishStatus(ev); err != nil {
			s.logger.Warn("status publish failed", "order_id", o.ID, "error", err)
		}
	}
	if err := s.notify.OrderStatus(ev); err != nil {
		s.logger.Warn("status fan-out failed", "order_id", o.ID, "error", err)
	}
}
