package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kwendataxi/kwenda-sub003/internal/availability"
	"github.com/Kwendataxi/kwenda-sub003/internal/config"
	"github.com/Kwendataxi/kwenda-sub003/internal/dispatch"
	"github.com/Kwendataxi/kwenda-sub003/internal/geocode"
	"github.com/Kwendataxi/kwenda-sub003/internal/ingest"
	"github.com/Kwendataxi/kwenda-sub003/internal/lifecycle"
	"github.com/Kwendataxi/kwenda-sub003/internal/models"
	"github.com/Kwendataxi/kwenda-sub003/internal/payments"
	"github.com/Kwendataxi/kwenda-sub003/internal/presence"
	"github.com/Kwendataxi/kwenda-sub003/internal/storage"
)

type Server struct {
	logger   *slog.Logger
	store    storage.OrderStore
	dispatch *dispatch.Service
	avail    *availability.Service
	geo      geocode.Resolver // nil when no endpoint configured
	wsreg    *dispatch.WSRegistry

	jwtSecret []byte
	mux       *mux.Router
}

// NewServer wires the service graph from config, falling back to in-memory
// implementations for anything not configured so the binary runs locally
// without external services.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var pres presence.Presence
	if cfg.RedisAddr != "" {
		pres = presence.NewRedisPresence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		pres = presence.NewIndex()
	}

	var store storage.OrderStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable, using memory store", "error", err)
		} else {
			store = ps
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	wsreg := dispatch.NewWSRegistry()
	notify := dispatch.Multi{wsreg}
	if cfg.AMQPURL != "" {
		if an, err := dispatch.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange); err != nil {
			logger.Error("amqp unavailable", "error", err)
		} else {
			notify = append(notify, an)
		}
	}

	d := dispatch.NewService(store, pres, notify, logger)
	if cfg.OfferTTL > 0 {
		d.OfferTTL = cfg.OfferTTL
	}
	if cfg.NearbyLimit > 0 {
		d.NearbyLimit = cfg.NearbyLimit
	}
	if len(cfg.KafkaBrokers) > 0 {
		d.Events = ingest.NewStatusProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	if cfg.StripeKey != "" {
		d.Pay = payments.NewStripeProcessor(cfg.StripeKey, cfg.Currency)
	}

	var geo geocode.Resolver
	if cfg.GeocodeEndpoint != "" {
		geo = &geocode.CachedResolver{
			Inner: geocode.NewHTTPResolver(cfg.GeocodeEndpoint),
			Cache: geocode.NewCache(cfg.GeocodeCacheTTL),
		}
	}

	s := &Server{
		logger:    logger,
		store:     store,
		dispatch:  d,
		avail:     availability.NewService(pres, d, logger),
		geo:       geo,
		wsreg:     wsreg,
		jwtSecret: []byte(cfg.JWTSecret),
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// Dispatch exposes the dispatch service so main can run its expiry sweep.
func (s *Server) Dispatch() *dispatch.Service { return s.dispatch }

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/track", s.handleTrack).Methods("GET")
	api.HandleFunc("/orders/{id}/advance", s.handleAdvance).Methods("POST")
	api.HandleFunc("/orders/{id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/orders/{id}/rating", s.handleRating).Methods("POST")

	api.HandleFunc("/driver/status", s.handleDriverStatus).Methods("POST")
	api.HandleFunc("/driver/location", s.handleDriverLocation).Methods("POST")
	api.HandleFunc("/driver/orders", s.handleDriverOrders).Methods("GET")
	api.HandleFunc("/driver/offers/{offer_id}/accept", s.handleAcceptOffer).Methods("POST")
	api.HandleFunc("/driver/offers/{offer_id}/reject", s.handleRejectOffer).Methods("POST")

	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/track/{order_id}", s.handleTrackWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createOrderRequest struct {
	Kind       models.Kind    `json:"kind"`
	CustomerID string         `json:"customer_id"`
	Pickup     models.Place   `json:"pickup"`
	Dropoff    models.Place   `json:"dropoff"`
	Contact    models.Contact `json:"contact"`
	Price      int64          `json:"price"`
	PickupOnly bool           `json:"pickup_only"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Kind.Valid() {
		s.writeError(w, http.StatusBadRequest, errors.New("unknown order kind"))
		return
	}

	o := &models.Order{
		ID:         uuid.NewString(),
		Kind:       req.Kind,
		CustomerID: req.CustomerID,
		Pickup:     req.Pickup,
		Dropoff:    req.Dropoff,
		Contact:    req.Contact,
		Price:      req.Price,
		PickupOnly: req.PickupOnly,
		Status:     lifecycle.StatusRequested,
	}
	if req.Kind == models.KindMarketplace {
		o.Status = lifecycle.StatusPendingPayment
	}

	if s.geo != nil {
		if err := geocode.FillCoords(r.Context(), s.geo, o); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}
	if err := s.store.SaveOrder(o); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Marketplace orders reach dispatch later, once the merchant has them
	// ready; taxi and delivery go straight out to a driver.
	var offer *models.Offer
	if o.Kind != models.KindMarketplace && o.Pickup.Geocoded() {
		off, err := s.dispatch.Propose(r.Context(), o)
		if err != nil && !errors.Is(err, dispatch.ErrNoDrivers) {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		offer = off
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{"order": o, "offer": offer})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, err := s.store.Get(id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	steps, err := lifecycle.Steps(o.Kind, o.Status, o.PickupOnly)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	_, action, ok, err := lifecycle.Next(o.Kind, o.Status, o.PickupOnly)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	resp := map[string]any{
		"order":    o,
		"steps":    steps,
		"terminal": lifecycle.IsTerminal(o.Kind, o.Status),
	}
	if ok {
		resp["action"] = action
	}
	if uri := o.Contact.TelURI(); uri != "" {
		resp["contact_uri"] = uri
	}
	if o.Pickup.Geocoded() && o.Dropoff.Geocoded() {
		route := models.Route{Pickup: o.Pickup.Coord, Dropoff: o.Dropoff.Coord}
		if d, found := s.avail.Status(o.DriverID); found {
			route.Driver = d.Loc
		}
		resp["route"] = route
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	o, err := s.dispatch.Advance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	o, err := s.dispatch.Complete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	o, err := s.dispatch.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Stars   int    `json:"stars"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Stars < 1 || req.Stars > 5 {
		s.writeError(w, http.StatusBadRequest, errors.New("stars must be 1..5"))
		return
	}
	if _, err := s.store.Get(id); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := s.store.SaveRating(models.Rating{OrderID: id, Stars: req.Stars, Comment: req.Comment}); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type driverStatusRequest struct {
	Online    *bool        `json:"online,omitempty"`
	Available *bool        `json:"available,omitempty"`
	Location  models.Coord `json:"location"`
	Rating    float64      `json:"rating"`
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	driverID := s.callerID(r)
	if driverID == "" {
		s.writeError(w, http.StatusUnauthorized, errors.New("missing driver identity"))
		return
	}
	var req driverStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Online != nil {
		var err error
		if *req.Online {
			err = s.avail.SetOnline(r.Context(), driverID, req.Location, req.Rating)
		} else {
			err = s.avail.SetOffline(r.Context(), driverID)
		}
		if err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
	}
	if req.Available != nil {
		if err := s.avail.SetAvailable(r.Context(), driverID, *req.Available); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
	}

	d, _ := s.avail.Status(driverID)
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	driverID := s.callerID(r)
	if driverID == "" {
		s.writeError(w, http.StatusUnauthorized, errors.New("missing driver identity"))
		return
	}
	var loc models.Coord
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.avail.UpdateLocation(r.Context(), driverID, loc); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverOrders(w http.ResponseWriter, r *http.Request) {
	driverID := s.callerID(r)
	if driverID == "" {
		s.writeError(w, http.StatusUnauthorized, errors.New("missing driver identity"))
		return
	}
	orders, err := s.store.OrdersByDriver(driverID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	driverID := s.callerID(r)
	if driverID == "" {
		s.writeError(w, http.StatusUnauthorized, errors.New("missing driver identity"))
		return
	}
	o, err := s.dispatch.Accept(r.Context(), driverID, mux.Vars(r)["offer_id"])
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleRejectOffer(w http.ResponseWriter, r *http.Request) {
	driverID := s.callerID(r)
	if driverID == "" {
		s.writeError(w, http.StatusUnauthorized, errors.New("missing driver identity"))
		return
	}
	if err := s.dispatch.Reject(r.Context(), driverID, mux.Vars(r)["offer_id"]); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.wsreg.AddDriver(id, conn)
	go s.readPump(conn, func() { s.wsreg.RemoveDriver(id, conn) })
}

func (s *Server) handleTrackWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["order_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.wsreg.AddTracker(id, conn)
	go s.readPump(conn, func() { s.wsreg.RemoveTracker(id, conn) })
}

// readPump drains inbound frames until the peer goes away, then unregisters
// the session. These sockets are push-only; client frames are discarded.
func (s *Server) readPump(conn *websocket.Conn, remove func()) {
	defer conn.Close()
	defer remove()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var unknown *lifecycle.ErrUnknownStatus
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrOfferGone):
		return http.StatusGone
	case errors.Is(err, dispatch.ErrWrongDriver):
		return http.StatusForbidden
	case errors.Is(err, dispatch.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrNoDrivers):
		return http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrNotFinal):
		return http.StatusConflict
	case errors.Is(err, availability.ErrNoLocation):
		return http.StatusBadRequest
	case errors.Is(err, availability.ErrActiveOrders):
		return http.StatusConflict
	case errors.Is(err, availability.ErrOffline):
		return http.StatusConflict
	case errors.As(err, &unknown):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
