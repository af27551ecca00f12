package models

import "time"

// Kind is the service category an order belongs to.
type Kind string

const (
	KindTaxi        Kind = "taxi"
	KindDelivery    Kind = "delivery"
	KindMarketplace Kind = "marketplace"
)

func (k Kind) Valid() bool {
	switch k {
	case KindTaxi, KindDelivery, KindMarketplace:
		return true
	}
	return false
}

// Urgency classifies an offer by how quickly the pickup needs a driver.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsZero reports whether the coordinate is unset. Null island counts as unset.
func (c Coord) IsZero() bool { return c.Lat == 0 && c.Lon == 0 }

// Place is an address with optionally resolved coordinates.
type Place struct {
	Address string `json:"address"`
	Coord   Coord  `json:"coord"`
}

func (p Place) Geocoded() bool { return !p.Coord.IsZero() }

// Contact is the counterparty a driver may need to reach: the rider, the
// sender or the recipient depending on the order kind.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// TelURI renders the dialable form handed to client apps.
func (c Contact) TelURI() string {
	if c.Phone == "" {
		return ""
	}
	return "tel:" + c.Phone
}

// Order is the normalized unit of work shared by all three kinds. A single
// Pickup/Dropoff pair replaces the per-kind field names clients used to
// juggle, and Version increases on every status write so stale realtime
// pushes can be discarded.
type Order struct {
	ID         string  `json:"id"`
	Kind       Kind    `json:"kind"`
	CustomerID string  `json:"customer_id"`
	DriverID   string  `json:"driver_id,omitempty"`
	Pickup     Place   `json:"pickup"`
	Dropoff    Place   `json:"dropoff"`
	Contact    Contact `json:"contact"`
	// Price in minor units of the local currency.
	Price      int64     `json:"price"`
	Status     string    `json:"status"`
	Version    int64     `json:"version"`
	PickupOnly bool      `json:"pickup_only,omitempty"` // marketplace: customer collects, no transit leg
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Offer is a time-limited proposal of an order to a driver. It expires at a
// wall-clock deadline rather than a client-side countdown so a reconnect
// cannot extend it.
type Offer struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	Kind           Kind      `json:"kind"`
	DriverID       string    `json:"driver_id"`
	Pickup         Place     `json:"pickup"`
	EstimatedPrice int64     `json:"estimated_price"`
	DistanceKm     float64   `json:"distance_km"`
	Urgency        Urgency   `json:"urgency"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (o Offer) Expired(now time.Time) bool { return !now.Before(o.ExpiresAt) }

type Driver struct {
	ID        string    `json:"id"`
	Loc       Coord     `json:"loc"`
	Rating    float64   `json:"rating"` // 0..5
	Online    bool      `json:"online"`
	Available bool      `json:"available"`
	Updated   time.Time `json:"updated"`
}

// StatusEvent is the change-feed record published on every order status
// write. Version carries the order's post-write version so consumers can
// drop events that arrive out of order.
type StatusEvent struct {
	OrderID string    `json:"order_id"`
	Kind    Kind      `json:"kind"`
	Status  string    `json:"status"`
	Version int64     `json:"version"`
	At      time.Time `json:"at"`
}

type Rating struct {
	OrderID   string    `json:"order_id"`
	Stars     int       `json:"stars"` // 1..5
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Route is the payload handed to the embedded maps surface.
type Route struct {
	Pickup  Coord `json:"pickup"`
	Dropoff Coord `json:"dropoff"`
	Driver  Coord `json:"driver,omitempty"`
}
