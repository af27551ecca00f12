package dispatch

import (
	"errors"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

// Notifier fans dispatch events out to whoever is listening: driver apps
// over websocket, customer trackers, and sibling services over AMQP.
type Notifier interface {
	OfferProposed(off models.Offer) error
	OfferResolved(offerID, orderID, outcome string) error
	OrderStatus(ev models.StatusEvent) error
}

// Multi sends to every notifier and joins the failures. Fan-out is
// best-effort; one dead transport must not silence the others.
type Multi []Notifier

func (m Multi) OfferProposed(off models.Offer) error {
	var errs []error
	for _, n := range m {
		if err := n.OfferProposed(off); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) OfferResolved(offerID, orderID, outcome string) error {
	var errs []error
	for _, n := range m {
		if err := n.OfferResolved(offerID, orderID, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) OrderStatus(ev models.StatusEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.OrderStatus(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopNotifier is for wiring paths where no transport is configured.
type NopNotifier struct{}

func (NopNotifier) OfferProposed(models.Offer) error           { return nil }
func (NopNotifier) OfferResolved(string, string, string) error { return nil }
func (NopNotifier) OrderStatus(models.StatusEvent) error       { return nil }
