package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

// AMQPNotifier publishes dispatch events to a topic exchange so sibling
// services (driver payouts, analytics, the customer notification service)
// can react without being called directly.
//
// Routing keys: offer.proposed.<kind>, offer.<outcome>, order.status.<kind>.
type AMQPNotifier struct {
	ch       *amqp.Channel
	exchange string
}

func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPNotifier{ch: ch, exchange: exchange}, nil
}

func (n *AMQPNotifier) OfferProposed(off models.Offer) error {
	return n.publish("offer.proposed."+string(off.Kind), off)
}

func (n *AMQPNotifier) OfferResolved(offerID, orderID, outcome string) error {
	return n.publish("offer."+outcome, offerResolution{OfferID: offerID, OrderID: orderID, Outcome: outcome})
}

func (n *AMQPNotifier) OrderStatus(ev models.StatusEvent) error {
	return n.publish("order.status."+string(ev.Kind), ev)
}

func (n *AMQPNotifier) publish(key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return n.ch.PublishWithContext(ctx, n.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}
