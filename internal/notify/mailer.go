// Package notify turns order lifecycle events into buyer notifications.
// Delivery is mocked; a real deployment would swap Mailer for an email
// provider client.
package notify

import (
	"context"
	"fmt"

	"github.com/ticketrush/orderflow/internal/observability"
)

type Message struct {
	OrderID string
	BuyerID string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes the notification to the log instead of sending mail.
type LogMailer struct {
	logger observability.Logger
}

func NewLogMailer(logger observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.
		WithField("order_id", msg.OrderID).
		WithField("buyer_id", msg.BuyerID).
		Info("notification: ", msg.Subject)
	return nil
}

// Compose maps an event type to the message a buyer would receive.
func Compose(eventType, orderID, buyerID string, amount float64, reason string) Message {
	msg := Message{OrderID: orderID, BuyerID: buyerID}
	switch eventType {
	case "order.paid":
		msg.Subject = "Your tickets are confirmed"
		msg.Body = fmt.Sprintf("Order %s is paid (%.2f). See you there!", orderID, amount)
	case "order.cancelled":
		msg.Subject = "Your order was cancelled"
		msg.Body = fmt.Sprintf("Order %s was cancelled (%s).", orderID, reason)
	case "order.expired":
		msg.Subject = "Your order expired"
		msg.Body = fmt.Sprintf("Order %s expired before payment completed. The tickets were returned to sale.", orderID)
	default:
		msg.Subject = "Order update"
		msg.Body = fmt.Sprintf("Order %s: %s.", orderID, eventType)
	}
	return msg
}
