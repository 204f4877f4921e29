package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"order-messenger/internal/orders"
)

// MessageJob is one outbound chat message, ready to send: the phone number
// is already canonical and the body already rendered.
type MessageJob struct {
	ID          uuid.UUID          `json:"id"`
	PhoneNumber string             `json:"phone_number"`
	Body        string             `json:"body"`
	OrderID     string             `json:"order_id"`
	RowIndex    int                `json:"row_index"`
	Type        orders.MessageType `json:"type"`

	// CustomerName rides along for guard key derivation at send time.
	CustomerName string `json:"customer_name,omitempty"`
}

// ReminderJob is a delayed follow-up. It captures the order status at
// scheduling time; the worker verifies nothing changed before firing.
type ReminderJob struct {
	ID           uuid.UUID `json:"id"`
	OrderID      string    `json:"order_id"`
	RowIndex     int       `json:"row_index"`
	PhoneNumber  string    `json:"phone_number"`
	CustomerName string    `json:"customer_name"`
	OrderStatus  string    `json:"order_status"`
}

// NewMessageJob assigns a fresh job ID.
func NewMessageJob(phoneNumber, body, orderID, customerName string, rowIndex int, msgType orders.MessageType) MessageJob {
	return MessageJob{
		ID:           uuid.New(),
		PhoneNumber:  phoneNumber,
		Body:         body,
		OrderID:      orderID,
		RowIndex:     rowIndex,
		Type:         msgType,
		CustomerName: customerName,
	}
}

// NewReminderJob assigns a fresh job ID.
func NewReminderJob(orderID, phoneNumber, customerName, status string, rowIndex int) ReminderJob {
	return ReminderJob{
		ID:           uuid.New(),
		OrderID:      orderID,
		RowIndex:     rowIndex,
		PhoneNumber:  phoneNumber,
		CustomerName: customerName,
		OrderStatus:  status,
	}
}

// envelope is the broker wire format. NotBefore implements hours-scale
// delays on top of an immediate-delivery broker; Attempt carries the retry
// count across redeliveries.
type envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	NotBefore time.Time       `json:"not_before"`
}
