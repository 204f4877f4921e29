package orders

import (
	"strings"
	"time"
)

// MessageType labels the outbound message class derived from an order status.
type MessageType string

const (
	TypeNewOrder      MessageType = "newOrder"
	TypeNoAnswer      MessageType = "noAnswer"
	TypeShipped       MessageType = "shipped"
	TypeRejectedOffer MessageType = "rejectedOffer"
	TypeReminder      MessageType = "reminder"
)

// statusTypes maps trimmed sheet statuses to message types. The order book is
// maintained by hand in Arabic, so common spelling variants are listed
// explicitly rather than normalized.
var statusTypes = map[string]MessageType{
	"":             TypeNewOrder,
	"جديد":         TypeNewOrder,
	"طلب جديد":     TypeNewOrder,
	"قيد المراجعة": TypeNewOrder,
	"قيد المراجعه": TypeNewOrder,
	"غير محدد":     TypeNewOrder,

	"لم يتم الرد": TypeNoAnswer,
	"لم يرد":      TypeNoAnswer,
	"لا يرد":      TypeNoAnswer,
	"عدم الرد":    TypeNoAnswer,

	"تم التأكيد": TypeShipped,
	"تم التاكيد": TypeShipped,
	"مؤكد":       TypeShipped,
	"تم الشحن":   TypeShipped,
	"قيد الشحن":  TypeShipped,

	"تم الرفض":        TypeRejectedOffer,
	"مرفوض":           TypeRejectedOffer,
	"رفض الاستلام":    TypeRejectedOffer,
	"رفض الأستلام":    TypeRejectedOffer,
	"لم يتم الاستلام": TypeRejectedOffer,
}

// cooldowns is the minimum time between two enqueued sends of the same type
// for one order, independent of the durable duplicate guard.
var cooldowns = map[MessageType]time.Duration{
	TypeNewOrder:      30 * time.Minute,
	TypeNoAnswer:      time.Hour,
	TypeShipped:       4 * time.Hour,
	TypeRejectedOffer: 24 * time.Hour,
}

// Classify maps a raw sheet status to a message type. The second return is
// false for statuses outside the known vocabulary; those never produce a
// message.
func Classify(status string) (MessageType, bool) {
	t, ok := statusTypes[strings.TrimSpace(status)]
	return t, ok
}

// Cooldown returns the minimum resend interval for a message type.
func Cooldown(t MessageType) time.Duration {
	return cooldowns[t]
}

// Rejected reports whether a status belongs to the rejected family.
func Rejected(status string) bool {
	t, ok := Classify(status)
	return ok && t == TypeRejectedOffer
}
