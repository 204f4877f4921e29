// Package template renders outbound chat messages by literal placeholder
// substitution. Templates are operator-edited text, not Go templates, so
// unknown placeholders pass through untouched.
package template

import (
	"strconv"
	"strings"
)

// Set holds one template per message type.
type Set struct {
	NewOrder      string
	NoAnswer      string
	Shipped       string
	RejectedOffer string
	Reminder      string
}

// Values carries the fields a template may reference. Zero values render as
// the documented sentinels, never as Go zero-value noise.
type Values struct {
	Name             string
	OrderID          string
	ProductName      string
	TrackingNumber   string
	CompanyName      string
	Amount           float64
	DiscountedAmount float64
	SavedAmount      float64
}

// Render substitutes {placeholder} tokens in tmpl with v's fields.
func Render(tmpl string, v Values) string {
	orderID := v.OrderID
	if orderID == "" {
		orderID = "N/A"
	}
	product := v.ProductName
	if product == "" {
		product = "المنتج"
	}
	tracking := v.TrackingNumber
	if tracking == "" {
		tracking = "TRK" + orderID
	}

	r := strings.NewReplacer(
		"{name}", v.Name,
		"{orderId}", orderID,
		"{amount}", amount(v.Amount),
		"{productName}", product,
		"{trackingNumber}", tracking,
		"{discountedAmount}", amount(v.DiscountedAmount),
		"{savedAmount}", amount(v.SavedAmount),
		"{companyName}", v.CompanyName,
	)
	return r.Replace(tmpl)
}

// ForType picks the template for a message type key. Unknown keys return "".
func (s Set) ForType(msgType string) string {
	switch msgType {
	case "newOrder":
		return s.NewOrder
	case "noAnswer":
		return s.NoAnswer
	case "shipped":
		return s.Shipped
	case "rejectedOffer":
		return s.RejectedOffer
	case "reminder":
		return s.Reminder
	}
	return ""
}

func amount(f float64) string {
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
