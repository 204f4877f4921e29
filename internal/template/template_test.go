package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	got := Render("مرحباً {name}، طلبك {orderId} بقيمة {amount} جنيه من {companyName}", Values{
		Name:        "سارة",
		OrderID:     "A-1",
		Amount:      350,
		CompanyName: "المتجر",
	})
	assert.Equal(t, "مرحباً سارة، طلبك A-1 بقيمة 350 جنيه من المتجر", got)
}

func TestRenderDefaults(t *testing.T) {
	got := Render("{name}|{orderId}|{amount}|{productName}|{trackingNumber}", Values{})
	assert.Equal(t, "|N/A|0|المنتج|TRKN/A", got)
}

func TestRenderTrackingFromOrderID(t *testing.T) {
	got := Render("{trackingNumber}", Values{OrderID: "X-9"})
	assert.Equal(t, "TRKX-9", got)
}

func TestRenderDiscount(t *testing.T) {
	got := Render("بدل {amount} ادفع {discountedAmount} ووفر {savedAmount}", Values{
		Amount:           200,
		DiscountedAmount: 160,
		SavedAmount:      40,
	})
	assert.Equal(t, "بدل 200 ادفع 160 ووفر 40", got)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	got := Render("{name} {unknown} {weird-token}", Values{Name: "منى"})
	assert.Equal(t, "منى {unknown} {weird-token}", got)
}

func TestForType(t *testing.T) {
	s := Set{NewOrder: "a", NoAnswer: "b", Shipped: "c", RejectedOffer: "d", Reminder: "e"}
	assert.Equal(t, "a", s.ForType("newOrder"))
	assert.Equal(t, "d", s.ForType("rejectedOffer"))
	assert.Equal(t, "", s.ForType("nope"))
}
