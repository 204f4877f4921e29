package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStableKeyExplicitID(t *testing.T) {
	row := Row{OrderID: " A-0001-111111 ", CustomerName: "سارة", PrimaryPhone: "01234567890"}
	assert.Equal(t, "A-0001-111111", row.StableKey())
}

func TestStableKeyDerived(t *testing.T) {
	row := Row{
		CustomerName: "سارة محمد",
		PrimaryPhone: "01234567890",
		OrderDate:    "2024-03-15 10:22:31",
		RowIndex:     7,
	}
	assert.Equal(t, "سار-7890-102231", row.StableKey())
}

func TestStableKeyRowFallback(t *testing.T) {
	row := Row{CustomerName: "على", RowIndex: 12}
	assert.Equal(t, "row_12_على", row.StableKey())
}

func TestStableKeyStableAcrossPolls(t *testing.T) {
	a := Row{CustomerName: "منى", PrimaryPhone: "01098765432", OrderDate: "20240101", RowIndex: 3}
	b := a
	b.RowIndex = 9 // rows shift when earlier orders are deleted
	assert.Equal(t, a.StableKey(), b.StableKey())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status string
		want   MessageType
		mapped bool
	}{
		{"", TypeNewOrder, true},
		{"جديد", TypeNewOrder, true},
		{"  طلب جديد  ", TypeNewOrder, true},
		{"قيد المراجعه", TypeNewOrder, true},
		{"لم يرد", TypeNoAnswer, true},
		{"عدم الرد", TypeNoAnswer, true},
		{"تم التأكيد", TypeShipped, true},
		{"قيد الشحن", TypeShipped, true},
		{"مرفوض", TypeRejectedOffer, true},
		{"رفض الأستلام", TypeRejectedOffer, true},
		{"تم التسليم", "", false},
		{"garbage", "", false},
	}
	for _, tc := range cases {
		got, ok := Classify(tc.status)
		assert.Equal(t, tc.mapped, ok, "status %q", tc.status)
		if tc.mapped {
			assert.Equal(t, tc.want, got, "status %q", tc.status)
		}
	}
}

func TestCooldowns(t *testing.T) {
	assert.Equal(t, 30*time.Minute, Cooldown(TypeNewOrder))
	assert.Equal(t, time.Hour, Cooldown(TypeNoAnswer))
	assert.Equal(t, 4*time.Hour, Cooldown(TypeShipped))
	assert.Equal(t, 24*time.Hour, Cooldown(TypeRejectedOffer))
}
