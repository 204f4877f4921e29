package orders

import (
	"fmt"
	"strings"
)

// Row is an immutable snapshot of one spreadsheet row as of a single poll.
type Row struct {
	OrderID        string
	CustomerName   string
	PrimaryPhone   string
	AlternatePhone string
	Product        string
	TotalPrice     float64
	Governorate    string
	Status         string
	OrderDate      string
	RowIndex       int // 1-based, header excluded
}

// StableKey returns the persistent identity of a row. Spreadsheet operators
// sometimes clear or rewrite the order-ID column, so we fall back to a key
// derived from fields that survive casual edits.
func (r Row) StableKey() string {
	if id := strings.TrimSpace(r.OrderID); id != "" {
		return id
	}

	name := firstRunes(strings.TrimSpace(r.CustomerName), 3)
	digits := digitsOnly(r.PrimaryPhone)
	if digits == "" {
		digits = digitsOnly(r.AlternatePhone)
	}
	stamp := digitsOnly(r.OrderDate)
	if len(stamp) > 6 {
		stamp = stamp[len(stamp)-6:]
	}

	if name != "" && len(digits) >= 4 && stamp != "" {
		return fmt.Sprintf("%s-%s-%s", name, digits[len(digits)-4:], stamp)
	}
	return fmt.Sprintf("row_%d_%s", r.RowIndex, name)
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
