package sheet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"order-messenger/internal/orders"
)

// Fixed column layout of the order book. The header row is excluded by the
// read range, so indices are relative to the first data row.
const (
	colOrderID = iota
	colCustomerName
	colPrimaryPhone
	colAlternatePhone
	colProduct
	colTotalPrice
	colGovernorate
	colStatus
	colOrderDate
)

// formulaErrors are the tokens Sheets emits for broken formulas. They arrive
// as plain strings and must not kill row parsing; downstream phone recovery
// digs usable digits out of them.
var formulaErrors = []string{
	"#ERROR!", "#REF!", "#VALUE!", "#NAME?", "#DIV/0!", "Formula parse error",
}

func isFormulaError(s string) bool {
	for _, tok := range formulaErrors {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

// parseRow converts one raw value row into an orders.Row. rowIndex is
// 1-based. Only a completely empty row is an error.
func parseRow(values []interface{}, rowIndex int) (orders.Row, error) {
	if len(values) == 0 {
		return orders.Row{}, errors.New("empty row")
	}

	row := orders.Row{
		OrderID:        cell(values, colOrderID),
		CustomerName:   cell(values, colCustomerName),
		PrimaryPhone:   cell(values, colPrimaryPhone),
		AlternatePhone: cell(values, colAlternatePhone),
		Product:        cell(values, colProduct),
		Governorate:    cell(values, colGovernorate),
		Status:         cell(values, colStatus),
		OrderDate:      cell(values, colOrderDate),
		RowIndex:       rowIndex,
	}
	row.TotalPrice = parsePrice(cell(values, colTotalPrice))

	if row.CustomerName == "" && row.PrimaryPhone == "" && row.OrderID == "" {
		return orders.Row{}, errors.New("row has no identifying fields")
	}
	return row, nil
}

// cell extracts a trimmed string from a sparse value row.
func cell(values []interface{}, idx int) string {
	if idx >= len(values) || values[idx] == nil {
		return ""
	}
	switch v := values[idx].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// parsePrice tolerates currency suffixes, thousand separators, and formula
// garbage. Unparseable cells price at zero rather than failing the row.
func parsePrice(raw string) float64 {
	if raw == "" || isFormulaError(raw) {
		return 0
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.':
			return r
		case r == ',':
			return -1 // thousand separator
		default:
			return -1
		}
	}, raw)

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return f
}
