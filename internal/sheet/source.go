// Package sheet reads the spreadsheet-backed order book. The sheet is
// read-only for this service; all durable state lives elsewhere.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"order-messenger/internal/orders"
	"order-messenger/internal/resilience"
)

const readTimeout = 10 * time.Second

// Source delivers an ordered snapshot of the order book, header excluded.
type Source interface {
	Snapshot(ctx context.Context) ([]orders.Row, error)
}

// GoogleSource reads rows from a Google Sheet over the Sheets API.
type GoogleSource struct {
	svc           *sheets.Service
	spreadsheetID string
	readRange     string
	logger        *zap.Logger
}

// GoogleConfig carries the sheet coordinates and one of the two credential
// forms (API key for public sheets, service-account file otherwise).
type GoogleConfig struct {
	SpreadsheetID   string
	ReadRange       string
	APIKey          string
	CredentialsFile string
}

func NewGoogleSource(ctx context.Context, cfg GoogleConfig, logger *zap.Logger) (*GoogleSource, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("sheet: spreadsheet ID is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(sheets.SpreadsheetsReadonlyScope))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, errors.New("sheet: either an API key or a credentials file is required")
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheet: create service: %w", err)
	}

	return &GoogleSource{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		readRange:     cfg.ReadRange,
		logger:        logger,
	}, nil
}

// Snapshot fetches and parses the configured range. Rows that fail to parse
// are logged and skipped; the snapshot itself only fails on fetch errors.
func (s *GoogleSource) Snapshot(ctx context.Context) ([]orders.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.readRange).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return nil, &resilience.HTTPError{Status: apiErr.Code, Err: err}
		}
		return nil, fmt.Errorf("sheet: fetch values: %w", err)
	}

	rows := make([]orders.Row, 0, len(resp.Values))
	for i, values := range resp.Values {
		row, err := parseRow(values, i+1)
		if err != nil {
			s.logger.Warn("skipping malformed sheet row",
				zap.Int("row_index", i+1), zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}

	s.logger.Debug("sheet snapshot fetched", zap.Int("rows", len(rows)))
	return rows, nil
}
