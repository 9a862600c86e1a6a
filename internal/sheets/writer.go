// Package sheets writes search results into a new Google Sheet owned by
// the requesting user.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"github.com/teemow/homesheet/internal/breaker"
	"github.com/teemow/homesheet/internal/instrumentation"
	"github.com/teemow/homesheet/internal/listing"
	"github.com/teemow/homesheet/internal/logging"
)

// ErrUnavailable is returned while the Google API breaker is open.
var ErrUnavailable = errors.New("google sheets is temporarily unavailable")

// Error reports a failed sheet creation. Retryable is true only when the
// spreadsheet was never created and the cause was transient, so that a
// retry cannot leave a duplicate behind.
type Error struct {
	Stage     string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a sheet failure safe to retry.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// Config configures a Writer.
type Config struct {
	// ShareEmail, when set, is granted writer access to every sheet.
	ShareEmail string
	Breaker    breaker.Config
}

// Writer creates listing sheets through the Sheets and Drive APIs.
type Writer struct {
	config  Config
	breaker *breaker.Breaker[string]
	options []option.ClientOption
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithClientOptions appends Google API client options, e.g. an endpoint
// override in tests.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(w *Writer) { w.options = append(w.options, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock overrides time.Now for titles, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates a Writer.
func NewWriter(config Config, opts ...Option) *Writer {
	if config.Breaker.Name == "" {
		config.Breaker = breaker.DefaultConfig("google-sheets")
	}
	w := &Writer{
		config: config,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.WithComponent(w.logger, "sheets")
	w.breaker = breaker.New[string](config.Breaker, w.logger, isClientError)
	return w
}

// CreateListingsSheet creates a formatted spreadsheet holding listings in
// the Drive of the user that tok belongs to, shares it, and returns its URL.
func (w *Writer) CreateListingsSheet(ctx context.Context, tok *oauth2.Token, c listing.Criteria, listings []listing.Listing) (string, error) {
	url, err := w.breaker.Execute(func() (string, error) {
		return w.create(ctx, tok, c, listings)
	})
	if breaker.IsOpen(err) {
		return "", &Error{Stage: "create spreadsheet", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	return url, err
}

func (w *Writer) create(ctx context.Context, tok *oauth2.Token, c listing.Criteria, listings []listing.Listing) (string, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(tok))}, w.options...)

	sheetsSvc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return "", &Error{Stage: "create Sheets service", Err: err}
	}
	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return "", &Error{Stage: "create Drive service", Err: err}
	}

	at := w.now()
	ss, err := w.createSpreadsheet(ctx, sheetsSvc, Title(c, at))
	if err != nil {
		return "", &Error{Stage: "create spreadsheet", Retryable: isTransient(err), Err: err}
	}
	sheetID := int64(0)
	if len(ss.Sheets) > 0 && ss.Sheets[0].Properties != nil {
		sheetID = ss.Sheets[0].Properties.SheetId
	}
	url := ss.SpreadsheetUrl
	if url == "" {
		url = "https://docs.google.com/spreadsheets/d/" + ss.SpreadsheetId
	}
	logger := w.logger.With(slog.String("spreadsheet_id", ss.SpreadsheetId))

	if err := w.share(ctx, driveSvc, ss.SpreadsheetId, logger); err != nil {
		return "", &Error{Stage: "share spreadsheet", Err: err}
	}

	values := BuildValues(c, listings, at)
	if err := w.writeValues(ctx, sheetsSvc, ss.SpreadsheetId, values); err != nil {
		return "", &Error{Stage: "write listings", Err: err}
	}

	if len(listings) > 0 {
		if err := w.format(ctx, sheetsSvc, ss.SpreadsheetId, sheetID, len(values)); err != nil {
			logger.WarnContext(ctx, "sheet formatting failed", logging.Err(err))
		}
	}

	logger.InfoContext(ctx, "listings sheet created", slog.Int("rows", len(listings)))
	return url, nil
}

func (w *Writer) createSpreadsheet(ctx context.Context, svc *sheets.Service, title string) (*sheets.Spreadsheet, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, "sheets", "create")
	defer span.End()

	ss, err := svc.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title},
		Sheets: []*sheets.Sheet{{
			Properties: &sheets.SheetProperties{
				Title:          WorksheetName,
				GridProperties: &sheets.GridProperties{FrozenRowCount: 2},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}
	return ss, nil
}

func (w *Writer) share(ctx context.Context, svc *drive.Service, fileID string, logger *slog.Logger) error {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, "drive", "share")
	defer span.End()

	_, err := svc.Permissions.Create(fileID, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do()
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return err
	}

	if w.config.ShareEmail == "" {
		return nil
	}
	_, err = svc.Permissions.Create(fileID, &drive.Permission{
		Type:         "user",
		Role:         "writer",
		EmailAddress: w.config.ShareEmail,
	}).SendNotificationEmail(false).Context(ctx).Do()
	if err != nil {
		logger.WarnContext(ctx, "sharing with configured email failed", logging.Err(err))
	}
	return nil
}

func (w *Writer) writeValues(ctx context.Context, svc *sheets.Service, id string, values [][]any) error {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, "sheets", "update_values")
	defer span.End()

	_, err := svc.Spreadsheets.Values.Update(id, WorksheetName+"!A1", &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	instrumentation.SetSpanError(span, err)
	return err
}

func (w *Writer) format(ctx context.Context, svc *sheets.Service, id string, sheetID int64, rowCount int) error {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, "sheets", "format")
	defer span.End()

	_, err := svc.Spreadsheets.BatchUpdate(id, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: formatRequests(sheetID, rowCount),
	}).Context(ctx).Do()
	instrumentation.SetSpanError(span, err)
	return err
}

func formatRequests(sheetID int64, rowCount int) []*sheets.Request {
	cols := int64(len(Headers))
	return []*sheets.Request{
		{
			MergeCells: &sheets.MergeCellsRequest{
				Range:     &sheets.GridRange{SheetId: sheetID, StartRowIndex: 0, EndRowIndex: 1, StartColumnIndex: 0, EndColumnIndex: cols},
				MergeType: "MERGE_ALL",
			},
		},
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 0, EndRowIndex: 1},
				Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
					BackgroundColor: &sheets.Color{Red: 0.95, Green: 0.95, Blue: 0.95},
					TextFormat:      &sheets.TextFormat{Italic: true, FontSize: 10},
				}},
				Fields: "userEnteredFormat(backgroundColor,textFormat)",
			},
		},
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 1, EndRowIndex: 2},
				Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
					BackgroundColor: &sheets.Color{Red: 0.18, Green: 0.33, Blue: 0.58},
					TextFormat: &sheets.TextFormat{
						Bold:            true,
						FontSize:        11,
						ForegroundColor: &sheets.Color{Red: 1, Green: 1, Blue: 1},
					},
					HorizontalAlignment: "CENTER",
				}},
				Fields: "userEnteredFormat(backgroundColor,textFormat,horizontalAlignment)",
			},
		},
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    2,
					EndRowIndex:      int64(rowCount),
					StartColumnIndex: priceColumn,
					EndColumnIndex:   priceColumn + 1,
				},
				Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
					NumberFormat: &sheets.NumberFormat{Type: "NUMBER", Pattern: "$#,##0"},
				}},
				Fields: "userEnteredFormat.numberFormat",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{SheetId: sheetID, Dimension: "COLUMNS", StartIndex: 0, EndIndex: cols},
			},
		},
	}
}

func isTransient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// isClientError keeps per-user failures (bad token, missing scope) from
// tripping the shared breaker.
func isClientError(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusTooManyRequests
	}
	return false
}
