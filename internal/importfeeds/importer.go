package importfeeds

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"broadcast-graphics/onair/internal/database"
	"broadcast-graphics/onair/internal/models"
)

// Report summarises one import.
type Report struct {
	Rows     int
	Imported int
	Errors   []string
}

// Importer loads wire feeds from a CSV file into the feeds table.
type Importer struct {
	db        *database.DB
	remoteURL string
	client    *http.Client
}

// NewImporter creates an importer. When the CSV file is missing it is
// downloaded from remoteURL, if set, and saved at the requested path.
func NewImporter(db *database.DB, remoteURL string) *Importer {
	return &Importer{
		db:        db,
		remoteURL: remoteURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Import reads csvPath and inserts every valid row. Row level problems are
// collected in the report; only I/O and header errors abort the import.
func (i *Importer) Import(ctx context.Context, csvPath string) (*Report, error) {
	log.Info().Str("csv", csvPath).Msg("Starting feed import")

	data, err := i.csvData(ctx, csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get CSV data: %w", err)
	}

	report, err := i.importCSV(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to import feeds: %w", err)
	}

	log.Info().
		Int("rows", report.Rows).
		Int("imported", report.Imported).
		Int("errors", len(report.Errors)).
		Msg("Import summary")
	return report, nil
}

func (i *Importer) csvData(ctx context.Context, csvPath string) ([]byte, error) {
	data, err := os.ReadFile(csvPath)
	if err == nil {
		log.Info().Str("path", csvPath).Msg("Using local CSV file")
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if i.remoteURL == "" {
		return nil, fmt.Errorf("CSV file not found: %s", csvPath)
	}

	log.Info().Str("url", i.remoteURL).Str("path", csvPath).Msg("Local CSV file not found, downloading")
	data, err = i.download(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to download CSV file: %w", err)
	}

	if err := os.WriteFile(csvPath, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", csvPath).Msg("Could not save downloaded CSV")
	} else {
		log.Debug().Int("bytes", len(data)).Str("path", csvPath).Msg("Saved downloaded CSV")
	}
	return data, nil
}

func (i *Importer) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.remoteURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type columns struct {
	url, name, language, status int
}

func readHeader(header []string) (columns, error) {
	cols := columns{
		url:      findColumnIndex(header, "url"),
		name:     findColumnIndex(header, "name"),
		language: findColumnIndex(header, "language"),
		status:   findColumnIndex(header, "status"),
	}
	if cols.url < 0 {
		return cols, fmt.Errorf("required column 'url' not found in CSV header")
	}
	// The curated world-news list keeps the outlet name in "comments".
	if cols.name < 0 {
		cols.name = findColumnIndex(header, "comments")
	}
	return cols, nil
}

func (i *Importer) importCSV(ctx context.Context, r io.Reader) (*Report, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	cols, err := readHeader(header)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var feeds []*models.WireFeed
	var lines []int

	line := 1
	for {
		line++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		report.Rows++

		feed := models.NewWireFeed()
		feed.URL = strings.TrimSpace(field(record, cols.url).String)
		feed.Name = field(record, cols.name)
		feed.Language = field(record, cols.language)
		if status := field(record, cols.status); status.Valid {
			feed.Status = strings.ToLower(status.String)
		}

		if feed.URL == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: empty URL", line))
			continue
		}
		feeds = append(feeds, feed)
		lines = append(lines, line)
	}

	if len(feeds) == 0 {
		return report, nil
	}

	rowErrs, err := i.db.InsertWireFeeds(ctx, feeds)
	if err != nil {
		return nil, err
	}
	for idx, rowErr := range rowErrs {
		switch {
		case rowErr == nil:
			report.Imported++
		case database.IsUniqueViolation(rowErr):
			log.Warn().Int("line", lines[idx]).Str("url", feeds[idx].URL).Msg("Duplicate URL")
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: duplicate URL: %s", lines[idx], feeds[idx].URL))
		default:
			log.Error().Err(rowErr).Int("line", lines[idx]).Msg("Failed to insert feed")
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: %v", lines[idx], rowErr))
		}
	}
	return report, nil
}

func findColumnIndex(header []string, name string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), name) {
			return i
		}
	}
	return -1
}

// field returns record[index] as a NullString, invalid when out of range or empty.
func field(record []string, index int) sql.NullString {
	if index >= 0 && index < len(record) && strings.TrimSpace(record[index]) != "" {
		return sql.NullString{String: strings.TrimSpace(record[index]), Valid: true}
	}
	return sql.NullString{}
}
