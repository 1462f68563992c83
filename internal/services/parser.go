package services

import (
	"encoding/csv"
	"io"
	"log/slog"
	"strings"

	"github.com/visahub/visadataflow/internal/models"
)

// ParseCSV splits CSV text into header-keyed raw records. The first row is
// the header; every output record carries exactly one key per header column.
// Short rows are padded with empty strings, extra trailing cells are dropped,
// empty lines are skipped, and rows the reader cannot decode are skipped
// rather than aborting the file. Only a body with no header row at all is an
// error.
func ParseCSV(text string) ([]models.RawRecord, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &ParseError{Reason: "empty response body"}
		}
		return nil, &ParseError{Reason: err.Error()}
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\uFEFF"))
	}

	records := make([]models.RawRecord, 0)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Degrade per row instead of failing the whole file.
			slog.Warn("Skipping unreadable CSV row.", "error", err)
			continue
		}

		record := make(models.RawRecord, len(header))
		for i, name := range header {
			if i < len(row) {
				record[name] = row[i]
			} else {
				record[name] = ""
			}
		}
		records = append(records, record)
	}

	return records, nil
}
