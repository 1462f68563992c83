package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/visahub/visadataflow/internal/models"
)

// Default values substituted for absent source columns.
const (
	defaultName  = "Unknown"
	defaultTitle = "Not Specified"
)

// transformFunc maps one raw row onto the normalized schema for its dataset
// kind. Transform functions are pure and total: malformed values become
// defaults or nil, never errors.
type transformFunc func(raw models.RawRecord) models.NormalizedRecord

// transformers is the per-kind strategy table. Column names are
// case/spacing-sensitive to the known source schemas; each field lists its
// candidate columns in preference order.
var transformers = map[models.DatasetKind]transformFunc{
	models.H1BApprovals: func(raw models.RawRecord) models.NormalizedRecord {
		return models.NormalizedRecord{
			models.FieldEmployerName:     text(raw, defaultName, "Employer", "Employer Name"),
			models.FieldJobTitle:         text(raw, defaultTitle, "Job Title"),
			models.FieldWorksiteLocation: location(raw, []string{"Work Site City"}, []string{"Work Site State"}),
			models.FieldFiscalYear:       number(raw, "Fiscal Year"),
			models.FieldWage:             currency(raw, "Wage", "Average Salary"),
			models.FieldCaseStatus:       text(raw, "Approved", "Case Status"),
		}
	},
	models.H1BDenials: func(raw models.RawRecord) models.NormalizedRecord {
		return models.NormalizedRecord{
			models.FieldEmployerName:     text(raw, defaultName, "Employer", "Employer Name"),
			models.FieldJobTitle:         text(raw, defaultTitle, "Job Title"),
			models.FieldWorksiteLocation: location(raw, []string{"Work Site City"}, []string{"Work Site State"}),
			models.FieldFiscalYear:       number(raw, "Fiscal Year"),
			models.FieldWage:             currency(raw, "Wage", "Average Salary"),
			models.FieldCaseStatus:       text(raw, "Denied", "Case Status"),
		}
	},
	models.H1BLCA: func(raw models.RawRecord) models.NormalizedRecord {
		return models.NormalizedRecord{
			models.FieldCaseNumber:       text(raw, defaultName, "CASE_NUMBER"),
			models.FieldEmployerName:     text(raw, defaultName, "EMPLOYER_NAME"),
			models.FieldJobTitle:         text(raw, defaultTitle, "JOB_TITLE"),
			models.FieldWorksiteLocation: location(raw, []string{"WORKSITE_CITY"}, []string{"WORKSITE_STATE"}),
			models.FieldWage:             currency(raw, "WAGE_RATE_OF_PAY_FROM"),
			models.FieldCaseStatus:       text(raw, "Certified", "CASE_STATUS"),
			models.FieldDecisionDate:     isoDate(raw, "DECISION_DATE"),
		}
	},
	models.PERM: func(raw models.RawRecord) models.NormalizedRecord {
		return models.NormalizedRecord{
			models.FieldCaseNumber:       text(raw, defaultName, "CASE_NUMBER"),
			models.FieldEmployerName:     text(raw, defaultName, "EMPLOYER_NAME"),
			models.FieldJobTitle:         text(raw, defaultTitle, "JOB_TITLE", "PW_SOC_TITLE"),
			models.FieldWorksiteLocation: location(raw, []string{"WORKSITE_CITY"}, []string{"WORKSITE_STATE"}),
			models.FieldWage:             currency(raw, "PW_AMOUNT_9089"),
			models.FieldCaseStatus:       text(raw, "Certified", "CASE_STATUS"),
			models.FieldDecisionDate:     isoDate(raw, "DECISION_DATE"),
		}
	},
	models.PrevailingWage: func(raw models.RawRecord) models.NormalizedRecord {
		return models.NormalizedRecord{
			models.FieldCaseNumber:       text(raw, defaultName, "CASE_NUMBER"),
			models.FieldEmployerName:     text(raw, defaultName, "EMPLOYER_NAME"),
			models.FieldJobTitle:         text(raw, defaultTitle, "JOB_TITLE"),
			models.FieldSOCTitle:         text(raw, defaultTitle, "PW_SOC_TITLE"),
			models.FieldWorksiteLocation: location(raw, []string{"PRIMARY_WORKSITE_CITY", "WORKSITE_CITY"}, []string{"PRIMARY_WORKSITE_STATE", "WORKSITE_STATE"}),
			models.FieldWage:             currency(raw, "PW_WAGE", "WAGE_RATE"),
			models.FieldDecisionDate:     isoDate(raw, "DETERMINATION_DATE"),
		}
	},
}

// TransformRecord normalizes one raw row for the given kind and stamps it
// with the run timestamp. A kind without a registered transformer is a
// configuration error and fails loudly.
func TransformRecord(kind models.DatasetKind, raw models.RawRecord, runTime time.Time) (models.NormalizedRecord, error) {
	transform, ok := transformers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no transformer", ErrUnknownDataset, kind)
	}
	record := transform(raw)
	record[models.FieldCreatedAt] = runTime
	record[models.FieldUpdatedAt] = runTime
	return record, nil
}

// TransformRecords normalizes a whole parse output with a single shared run
// timestamp, so created_at/updated_at are identical across the batch.
func TransformRecords(kind models.DatasetKind, raws []models.RawRecord, runTime time.Time) ([]models.NormalizedRecord, error) {
	if _, ok := transformers[kind]; !ok {
		return nil, fmt.Errorf("%w: %s has no transformer", ErrUnknownDataset, kind)
	}
	records := make([]models.NormalizedRecord, 0, len(raws))
	for _, raw := range raws {
		record, err := TransformRecord(kind, raw, runTime)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// col returns the first present, non-blank candidate column value.
func col(raw models.RawRecord, columns ...string) (string, bool) {
	for _, name := range columns {
		if value, ok := raw[name]; ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

func text(raw models.RawRecord, def string, columns ...string) string {
	if value, ok := col(raw, columns...); ok {
		return value
	}
	return def
}

// location joins city and state as "City, State", degrading to whichever
// half is present, or "Unknown" when neither is.
func location(raw models.RawRecord, cityColumns, stateColumns []string) string {
	city, hasCity := col(raw, cityColumns...)
	state, hasState := col(raw, stateColumns...)
	switch {
	case hasCity && hasState:
		return city + ", " + state
	case hasCity:
		return city
	case hasState:
		return state
	}
	return defaultName
}

// currency parses a dollar amount, tolerating "$" and "," separators.
// Unparseable values become nil, never an error and never NaN.
func currency(raw models.RawRecord, columns ...string) any {
	value, ok := col(raw, columns...)
	if !ok {
		return nil
	}
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(value)
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return nil
	}
	return parsed
}

// number parses a plain numeric column; unparseable values become nil.
func number(raw models.RawRecord, columns ...string) any {
	value, ok := col(raw, columns...)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return nil
	}
	return parsed
}

// dateLayouts are the formats seen across the government exports.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// isoDate normalizes a date column to RFC 3339, or nil when unparseable.
func isoDate(raw models.RawRecord, columns ...string) any {
	value, ok := col(raw, columns...)
	if !ok {
		return nil
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC().Format(time.RFC3339)
		}
	}
	return nil
}
