package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"

	"github.com/visahub/visadataflow/internal/gcp"
	"github.com/visahub/visadataflow/internal/models"
)

// Extraction is the output of one dataset's source stage: normalized records
// plus the provenance tag telling callers (and tests) which path produced
// them.
type Extraction struct {
	Records []models.NormalizedRecord
	Source  models.Provenance
}

// ExtractionStrategy produces one dataset's normalized records. The
// orchestrator selects an implementation per kind and per run.
type ExtractionStrategy interface {
	Extract(ctx context.Context, runID string, runTime time.Time) (*Extraction, error)
}

// SourceAdapter downloads raw dataset bytes from a government source. It
// applies a bounded timeout and a descriptive user agent and archives each
// successful download to GCS when an archive bucket is configured. It never
// retries; retry policy belongs to the orchestrator's circuit breaker.
type SourceAdapter struct {
	client        *http.Client
	userAgent     string
	archiveBucket *storage.BucketHandle // nil disables archival
}

// NewSourceAdapter builds an adapter with the given fetch timeout.
func NewSourceAdapter(timeout time.Duration, userAgent string, archiveBucket *storage.BucketHandle) *SourceAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SourceAdapter{
		client:        &http.Client{Timeout: timeout},
		userAgent:     userAgent,
		archiveBucket: archiveBucket,
	}
}

// Fetch issues a GET for one dataset's source and returns the raw bytes.
// Non-2xx responses and timeouts surface as SourceFetchError.
func (a *SourceAdapter) Fetch(ctx context.Context, kind models.DatasetKind, url, runID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", kind, err)
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &SourceFetchError{Kind: kind}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SourceFetchError{Kind: kind, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SourceFetchError{Kind: kind}
	}

	if a.archiveBucket != nil {
		objectName := fmt.Sprintf("%s/%s.csv", kind, runID)
		if err := gcp.ArchiveSnapshot(ctx, a.archiveBucket, objectName, body); err != nil {
			// Archival is replay material, not part of the load.
			slog.Warn("Failed to archive raw snapshot.", "dataset", string(kind), "object", objectName, "error", err)
		}
	}

	return body, nil
}

// CSVDownloadStrategy fetches a dataset's CSV export and runs it through the
// parse and transform stages.
type CSVDownloadStrategy struct {
	Adapter *SourceAdapter
	Kind    models.DatasetKind
	URL     string
}

func (s *CSVDownloadStrategy) Extract(ctx context.Context, runID string, runTime time.Time) (*Extraction, error) {
	if s.URL == "" {
		return nil, fmt.Errorf("no source URL configured for %s", s.Kind)
	}

	body, err := s.Adapter.Fetch(ctx, s.Kind, s.URL, runID)
	if err != nil {
		return nil, err
	}

	raws, err := ParseCSV(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", s.Kind, err)
	}

	records, err := TransformRecords(s.Kind, raws, runTime)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		record[models.FieldSource] = string(models.SourceLive)
	}

	return &Extraction{Records: records, Source: models.SourceLive}, nil
}

// MockStrategy serves the synthetic record set in place of a live source.
type MockStrategy struct {
	Kind  models.DatasetKind
	Count int
}

func (s *MockStrategy) Extract(ctx context.Context, runID string, runTime time.Time) (*Extraction, error) {
	return &Extraction{Records: MockRecords(s.Kind, s.Count, runTime), Source: models.SourceMock}, nil
}

var mockEmployers = []string{
	"Acme Systems", "Globex Corporation", "Initech", "Umbrella Analytics",
	"Stark Industries", "Wayne Software", "Hooli", "Pied Piper",
}

var mockTitles = []string{
	"Software Engineer", "Data Analyst", "Product Manager",
	"Machine Learning Engineer", "QA Engineer",
}

var mockLocations = []string{
	"San Jose, CA", "Austin, TX", "Seattle, WA", "Jersey City, NJ", "Atlanta, GA",
}

// MockRecords synthesizes a deterministic, versioned record set for a kind,
// tagged with mock provenance. It is the explicit fallback for sources known
// to be unreliable and for open circuit breakers; callers must log when it is
// used so mock data is never silently substituted for live data.
func MockRecords(kind models.DatasetKind, count int, runTime time.Time) []models.NormalizedRecord {
	if count <= 0 {
		count = 10
	}
	records := make([]models.NormalizedRecord, 0, count)
	for i := 0; i < count; i++ {
		record := models.NormalizedRecord{
			models.FieldEmployerName:     mockEmployers[i%len(mockEmployers)],
			models.FieldJobTitle:         mockTitles[i%len(mockTitles)],
			models.FieldWorksiteLocation: mockLocations[i%len(mockLocations)],
			models.FieldWage:             float64(92000 + i*1750),
			models.FieldSource:           string(models.SourceMock),
			models.FieldCreatedAt:        runTime,
			models.FieldUpdatedAt:        runTime,
		}
		switch kind {
		case models.H1BApprovals:
			record[models.FieldFiscalYear] = float64(runTime.Year())
			record[models.FieldCaseStatus] = "Approved"
		case models.H1BDenials:
			record[models.FieldFiscalYear] = float64(runTime.Year())
			record[models.FieldCaseStatus] = "Denied"
		case models.H1BLCA, models.PERM:
			record[models.FieldCaseNumber] = fmt.Sprintf("MOCK-%s-%04d", kind, i+1)
			record[models.FieldCaseStatus] = "Certified"
			record[models.FieldDecisionDate] = runTime.Format(time.RFC3339)
		case models.PrevailingWage:
			record[models.FieldCaseNumber] = fmt.Sprintf("MOCK-%s-%04d", kind, i+1)
			record[models.FieldSOCTitle] = mockTitles[i%len(mockTitles)]
			record[models.FieldDecisionDate] = runTime.Format(time.RFC3339)
		}
		records = append(records, record)
	}
	return records
}
