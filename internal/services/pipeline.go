package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/visahub/visadataflow/internal/gcp"
	"github.com/visahub/visadataflow/internal/models"
	"github.com/visahub/visadataflow/internal/store"
)

// Circuit breaker tuning for live source fetches.
const (
	breakerThreshold = 3
	breakerCooldown  = 15 * time.Minute
)

// IngestConfig holds configuration for the ingestion pipeline.
type IngestConfig struct {
	ProjectID        string
	SourceURLs       map[models.DatasetKind]string
	MockKinds        map[models.DatasetKind]bool
	BatchSize        int
	RetentionYears   int
	FetchTimeout     time.Duration
	Concurrency      int
	UserAgent        string
	ArchiveBucket    string
	WorkflowID       string
	WorkflowLocation string
}

// LoadIngestConfig assembles the pipeline configuration from the environment.
func LoadIngestConfig() (IngestConfig, error) {
	projectID := gcp.GetEnv("GOOGLE_CLOUD_PROJECT_ID", "")
	if projectID == "" {
		return IngestConfig{}, fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID environment variable must be set")
	}

	config := IngestConfig{
		ProjectID: projectID,
		SourceURLs: map[models.DatasetKind]string{
			models.H1BApprovals:   gcp.GetEnv("H1B_APPROVALS_URL", "https://www.uscis.gov/sites/default/files/document/data/h1b_approvals.csv"),
			models.H1BDenials:     gcp.GetEnv("H1B_DENIALS_URL", "https://www.uscis.gov/sites/default/files/document/data/h1b_denials.csv"),
			models.H1BLCA:         gcp.GetEnv("H1B_LCA_URL", "https://www.dol.gov/sites/dolgov/files/ETA/oflc/csv/LCA_Disclosure_Data.csv"),
			models.PERM:           gcp.GetEnv("PERM_URL", "https://www.dol.gov/sites/dolgov/files/ETA/oflc/csv/PERM_Disclosure_Data.csv"),
			models.PrevailingWage: gcp.GetEnv("PREVAILING_WAGE_URL", "https://www.dol.gov/sites/dolgov/files/ETA/oflc/csv/PW_Disclosure_Data.csv"),
		},
		MockKinds:        make(map[models.DatasetKind]bool),
		BatchSize:        intEnv("INGEST_BATCH_SIZE", 500),
		RetentionYears:   intEnv("RETENTION_YEARS", 10),
		FetchTimeout:     time.Duration(intEnv("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
		Concurrency:      intEnv("INGEST_CONCURRENCY", 2),
		UserAgent:        gcp.GetEnv("INGEST_USER_AGENT", "visadataflow-ingest/1.0 (data pipeline)"),
		ArchiveBucket:    gcp.GetEnv("RAW_ARCHIVE_BUCKET", ""),
		WorkflowID:       gcp.GetEnv("REFRESH_WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}

	for _, name := range splitList(gcp.GetEnv("MOCK_DATASETS", "")) {
		kind := models.DatasetKind(name)
		if !kind.Valid() {
			return IngestConfig{}, fmt.Errorf("MOCK_DATASETS contains unknown dataset kind %q", name)
		}
		config.MockKinds[kind] = true
	}

	return config, nil
}

// IngestFunction holds dependencies for the visa-data ingestion pipeline.
type IngestFunction struct {
	config   IngestConfig
	store    store.Store
	adapter  *SourceAdapter
	loader   *BatchLoader
	summary  *SummaryUpdater
	sweeper  *RetentionSweeper
	breakers map[models.DatasetKind]*Breaker

	executionsClient *executions.Client // nil when no refresh workflow is configured
}

// NewIngest creates an IngestFunction wired to real GCP clients.
func NewIngest(ctx context.Context) (*IngestFunction, error) {
	config, err := LoadIngestConfig()
	if err != nil {
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}

	var archiveBucket *storage.BucketHandle
	if config.ArchiveBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		archiveBucket = storageClient.Bucket(config.ArchiveBucket)
	}

	var executionsClient *executions.Client
	if config.WorkflowID != "" {
		executionsClient, err = executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create workflow executions client: %w", err)
		}
	}

	return newIngest(config, store.NewFirestore(firestoreClient), archiveBucket, executionsClient), nil
}

// newIngest wires the pipeline against any Store; tests use it with the
// in-memory implementation.
func newIngest(config IngestConfig, st store.Store, archiveBucket *storage.BucketHandle, executionsClient *executions.Client) *IngestFunction {
	breakers := make(map[models.DatasetKind]*Breaker, len(models.AllDatasetKinds()))
	for _, kind := range models.AllDatasetKinds() {
		breakers[kind] = NewBreaker(breakerThreshold, breakerCooldown)
	}
	return &IngestFunction{
		config:           config,
		store:            st,
		adapter:          NewSourceAdapter(config.FetchTimeout, config.UserAgent, archiveBucket),
		loader:           NewBatchLoader(st, config.BatchSize),
		summary:          NewSummaryUpdater(st),
		sweeper:          NewRetentionSweeper(st),
		breakers:         breakers,
		executionsClient: executionsClient,
	}
}

// Process runs one orchestration pass: every dataset kind through
// fetch, parse, transform and load, then (only when all kinds succeeded) the
// summary recompute, the retention sweep and the optional downstream
// workflow hand-off. Per-kind failures are isolated into the response's
// Errors map; only a run that cannot start at all returns an error.
func (f *IngestFunction) Process(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error) {
	runID := uuid.NewString()
	runTime := time.Now().UTC()
	logCtx := slog.With("runId", runID, "manual", req.Manual)

	switch req.Action {
	case "":
		// full pipeline run below
	case "cleanup":
		return f.runCleanup(ctx, logCtx, req.Years, runTime)
	default:
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}

	// A kind without a transformer is a configuration error; fail the whole
	// run before touching any collection.
	for _, kind := range models.AllDatasetKinds() {
		if _, ok := transformers[kind]; !ok {
			return nil, fmt.Errorf("%w: %s has no transformer", ErrUnknownDataset, kind)
		}
	}

	logCtx.Info("Starting ingestion run.", "kinds", len(models.AllDatasetKinds()))
	f.logRun(ctx, fmt.Sprintf("ingestion run %s started", runID), false)

	results := make(map[string]int)
	failures := make(map[string]string)
	var mu sync.Mutex

	// Kinds write disjoint collections, so they can load in parallel; the
	// summary step below waits for all of them.
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(f.config.Concurrency)
	for _, kind := range models.AllDatasetKinds() {
		kind := kind
		eg.Go(func() error {
			count, err := f.processKind(gctx, logCtx, kind, runID, runTime)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[string(kind)] = err.Error()
			} else {
				results[string(kind)] = count
			}
			// Per-kind failures never cancel sibling kinds.
			return nil
		})
	}
	_ = eg.Wait()

	if len(failures) == 0 {
		if err := f.summary.Recompute(ctx, runTime); err != nil {
			// Loads already succeeded; keep the previous summary row and
			// leave retention and the downstream refresh to the next run.
			logCtx.Error("Summary recompute failed, keeping prior summary.", "error", err)
			f.logRun(ctx, fmt.Sprintf("summary recompute failed: %v", err), true)
		} else {
			f.sweepAll(ctx, logCtx, f.config.RetentionYears, runTime)
			f.triggerRefreshWorkflow(ctx, logCtx, runID, results)
		}
	} else {
		logCtx.Warn("Skipping summary update: not all datasets loaded.", "failedKinds", len(failures))
		f.logRun(ctx, fmt.Sprintf("summary update skipped, %d dataset(s) failed", len(failures)), true)
	}

	resp := &models.IngestResponse{
		Success: len(results) > 0,
		Results: results,
		Errors:  failures,
	}
	switch {
	case len(failures) == 0:
		resp.Message = "all datasets loaded"
	case len(results) == 0:
		resp.Message = "all datasets failed"
		resp.Error = "every dataset kind failed to load"
	default:
		resp.Message = fmt.Sprintf("%d dataset(s) loaded, %d failed", len(results), len(failures))
	}
	logCtx.Info("Ingestion run complete.", "loaded", len(results), "failed", len(failures))
	return resp, nil
}

// processKind runs one dataset through the source, parse, transform and load
// stages and records its metadata row regardless of outcome.
func (f *IngestFunction) processKind(ctx context.Context, logCtx *slog.Logger, kind models.DatasetKind, runID string, runTime time.Time) (int, error) {
	kindLog := logCtx.With("dataset", string(kind))

	extraction, err := f.extract(ctx, kindLog, kind, runID, runTime)
	if err != nil {
		kindLog.Error("Dataset extraction failed.", "error", err)
		f.logRun(ctx, fmt.Sprintf("%s extraction failed: %v", kind, err), true)
		if merr := f.summary.RecordMetadata(ctx, kind, 0, err, runTime); merr != nil {
			kindLog.Error("Failed to record metadata after extraction failure.", "error", merr)
		}
		return 0, err
	}

	count, err := f.loader.Load(ctx, kind, extraction.Records)
	if merr := f.summary.RecordMetadata(ctx, kind, count, err, runTime); merr != nil {
		kindLog.Error("Failed to record dataset metadata.", "error", merr)
	}
	if err != nil {
		kindLog.Error("Dataset load failed.", "error", err, "committed", count)
		f.logRun(ctx, fmt.Sprintf("%s load failed: %v", kind, err), true)
		return 0, err
	}

	kindLog.Info("Dataset loaded.", "records", count, "source", string(extraction.Source))
	f.logRun(ctx, fmt.Sprintf("loaded %d %s records (%s)", count, kind, extraction.Source), false)
	return count, nil
}

// extract selects the extraction path for a kind: mock when explicitly
// configured or when the kind's circuit breaker is open, live otherwise.
// Mock substitution is always logged; results carry the provenance tag.
func (f *IngestFunction) extract(ctx context.Context, kindLog *slog.Logger, kind models.DatasetKind, runID string, runTime time.Time) (*Extraction, error) {
	var strategy ExtractionStrategy = &MockStrategy{Kind: kind}
	if f.config.MockKinds[kind] {
		kindLog.Info("Using mock dataset source (configured).")
		return strategy.Extract(ctx, runID, runTime)
	}

	breaker := f.breakers[kind]
	if !breaker.Allow() {
		kindLog.Warn("Circuit breaker open, substituting mock records.", "breaker", breaker.State())
		f.logRun(ctx, fmt.Sprintf("%s source breaker open, served mock records", kind), true)
		return strategy.Extract(ctx, runID, runTime)
	}

	strategy = &CSVDownloadStrategy{Adapter: f.adapter, Kind: kind, URL: f.config.SourceURLs[kind]}
	extraction, err := strategy.Extract(ctx, runID, runTime)
	if err != nil {
		breaker.Failure()
		return nil, err
	}
	breaker.Success()
	return extraction, nil
}

// runCleanup handles the explicit cleanup trigger: a retention sweep only,
// with an optional window override.
func (f *IngestFunction) runCleanup(ctx context.Context, logCtx *slog.Logger, years int, runTime time.Time) (*models.IngestResponse, error) {
	if years <= 0 {
		years = f.config.RetentionYears
	}
	logCtx.Info("Starting retention cleanup.", "years", years)

	results := make(map[string]int)
	failures := make(map[string]string)
	for _, kind := range models.AllDatasetKinds() {
		deleted, err := f.sweeper.Sweep(ctx, kind, years, runTime)
		if err != nil {
			logCtx.Error("Retention sweep failed.", "dataset", string(kind), "error", err)
			failures[string(kind)] = err.Error()
			continue
		}
		results[string(kind)] = deleted
	}

	resp := &models.IngestResponse{
		Success: len(failures) == 0,
		Message: fmt.Sprintf("retention cleanup complete (%d year window)", years),
		Results: results,
		Errors:  failures,
	}
	return resp, nil
}

// sweepAll runs the post-load retention sweep across every kind. Sweep
// failures are logged and never affect the run's outcome.
func (f *IngestFunction) sweepAll(ctx context.Context, logCtx *slog.Logger, years int, runTime time.Time) {
	for _, kind := range models.AllDatasetKinds() {
		deleted, err := f.sweeper.Sweep(ctx, kind, years, runTime)
		if err != nil {
			logCtx.Error("Retention sweep failed.", "dataset", string(kind), "error", err)
			f.logRun(ctx, fmt.Sprintf("%s retention sweep failed: %v", kind, err), true)
			continue
		}
		f.logRun(ctx, fmt.Sprintf("%s retention sweep removed %d record(s)", kind, deleted), false)
	}
	logCtx.Info("Retention sweep complete.", "years", years)
}

// triggerRefreshWorkflow hands off to the dashboard refresh workflow after a
// fully successful run. Skipped when unconfigured; failures are logged only.
func (f *IngestFunction) triggerRefreshWorkflow(ctx context.Context, logCtx *slog.Logger, runID string, results map[string]int) {
	if f.executionsClient == nil || f.config.WorkflowID == "" {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"runId":   runID,
		"results": results,
	})
	if err != nil {
		logCtx.Error("Failed to marshal workflow payload.", "error", err)
		return
	}

	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}
	if _, err := f.executionsClient.CreateExecution(ctx, req); err != nil {
		logCtx.Error("Failed to trigger refresh workflow.", "error", err, "workflow", f.config.WorkflowID)
		return
	}
	logCtx.Info("Refresh workflow triggered.", "workflow", f.config.WorkflowID)
}

// logRun persists a pipeline log row best-effort; correctness never depends
// on it.
func (f *IngestFunction) logRun(ctx context.Context, message string, isError bool) {
	row := store.Row{
		"message":    message,
		"is_error":   isError,
		"created_at": time.Now().UTC(),
	}
	if err := f.store.Insert(ctx, models.LogCollection, []store.Row{row}); err != nil {
		slog.Debug("Failed to persist pipeline log row.", "error", err)
	}
}

func intEnv(key string, fallback int) int {
	value := gcp.GetEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
