package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/visahub/visadataflow/internal/gcp"
	"github.com/visahub/visadataflow/internal/models"
	"github.com/visahub/visadataflow/internal/services"
)

// scheduledTriggerHeader marks requests originating from the scheduler's
// HTTP job; those bypass the bearer check that manual triggers must pass.
const scheduledTriggerHeader = "X-Scheduled-Trigger"

// ingestRunner is the slice of the pipeline the handlers need.
type ingestRunner interface {
	Process(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error)
}

var (
	runnerInstance ingestRunner
	once           sync.Once
	initErr        error

	// newRunner is swapped out by handler tests.
	newRunner = func(ctx context.Context) (ingestRunner, error) {
		return services.NewIngest(ctx)
	}
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register both trigger paths of the ingest function.
	functions.HTTP("HandleIngest", handleIngest)
	functions.CloudEvent("HandleScheduledIngest", handleScheduledIngest)
}

// main is required by the Go Functions Framework.
func main() {}

// handleIngest is the HTTP trigger for the ingestion pipeline. The admin
// panel calls it cross-origin, so every response carries permissive CORS
// headers and OPTIONS pre-flights short-circuit with 204.
func handleIngest(w http.ResponseWriter, r *http.Request) {
	writeCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	req := parseIngestRequest(r)
	req.Manual = r.Header.Get(scheduledTriggerHeader) == ""
	if req.Manual && !authorized(r) {
		slog.Warn("Rejected manual trigger without valid bearer token.")
		writeJSON(w, http.StatusUnauthorized, &models.IngestResponse{
			Success: false,
			Error:   "missing or invalid bearer token",
		})
		return
	}

	runner, err := getRunner()
	if err != nil {
		slog.Error("Critical: ingest pipeline initialization failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, &models.IngestResponse{
			Success: false,
			Message: "pipeline initialization failed",
			Error:   err.Error(),
		})
		return
	}

	resp, err := runner.Process(r.Context(), req)
	if err != nil {
		// Per-kind failures come back inside resp; an error here means the
		// run could not start at all.
		writeJSON(w, http.StatusInternalServerError, &models.IngestResponse{
			Success: false,
			Message: "pipeline run could not start",
			Error:   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleScheduledIngest is the CloudEvent trigger fired by the scheduler's
// Pub/Sub topic. The topic is only writable by the scheduler, so no bearer
// check applies here.
func handleScheduledIngest(ctx context.Context, e cloudevents.Event) error {
	runner, err := getRunner()
	if err != nil {
		slog.Error("Critical: ingest pipeline initialization failed", "error", err)
		return err
	}

	trigger := decodeScheduledTrigger(e)
	req := &models.IngestRequest{
		Manual: false,
		Action: trigger.Action,
		Years:  trigger.Years,
	}

	resp, err := runner.Process(ctx, req)
	if err != nil {
		return err
	}
	slog.Info("Scheduled ingestion finished.", "message", resp.Message, "loaded", len(resp.Results), "failed", len(resp.Errors))
	return nil
}

func getRunner() (ingestRunner, error) {
	// sync.Once for one-time initialization of clients across invocations.
	once.Do(func() {
		runnerInstance, initErr = newRunner(context.Background())
	})
	return runnerInstance, initErr
}

// parseIngestRequest reads trigger options from query parameters first, then
// lets a JSON body override them.
func parseIngestRequest(r *http.Request) *models.IngestRequest {
	req := &models.IngestRequest{
		Action: r.URL.Query().Get("action"),
	}
	if years, err := strconv.Atoi(r.URL.Query().Get("years")); err == nil {
		req.Years = years
	}
	if r.Body != nil {
		var body models.IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			if body.Action != "" {
				req.Action = body.Action
			}
			if body.Years != 0 {
				req.Years = body.Years
			}
		}
	}
	return req
}

// authorized checks the pre-shared bearer secret for manual triggers.
// An unset secret fails closed.
func authorized(r *http.Request) bool {
	secret := gcp.GetEnv("INGEST_TRIGGER_SECRET", "")
	if secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

func writeCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+scheduledTriggerHeader)
}

func writeJSON(w http.ResponseWriter, status int, resp *models.IngestResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// pubsubEnvelope is the shape of a Pub/Sub-delivered CloudEvent payload.
type pubsubEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
}

// decodeScheduledTrigger tolerates both a bare ScheduledTrigger payload and
// the Pub/Sub envelope with base64 data; an undecodable payload just means a
// default full run.
func decodeScheduledTrigger(e cloudevents.Event) models.ScheduledTrigger {
	var trigger models.ScheduledTrigger

	var envelope pubsubEnvelope
	if err := json.Unmarshal(e.Data(), &envelope); err == nil && len(envelope.Message.Data) > 0 {
		if err := json.Unmarshal(envelope.Message.Data, &trigger); err != nil {
			slog.Warn("Could not decode scheduled trigger payload, running defaults.", "error", err)
		}
		return trigger
	}

	if err := json.Unmarshal(e.Data(), &trigger); err != nil {
		slog.Warn("Could not decode scheduled trigger payload, running defaults.", "error", err)
	}
	return trigger
}
