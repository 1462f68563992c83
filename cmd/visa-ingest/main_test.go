package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/visahub/visadataflow/internal/models"
)

type stubRunner struct {
	mu    sync.Mutex
	calls []*models.IngestRequest
	resp  *models.IngestResponse
	err   error
}

func (s *stubRunner) Process(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	return s.resp, s.err
}

func (s *stubRunner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// installStub points newRunner at a stub pipeline and resets the one-time
// initialization, so each test's first handler call constructs its own stub.
func installStub(t *testing.T) *stubRunner {
	t.Helper()
	stub := &stubRunner{resp: &models.IngestResponse{
		Success: true,
		Message: "all datasets loaded",
		Results: map[string]int{"h1b_approvals": 10},
	}}
	prev := newRunner
	newRunner = func(ctx context.Context) (ingestRunner, error) { return stub, nil }
	once = sync.Once{}
	t.Cleanup(func() {
		newRunner = prev
		once = sync.Once{}
		runnerInstance = nil
		initErr = nil
	})
	return stub
}

func TestOptionsPreflight(t *testing.T) {
	stub := installStub(t)

	rec := httptest.NewRecorder()
	handleIngest(rec, httptest.NewRequest(http.MethodOptions, "/run", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if stub.callCount() != 0 {
		t.Errorf("pipeline invoked %d times during pre-flight, want 0", stub.callCount())
	}
}

func TestManualTriggerWithoutBearerIsRejected(t *testing.T) {
	t.Setenv("INGEST_TRIGGER_SECRET", "s3cret")
	stub := installStub(t)

	rec := httptest.NewRecorder()
	handleIngest(rec, httptest.NewRequest(http.MethodPost, "/run", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if stub.callCount() != 0 {
		t.Errorf("pipeline invoked %d times without authorization, want 0", stub.callCount())
	}

	var resp models.IngestResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("response body is not JSON: %v", err)
	}
	if resp.Success {
		t.Error("unauthorized response marked success")
	}
}

func TestManualTriggerWithWrongBearerIsRejected(t *testing.T) {
	t.Setenv("INGEST_TRIGGER_SECRET", "s3cret")
	stub := installStub(t)

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	handleIngest(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if stub.callCount() != 0 {
		t.Errorf("pipeline invoked with wrong token, want 0 calls")
	}
}

func TestManualTriggerWithBearerRuns(t *testing.T) {
	t.Setenv("INGEST_TRIGGER_SECRET", "s3cret")
	stub := installStub(t)

	req := httptest.NewRequest(http.MethodPost, "/run?action=cleanup&years=5", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	handleIngest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if stub.callCount() != 1 {
		t.Fatalf("pipeline invoked %d times, want 1", stub.callCount())
	}
	got := stub.calls[0]
	if !got.Manual {
		t.Error("request not marked manual")
	}
	if got.Action != "cleanup" || got.Years != 5 {
		t.Errorf("parsed request = %+v, want action=cleanup years=5", got)
	}

	var resp models.IngestResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("response body is not JSON: %v", err)
	}
	if !resp.Success {
		t.Errorf("response = %+v, want success", resp)
	}
}

func TestScheduledHeaderBypassesBearerCheck(t *testing.T) {
	t.Setenv("INGEST_TRIGGER_SECRET", "s3cret")
	stub := installStub(t)

	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	req.Header.Set(scheduledTriggerHeader, "weekly")
	rec := httptest.NewRecorder()
	handleIngest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if stub.callCount() != 1 {
		t.Fatalf("pipeline invoked %d times, want 1", stub.callCount())
	}
	if stub.calls[0].Manual {
		t.Error("scheduled request marked manual")
	}
}

func TestBodyOverridesQueryParams(t *testing.T) {
	t.Setenv("INGEST_TRIGGER_SECRET", "s3cret")
	installStub(t)

	body := strings.NewReader(`{"action":"cleanup","years":3}`)
	req := httptest.NewRequest(http.MethodPost, "/run", body)
	parsed := parseIngestRequest(req)
	if parsed.Action != "cleanup" || parsed.Years != 3 {
		t.Errorf("parsed = %+v, want action=cleanup years=3", parsed)
	}
}

func TestDecodeScheduledTriggerEnvelope(t *testing.T) {
	payload, _ := json.Marshal(models.ScheduledTrigger{Action: "cleanup", Years: 2})
	envelope := pubsubEnvelope{}
	envelope.Message.Data = payload
	raw, _ := json.Marshal(envelope)

	e := cloudevents.NewEvent()
	if err := e.SetData(cloudevents.ApplicationJSON, json.RawMessage(raw)); err != nil {
		t.Fatalf("SetData returned error: %v", err)
	}

	trigger := decodeScheduledTrigger(e)
	if trigger.Action != "cleanup" || trigger.Years != 2 {
		t.Errorf("decoded trigger = %+v, want action=cleanup years=2", trigger)
	}
}

func TestDecodeScheduledTriggerBarePayload(t *testing.T) {
	e := cloudevents.NewEvent()
	if err := e.SetData(cloudevents.ApplicationJSON, models.ScheduledTrigger{Action: "cleanup"}); err != nil {
		t.Fatalf("SetData returned error: %v", err)
	}
	if got := decodeScheduledTrigger(e); got.Action != "cleanup" {
		t.Errorf("decoded action = %q, want cleanup", got.Action)
	}
}
