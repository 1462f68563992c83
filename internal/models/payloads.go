package models

// These structs define the JSON payloads for the ingest trigger endpoint and
// the scheduled CloudEvent invocation.

// IngestRequest is the input for a pipeline run. Manual marks an operator
// trigger (subject to the bearer check at the HTTP layer). Action "cleanup"
// runs only the retention sweep; Years overrides the configured retention
// window for that sweep.
type IngestRequest struct {
	Manual bool   `json:"manual"`
	Action string `json:"action,omitempty"`
	Years  int    `json:"years,omitempty"`
}

// IngestResponse is the trigger endpoint's response body. Results maps each
// dataset kind to the number of records loaded; Errors maps failed kinds to
// their error messages. Both may be populated on the same run.
type IngestResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Results map[string]int    `json:"results,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// ScheduledTrigger is the payload carried by the scheduler's Pub/Sub message.
type ScheduledTrigger struct {
	Action string `json:"action,omitempty"`
	Years  int    `json:"years,omitempty"`
}
