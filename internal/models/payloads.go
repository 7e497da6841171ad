package models

// These structs define the JSON payloads exchanged with the reprocess HTTP
// function and the downstream Cloud Workflow.

// ReprocessRequest asks the ingest function to run again for an object that
// already exists in the input bucket.
type ReprocessRequest struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ReprocessResponse reports the outcome row written for a reprocess run.
type ReprocessResponse struct {
	Status    string `json:"status"`
	Success   bool   `json:"success"`
	PageCount int    `json:"pageCount"`
	Message   string `json:"message"`
	OutputURI string `json:"outputUri,omitempty"`
}

// HandOff is the argument passed to the workflow started after a successful
// OCR run.
type HandOff struct {
	CustomerID string `json:"customerId"`
	FileName   string `json:"fileName"`
	SourceURI  string `json:"sourceUri"`
	OutputURI  string `json:"outputUri"`
	PageCount  int    `json:"pageCount"`
}
