package types

// CollectionDocument is the REST representation of a whole collection.
type CollectionDocument struct {
	Collection Collection `json:"collection"`
	Version    int64      `json:"version,omitempty"`
	Records    []Record   `json:"records"`
}

// ReplaceRequest is the body of a bulk replace: the complete new content of
// a collection keyed by record id.
type ReplaceRequest struct {
	Records map[string]Payload `json:"records"`
}

// ReplaceResult reports the outcome of a bulk replace.
type ReplaceResult struct {
	Collection Collection `json:"collection"`
	Version    int64      `json:"version"`
	Count      int        `json:"count"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status      string             `json:"status"`
	Version     string             `json:"version"`
	Collections []CollectionHealth `json:"collections"`
}

// CollectionHealth summarizes one collection on the remote.
type CollectionHealth struct {
	Collection Collection `json:"collection"`
	Records    int        `json:"records"`
	Version    int64      `json:"version"`
	Watchers   int        `json:"watchers"`
}

// WebhookAccepted acknowledges a webhook delivery.
type WebhookAccepted struct {
	Webhook   string `json:"webhook"`
	RequestID string `json:"request_id,omitempty"`
}
