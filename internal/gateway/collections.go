package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"

	"github.com/hyperengineering/studiosync/internal/types"
)

func collectionPath(c types.Collection) string {
	return "/api/v1/collections/" + url.PathEscape(string(c))
}

// ExportCollection replaces the remote content of a collection with records.
// This is the bulk "clear and upload" of the admin app.
func (g *Gateway) ExportCollection(ctx context.Context, c types.Collection, records []types.Record) (*types.ReplaceResult, error) {
	body := types.ReplaceRequest{Records: make(map[string]types.Payload, len(records))}
	for _, rec := range records {
		if rec.Collection != "" && rec.Collection != c {
			return nil, errors.Newf("record %s belongs to %s, not %s", rec.ID, rec.Collection, c)
		}
		body.Records[rec.ID] = rec.Payload
	}

	resp, err := g.Do(ctx, Request{Method: http.MethodPut, URL: collectionPath(c), Body: body})
	if err != nil {
		return nil, err
	}
	var result types.ReplaceResult
	if err := resp.Decode(&result); err != nil {
		return nil, err
	}
	g.logger.Info("collection exported", "collection", c, "records", result.Count, "version", result.Version)
	return &result, nil
}

// FetchCollection downloads the remote content of a collection.
func (g *Gateway) FetchCollection(ctx context.Context, c types.Collection) ([]types.Record, error) {
	resp, err := g.Do(ctx, Request{Method: http.MethodGet, URL: collectionPath(c)})
	if err != nil {
		return nil, err
	}
	var doc types.CollectionDocument
	if err := resp.Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Records, nil
}

// PostWebhook delivers body to a named webhook on the remote.
func (g *Gateway) PostWebhook(ctx context.Context, name string, body any) error {
	_, err := g.Do(ctx, Request{Method: http.MethodPost, URL: "/api/v1/webhooks/" + url.PathEscape(name), Body: body})
	return err
}
