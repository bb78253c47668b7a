// Package retrieval defines the contract with the vector search backend.
// The backend itself is a black box: given a query it returns up to k scored
// documents, and "no results" is an empty slice, never an error.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Document is one retrieved chunk. Distance is in [0,1]; lower is more
// similar.
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// Retriever is the retrieval collaborator contract.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Document, error)
}

// KNNClient talks to the KNN search service over HTTP.
type KNNClient struct {
	client *resty.Client
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type searchResponse struct {
	Results []Document `json:"results"`
}

// NewKNNClient builds a client for the KNN service at baseURL.
func NewKNNClient(baseURL string, timeout time.Duration) *KNNClient {
	return &KNNClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// Retrieve returns the top-k documents for the query.
func (c *KNNClient) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	var parsed searchResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(searchRequest{Query: query, K: k}).
		SetResult(&parsed).
		Post("/search")
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("retrieval service error: status=%d", resp.StatusCode())
	}
	if parsed.Results == nil {
		return []Document{}, nil
	}
	return parsed.Results, nil
}
