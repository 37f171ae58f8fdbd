// Package datastore provides row source adapters for the remote datastore.
package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openterra/efflux/internal/domain"
)

// HTTPSource implements output.RowSource against a JSON-over-HTTP datastore
// search endpoint with offset/limit pagination.
type HTTPSource struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// HTTPConfig holds HTTP row source configuration.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPSource creates a new HTTP row source adapter.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &HTTPSource{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

type searchResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Fields []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"fields"`
		Records []map[string]json.RawMessage `json:"records"`
	} `json:"result"`
	Error map[string]any `json:"error,omitempty"`
}

// Describe returns the resource's ordered field list.
func (s *HTTPSource) Describe(ctx context.Context, resourceID string) (domain.Schema, error) {
	resp, err := s.search(ctx, resourceID, 0, 0)
	if err != nil {
		return nil, err
	}

	schema := make(domain.Schema, 0, len(resp.Result.Fields))
	for _, f := range resp.Result.Fields {
		schema = append(schema, domain.Field{
			Name: f.ID,
			Type: domain.NormalizeFieldType(f.Type),
		})
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("%s: %w", resourceID, domain.ErrResourceNotFound)
	}
	return schema, nil
}

// Fetch returns one page of rows in source order.
func (s *HTTPSource) Fetch(ctx context.Context, resourceID string, offset, limit int) ([]domain.Row, error) {
	resp, err := s.search(ctx, resourceID, offset, limit)
	if err != nil {
		return nil, err
	}

	fields := resp.Result.Fields
	rows := make([]domain.Row, 0, len(resp.Result.Records))
	for _, record := range resp.Result.Records {
		row := make(domain.Row, len(fields))
		for i, f := range fields {
			raw, ok := record[f.ID]
			if !ok || string(raw) == "null" {
				continue
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			var v any
			if err := dec.Decode(&v); err != nil {
				return nil, &domain.RemoteQueryError{
					ResourceID: resourceID,
					Offset:     offset,
					Err:        fmt.Errorf("decoding field %s: %w", f.ID, err),
				}
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *HTTPSource) search(ctx context.Context, resourceID string, offset, limit int) (*searchResponse, error) {
	params := url.Values{}
	params.Set("resource_id", resourceID)
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))

	endpoint := s.baseURL + "/api/3/action/datastore_search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.RemoteQueryError{ResourceID: resourceID, Offset: offset, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", resourceID, domain.ErrResourceNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.RemoteQueryError{
			ResourceID: resourceID,
			Offset:     offset,
			Err:        fmt.Errorf("datastore returned status %d", resp.StatusCode),
		}
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.RemoteQueryError{ResourceID: resourceID, Offset: offset, Err: err}
	}
	if !out.Success {
		return nil, &domain.RemoteQueryError{
			ResourceID: resourceID,
			Offset:     offset,
			Err:        fmt.Errorf("datastore error: %v", out.Error),
		}
	}
	return &out, nil
}
