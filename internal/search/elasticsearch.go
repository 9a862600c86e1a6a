package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/teemow/homesheet/internal/listing"
)

// DefaultIndexName is the listings index queried when none is configured.
const DefaultIndexName = "listings"

// ElasticsearchConfig configures the Elasticsearch source.
type ElasticsearchConfig struct {
	Addresses []string
	Index     string
	Username  string
	Password  string

	// Transport overrides the HTTP transport, for tests.
	Transport http.RoundTripper
}

// ElasticsearchSource queries a listings index.
type ElasticsearchSource struct {
	client *elasticsearch.Client
	index  string
	logger *slog.Logger
}

type esSearchResponse struct {
	Took int `json:"took"`
	Hits struct {
		Hits []struct {
			Source listing.Listing `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// NewElasticsearchSource creates a client for cfg. It does not contact the
// cluster; use Ping for a readiness check.
func NewElasticsearchSource(cfg ElasticsearchConfig, logger *slog.Logger) (*ElasticsearchSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndexName
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticsearchSource{client: client, index: cfg.Index, logger: logger}, nil
}

// Name implements Source.
func (s *ElasticsearchSource) Name() string { return "elasticsearch" }

// Ping checks whether the cluster is reachable.
func (s *ElasticsearchSource) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: unexpected status %s", res.Status())
	}
	return nil
}

// Fetch implements Source. It asks for three times limit so that
// deduplication still leaves a full page.
func (s *ElasticsearchSource) Fetch(ctx context.Context, c listing.Criteria, limit int) ([]listing.Listing, error) {
	if limit <= 0 {
		limit = listing.DefaultLimit
	}
	data, err := json.Marshal(buildQuery(c, limit*3))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: marshal query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(data)),
		s.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		var errResp esErrorResponse
		if decErr := json.NewDecoder(res.Body).Decode(&errResp); decErr == nil && errResp.Error.Type != "" {
			return nil, fmt.Errorf("elasticsearch search: %s: %s", errResp.Error.Type, errResp.Error.Reason)
		}
		return nil, fmt.Errorf("elasticsearch search: unexpected status %s", res.Status())
	}

	var esResp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("elasticsearch search: decode response: %w", err)
	}

	out := make([]listing.Listing, 0, len(esResp.Hits.Hits))
	for _, hit := range esResp.Hits.Hits {
		out = append(out, hit.Source)
	}
	s.logger.DebugContext(ctx, "elasticsearch search finished",
		slog.Int("hits", len(out)),
		slog.Int("took_ms", esResp.Took),
	)
	return out, nil
}

func buildQuery(c listing.Criteria, size int) map[string]any {
	must := []any{
		map[string]any{
			"multi_match": map[string]any{
				"query":    c.Location,
				"fields":   []string{"city^3", "state", "zip_code^2", "address"},
				"type":     "cross_fields",
				"operator": "and",
			},
		},
	}

	var filters []any
	if c.ListingType != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"listing_type": string(c.ListingType)},
		})
	}
	filters = appendRange(filters, "price", c.MinPrice, c.MaxPrice)
	filters = appendRange(filters, "beds", c.MinBeds, c.MaxBeds)
	filters = appendRange(filters, "baths", c.MinBaths, c.MaxBaths)
	filters = appendRange(filters, "sqft", c.MinSqft, c.MaxSqft)
	if len(c.PropertyTypes) > 0 {
		types := make([]string, len(c.PropertyTypes))
		for i, pt := range c.PropertyTypes {
			types[i] = string(pt)
		}
		filters = append(filters, map[string]any{
			"terms": map[string]any{"property_type": types},
		})
	}
	if c.PastDays > 0 {
		filters = append(filters, map[string]any{
			"range": map[string]any{
				"listed_at": map[string]any{"gte": fmt.Sprintf("now-%dd/d", c.PastDays)},
			},
		})
	}
	for _, kw := range c.Keywords {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  kw,
				"fields": []string{"description", "address"},
			},
		})
	}

	boolQuery := map[string]any{"must": must}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	return map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  size,
		"sort": []any{
			map[string]any{"price": "asc"},
			map[string]any{"address.keyword": "asc"},
		},
	}
}

func appendRange[T int | float64](filters []any, field string, lo, hi *T) []any {
	if lo == nil && hi == nil {
		return filters
	}
	r := map[string]any{}
	if lo != nil {
		r["gte"] = *lo
	}
	if hi != nil {
		r["lte"] = *hi
	}
	return append(filters, map[string]any{
		"range": map[string]any{field: r},
	})
}
