// Package catalog provides a client for STAC item search on the Sentinel Hub
// catalog and compatible STAC APIs.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/planetlabs/go-ogc/filter"
)

const (
	// DefaultSearchPath is the Sentinel Hub catalog search endpoint.
	DefaultSearchPath = "/api/v1/catalog/1.0.0/search"

	// DefaultPageSize is the default number of items per page.
	DefaultPageSize = 100

	// CloudCoverProperty is the STAC eo extension cloud cover property.
	CloudCoverProperty = "eo:cloud_cover"
)

// Query describes one catalog search. Exactly one of BBox or Intersects is set.
type Query struct {
	Collection string
	// BBox is [west, south, east, north] in WGS84.
	BBox []float64
	// Intersects is an exact WGS84 geometry.
	Intersects orb.Geometry
	// Start and End are inclusive calendar days.
	Start time.Time
	End   time.Time
	// MaxCloudCover is nil to disable cloud filtering.
	MaxCloudCover *float64
	Limit         int
}

// Client handles communication with the catalog search API.
type Client struct {
	searchURL    string
	httpClient   *http.Client
	serverFilter bool
	logger       *slog.Logger
}

// NewClient creates a catalog client. httpClient carries authentication.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		searchURL:    strings.TrimSuffix(baseURL, "/") + DefaultSearchPath,
		httpClient:   httpClient,
		serverFilter: true,
		logger:       slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithSearchURL overrides the full search endpoint URL. An empty URL keeps
// the default path under the base URL.
func (c *Client) WithSearchURL(searchURL string) *Client {
	if searchURL != "" {
		c.searchURL = searchURL
	}
	return c
}

// WithServerFilter controls whether cloud filters are sent as CQL2. When
// disabled, the filter is applied to returned scenes instead.
func (c *Client) WithServerFilter(enabled bool) *Client {
	c.serverFilter = enabled
	return c
}

// Search returns a lazy sequence of scenes. No request is sent until the
// sequence is ranged over; pages are fetched as iteration proceeds. A failure
// yields a single error wrapping ErrCatalogUnavailable and ends the sequence.
// Scene order is whatever the provider returns.
func (c *Client) Search(ctx context.Context, q Query) iter.Seq2[Scene, error] {
	return func(yield func(Scene, error) bool) {
		body, err := c.buildRequest(q)
		if err != nil {
			yield(Scene{}, err)
			return
		}

		for page := 1; ; page++ {
			resp, err := c.searchPage(ctx, body)
			if err != nil {
				yield(Scene{}, err)
				return
			}

			c.logger.DebugContext(ctx, "catalog page received",
				slog.Int("page", page),
				slog.Int("features", len(resp.Features)),
			)

			scenes := make([]Scene, 0, len(resp.Features))
			for _, item := range resp.Features {
				scene, err := SceneFromItem(item)
				if err != nil {
					c.logger.WarnContext(ctx, "skipping malformed catalog item",
						slog.String("error", err.Error()),
					)
					continue
				}
				scenes = append(scenes, scene)
			}
			if !c.serverFilter {
				scenes = FilterScenes(scenes, q.MaxCloudCover)
			}
			for _, scene := range scenes {
				if !yield(scene, nil) {
					return
				}
			}

			next := resp.nextToken()
			if next == nil || len(resp.Features) == 0 || reflect.DeepEqual(next, body.Next) {
				return
			}
			body.Next = next
		}
	}
}

// Collect drains a scene sequence.
func Collect(seq iter.Seq2[Scene, error]) ([]Scene, error) {
	var scenes []Scene
	for scene, err := range seq {
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, scene)
	}
	return scenes, nil
}

func (c *Client) buildRequest(q Query) (*searchRequest, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	if (q.BBox == nil) == (q.Intersects == nil) {
		return nil, fmt.Errorf("%w: exactly one of bbox or intersects is required", ErrInvalidQuery)
	}
	if q.End.Before(q.Start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidQuery,
			q.End.Format(DateLayout), q.Start.Format(DateLayout))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}

	req := &searchRequest{
		Collections: []string{q.Collection},
		Datetime:    FormatInterval(q.Start, q.End),
		Limit:       limit,
	}

	if q.BBox != nil {
		if len(q.BBox) != 4 {
			return nil, fmt.Errorf("%w: bbox must have 4 values, got %d", ErrInvalidQuery, len(q.BBox))
		}
		req.BBox = q.BBox
	} else {
		data, err := geojson.NewGeometry(q.Intersects).MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode intersects geometry: %v", ErrInvalidQuery, err)
		}
		req.Intersects = data
	}

	if q.MaxCloudCover != nil && c.serverFilter {
		data, err := json.Marshal(&filter.Filter{Expression: CloudCoverFilter(*q.MaxCloudCover)})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode filter: %v", ErrInvalidQuery, err)
		}
		req.Filter = data
		req.FilterLang = "cql2-json"
	}

	return req, nil
}

func (c *Client) searchPage(ctx context.Context, body *searchRequest) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", ErrInvalidQuery, err)
	}

	c.logger.DebugContext(ctx, "executing catalog search",
		slog.String("url", c.searchURL),
		slog.String("body", string(payload)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrCatalogUnavailable, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json")
	req.Header.Set("User-Agent", "fieldscenes/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "catalog request failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: request failed: %v", ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "catalog returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(respBody)),
		)
		return nil, fmt.Errorf("%w: status %d: %s", ErrCatalogUnavailable, resp.StatusCode, string(respBody))
	}

	var page searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		c.logger.ErrorContext(ctx, "failed to decode catalog response",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrCatalogUnavailable, err)
	}

	return &page, nil
}

// SceneFromItem extracts the scene identity and timestamp from a STAC item.
func SceneFromItem(item *Item) (Scene, error) {
	if item == nil || item.Id == "" {
		return Scene{}, fmt.Errorf("item has no id")
	}

	raw, ok := item.Properties["datetime"].(string)
	if !ok {
		return Scene{}, fmt.Errorf("item %s has no datetime", item.Id)
	}
	ts, err := ParseItemTime(raw)
	if err != nil {
		return Scene{}, fmt.Errorf("item %s: %w", item.Id, err)
	}

	scene := Scene{ID: item.Id, Datetime: ts, Item: item}
	if cc, ok := item.Properties[CloudCoverProperty].(float64); ok {
		scene.CloudCover = &cc
	}
	return scene, nil
}
