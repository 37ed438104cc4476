// Package process issues Sentinel Hub Process API requests that return all
// requested bands of one acquisition day in a single payload.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/robert-malhotra/fieldscenes/internal/catalog"
	"github.com/robert-malhotra/fieldscenes/internal/geom"
)

// DefaultProcessPath is the Process API endpoint.
const DefaultProcessPath = "/api/v1/process"

// Payload content types.
const (
	ContentTypeTar  = "application/x-tar"
	ContentTypeTIFF = "image/tiff"
)

// Request describes one single-day fetch for one target.
type Request struct {
	Collection string
	BBox       geom.BoundingBox
	// Clip optionally restricts output pixels to this geometry, given in
	// BBox.CRS coordinates.
	Clip            orb.Geometry
	Width, Height   int
	Day             time.Time
	MosaickingOrder string
	Bands           BandSpec
}

// Payload describes a received response body.
type Payload struct {
	ContentType string
	Bytes       int64
}

// Client sends Process API requests.
type Client struct {
	processURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a process client. httpClient carries authentication.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		processURL: strings.TrimSuffix(baseURL, "/") + DefaultProcessPath,
		httpClient: httpClient,
		logger:     slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// Fetch sends req and streams the response body into w.
func (c *Client) Fetch(ctx context.Context, req Request, w io.Writer) (*Payload, error) {
	body, err := buildBody(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode body: %v", ErrInvalidRequest, err)
	}

	c.logger.DebugContext(ctx, "executing process request",
		slog.String("url", c.processURL),
		slog.String("day", req.Day.Format("2006-01-02")),
		slog.Int("width", req.Width),
		slog.Int("height", req.Height),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.processURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFetch, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", ContentTypeTar)
	httpReq.Header.Set("User-Agent", "fieldscenes/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.ErrorContext(ctx, "process request failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "process API returned non-2xx status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(respBody)),
		)
		return nil, fmt.Errorf("%w: status %d: %s", ErrFetch, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read payload: %v", ErrFetch, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return &Payload{
		ContentType: strings.TrimSpace(contentType),
		Bytes:       n,
	}, nil
}

type requestBody struct {
	Input      inputSection  `json:"input"`
	Output     outputSection `json:"output"`
	Evalscript string        `json:"evalscript"`
}

type inputSection struct {
	Bounds bounds      `json:"bounds"`
	Data   []dataEntry `json:"data"`
}

type bounds struct {
	BBox       []float64       `json:"bbox"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	Properties struct {
		CRS string `json:"crs"`
	} `json:"properties"`
}

type dataEntry struct {
	Type       string     `json:"type"`
	DataFilter dataFilter `json:"dataFilter"`
}

type dataFilter struct {
	TimeRange struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"timeRange"`
	MosaickingOrder string `json:"mosaickingOrder,omitempty"`
}

type outputSection struct {
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Responses []outputResponse `json:"responses"`
}

type outputResponse struct {
	Identifier string `json:"identifier"`
	Format     struct {
		Type string `json:"type"`
	} `json:"format"`
}

func buildBody(req Request) (*requestBody, error) {
	if req.Collection == "" {
		return nil, fmt.Errorf("%w: collection is required", ErrInvalidRequest)
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrInvalidRequest, req.Width, req.Height)
	}
	if req.BBox.CRS == 0 {
		return nil, fmt.Errorf("%w: bbox has no CRS", ErrInvalidRequest)
	}

	script, err := req.Bands.Evalscript()
	if err != nil {
		return nil, err
	}

	body := &requestBody{Evalscript: script}
	body.Input.Bounds.BBox = req.BBox.Slice()
	body.Input.Bounds.Properties.CRS = req.BBox.CRS.URL()

	if req.Clip != nil {
		data, err := geojson.NewGeometry(req.Clip).MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("%w: encode clip geometry: %v", ErrInvalidRequest, err)
		}
		body.Input.Bounds.Geometry = data
	}

	from, to := catalog.DayRange(req.Day)
	entry := dataEntry{Type: req.Collection}
	entry.DataFilter.TimeRange.From = from.Format(time.RFC3339)
	entry.DataFilter.TimeRange.To = to.Format(time.RFC3339)
	entry.DataFilter.MosaickingOrder = req.MosaickingOrder
	body.Input.Data = []dataEntry{entry}

	body.Output.Width = req.Width
	body.Output.Height = req.Height
	for _, band := range req.Bands.Bands {
		r := outputResponse{Identifier: band}
		r.Format.Type = ContentTypeTIFF
		body.Output.Responses = append(body.Output.Responses, r)
	}
	return body, nil
}
