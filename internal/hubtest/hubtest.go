// Package hubtest provides an in-process fake of the Sentinel Hub token,
// catalog, and process endpoints for tests.
package hubtest

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Paths served by the fake.
const (
	TokenPath   = "/auth/realms/main/protocol/openid-connect/token"
	CatalogPath = "/api/v1/catalog/1.0.0/search"
	ProcessPath = "/api/v1/process"
)

// TIFF is the band payload served for every requested output.
var TIFF = append([]byte{'I', 'I', 42, 0}, bytes.Repeat([]byte{1}, 32)...)

// Scene is one catalog entry served by the fake.
type Scene struct {
	ID         string
	Datetime   time.Time
	CloudCover float64
}

// ProcessRequest is the decoded part of a process request the fake inspects.
type ProcessRequest struct {
	BBox       []float64
	CRS        string
	From, To   string
	Outputs    []string
	Width      int
	Height     int
	Evalscript string
}

// Hub is a fake Sentinel Hub deployment.
type Hub struct {
	Server *httptest.Server

	// PageSize limits features per catalog page. Zero serves one page.
	PageSize int
	// FailCatalog makes the catalog return 503 for matching searches.
	FailCatalog func(bbox []float64) bool
	// FailProcess makes the process API return 500 for matching requests.
	FailProcess func(req ProcessRequest) bool

	mu        sync.Mutex
	scenes    []Scene
	processed []ProcessRequest

	tokenCalls   atomic.Int32
	catalogCalls atomic.Int32
	processCalls atomic.Int32
}

// New starts a fake hub that is closed when the test ends.
func New(t testing.TB) *Hub {
	t.Helper()
	h := &Hub{}

	r := chi.NewRouter()
	r.Post(TokenPath, h.handleToken)
	r.Group(func(r chi.Router) {
		r.Use(requireBearer)
		r.Post(CatalogPath, h.handleCatalog)
		r.Post(ProcessPath, h.handleProcess)
	})

	h.Server = httptest.NewServer(r)
	t.Cleanup(h.Server.Close)
	return h
}

// URL is the base URL of the fake.
func (h *Hub) URL() string { return h.Server.URL }

// TokenURL is the OAuth token endpoint of the fake.
func (h *Hub) TokenURL() string { return h.Server.URL + TokenPath }

// AddScene registers a catalog entry. ts is RFC 3339.
func (h *Hub) AddScene(id, ts string, cloudCover float64) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scenes = append(h.scenes, Scene{ID: id, Datetime: t, CloudCover: cloudCover})
}

// TokenCalls returns the number of token requests served.
func (h *Hub) TokenCalls() int { return int(h.tokenCalls.Load()) }

// CatalogCalls returns the number of catalog pages served.
func (h *Hub) CatalogCalls() int { return int(h.catalogCalls.Load()) }

// ProcessCalls returns the number of process requests received.
func (h *Hub) ProcessCalls() int { return int(h.processCalls.Load()) }

// Processed returns the decoded process requests received so far.
func (h *Hub) Processed() []ProcessRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ProcessRequest(nil), h.processed...)
}

func requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Hub) handleToken(w http.ResponseWriter, r *http.Request) {
	h.tokenCalls.Add(1)
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, "application/json", map[string]any{
		"access_token": "fake-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

type searchBody struct {
	Datetime string    `json:"datetime"`
	BBox     []float64 `json:"bbox"`
	Limit    int       `json:"limit"`
	Next     *int      `json:"next"`
}

func (h *Hub) handleCatalog(w http.ResponseWriter, r *http.Request) {
	h.catalogCalls.Add(1)

	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.FailCatalog != nil && h.FailCatalog(body.BBox) {
		http.Error(w, `{"error":"service unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	from, to, ok := parseInterval(body.Datetime)
	if !ok {
		http.Error(w, "bad datetime", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	var matched []Scene
	for _, s := range h.scenes {
		if !s.Datetime.Before(from) && !s.Datetime.After(to) {
			matched = append(matched, s)
		}
	}
	h.mu.Unlock()

	offset := 0
	if body.Next != nil {
		offset = *body.Next
	}
	end := len(matched)
	if h.PageSize > 0 && offset+h.PageSize < end {
		end = offset + h.PageSize
	}
	if offset > end {
		offset = end
	}

	features := make([]map[string]any, 0, end-offset)
	for _, s := range matched[offset:end] {
		features = append(features, map[string]any{
			"type":         "Feature",
			"stac_version": "1.0.0",
			"id":           s.ID,
			"geometry":     nil,
			"properties": map[string]any{
				"datetime":       s.Datetime.UTC().Format(time.RFC3339),
				"eo:cloud_cover": s.CloudCover,
			},
			"links":  []any{},
			"assets": map[string]any{},
		})
	}

	resp := map[string]any{"type": "FeatureCollection", "features": features}
	if end < len(matched) {
		resp["context"] = map[string]any{"next": end, "limit": h.PageSize, "returned": len(features)}
	}
	writeJSON(w, "application/geo+json", resp)
}

type processBody struct {
	Input struct {
		Bounds struct {
			BBox       []float64 `json:"bbox"`
			Properties struct {
				CRS string `json:"crs"`
			} `json:"properties"`
		} `json:"bounds"`
		Data []struct {
			DataFilter struct {
				TimeRange struct {
					From string `json:"from"`
					To   string `json:"to"`
				} `json:"timeRange"`
			} `json:"dataFilter"`
		} `json:"data"`
	} `json:"input"`
	Output struct {
		Width     int `json:"width"`
		Height    int `json:"height"`
		Responses []struct {
			Identifier string `json:"identifier"`
		} `json:"responses"`
	} `json:"output"`
	Evalscript string `json:"evalscript"`
}

func (h *Hub) handleProcess(w http.ResponseWriter, r *http.Request) {
	h.processCalls.Add(1)

	var body processBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := ProcessRequest{
		BBox:       body.Input.Bounds.BBox,
		CRS:        body.Input.Bounds.Properties.CRS,
		Width:      body.Output.Width,
		Height:     body.Output.Height,
		Evalscript: body.Evalscript,
	}
	if len(body.Input.Data) > 0 {
		req.From = body.Input.Data[0].DataFilter.TimeRange.From
		req.To = body.Input.Data[0].DataFilter.TimeRange.To
	}
	for _, resp := range body.Output.Responses {
		req.Outputs = append(req.Outputs, resp.Identifier)
	}

	h.mu.Lock()
	h.processed = append(h.processed, req)
	h.mu.Unlock()

	if h.FailProcess != nil && h.FailProcess(req) {
		http.Error(w, `{"error":{"status":500,"reason":"Internal Server Error"}}`, http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, id := range req.Outputs {
		hdr := &tar.Header{Name: id + ".tif", Mode: 0o644, Size: int64(len(TIFF)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if _, err := tw.Write(TIFF); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if err := tw.Close(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-tar")
	_, _ = w.Write(buf.Bytes())
}

func parseInterval(s string) (time.Time, time.Time, bool) {
	from, to, ok := strings.Cut(s, "/")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	f, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return f, t, true
}

func writeJSON(w http.ResponseWriter, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	_ = json.NewEncoder(w).Encode(v)
}
