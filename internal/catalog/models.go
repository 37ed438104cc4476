package catalog

import (
	"encoding/json"
	"time"

	gostac "github.com/planetlabs/go-stac"
)

// Item re-exports the STAC item type returned by searches.
type Item = gostac.Item

// Scene is one catalog entry reduced to what acquisition planning needs.
type Scene struct {
	ID       string
	Datetime time.Time
	// CloudCover is nil when the item carries no eo:cloud_cover.
	CloudCover *float64
	Item       *Item
}

// Date truncates the acquisition timestamp to its UTC calendar day.
func (s Scene) Date() string {
	return s.Datetime.UTC().Format(DateLayout)
}

// DateLayout is the calendar-day format used for grouping and directories.
const DateLayout = "2006-01-02"

// searchRequest is the STAC item-search POST body.
type searchRequest struct {
	Collections []string        `json:"collections"`
	Datetime    string          `json:"datetime"`
	BBox        []float64       `json:"bbox,omitempty"`
	Intersects  json.RawMessage `json:"intersects,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	FilterLang  string          `json:"filter-lang,omitempty"`
	Next        any             `json:"next,omitempty"`
}

// searchResponse is a STAC ItemCollection page.
type searchResponse struct {
	Type     string         `json:"type"`
	Features []*gostac.Item `json:"features"`
	Links    []searchLink   `json:"links"`
	Context  *searchContext `json:"context,omitempty"`
}

// searchContext carries the Sentinel Hub style pagination token.
type searchContext struct {
	Next     any `json:"next,omitempty"`
	Limit    int `json:"limit"`
	Returned int `json:"returned"`
}

// searchLink is a STAC link with the POST body used by paging links.
type searchLink struct {
	Rel    string         `json:"rel"`
	Href   string         `json:"href"`
	Method string         `json:"method,omitempty"`
	Body   map[string]any `json:"body,omitempty"`
}

// nextToken returns the token for the following page, or nil on the last page.
func (r *searchResponse) nextToken() any {
	if r.Context != nil && r.Context.Next != nil {
		return r.Context.Next
	}
	for _, l := range r.Links {
		if l.Rel == "next" && l.Body != nil {
			if next, ok := l.Body["next"]; ok {
				return next
			}
		}
	}
	return nil
}
