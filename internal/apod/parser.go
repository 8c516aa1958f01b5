package apod

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pders01/apodtok/internal/validation"
)

// rawItem mirrors the wire shape with pointers so missing required fields
// can be told apart from empty ones.
type rawItem struct {
	Title       *string `json:"title"`
	Date        *string `json:"date"`
	MediaType   *string `json:"media_type"`
	URL         *string `json:"url"`
	HDURL       string  `json:"hdurl"`
	Explanation string  `json:"explanation"`
	Copyright   string  `json:"copyright"`
}

// apiError covers both error envelopes the upstream is known to return.
type apiError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e apiError) message() string {
	if e.Error != nil {
		return strings.TrimSpace(e.Error.Code + " " + e.Error.Message)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%d %s", e.Code, e.Msg)
	}
	return ""
}

// Quarantined is an upstream item rejected at the decoding boundary.
type Quarantined struct {
	Index  int
	Reason string
}

type Parser struct {
	urls *validation.URLValidator
}

func NewParser(urls *validation.URLValidator) *Parser {
	if urls == nil {
		urls = validation.NewURLValidator()
	}
	return &Parser{urls: urls}
}

// Parse decodes a JSON array of items. Items missing required fields or
// carrying malformed values are quarantined instead of returned. A JSON
// object body is treated as an upstream error envelope.
func (p *Parser) Parse(data []byte) ([]Item, []Quarantined, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("empty response body")
	}

	if trimmed[0] == '{' {
		var envelope apiError
		if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.message() != "" {
			return nil, nil, fmt.Errorf("upstream error: %s", envelope.message())
		}
		// count=1 style single object
		trimmed = append(append([]byte{'['}, trimmed...), ']')
	}

	var raws []rawItem
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, nil, fmt.Errorf("decoding items: %w", err)
	}

	items := make([]Item, 0, len(raws))
	var rejected []Quarantined
	for i, raw := range raws {
		item, err := p.convert(raw)
		if err != nil {
			rejected = append(rejected, Quarantined{Index: i, Reason: err.Error()})
			continue
		}
		items = append(items, item)
	}

	return items, rejected, nil
}

func (p *Parser) convert(raw rawItem) (Item, error) {
	if raw.Title == nil || strings.TrimSpace(*raw.Title) == "" {
		return Item{}, fmt.Errorf("missing title")
	}
	if raw.Date == nil {
		return Item{}, fmt.Errorf("missing date")
	}
	if raw.MediaType == nil {
		return Item{}, fmt.Errorf("missing media_type")
	}
	if raw.URL == nil {
		return Item{}, fmt.Errorf("missing url")
	}

	date, err := ParseDate(*raw.Date)
	if err != nil {
		return Item{}, err
	}

	mediaType := MediaType(strings.ToLower(strings.TrimSpace(*raw.MediaType)))
	if mediaType != MediaImage && mediaType != MediaVideo {
		return Item{}, fmt.Errorf("unsupported media_type %q", *raw.MediaType)
	}

	primary, err := p.urls.ValidateMediaURL(*raw.URL)
	if err != nil {
		return Item{}, fmt.Errorf("url: %w", err)
	}

	var hd string
	if strings.TrimSpace(raw.HDURL) != "" {
		// A bad HD URL only costs the fallback, not the item.
		if normalized, hdErr := p.urls.ValidateMediaURL(raw.HDURL); hdErr == nil {
			hd = normalized
		}
	}

	return Item{
		Title:       strings.TrimSpace(*raw.Title),
		Date:        date,
		MediaType:   mediaType,
		URL:         primary,
		HDURL:       hd,
		Explanation: strings.TrimSpace(raw.Explanation),
		Copyright:   strings.TrimSpace(raw.Copyright),
	}, nil
}
