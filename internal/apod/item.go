package apod

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the upstream's calendar date format.
const DateLayout = "2006-01-02"

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Item is one picture (or video) of the day. Items are immutable once
// fetched and are not deduplicated.
type Item struct {
	Title       string    `json:"title"`
	Date        Date      `json:"date"`
	MediaType   MediaType `json:"media_type"`
	URL         string    `json:"url"`
	HDURL       string    `json:"hdurl,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	Copyright   string    `json:"copyright,omitempty"`
}

func (i Item) IsImage() bool {
	return i.MediaType == MediaImage
}

// PreloadURLs lists what a batch preloads for this item: primary and HD
// image URLs, nothing for videos.
func (i Item) PreloadURLs() []string {
	if !i.IsImage() {
		return nil
	}
	urls := []string{i.URL}
	if i.HDURL != "" {
		urls = append(urls, i.HDURL)
	}
	return urls
}

// Key identifies an item for indexing. The upstream treats the date as the
// identity of a picture.
func (i Item) Key() string {
	return i.Date.String()
}
