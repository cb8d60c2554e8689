// Package model defines the documents produced by a showtimes crawl.
package model

import "strings"

// StartAtLayout is the wall-clock layout used for Showtime.StartAt.
const StartAtLayout = "2006-01-02T15:04:05"

// Location is a geographic coordinate pair.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Cinema describes a single venue.
type Cinema struct {
	ID                  string    `json:"id,omitempty" yaml:"id"`
	Slug                string    `json:"slug,omitempty" yaml:"slug"`
	Name                string    `json:"name" yaml:"name"`
	Website             string    `json:"website,omitempty" yaml:"website"`
	Address             string    `json:"address,omitempty" yaml:"address"`
	Phone               string    `json:"phone,omitempty" yaml:"phone"`
	Email               string    `json:"email,omitempty" yaml:"email"`
	Location            *Location `json:"location,omitempty" yaml:"location"`
	IsTemporarilyClosed bool      `json:"is_temporarily_closed,omitempty" yaml:"-"`
}

// Field returns the named attribute for URL templating.
func (c *Cinema) Field(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	switch name {
	case "id":
		return c.ID, true
	case "slug":
		return c.Slug, true
	case "name":
		return c.Name, true
	case "website":
		return c.Website, true
	case "address":
		return c.Address, true
	case "phone":
		return c.Phone, true
	case "email":
		return c.Email, true
	}
	return "", false
}

// Set assigns a named string attribute. Unknown names are ignored.
func (c *Cinema) Set(name, value string) bool {
	switch name {
	case "id":
		c.ID = value
	case "slug":
		c.Slug = value
	case "name":
		c.Name = value
	case "website":
		c.Website = value
	case "address":
		c.Address = value
	case "phone":
		c.Phone = value
	case "email":
		c.Email = value
	default:
		return false
	}
	return true
}

// Merge copies every non-empty attribute of details into c.
func (c *Cinema) Merge(details *Cinema) {
	if details == nil {
		return
	}
	for _, name := range []string{"id", "slug", "name", "website", "address", "phone", "email"} {
		if v, _ := details.Field(name); v != "" {
			c.Set(name, v)
		}
	}
	if details.Location != nil {
		loc := *details.Location
		c.Location = &loc
	}
}

// Key identifies the cinema in file names and storage keys.
func (c *Cinema) Key() string {
	if c == nil {
		return ""
	}
	if c.Slug != "" {
		return c.Slug
	}
	return c.ID
}

// Movie is an entry of a movie list page.
type Movie struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Href    string `json:"href,omitempty"`
	Version string `json:"version,omitempty"`
}

// Field returns the named attribute for URL templating.
func (m *Movie) Field(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	switch name {
	case "id":
		return m.ID, true
	case "title":
		return m.Title, true
	case "href":
		return m.Href, true
	case "version":
		return m.Version, true
	}
	return "", false
}

// Set assigns a named attribute. Unknown names are ignored.
func (m *Movie) Set(name, value string) bool {
	switch name {
	case "id":
		m.ID = value
	case "title":
		m.Title = value
	case "href":
		m.Href = value
	case "version":
		m.Version = value
	default:
		return false
	}
	return true
}

// DatePage is a date entry discovered on a dates list page.
type DatePage struct {
	Date string `json:"date"`
	Href string `json:"href,omitempty"`
}

// Showtime is a single screening.
type Showtime struct {
	MovieTitle  string `json:"movie_title"`
	MovieID     string `json:"movie_id,omitempty"`
	StartAt     string `json:"start_at"`
	BookingLink string `json:"booking_link,omitempty"`
	Auditorium  string `json:"auditorium,omitempty"`
	Language    string `json:"language,omitempty"`
	Subtitles   string `json:"subtitles,omitempty"`
	Is3D        bool   `json:"is_3d,omitempty"`
}

// Framework names the software that produced a document.
type Framework struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CrawlerInfo is the crawler metadata embedded in every document.
type CrawlerInfo struct {
	ID                   string     `json:"id"`
	IsBookingLinkCapable bool       `json:"is_booking_link_capable"`
	JiraIssues           []string   `json:"jira_issues,omitempty"`
	Framework            *Framework `json:"framework,omitempty"`
}

// Result is the per-cinema output document.
type Result struct {
	Crawler   CrawlerInfo `json:"crawler"`
	Cinema    *Cinema     `json:"cinema"`
	Showtimes []*Showtime `json:"showtimes"`
}

// CrawlerID returns the lower-cased crawler id.
func (r *Result) CrawlerID() string {
	return strings.ToLower(r.Crawler.ID)
}
