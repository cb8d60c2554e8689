// Package definition loads declarative crawler definitions.
//
// A definition is a YAML (or JSON) document describing where a cinema chain
// publishes its cinemas, movies, dates and showtimes and how to extract them.
// Load validates and resolves it into an immutable Config before any network
// activity happens.
package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/showtimes-crawler/internal/model"
)

// DefaultURLDateCount is the number of days iterated for date templates.
const DefaultURLDateCount = 14

// DefaultPeriodsBox is the box used by a periods level without one.
const DefaultPeriodsBox = "body"

// Config is a resolved crawler definition.
type Config struct {
	Crawler             CrawlerSection     `yaml:"crawler"`
	Concurrency         int                `yaml:"concurrency" validate:"gte=0,lte=64"`
	Timezone            string             `yaml:"timezone" validate:"omitempty,timezone"`
	ProxyURI            string             `yaml:"proxyUri" validate:"omitempty,url"`
	UseRandomUserAgent  *bool              `yaml:"useRandomUserAgent"`
	Cinemas             *CinemasSection    `yaml:"cinemas"`
	Movies              *SectionConfig     `yaml:"movies"`
	Dates               *SectionConfig     `yaml:"dates"`
	Showtimes           ShowtimesList      `yaml:"showtimes" validate:"dive"`
	IsTemporarilyClosed *ClosedCheckConfig `yaml:"isTemporarilyClosed"`
	AcceptedWarnings    map[int]string     `yaml:"acceptedWarnings"`
}

// CrawlerSection carries crawler metadata.
type CrawlerSection struct {
	ID                   string   `yaml:"id" validate:"omitempty,max=64"`
	IsBookingLinkCapable *bool    `yaml:"is_booking_link_capable"`
	JiraIssues           []string `yaml:"jira_issues"`
}

// Info converts the section into document metadata.
func (c CrawlerSection) Info() model.CrawlerInfo {
	info := model.CrawlerInfo{ID: c.ID, JiraIssues: c.JiraIssues}
	if c.IsBookingLinkCapable != nil {
		info.IsBookingLinkCapable = *c.IsBookingLinkCapable
	}
	return info
}

// Field extracts a single value from markup.
type Field struct {
	// Selector is relative to the current box; empty selects the box itself.
	Selector string `yaml:"selector"`
	// Attribute names an HTML attribute; empty means the element text and
	// "html" the inner HTML.
	Attribute string `yaml:"attribute"`
	// Pattern is a regular expression; the first capture group (or the whole
	// match) becomes the value.
	Pattern string `yaml:"pattern"`
	// Layout parses date and time values.
	Layout string `yaml:"layout"`
	// Value is a constant used instead of the markup.
	Value string `yaml:"value"`
}

// UnmarshalYAML accepts a bare selector string as shorthand.
func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		f.Selector = node.Value
		return nil
	}
	type plain Field
	return node.Decode((*plain)(f))
}

// RequestConfig is a request template with its URL list.
type RequestConfig struct {
	URL          string   `yaml:"url"`
	URLs         []string `yaml:"urls"`
	PostData     any      `yaml:"postData"`
	URLDateCount int      `yaml:"urlDateCount" validate:"gte=0,lte=366"`
}

// ListConfig describes a list page.
type ListConfig struct {
	RequestConfig `yaml:",inline"`
	Box           string           `yaml:"box"`
	Fields        map[string]Field `yaml:"fields"`
	NextPage      *Field           `yaml:"nextPage"`
}

// DetailsConfig describes a cinema details page.
type DetailsConfig struct {
	URL      string           `yaml:"url" validate:"required"`
	PostData any              `yaml:"postData"`
	Fields   map[string]Field `yaml:"fields"`
}

// CinemasSection is either a static list or a crawled list with optional details.
type CinemasSection struct {
	Static  []*model.Cinema
	List    *ListConfig    `yaml:"list"`
	Details *DetailsConfig `yaml:"details"`
}

// UnmarshalYAML accepts a sequence of cinemas or a {list, details} mapping.
func (c *CinemasSection) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		return node.Decode(&c.Static)
	}
	type plain struct {
		List    *ListConfig    `yaml:"list"`
		Details *DetailsConfig `yaml:"details"`
	}
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("decode cinemas: %w", err)
	}
	c.List, c.Details = p.List, p.Details
	return nil
}

// SectionConfig describes the movies or dates stage.
type SectionConfig struct {
	List      *ListConfig      `yaml:"list"`
	Showtimes *ShowtimesConfig `yaml:"showtimes"`
}

// ShowtimesConfig describes how to request and parse showtimes.
type ShowtimesConfig struct {
	RequestConfig          `yaml:",inline"`
	ParsingConfig          `yaml:",inline"`
	URLDateFormat          string `yaml:"urlDateFormat"`
	PreserveLateNightShows bool   `yaml:"preserveLateNightShows"`
	NextPage               *Field `yaml:"nextPage"`
}

// ShowtimesList accepts one showtimes config or a list of them.
type ShowtimesList []*ShowtimesConfig

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *ShowtimesList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var list []*ShowtimesConfig
		if err := node.Decode(&list); err != nil {
			return fmt.Errorf("decode showtimes list: %w", err)
		}
		*l = list
		return nil
	}
	var single ShowtimesConfig
	if err := node.Decode(&single); err != nil {
		return fmt.Errorf("decode showtimes: %w", err)
	}
	*l = ShowtimesList{&single}
	return nil
}

// ParsingConfig is one level of nested showtimes parsing. Each level selects
// boxes, extracts fields into the running showtime and descends into its
// children.
type ParsingConfig struct {
	Box         string           `yaml:"box"`
	Fields      map[string]Field `yaml:"fields"`
	BookingLink *Field           `yaml:"bookingLink"`
	Movies      *ParsingConfig   `yaml:"movies"`
	Dates       *ParsingConfig   `yaml:"dates"`
	Periods     *ParsingConfig   `yaml:"periods"`
	Auditoria   *ParsingConfig   `yaml:"auditoria"`
	Versions    *ParsingConfig   `yaml:"versions"`
	ForEach     *ParsingConfig   `yaml:"forEach"`
	Table       *TableConfig     `yaml:"table"`
	Showtimes   *ParsingConfig   `yaml:"showtimes"`
}

// Children returns the configured nested levels in traversal order.
func (p *ParsingConfig) Children() []*ParsingConfig {
	var out []*ParsingConfig
	for _, c := range []*ParsingConfig{p.Movies, p.Dates, p.Periods, p.Auditoria, p.Versions, p.ForEach} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// TableConfig parses showtimes laid out in a table.
type TableConfig struct {
	Box   string       `yaml:"box"`
	Cells *CellsConfig `yaml:"cells"`
}

// CellsConfig selects table cells.
type CellsConfig struct {
	Box       string         `yaml:"box"`
	Showtimes *ParsingConfig `yaml:"showtimes"`
}

// ClosedCheckConfig detects a temporarily closed venue.
type ClosedCheckConfig struct {
	URL      string `yaml:"url" validate:"required"`
	Selector string `yaml:"selector" validate:"required"`
}

// ShowtimesConfigs returns the showtimes configs applicable to a cinema: the
// movies stage's, otherwise the dates stage's, otherwise the top-level list.
func (c *Config) ShowtimesConfigs() []*ShowtimesConfig {
	switch {
	case c.Movies != nil && c.Movies.Showtimes != nil:
		return []*ShowtimesConfig{c.Movies.Showtimes}
	case c.Dates != nil && c.Dates.Showtimes != nil:
		return []*ShowtimesConfig{c.Dates.Showtimes}
	}
	return c.Showtimes
}

// HasShowtimes reports whether any stage yields showtimes.
func (c *Config) HasShowtimes() bool {
	return len(c.ShowtimesConfigs()) > 0 || c.Movies != nil || c.Dates != nil
}
