package definition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Definition errors.
var (
	ErrNoCinemas         = errors.New("definition: cinemas must be configured")
	ErrMissingListConfig = errors.New("definition: list config is missing")
	ErrMissingURL        = errors.New("definition: url or urls is required")
)

var (
	validate = validator.New(validator.WithRequiredStructEnabled())

	hrefAttr     = regexp.MustCompile(`\[href(.*)\]`)
	attrSelector = regexp.MustCompile(`\[(.*)\]+`)
)

// Load reads, validates and resolves the definition at path. The crawler id
// defaults to the file name without extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cfg, err := Parse(data, base)
	if err != nil {
		return nil, fmt.Errorf("definition %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML or JSON definition and resolves it.
func Parse(data []byte, defaultID string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if strings.Contains(err.Error(), "mapping values are not allowed") {
			return nil, fmt.Errorf("decode definition (quote values ending in a marker such as :date:): %w", err)
		}
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	if err := cfg.Resolve(defaultID); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve normalizes the definition in place: URL lists, date counts, the
// crawler id, booking link capability and default parsing boxes. It returns
// an error for definitions that cannot be crawled.
func (c *Config) Resolve(defaultID string) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate definition: %w", err)
	}
	if c.Crawler.ID == "" {
		c.Crawler.ID = defaultID
	}
	c.Crawler.ID = strings.ToLower(c.Crawler.ID)
	if c.Crawler.ID == "" {
		return errors.New("definition: crawler id is required")
	}

	if c.Cinemas == nil || (len(c.Cinemas.Static) == 0 && c.Cinemas.List == nil) {
		return ErrNoCinemas
	}
	if c.Cinemas.List != nil {
		if err := c.Cinemas.List.resolve("cinemas.list"); err != nil {
			return err
		}
	}
	for name, section := range map[string]*SectionConfig{"movies": c.Movies, "dates": c.Dates} {
		if section == nil {
			continue
		}
		if section.List == nil {
			return fmt.Errorf("%s: %w", name, ErrMissingListConfig)
		}
		if err := section.List.resolve(name + ".list"); err != nil {
			return err
		}
		if section.Showtimes != nil {
			if err := section.Showtimes.RequestConfig.resolve(name + ".showtimes"); err != nil {
				return err
			}
		}
	}
	for i, st := range c.Showtimes {
		if err := st.RequestConfig.resolve(fmt.Sprintf("showtimes[%d]", i)); err != nil {
			return err
		}
	}

	capable := false
	for _, st := range c.allShowtimes() {
		if walkParsing(&st.ParsingConfig, false) {
			capable = true
		}
	}
	if c.Crawler.IsBookingLinkCapable == nil {
		c.Crawler.IsBookingLinkCapable = &capable
	}
	return nil
}

func (c *Config) allShowtimes() []*ShowtimesConfig {
	out := append([]*ShowtimesConfig(nil), c.Showtimes...)
	for _, section := range []*SectionConfig{c.Movies, c.Dates} {
		if section != nil && section.Showtimes != nil {
			out = append(out, section.Showtimes)
		}
	}
	return out
}

func (l *ListConfig) resolve(path string) error {
	return l.RequestConfig.resolve(path)
}

func (r *RequestConfig) resolve(path string) error {
	if len(r.URLs) == 0 && r.URL != "" {
		r.URLs = []string{r.URL}
	}
	if len(r.URLs) == 0 {
		return fmt.Errorf("%s: %w", path, ErrMissingURL)
	}
	if r.URLDateCount <= 0 {
		r.URLDateCount = DefaultURLDateCount
	}
	return nil
}

// walkParsing visits every level below p, defaulting the periods box, and
// reports whether any showtimes level can yield booking links.
func walkParsing(p *ParsingConfig, showtimesLevel bool) bool {
	if p == nil {
		return false
	}
	capable := p.BookingLink != nil || (showtimesLevel && IsLinkTagSelector(p.Box))
	if p.Periods != nil && p.Periods.Box == "" {
		p.Periods.Box = DefaultPeriodsBox
	}
	for _, child := range p.Children() {
		if walkParsing(child, false) {
			capable = true
		}
	}
	if p.Table != nil && p.Table.Cells != nil && walkParsing(p.Table.Cells.Showtimes, true) {
		capable = true
	}
	if walkParsing(p.Showtimes, true) {
		capable = true
	}
	return capable
}

// IsLinkTagSelector reports whether the last compound of selector addresses an
// anchor element or an href attribute.
func IsLinkTagSelector(selector string) bool {
	fields := strings.Fields(selector)
	if len(fields) == 0 {
		return false
	}
	last := fields[len(fields)-1]
	if hrefAttr.MatchString(last) {
		return true
	}
	last = attrSelector.ReplaceAllString(last, "")
	last = strings.SplitN(last, ".", 2)[0]
	last = strings.SplitN(last, ":", 2)[0]
	return last == "a"
}
