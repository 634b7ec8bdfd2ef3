package replication

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Feed is an upstream replication feed: a root state.txt plus one state file
// and one gzipped OsmChange file per sequence number
type Feed struct {
	Name           string
	BaseURL        string // without trailing slash
	UpdateInterval time.Duration
	Description    string
}

// StateURL returns the URL of the feed's head state
func (f *Feed) StateURL() string {
	return f.BaseURL + "/state.txt"
}

// SequenceStateURL returns the URL of the state file for seq
func (f *Feed) SequenceStateURL(seq int64) string {
	return fmt.Sprintf("%s/%s.state.txt", f.BaseURL, SequenceToPath(seq))
}

// SequenceDataURL returns the URL of the diff for seq
func (f *Feed) SequenceDataURL(seq int64) string {
	return fmt.Sprintf("%s/%s.osc.gz", f.BaseURL, SequenceToPath(seq))
}

var (
	FeedPlanetMinute = &Feed{
		Name:           "planet-minute",
		BaseURL:        "https://planet.openstreetmap.org/replication/minute",
		UpdateInterval: time.Minute,
		Description:    "OpenStreetMap planet minutely diffs",
	}

	FeedPlanetHour = &Feed{
		Name:           "planet-hour",
		BaseURL:        "https://planet.openstreetmap.org/replication/hour",
		UpdateInterval: time.Hour,
		Description:    "OpenStreetMap planet hourly diffs",
	}

	FeedPlanetDay = &Feed{
		Name:           "planet-day",
		BaseURL:        "https://planet.openstreetmap.org/replication/day",
		UpdateInterval: 24 * time.Hour,
		Description:    "OpenStreetMap planet daily diffs",
	}

	// DefaultFeed is used when neither the configuration nor the store names one
	DefaultFeed = FeedPlanetHour
)

// Geofabrik region shortcuts and their download paths
var geofabrikRegions = map[string]string{
	"europe":         "europe",
	"germany":        "europe/germany",
	"france":         "europe/france",
	"italy":          "europe/italy",
	"spain":          "europe/spain",
	"united-kingdom": "europe/great-britain",
	"great-britain":  "europe/great-britain",
	"netherlands":    "europe/netherlands",
	"belgium":        "europe/belgium",
	"switzerland":    "europe/switzerland",
	"austria":        "europe/austria",
	"poland":         "europe/poland",
	"monaco":         "europe/monaco",
	"liechtenstein":  "europe/liechtenstein",
	"luxembourg":     "europe/luxembourg",

	"north-america": "north-america",
	"us":            "north-america/us",
	"usa":           "north-america/us",
	"canada":        "north-america/canada",
	"mexico":        "north-america/mexico",
	"south-america": "south-america",
	"brazil":        "south-america/brazil",

	"asia":  "asia",
	"japan": "asia/japan",
	"china": "asia/china",
	"india": "asia/india",

	"africa": "africa",

	"oceania":     "australia-oceania",
	"australia":   "australia-oceania/australia",
	"new-zealand": "australia-oceania/new-zealand",
}

// GeofabrikFeed returns the daily feed of a Geofabrik region. Unknown names
// are used as download paths, e.g. "europe/andorra".
func GeofabrikFeed(region string) *Feed {
	region = strings.ToLower(strings.TrimSpace(region))
	path, ok := geofabrikRegions[region]
	if !ok {
		path = strings.Trim(region, "/")
	}
	return &Feed{
		Name:           "geofabrik/" + region,
		BaseURL:        fmt.Sprintf("https://download.geofabrik.de/%s-updates", path),
		UpdateInterval: 24 * time.Hour,
		Description:    fmt.Sprintf("Geofabrik %s daily diffs", region),
	}
}

// FeedForURL returns a custom feed rooted at url
func FeedForURL(url string) *Feed {
	return &Feed{
		Name:           "custom",
		BaseURL:        strings.TrimRight(strings.TrimSpace(url), "/"),
		UpdateInterval: time.Hour,
		Description:    "Custom replication feed",
	}
}

// ParseFeed resolves a feed name:
//   - "planet-minute", "planet-hour", "planet-day" (or "minute", "hour", "day")
//   - "geofabrik/<region>" or a bare known region such as "monaco"
//   - an http(s) URL of the feed root
func ParseFeed(s string) (*Feed, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	switch lower {
	case "":
		return DefaultFeed, nil
	case "planet-minute", "planet/minute", "minute":
		return FeedPlanetMinute, nil
	case "planet-hour", "planet/hour", "hour":
		return FeedPlanetHour, nil
	case "planet-day", "planet/day", "day":
		return FeedPlanetDay, nil
	}

	if strings.HasPrefix(lower, "geofabrik/") {
		return GeofabrikFeed(s[len("geofabrik/"):]), nil
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return FeedForURL(s), nil
	}
	if _, ok := geofabrikRegions[lower]; ok {
		return GeofabrikFeed(lower), nil
	}

	return nil, fmt.Errorf("unknown replication feed: %s", s)
}

// ListFeeds describes the predefined feeds, one per line
func ListFeeds() []string {
	feeds := []string{
		"planet-minute - " + FeedPlanetMinute.Description,
		"planet-hour   - " + FeedPlanetHour.Description + " (default)",
		"planet-day    - " + FeedPlanetDay.Description,
		"",
		"Geofabrik regions (use as geofabrik/<region>):",
	}

	regions := make([]string, 0, len(geofabrikRegions))
	for region := range geofabrikRegions {
		regions = append(regions, region)
	}
	slices.Sort(regions)
	for _, region := range regions {
		feeds = append(feeds, "  geofabrik/"+region)
	}
	return feeds
}
