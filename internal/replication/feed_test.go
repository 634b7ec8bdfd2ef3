package replication

import (
	"strings"
	"testing"
	"time"
)

func TestParseFeed(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantName    string
		wantBaseURL string
		wantErr     bool
	}{
		{
			name:        "planet minute",
			input:       "planet-minute",
			wantName:    "planet-minute",
			wantBaseURL: "https://planet.openstreetmap.org/replication/minute",
		},
		{
			name:        "planet minute alternate",
			input:       "minute",
			wantName:    "planet-minute",
			wantBaseURL: "https://planet.openstreetmap.org/replication/minute",
		},
		{
			name:        "planet hour",
			input:       "planet-hour",
			wantName:    "planet-hour",
			wantBaseURL: "https://planet.openstreetmap.org/replication/hour",
		},
		{
			name:        "planet day",
			input:       "day",
			wantName:    "planet-day",
			wantBaseURL: "https://planet.openstreetmap.org/replication/day",
		},
		{
			name:        "geofabrik monaco",
			input:       "geofabrik/monaco",
			wantName:    "geofabrik/monaco",
			wantBaseURL: "https://download.geofabrik.de/europe/monaco-updates",
		},
		{
			name:        "geofabrik germany",
			input:       "geofabrik/germany",
			wantName:    "geofabrik/germany",
			wantBaseURL: "https://download.geofabrik.de/europe/germany-updates",
		},
		{
			name:        "shortcut monaco",
			input:       "monaco",
			wantName:    "geofabrik/monaco",
			wantBaseURL: "https://download.geofabrik.de/europe/monaco-updates",
		},
		{
			name:        "custom URL",
			input:       "https://my-server.com/replication",
			wantName:    "custom",
			wantBaseURL: "https://my-server.com/replication",
		},
		{
			name:        "custom URL with trailing slash",
			input:       "https://my-server.com/replication/",
			wantName:    "custom",
			wantBaseURL: "https://my-server.com/replication",
		},
		{
			name:        "empty uses default",
			input:       "",
			wantName:    "planet-hour",
			wantBaseURL: "https://planet.openstreetmap.org/replication/hour",
		},
		{
			name:        "geofabrik path",
			input:       "geofabrik/europe/andorra",
			wantName:    "geofabrik/europe/andorra",
			wantBaseURL: "https://download.geofabrik.de/europe/andorra-updates",
		},
		{
			name:    "unknown feed",
			input:   "unknown-feed-xyz",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed, err := ParseFeed(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if feed.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", feed.Name, tt.wantName)
			}
			if feed.BaseURL != tt.wantBaseURL {
				t.Errorf("BaseURL = %q, want %q", feed.BaseURL, tt.wantBaseURL)
			}
		})
	}
}

func TestFeedURLs(t *testing.T) {
	feed := FeedPlanetMinute

	stateURL := feed.StateURL()
	expected := "https://planet.openstreetmap.org/replication/minute/state.txt"
	if stateURL != expected {
		t.Errorf("StateURL() = %q, want %q", stateURL, expected)
	}

	seqStateURL := feed.SequenceStateURL(1234567)
	expected = "https://planet.openstreetmap.org/replication/minute/001/234/567.state.txt"
	if seqStateURL != expected {
		t.Errorf("SequenceStateURL(1234567) = %q, want %q", seqStateURL, expected)
	}

	seqDataURL := feed.SequenceDataURL(1234567)
	expected = "https://planet.openstreetmap.org/replication/minute/001/234/567.osc.gz"
	if seqDataURL != expected {
		t.Errorf("SequenceDataURL(1234567) = %q, want %q", seqDataURL, expected)
	}
}

func TestGeofabrikFeed(t *testing.T) {
	tests := []struct {
		region       string
		wantContains string
		wantInterval time.Duration
	}{
		{"monaco", "europe/monaco-updates", 24 * time.Hour},
		{"germany", "europe/germany-updates", 24 * time.Hour},
		{"us", "north-america/us-updates", 24 * time.Hour},
		{"japan", "asia/japan-updates", 24 * time.Hour},
		{"australia", "australia-oceania/australia-updates", 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.region, func(t *testing.T) {
			feed := GeofabrikFeed(tt.region)
			if !strings.Contains(feed.BaseURL, tt.wantContains) {
				t.Errorf("BaseURL %q does not contain %q", feed.BaseURL, tt.wantContains)
			}
			if feed.UpdateInterval != tt.wantInterval {
				t.Errorf("UpdateInterval = %v, want %v", feed.UpdateInterval, tt.wantInterval)
			}
		})
	}
}

func TestFeedForURL(t *testing.T) {
	feed := FeedForURL(" http://localhost:8080/replication/// ")
	if feed.BaseURL != "http://localhost:8080/replication" {
		t.Errorf("BaseURL = %q", feed.BaseURL)
	}
	if got := feed.SequenceDataURL(42); got != "http://localhost:8080/replication/000/000/042.osc.gz" {
		t.Errorf("SequenceDataURL(42) = %q", got)
	}
}

func TestListFeeds(t *testing.T) {
	feeds := ListFeeds()

	var planet, geofabrik bool
	for _, s := range feeds {
		if strings.Contains(s, "planet-minute") {
			planet = true
		}
		if strings.Contains(s, "geofabrik/monaco") {
			geofabrik = true
		}
	}
	if !planet {
		t.Error("ListFeeds() should include planet-minute")
	}
	if !geofabrik {
		t.Error("ListFeeds() should include geofabrik regions")
	}
}
