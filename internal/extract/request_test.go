package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/wegman-software/vexd/internal/codec/all"
	"github.com/wegman-software/vexd/internal/geo"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    Request
		wantErr error
	}{
		{
			name: "pbf",
			path: "/10.0,20.0,15.0,25.0.pbf",
			want: Request{Box: geo.BoundingBox{MinLat: 10, MinLon: 20, MaxLat: 15, MaxLon: 25}, Format: "pbf"},
		},
		{
			name: "vex with integers",
			path: "/-5,-10,5,10.vex",
			want: Request{Box: geo.BoundingBox{MinLat: -5, MinLon: -10, MaxLat: 5, MaxLon: 10}, Format: "vex"},
		},
		{
			name: "mixed separators",
			path: "/10.5;20.5,11.5;21.5.txt",
			want: Request{Box: geo.BoundingBox{MinLat: 10.5, MinLon: 20.5, MaxLat: 11.5, MaxLon: 21.5}, Format: "txt"},
		},
		{
			name: "upper case suffix",
			path: "/10,20,15,25.PBF",
			want: Request{Box: geo.BoundingBox{MinLat: 10, MinLon: 20, MaxLat: 15, MaxLon: 25}, Format: "pbf"},
		},
		{
			name: "extra fields ignored",
			path: "/10,20,15,25,99.pbf",
			want: Request{Box: geo.BoundingBox{MinLat: 10, MinLon: 20, MaxLat: 15, MaxLon: 25}, Format: "pbf"},
		},
		{name: "semicolons only", path: "/10;20;15;25.pbf", wantErr: ErrMalformedPath},
		{name: "no separators", path: "/index.html", wantErr: ErrMalformedPath},
		{name: "non numeric", path: "/abc,20.0,15.0,25.0.pbf", wantErr: ErrMalformedPath},
		{name: "empty field", path: "/10,,15,25.pbf", wantErr: ErrMalformedPath},
		{name: "three fields", path: "/10,20,15.pbf", wantErr: ErrMalformedPath},
		{name: "no suffix", path: "/10,20,15,25", wantErr: ErrMalformedPath},
		{name: "min above max", path: "/10,10,5,20.pbf", wantErr: ErrInvalidBox},
		{name: "latitude out of range", path: "/-91,0,0,1.pbf", wantErr: ErrInvalidBox},
		{name: "degenerate", path: "/10,20,10,25.pbf", wantErr: ErrInvalidBox},
		{name: "unknown suffix", path: "/10,20,15,25.foo", wantErr: ErrUnsupportedFormat},
		{name: "trailing decimal taken as suffix", path: "/10.0,20.0,15.0,25.0", wantErr: ErrUnsupportedFormat},
		{name: "read-only format", path: "/10,20,15,25.osm", wantErr: ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
