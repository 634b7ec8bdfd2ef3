package geo

import (
	"errors"
	"math"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		box     BoundingBox
		wantErr bool
	}{
		{"valid", BoundingBox{10, 10, 20, 20}, false},
		{"world", World, false},
		{"minlat above maxlat", BoundingBox{10, 10, 5, 20}, true},
		{"latitude below range", BoundingBox{-91, 0, 0, 0}, true},
		{"latitude below range with valid lon", BoundingBox{-91, 0, 0, 1}, true},
		{"latitude above range", BoundingBox{0, 0, 90.5, 1}, true},
		{"longitude out of range", BoundingBox{0, -181, 1, 1}, true},
		{"longitude max out of range", BoundingBox{0, 0, 1, 180.1}, true},
		{"zero height", BoundingBox{10, 10, 10, 20}, true},
		{"zero width", BoundingBox{10, 10, 20, 10}, true},
		{"NaN", BoundingBox{math.NaN(), 0, 1, 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.box.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if !errors.Is(err, ErrInvalidBox) {
					t.Errorf("error %v does not wrap ErrInvalidBox", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestContains(t *testing.T) {
	box := BoundingBox{MinLat: 43.72, MinLon: 7.40, MaxLat: 43.76, MaxLon: 7.44}

	if !box.Contains(43.7384, 7.4246) {
		t.Error("expected Monaco point inside box")
	}
	if !box.Contains(43.72, 7.40) {
		t.Error("edges should be inclusive")
	}
	if box.Contains(51.5, -0.12) {
		t.Error("London should be outside the box")
	}
}

func TestParseBoundingBox(t *testing.T) {
	box, err := ParseBoundingBox("43.72, 7.40,43.76,7.44")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := BoundingBox{43.72, 7.40, 43.76, 7.44}
	if box != want {
		t.Errorf("ParseBoundingBox = %+v, want %+v", box, want)
	}

	for _, bad := range []string{"", "1,2,3", "a,2,3,4", "10,10,5,20"} {
		if _, err := ParseBoundingBox(bad); err == nil {
			t.Errorf("ParseBoundingBox(%q) expected error", bad)
		}
	}
}
