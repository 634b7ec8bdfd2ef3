package entity

import "testing"

func TestScaleCoord(t *testing.T) {
	tests := []struct {
		coord float64
		want  int32
	}{
		{0, 0},
		{43.7384, 437384000},
		{-0.1278, -1278000},
		{180, 1800000000},
		{-90, -900000000},
		{7.42460001, 74246000},
	}

	for _, tt := range tests {
		got := ScaleCoord(tt.coord)
		if got != tt.want {
			t.Errorf("ScaleCoord(%v) = %d, want %d", tt.coord, got, tt.want)
		}
		if back := UnscaleCoord(got); ScaleCoord(back) != got {
			t.Errorf("UnscaleCoord(%d) = %v does not scale back", got, back)
		}
	}
}

func TestTags(t *testing.T) {
	tags := Tags{{"highway", "primary"}, {"name", "Rue Grimaldi"}}

	if v, ok := tags.Get("name"); !ok || v != "Rue Grimaldi" {
		t.Errorf("Get(name) = %q, %v", v, ok)
	}
	if _, ok := tags.Get("missing"); ok {
		t.Error("Get(missing) should report absence")
	}
	if m := tags.Map(); len(m) != 2 || m["highway"] != "primary" {
		t.Errorf("Map() = %v", m)
	}
}

func TestParseMemberType(t *testing.T) {
	tests := []struct {
		in      string
		want    MemberType
		wantErr bool
	}{
		{"node", MemberNode, false},
		{"w", MemberWay, false},
		{"relation", MemberRelation, false},
		{"area", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseMemberType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMemberType(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMemberType(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
		if got.String() == "" {
			t.Errorf("empty String() for %v", got)
		}
	}
}
