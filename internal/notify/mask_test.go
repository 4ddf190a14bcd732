package vigil

import "testing"

func TestMaskHas(t *testing.T) {
	m := Create | Delete
	if !m.Has(Create) || !m.Has(Delete) {
		t.Errorf("mask %v should have create and delete", m)
	}
	if m.Has(Modify) {
		t.Errorf("mask %v should not have modify", m)
	}
	if !m.Has(Create | Delete) {
		t.Errorf("mask %v should have the combined bits", m)
	}
}

func TestMaskString(t *testing.T) {
	tests := []struct {
		mask Mask
		want string
	}{
		{0, "none"},
		{Create, "create"},
		{Create | IsDir, "create|isdir"},
		{MovedFrom | MovedTo, "moved_from|moved_to"},
	}
	for _, tt := range tests {
		if got := tt.mask.String(); got != tt.want {
			t.Errorf("Mask(%#x).String() = %q, want %q", uint32(tt.mask), got, tt.want)
		}
	}
}

func TestParseMask(t *testing.T) {
	tests := []struct {
		in          string
		want        Mask
		wantUnknown int
	}{
		{"create,delete", Create | Delete, 0},
		{"write", Modify, 0},
		{"move", MovedFrom | MovedTo, 0},
		{"all", AllEvents, 0},
		{"create, Modify ", Create | Modify, 0},
		{"create,bogus", Create, 1},
		{"", 0, 0},
	}
	for _, tt := range tests {
		got, unknown := ParseMask(tt.in)
		if got != tt.want {
			t.Errorf("ParseMask(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if len(unknown) != tt.wantUnknown {
			t.Errorf("ParseMask(%q) unknown = %v, want %d entries", tt.in, unknown, tt.wantUnknown)
		}
	}
}
