package powerview

import (
	"reflect"
	"testing"
)

func TestToPercent(t *testing.T) {
	tests := []struct {
		name string
		gen  Generation
		raw  float64
		want int
	}{
		{"gen3 zero", Gen3, 0, 0},
		{"gen3 full", Gen3, 1.0, 100},
		{"gen3 quarter", Gen3, 0.25, 25},
		{"gen3 rounds down", Gen3, 0.994, 99},
		{"gen3 rounds up", Gen3, 0.996, 100},
		{"gen2 zero", Gen2, 0, 0},
		{"gen2 full", Gen2, 65535, 100},
		{"gen2 half", Gen2, 32768, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToPercent(tt.gen, tt.raw); got != tt.want {
				t.Errorf("ToPercent(%v, %v) = %d, want %d", tt.gen, tt.raw, got, tt.want)
			}
		})
	}
}

func TestFromPercent(t *testing.T) {
	if got := FromPercent(Gen2, 50); got != 32767 {
		t.Errorf("FromPercent(Gen2, 50) = %v, want 32767", got)
	}
	if got := FromPercent(Gen2, 100); got != 65535 {
		t.Errorf("FromPercent(Gen2, 100) = %v, want 65535", got)
	}
	if got := FromPercent(Gen3, 25); got != 0.25 {
		t.Errorf("FromPercent(Gen3, 25) = %v, want 0.25", got)
	}
}

func TestCapabilityChannels(t *testing.T) {
	tests := []struct {
		cap  Capability
		want []Channel
	}{
		{CapBottomUp, []Channel{Primary}},
		{CapBottomUpTilt90, []Channel{Primary, Tilt}},
		{CapVerticalTraversing, []Channel{Primary}},
		{CapTiltOnly180, []Channel{Tilt}},
		{CapTopDown, []Channel{Secondary}},
		{CapTopDownBottomUp, []Channel{Primary, Secondary}},
		{CapDuolite, []Channel{Primary, Secondary}},
		{CapDuoliteTilt90, []Channel{Primary, Secondary, Tilt}},
		{Capability(42), []Channel{Primary, Secondary, Tilt}},
	}
	for _, tt := range tests {
		if got := tt.cap.Channels(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Capability(%d).Channels() = %v, want %v", tt.cap, got, tt.want)
		}
	}
}

func TestCapabilityFlags(t *testing.T) {
	for c := Capability(0); c <= 10; c++ {
		wantTilt := c == 1 || c == 2 || c == 4 || c == 5 || c == 9 || c == 10
		if c.TiltCapable() != wantTilt {
			t.Errorf("Capability(%d).TiltCapable() = %v, want %v", c, c.TiltCapable(), wantTilt)
		}
		want90 := c == 1 || c == 9
		if c.Tilt90() != want90 {
			t.Errorf("Capability(%d).Tilt90() = %v, want %v", c, c.Tilt90(), want90)
		}
		wantDuolite := c >= 8
		if c.Duolite() != wantDuolite {
			t.Errorf("Capability(%d).Duolite() = %v, want %v", c, c.Duolite(), wantDuolite)
		}
	}
}

func TestClampTilt(t *testing.T) {
	if got := ClampTilt(CapBottomUpTilt90, 50); got != 49 {
		t.Errorf("ClampTilt(90deg, 50) = %d, want 49", got)
	}
	if got := ClampTilt(CapDuoliteTilt90, 80); got != 49 {
		t.Errorf("ClampTilt(duolite 90deg, 80) = %d, want 49", got)
	}
	if got := ClampTilt(CapBottomUpTilt90, 30); got != 30 {
		t.Errorf("ClampTilt(90deg, 30) = %d, want 30", got)
	}
	if got := ClampTilt(CapBottomUpTilt180, 80); got != 80 {
		t.Errorf("ClampTilt(180deg, 80) = %d, want 80", got)
	}
}

func TestOpenClosedPosition(t *testing.T) {
	if OpenPosition(Gen2) != 100 || ClosedPosition(Gen2) != 0 {
		t.Error("gen2 open/closed should be 100/0")
	}
	if OpenPosition(Gen3) != 0 || ClosedPosition(Gen3) != 100 {
		t.Error("gen3 open/closed should be 0/100")
	}
}

func TestDecodeName(t *testing.T) {
	tests := map[string]string{
		"TGl2aW5nIFJvb20=": "Living Room",
		"Kitchen":          "Kitchen",
		"":                 "",
	}
	for in, want := range tests {
		if got := DecodeName(in); got != want {
			t.Errorf("DecodeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSceneDisplayName(t *testing.T) {
	rooms := map[int]string{1: "Lounge", 2: "Bedroom"}

	if got := SceneDisplayName(rooms, []int{1}, "Evening"); got != "Lounge - Evening" {
		t.Errorf("single room = %q", got)
	}
	if got := SceneDisplayName(rooms, []int{1, 2}, "All Up"); got != "Multi-Room - All Up" {
		t.Errorf("multi room = %q", got)
	}
	if got := SceneDisplayName(rooms, []int{9}, "Ghost"); got != "Multi-Room - Ghost" {
		t.Errorf("unknown room = %q", got)
	}
}

func TestPositionsMergeRestrict(t *testing.T) {
	p := Positions{Primary: Pct(10), Secondary: Pct(20)}
	merged := p.Merge(Positions{Secondary: Pct(90), Tilt: Pct(5)})

	if v, _ := merged.Get(Primary); v != 10 {
		t.Errorf("primary = %d, want 10", v)
	}
	if v, _ := merged.Get(Secondary); v != 90 {
		t.Errorf("secondary = %d, want 90", v)
	}
	if v, ok := merged.Get(Tilt); !ok || v != 5 {
		t.Errorf("tilt = %d,%v want 5,true", v, ok)
	}

	r := merged.Restrict(CapBottomUp)
	if r.Secondary != nil || r.Tilt != nil || r.Primary == nil {
		t.Errorf("Restrict(CapBottomUp) = %v", r)
	}

	c := p.Clone()
	*c.Primary = 99
	if *p.Primary != 10 {
		t.Error("Clone aliased source positions")
	}
}
