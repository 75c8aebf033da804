package types

import "testing"

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "gauge", want: KindGauge},
		{in: "Gauge", want: KindGauge},
		{in: "counter", want: KindCounter},
		{in: "count", want: KindCounter},
		{in: "ratio", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseKind(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseKind(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestTagHelpers(t *testing.T) {
	p := Point{Tags: []string{"host:a", "url:http://x:80"}}

	if v, ok := p.TagValue("host"); !ok || v != "a" {
		t.Errorf("TagValue(host) = %q, %v", v, ok)
	}
	if v, ok := p.TagValue("url"); !ok || v != "http://x:80" {
		t.Errorf("value with colons: got %q, %v", v, ok)
	}
	if _, ok := p.TagValue("core"); ok {
		t.Error("TagValue(core) should be absent")
	}
	if !p.HasTag("host:a") || p.HasTag("host:b") {
		t.Error("HasTag mismatch")
	}

	if key, dup := DuplicateTagKey([]string{"a:1", "b:2", "a:3"}); !dup || key != "a" {
		t.Errorf("DuplicateTagKey = %q, %v", key, dup)
	}
	if _, dup := DuplicateTagKey([]string{"a:1", "b:2"}); dup {
		t.Error("no duplicate expected")
	}
}

func TestTimeRange(t *testing.T) {
	r := NewTimeRange(5, 10)
	if err := r.Validate(); err != nil {
		t.Errorf("valid range: %v", err)
	}
	if r.Empty() {
		t.Error("range should not be empty")
	}
	if !r.Contains(5) || r.Contains(10) {
		t.Error("range must be half-open [start, end)")
	}

	if err := NewTimeRange(10, 5).Validate(); err == nil {
		t.Error("end < start should fail validation")
	}

	empty := NewTimeRange(7, 7)
	if err := empty.Validate(); err != nil {
		t.Errorf("start == end is valid: %v", err)
	}
	if !empty.Empty() {
		t.Error("start == end should be empty")
	}
}
