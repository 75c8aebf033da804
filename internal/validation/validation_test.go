package validation

import "testing"

func TestValidateMetricName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"cpu_usage", true},
		{"total.memory", true},
		{"ctx-switches", true},
		{"m1", true},
		{"", false},
		{".hidden", false},
		{"..", false},
		{"has space", false},
		{"a/b", false},
		{"a\\b", false},
		{"bad\x01char", false},
	}
	for _, tc := range tests {
		err := ValidateMetricName(tc.name)
		if tc.ok && err != nil {
			t.Errorf("ValidateMetricName(%q): unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidateMetricName(%q): expected error", tc.name)
		}
	}
}

func TestValidateTagKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"host", true},
		{"core-id", true},
		{"core_id", true},
		{"", false},
		{"host:name", false},
		{"dotted.key", false},
	}
	for _, tc := range tests {
		err := ValidateTagKey(tc.key)
		if tc.ok && err != nil {
			t.Errorf("ValidateTagKey(%q): unexpected error %v", tc.key, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidateTagKey(%q): expected error", tc.key)
		}
	}
}

func TestValidateTag(t *testing.T) {
	tests := []struct {
		tag string
		ok  bool
	}{
		{"host:a", true},
		{"host:a:b", true}, // value may contain colons
		{"core:0", true},
		{"host", false},
		{"host:", false},
		{":value", false},
		{"host:bad\x01", false},
	}
	for _, tc := range tests {
		err := ValidateTag(tc.tag)
		if tc.ok && err != nil {
			t.Errorf("ValidateTag(%q): unexpected error %v", tc.tag, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidateTag(%q): expected error", tc.tag)
		}
	}
}
