package adaptive

import "testing"

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", Observe, false},
		{"observe", Observe, false},
		{"ACTIVE", Active, false},
		{" validate ", Validate, false},
		{"off", Disabled, false},
		{"disabled", Disabled, false},
		{"eager", Disabled, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMode(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestMode_TextRoundTrip(t *testing.T) {
	for _, m := range []Mode{Disabled, Observe, Validate, Active} {
		b, _ := m.MarshalText()
		var back Mode
		if err := back.UnmarshalText(b); err != nil || back != m {
			t.Errorf("%s: round trip gave %s (%v)", m, back, err)
		}
	}
}
