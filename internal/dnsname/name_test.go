package dnsname

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Name
		wantErr error
	}{
		{"simple", "Example.COM", "example.com", nil},
		{"trailing dot", "example.com.", "example.com", nil},
		{"empty", "", "", ErrEmptyName},
		{"root dot", ".", "", ErrEmptyName},
		{"empty label", "foo..com", "", ErrEmptyLabel},
		{"too long", stringRepeat("a", 254), "", ErrNameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != tt.wantErr {
				t.Fatalf("Normalize(%q) err = %v, want %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQTypeRoundTrip(t *testing.T) {
	qt, ok := QTypeFromString("a")
	if !ok {
		t.Fatal("expected A to resolve")
	}
	if QTypeToString(qt) != "A" {
		t.Fatalf("got %s", QTypeToString(qt))
	}
	if _, ok := QTypeFromString("NOTAREALTYPE"); ok {
		t.Fatal("expected unknown type to fail")
	}
}

func stringRepeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
