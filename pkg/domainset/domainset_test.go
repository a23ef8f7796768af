package domainset

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "example.com", []string{"example.com"}},
		{"multiple", "a.com;b.com", []string{"a.com", "b.com"}},
		{"trims whitespace", " a.com ; b.com ", []string{"a.com", "b.com"}},
		{"drops empties", "a.com;;b.com;", []string{"a.com", "b.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Parse(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestJoinParseRoundTrip(t *testing.T) {
	domains := []string{"a.com", "b.com", "c.com"}
	joined := Join(domains)
	if joined != "a.com;b.com;c.com" {
		t.Fatalf("Join = %q", joined)
	}
	if got := Parse(joined); len(got) != 3 {
		t.Fatalf("Parse(Join(x)) = %v", got)
	}
}

func TestHashStability(t *testing.T) {
	a := Hash([]string{"a.com", "b.com"})
	b := Hash([]string{"b.com", "a.com"})
	c := Hash([]string{"a.com", "b.com", "a.com"})
	d := Hash([]string{"A.COM", " b.com "})

	if a != b {
		t.Errorf("hash not permutation-stable: %q != %q", a, b)
	}
	if a != c {
		t.Errorf("hash not duplication-stable: %q != %q", a, c)
	}
	if a != d {
		t.Errorf("hash not case/whitespace-stable: %q != %q", a, d)
	}
}

func TestHashEmptySet(t *testing.T) {
	got := Hash(nil)
	want := Hash([]string{})
	if got != want {
		t.Errorf("Hash(nil) = %q, Hash([]) = %q", got, want)
	}
	// SHA-256 of the empty string.
	if got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("Hash of empty set = %q, want known SHA-256 of empty string", got)
	}
}

func TestNormalizeForServerName(t *testing.T) {
	got := NormalizeForServerName("*.example.com;www.example.com;")
	want := []string{"example.com", "www.example.com"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q want %q", i, got[i], want[i])
		}
	}
}
