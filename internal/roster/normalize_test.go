package roster

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		first     string
		last      string
		wantFirst string
		wantLast  string
	}{
		{"plain ascii", "John", "Smith", "john", "smith"},
		{"diacritics folded", "José", "Muñoz", "jose", "munoz"},
		{"umlauts folded", "Jürgen", "Müller", "jurgen", "muller"},
		{"punctuation stripped", "Mary-Anne", "O'Brien", "maryanne", "obrien"},
		{"whitespace dropped", "  Anna Lena ", " van der Berg ", "annalena", "vanderberg"},
		{"digits kept", "Agent", "007", "agent", "007"},
		{"doctoral title stripped", "Dr. Jane", "Doe", "jane", "doe"},
		{"dr without dot", "dr John", "Watson", "john", "watson"},
		{"syed folded", "Syed Ali", "Khan", "sali", "khan"},
		{"syeda folded", "syeda Fatima", "Shah", "sfatima", "shah"},
		{"all symbols placeholder", "!!!", "###", "user", ""},
		{"empty placeholder", "", "", "user", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.first, tt.last)
			if got.First != tt.wantFirst || got.Last != tt.wantLast {
				t.Errorf("Normalize(%q, %q) = {%q, %q}, want {%q, %q}",
					tt.first, tt.last, got.First, got.Last, tt.wantFirst, tt.wantLast)
			}
		})
	}
}

func TestNormalize_OutputAlphabet(t *testing.T) {
	inputs := [][2]string{
		{"José", "Muñoz"},
		{"Łukasz", "Gruszczyński"},
		{"  Đorđe ", " Петровић "},
		{"", ""},
		{"@#$", "%^&"},
	}

	for _, in := range inputs {
		got := Normalize(in[0], in[1])
		combined := got.First + got.Last
		if combined == "" {
			t.Errorf("Normalize(%q, %q) produced empty output", in[0], in[1])
		}
		for _, r := range combined {
			if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
				t.Errorf("Normalize(%q, %q) output %q contains %q outside [a-z0-9]",
					in[0], in[1], combined, r)
			}
		}
	}
}

func TestCapWords(t *testing.T) {
	tests := []struct{ in, want string }{
		{"john", "John"},
		{"  mARY  anne ", "Mary Anne"},
		{"", ""},
		{"o'brien", "O'brien"},
	}
	for _, tt := range tests {
		if got := CapWords(tt.in); got != tt.want {
			t.Errorf("CapWords(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanEmail(t *testing.T) {
	tests := []struct{ in, want string }{
		{" John.Smith@Example.COM ", "john.smith@example.com"},
		{`"quoted@example.com"`, "quoted@example.com"},
		{"spa ced@example.com", "spaced@example.com"},
		{"'single@example.com'", "single@example.com"},
	}
	for _, tt := range tests {
		if got := CleanEmail(tt.in); got != tt.want {
			t.Errorf("CleanEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidEmail(t *testing.T) {
	valid := []string{"a@b", "john.smith@example.com", "x+y@sub.domain.org"}
	invalid := []string{"", "plainaddress", "two@@example.com", "a@b@c", "@example.com", "user@", "has space@example.com"}

	for _, e := range valid {
		if !ValidEmail(e) {
			t.Errorf("ValidEmail(%q) = false, want true", e)
		}
	}
	for _, e := range invalid {
		if ValidEmail(e) {
			t.Errorf("ValidEmail(%q) = true, want false", e)
		}
	}
}

func TestSlug_LongInput(t *testing.T) {
	got := Slug(strings.Repeat("Ab1!", 100))
	if len(got) != 300 {
		t.Errorf("Slug length = %d, want 300", len(got))
	}
}
