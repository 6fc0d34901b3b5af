package normalize

import "testing"

func TestReference(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"already canonical", "STO1234", "STO1234"},
		{"lowercase", "sto1234", "STO1234"},
		{"hyphenated", "STO-1234", "STO1234"},
		{"underscored", "sto_1234", "STO1234"},
		{"internal spaces", "STO 1234", "STO1234"},
		{"surrounding whitespace", "  STO1234\t", "STO1234"},
		{"mixed separators", " sto-12 34_b ", "STO1234B"},
		{"empty", "", ""},
		{"only separators", " -_/ ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reference(tt.raw); got != tt.want {
				t.Errorf("Reference(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestReferenceVariantsCollide(t *testing.T) {
	variants := []string{"STO-9917", "sto 9917", "STO_9917", " Sto9917 "}
	want := Reference(variants[0])
	for _, v := range variants {
		if got := Reference(v); got != want {
			t.Errorf("Reference(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestIsBlank(t *testing.T) {
	if !IsBlank("  - ") {
		t.Error("separator-only reference should be blank")
	}
	if IsBlank("STO1") {
		t.Error("real reference should not be blank")
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{"2348.25", 2348.25, false},
		{" 2,348.25 ", 2348.25, false},
		{"1,234,567", 1234567, false},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseFloat(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFloat(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFloat(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFloat(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
