package ingest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string // decimal string, "" means nil
	}{
		{"czech grouping with decimal comma", "400 000,00", "400000"},
		{"nbsp grouping", "1 500 000 Kč", "1500000"},
		{"dot decimal after space grouping", "1 234.5", "1234.5"},
		{"dot grouped thousands", "1.234.567", "1234567"},
		{"plain integer", "250000", "250000"},
		{"single digit", "7", "7"},
		{"embedded in label text", "Předpokládaná hodnota: 98 500,50 CZK bez DPH", "98500.5"},
		{"no number", "neuvedeno", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAmount(tt.in)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("ParseAmount(%q) = %s, want nil", tt.in, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseAmount(%q) = nil, want %s", tt.in, tt.want)
			}
			if want := decimal.RequireFromString(tt.want); !got.Equal(want) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestDetectCurrency(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"400 000,00 Kč", "CZK"},
		{"hodnota v CZK", "CZK"},
		{"koruna česká", "CZK"},
		{"1 200 EUR", "EUR"},
		{"€ 500", "EUR"},
		{"500 euro", "EUR"},
		{"Kč a EUR", "CZK"}, // CZK wins when both appear
		{"bez měny", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := DetectCurrency(tt.in); got != tt.want {
			t.Errorf("DetectCurrency(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeMoney(t *testing.T) {
	val, cur := NormalizeMoney("400 000,00", "Měna: Kč")
	if val == nil || !val.Equal(decimal.NewFromInt(400000)) {
		t.Fatalf("value = %v, want 400000", val)
	}
	if cur != "CZK" {
		t.Errorf("currency = %q, want CZK", cur)
	}

	val, cur = NormalizeMoney("", "EUR")
	if val != nil {
		t.Errorf("value = %v, want nil", val)
	}
	if cur != "EUR" {
		t.Errorf("currency = %q, want EUR", cur)
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in       string
		wantNorm string
		wantOrig string
	}{
		{"Neukončen", "open", "Neukončen"},
		{"Neukončeno", "open", "Neukončeno"},
		{"Ukončen", "closed", "Ukončen"},
		{"Ukončení plnění", "completed", "Ukončení plnění"},
		{"Zadáno", "awarded", "Zadáno"},
		{"Zrušeno", "cancelled", "Zrušeno"},
		{"  Zadán  ", "awarded", "Zadán"},
		{"Something new", "", "Something new"}, // original always preserved
		{"", "", ""},
	}

	for _, tt := range tests {
		norm, orig := NormalizeStatus(tt.in)
		if norm != tt.wantNorm || orig != tt.wantOrig {
			t.Errorf("NormalizeStatus(%q) = (%q, %q), want (%q, %q)",
				tt.in, norm, orig, tt.wantNorm, tt.wantOrig)
		}
	}
}

func TestParseDeadline(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string // YYYY-MM-DD, "" means nil
	}{
		{"spaced with time", "17. 06. 2025 10:00", "2025-06-17"},
		{"compact with time", "17.6.2025 10:00", "2025-06-17"},
		{"spaced date only", "3. 1. 2026", "2026-01-03"},
		{"compact date only", "3.1.2026", "2026-01-03"},
		{"extra whitespace", "  17. 06. 2025   10:00 ", "2025-06-17"},
		{"garbage", "do odvolání", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDeadline(tt.in)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("ParseDeadline(%q) = %v, want nil", tt.in, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseDeadline(%q) = nil, want %s", tt.in, tt.want)
			}
			if got.Format("2006-01-02") != tt.want {
				t.Errorf("ParseDeadline(%q) = %s, want %s", tt.in, got.Format("2006-01-02"), tt.want)
			}
			if h, m, s := got.Clock(); h != 0 || m != 0 || s != 0 {
				t.Errorf("ParseDeadline(%q) kept time of day: %v", tt.in, got)
			}
			if got.Location() != time.UTC {
				t.Errorf("ParseDeadline(%q) not UTC: %v", tt.in, got.Location())
			}
		})
	}
}

func TestComputeHashID(t *testing.T) {
	a := ComputeHashID("Stavba školy", "Město Brno", "17. 06. 2025 10:00", "N006/24/V00012345")
	b := ComputeHashID("Stavba školy", "Město Brno", "17. 06. 2025 10:00", "N006/24/V00012345")
	if a != b {
		t.Fatalf("hash not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64", len(a))
	}

	c := ComputeHashID("Stavba školy II", "Město Brno", "17. 06. 2025 10:00", "N006/24/V00012345")
	if a == c {
		t.Error("different titles must hash differently")
	}
	d := ComputeHashID("Stavba školy", "Město Brno", "18. 06. 2025 10:00", "N006/24/V00012345")
	if a == d {
		t.Error("different deadline texts must hash differently")
	}
}
