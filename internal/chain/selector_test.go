package chain

import (
	"testing"
	"time"

	"github.com/pbaumgartner/ivcrush/internal/models"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func chainWithStrikes(strikes ...float64) models.OptionChain {
	c := make(models.OptionChain, len(strikes))
	for i, s := range strikes {
		sym := string(rune('A'+i)) + "260918C00000000"
		c[sym] = models.OptionContract{Symbol: sym, Strike: s}
	}
	return c
}

func TestParseExpirationsDropsUnparsable(t *testing.T) {
	exps := ParseExpirations([]string{"2026-09-18", "garbage", "2026-08-28", ""})
	if len(exps) != 2 {
		t.Fatalf("got %d expirations, want 2", len(exps))
	}
	if !exps[0].Equal(date("2026-08-28")) || !exps[1].Equal(date("2026-09-18")) {
		t.Errorf("expirations not sorted ascending: %v", exps)
	}
}

func TestShortLegExpiration(t *testing.T) {
	today := date("2026-08-26")
	exps := []time.Time{date("2026-09-18"), date("2026-08-28"), date("2026-08-26")}

	exp, ok := ShortLegExpiration(exps, today)
	if !ok {
		t.Fatal("expected an expiration")
	}
	// Today itself is excluded; the match must be strictly after.
	if !exp.Equal(date("2026-08-28")) {
		t.Errorf("got %v, want 2026-08-28", exp)
	}

	if _, ok := ShortLegExpiration([]time.Time{date("2026-08-25")}, today); ok {
		t.Error("expected no expiration when all are in the past")
	}
}

func TestLongLegExpiration(t *testing.T) {
	today := date("2026-08-26")
	shortExp := date("2026-08-28")

	tests := []struct {
		name       string
		exps       []string
		targetDays int
		want       string
		wantOK     bool
	}{
		{
			name:       "closest to 30d target",
			exps:       []string{"2026-08-28", "2026-09-18", "2026-10-16"},
			targetDays: 30,
			want:       "2026-09-18",
			wantOK:     true,
		},
		{
			name:       "equidistant candidates pick the earlier",
			exps:       []string{"2026-09-23", "2026-09-27"},
			targetDays: 30, // target 2026-09-25, both 2 days away
			want:       "2026-09-23",
			wantOK:     true,
		},
		{
			name:       "short expiration itself is excluded",
			exps:       []string{"2026-08-28"},
			targetDays: 30,
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LongLegExpiration(ParseExpirations(tt.exps), today, shortExp, tt.targetDays)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(date(tt.want)) {
				t.Errorf("got %v, want %s", got, tt.want)
			}
		})
	}
}

func TestBestCommonStrike(t *testing.T) {
	a := chainWithStrikes(95, 100, 105, 110)
	b := chainWithStrikes(100, 105, 115)

	if got := BestCommonStrike(a, b, 103.0, false); got != 105.0 {
		t.Errorf("got %v, want 105 (nearest common strike)", got)
	}

	// Equidistant between 100 and 105: lower strike wins.
	if got := BestCommonStrike(a, b, 102.5, false); got != 100.0 {
		t.Errorf("got %v, want 100 on tie", got)
	}
}

func TestBestCommonStrikeEmptyIntersection(t *testing.T) {
	a := chainWithStrikes(95, 100)
	b := chainWithStrikes(105, 110)

	if got := BestCommonStrike(a, b, 101.0, false); got != -1 {
		t.Errorf("strict mode: got %v, want -1", got)
	}
	if got := BestCommonStrike(a, b, 101.0, true); got != 100.0 {
		t.Errorf("union fallback: got %v, want 100", got)
	}
}

func TestOptionForStrike(t *testing.T) {
	c := models.OptionChain{
		"AAPL260918C00100000": {Symbol: "AAPL260918C00100000", Strike: 100},
		"AAPL260918C00105000": {Symbol: "AAPL260918C00105000", Strike: 105},
	}

	contract, ok := OptionForStrike(c, 105.005)
	if !ok {
		t.Fatal("expected a contract within tolerance")
	}
	if contract.Symbol != "AAPL260918C00105000" {
		t.Errorf("got %s, want the 105 strike", contract.Symbol)
	}

	if _, ok := OptionForStrike(c, 102); ok {
		t.Error("expected no contract for an absent strike")
	}
}
