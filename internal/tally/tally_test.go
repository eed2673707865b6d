package tally

import "testing"

func TestCount(t *testing.T) {
	choices := []string{"yes", "YES", "No", "abstain", " yes ", "junk"}
	totals := Count(choices)
	if totals.Yes != 3 || totals.No != 1 || totals.Abstain != 1 {
		t.Fatalf("Count() = %+v", totals)
	}
	if totals.Total != 5 {
		t.Fatalf("Total = %d, want 5", totals.Total)
	}
}

func TestPassedThreshold(t *testing.T) {
	cases := []struct {
		name   string
		totals Totals
		want   bool
	}{
		{name: "eight of twelve passes", totals: Totals{Yes: 8, No: 3, Abstain: 1, Total: 12}, want: true},
		{name: "seven of twelve fails", totals: Totals{Yes: 7, No: 4, Abstain: 1, Total: 12}, want: false},
		{name: "abstentions count against", totals: Totals{Yes: 7, No: 0, Abstain: 5, Total: 12}, want: false},
		{name: "exactly threshold with no others", totals: Totals{Yes: 8, Total: 8}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Passed(tc.totals, 8); got != tc.want {
				t.Fatalf("Passed(%+v, 8) = %v, want %v", tc.totals, got, tc.want)
			}
		})
	}
}

func TestCountIdempotent(t *testing.T) {
	choices := []string{"yes", "no", "yes"}
	first := Count(choices)
	second := Count(choices)
	if first != second {
		t.Fatalf("Count() not deterministic: %+v vs %+v", first, second)
	}
}

func TestNormalizeChoice(t *testing.T) {
	if _, ok := NormalizeChoice("maybe"); ok {
		t.Fatal("NormalizeChoice(maybe) accepted")
	}
	if choice, ok := NormalizeChoice("  YES"); !ok || choice != ChoiceYes {
		t.Fatalf("NormalizeChoice(YES) = %q, %v", choice, ok)
	}
}
