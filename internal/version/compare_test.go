package version

import "testing"

func TestCompare(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want int
	}{
		{"1.2", "1.2.0", 0},
		{"2.0", "1.9.9", 1},
		{"1.9.9", "2.0", -1},
		{"1.10.0", "1.9.0", 1},
		{"1.0.0", "1.1.0", -1},
		{"", "1.0", 0},
		{"1.0", "", 0},
		{"   ", "1.0", 0},
		{"1.x.3", "1.0.3", 0},
		{"1.2.3rc1", "1.2.3", 0},
		{"v1.2.0", "1.2", 0},
		{"1..2", "1.0.2", 0},
		{"3.0.0.1", "3", 1},
	}

	for _, tc := range cases {
		if got := Compare(tc.a, tc.b); got != tc.want {
			t.Fatalf("Compare(%q,%q)=%d want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCompareAntisymmetricAndTransitive(t *testing.T) {
	t.Parallel()

	versions := []string{"0.0.1", "1.0", "1.0.1", "1.2", "1.10", "2.0.0", "10.0"}
	for _, a := range versions {
		for _, b := range versions {
			if Compare(a, b) != -Compare(b, a) {
				t.Fatalf("Compare not antisymmetric for %s, %s", a, b)
			}
			for _, c := range versions {
				if Compare(a, b) < 0 && Compare(b, c) < 0 && Compare(a, c) >= 0 {
					t.Fatalf("Compare not transitive for %s < %s < %s", a, b, c)
				}
			}
		}
	}
}

func TestCompareHugeComponentDoesNotPanic(t *testing.T) {
	t.Parallel()

	if got := Compare("99999999999999999999999999.1", "1.0"); got != 1 {
		t.Fatalf("expected overflowing component to still compare greater, got %d", got)
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"1.2.3":  true,
		"v2.0":   true,
		"":       false,
		"1..2":   false,
		"1.2rc1": false,
		"abc":    false,
	}
	for in, want := range cases {
		if got := Valid(in); got != want {
			t.Fatalf("Valid(%q)=%v want %v", in, got, want)
		}
	}
}
