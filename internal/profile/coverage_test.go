package profile

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"
)

func TestCoverageRecordKeepsInvariant(t *testing.T) {
	m := NewCoverageMap(2)
	before := m.Clone()

	if err := m.Record(CategoryValues); err != nil {
		t.Fatalf("record: %v", err)
	}
	got := m[CategoryValues]
	if got.Count != 1 || got.Covered {
		t.Fatalf("after one answer got %+v, want count 1 uncovered", got)
	}
	if err := m.Record(CategoryValues); err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := m[CategoryValues]; !got.Covered || got.Count != 2 {
		t.Fatalf("after two answers got %+v, want covered", got)
	}
	for _, c := range Categories {
		if c == CategoryValues {
			continue
		}
		if m[c] != before[c] {
			t.Errorf("category %s changed: %+v -> %+v", c, before[c], m[c])
		}
	}
}

func TestCoverageRecordUnknownCategory(t *testing.T) {
	m := NewCoverageMap(1)
	err := m.Record(Category("astrology"))
	if !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("got %v, want ErrInvalidCategory", err)
	}
	if len(m) != len(Categories) {
		t.Fatalf("key set grew to %d", len(m))
	}
}

func TestCoverageRandomInvariant(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 200; trial++ {
		m := NewCoverageMap(1 + r.IntN(5))
		for i := 0; i < r.IntN(60); i++ {
			c := Categories[r.IntN(len(Categories))]
			if err := m.Record(c); err != nil {
				t.Fatalf("record: %v", err)
			}
			for _, k := range Categories {
				cov := m[k]
				if cov.Covered != (cov.Count >= cov.MinRequired) {
					t.Fatalf("invariant broken for %s: %+v", k, cov)
				}
			}
		}
	}
}

func TestCompletionMonotonic(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	for trial := 0; trial < 100; trial++ {
		minTotal := 5 + r.IntN(40)
		m := NewCoverageMap(1 + r.IntN(4))
		answered := 0
		last := Completion(answered, minTotal, m)
		for i := 0; i < 80; i++ {
			if err := m.Record(Categories[r.IntN(len(Categories))]); err != nil {
				t.Fatal(err)
			}
			answered++
			pct := Completion(answered, minTotal, m)
			if pct < last {
				t.Fatalf("completion decreased from %d to %d", last, pct)
			}
			if pct < 0 || pct > 100 {
				t.Fatalf("completion %d out of range", pct)
			}
			last = pct
		}
	}
}

func TestCompletionSingleCategoryCapped(t *testing.T) {
	m := NewCoverageMap(2)
	for i := 0; i < 100; i++ {
		_ = m.Record(CategoryPreferences)
	}
	// Volume maxes out at 60; breadth contributes 1/8 of 40.
	if got := Completion(100, 20, m); got != 65 {
		t.Fatalf("got %d, want 65", got)
	}
}

func TestReadyRequiresBothConditions(t *testing.T) {
	p := New("p1", "owner", "Ada", TierTrial, Minimums{Interactions: 20, PerCategory: 2})

	// 16 answers: seven categories covered (one with a third answer) and
	// the last category with a single answer.
	for i, c := range Categories[:7] {
		n := 2
		if i == 0 {
			n = 3
		}
		for j := 0; j < n; j++ {
			_ = p.Coverage.Record(c)
			p.TotalAnswered++
		}
	}
	lagging := Categories[7]
	_ = p.Coverage.Record(lagging)
	p.TotalAnswered++
	if p.TotalAnswered != 16 {
		t.Fatalf("setup: total %d", p.TotalAnswered)
	}
	if p.IsReady() {
		t.Fatal("ready with an uncovered category")
	}

	_ = p.Coverage.Record(lagging)
	p.TotalAnswered++
	if !p.Coverage.AllCovered() {
		t.Fatal("all categories should be covered")
	}
	if p.IsReady() {
		t.Fatal("ready with 17 of 20 answers")
	}
	short := p.Shortfall()
	if short == nil || short.Answered != 17 || short.Required != 20 || len(short.Uncovered) != 0 {
		t.Fatalf("unexpected shortfall %+v", short)
	}

	for i := 0; i < 3; i++ {
		_ = p.Coverage.Record(CategoryValues)
		p.TotalAnswered++
	}
	if !p.IsReady() {
		t.Fatal("not ready at 20 answers with full coverage")
	}
}

func TestReadyRandomMaps(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 500; trial++ {
		m := make(CoverageMap)
		all := true
		for _, c := range Categories {
			cov := Coverage{Count: r.IntN(5), MinRequired: r.IntN(4)}
			cov.Covered = cov.Count >= cov.MinRequired
			all = all && cov.Covered
			m[c] = cov
		}
		answered, minTotal := r.IntN(40), r.IntN(40)
		want := answered >= minTotal && all
		if got := Ready(answered, minTotal, m); got != want {
			t.Fatalf("Ready(%d, %d, %v) = %v, want %v", answered, minTotal, m, got, want)
		}
	}
}

func TestLowestTieBreaksByCanonicalOrder(t *testing.T) {
	m := NewCoverageMap(2)
	_ = m.Record(CategoryLinguistic)
	got, ok := m.Lowest()
	if !ok || got != CategoryReasoning {
		t.Fatalf("got %s, want %s", got, CategoryReasoning)
	}
}

func TestCoverageMapRoundTrip(t *testing.T) {
	m := NewCoverageMap(3)
	_ = m.Record(CategoryMoral)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var back CoverageMap
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	for _, c := range Categories {
		if back[c] != m[c] {
			t.Errorf("%s: got %+v, want %+v", c, back[c], m[c])
		}
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"values", CategoryValues, true},
		{" Logical Reasoning ", CategoryReasoning, true},
		{"emotional-patterns", CategoryEmotional, true},
		{"memories", CategoryAutobiographical, true},
		{"ethics", CategoryMoral, true},
		{"astrology", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseCategory(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortfallMessage(t *testing.T) {
	err := &ShortfallError{Answered: 12, Required: 40, Uncovered: []Category{CategoryValues, CategoryMoral}}
	want := "profile not ready: 12 of 40 answers, 2 categories below minimum (values, moral_stance)"
	if err.Error() != want {
		t.Fatalf("got %q", err.Error())
	}
}
