package memory

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(DefaultStoreConfig(), zap.NewNop())
}

func TestCreateAssignsDefaults(t *testing.T) {
	s := newTestStore(t)

	m := Memory{Type: Episodic, Content: []byte(`{"msg":"hi"}`)}
	if err := s.Create(&m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID == "" {
		t.Fatal("expected generated id")
	}
	if m.Strength != 0.5 || m.Confidence != 0.5 {
		t.Errorf("expected defaults 0.5/0.5, got %f/%f", m.Strength, m.Confidence)
	}
	if m.CreatedAt.IsZero() || m.LastAccessed.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestCreateClampsStrength(t *testing.T) {
	s := newTestStore(t)

	m := Memory{Type: Semantic, Content: []byte(`{}`), Strength: 1.5, Confidence: -0.3}
	if err := s.Create(&m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Strength != 1.0 {
		t.Errorf("got strength %f, want 1.0", m.Strength)
	}
	// Negative confidence clamps to 0, which then reads as dormant-level
	// trust but stays in range.
	if m.Confidence != 0 {
		t.Errorf("got confidence %f, want 0", m.Confidence)
	}
}

func TestCreateRejectsInvalidType(t *testing.T) {
	s := newTestStore(t)
	m := Memory{Type: "imaginary"}
	if err := s.Create(&m); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("got %v, want ErrInvalidType", err)
	}
}

func TestCreateRejectsWrongDimension(t *testing.T) {
	cfg := DefaultStoreConfig()
	cfg.Dimension = 4
	s := NewStore(cfg, zap.NewNop())

	m := Memory{Type: Episodic, Embedding: []float32{1, 2}}
	if err := s.Create(&m); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestTouchBoostsWithDiminishingReturns(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	m := Memory{Type: Episodic}
	if err := s.Create(&m); err != nil {
		t.Fatal(err)
	}

	s.Touch(m.ID)
	got, _ := s.Get(m.ID)
	want := 0.5 + (1-0.5)*0.1
	if !almostEqual(got.Strength, want) {
		t.Errorf("after touch got strength %f, want %f", got.Strength, want)
	}
	if got.AccessCount != 1 {
		t.Errorf("got access count %d, want 1", got.AccessCount)
	}

	// Repeated touches converge toward 1 without ever reaching it.
	for i := 0; i < 1000; i++ {
		s.Touch(m.ID)
	}
	got, _ = s.Get(m.ID)
	if got.Strength > 1.0 {
		t.Errorf("strength exceeded 1.0: %f", got.Strength)
	}
	if got.AccessCount != 1001 {
		t.Errorf("got access count %d, want 1001", got.AccessCount)
	}
}

func TestTouchMissingIsNoop(t *testing.T) {
	s := newTestStore(t)
	s.Touch("ghost") // must not panic
}

func TestUpdateStrengthClamps(t *testing.T) {
	s := newTestStore(t)
	m := Memory{Type: Episodic}
	if err := s.Create(&m); err != nil {
		t.Fatal(err)
	}

	got, err := s.UpdateStrength(m.ID, 5.0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Strength != 1.0 {
		t.Errorf("got %f, want 1.0", got.Strength)
	}

	got, err = s.UpdateStrength(m.ID, -5.0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Strength != 0.0 {
		t.Errorf("got %f, want 0.0", got.Strength)
	}

	if _, err := s.UpdateStrength("ghost", 0.1); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDecayHalving(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	m := Memory{Type: Working, Strength: 0.8}
	if err := s.Create(&m); err != nil {
		t.Fatal(err)
	}

	// Working memory half-life is 24h: one day halves the strength.
	now = base.Add(24 * time.Hour)
	got, _ := s.Get(m.ID)
	if !almostEqual(got.Strength, 0.4) {
		t.Errorf("after one half-life got %f, want 0.4", got.Strength)
	}

	// Decay is monotonic: another read at the same instant changes nothing.
	again, _ := s.Get(m.ID)
	if again.Strength != got.Strength {
		t.Errorf("repeated read changed strength: %f != %f", again.Strength, got.Strength)
	}

	// Two more half-lives.
	now = base.Add(72 * time.Hour)
	got, _ = s.Get(m.ID)
	if !almostEqual(got.Strength, 0.1) {
		t.Errorf("after three half-lives got %f, want 0.1", got.Strength)
	}
}

func TestDecayNeverNegative(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	m := Memory{Type: Working, Strength: 0.9}
	if err := s.Create(&m); err != nil {
		t.Fatal(err)
	}

	now = base.Add(10 * 365 * 24 * time.Hour)
	got, _ := s.Get(m.ID)
	if got.Strength < 0 {
		t.Errorf("strength went negative: %f", got.Strength)
	}
}

func TestListOrderingAndPagination(t *testing.T) {
	s := newTestStore(t)

	strengths := []float64{0.9, 0.3, 0.7, 0.5}
	ids := make([]string, len(strengths))
	for i, st := range strengths {
		m := Memory{Type: Episodic, Strength: st}
		if err := s.Create(&m); err != nil {
			t.Fatal(err)
		}
		ids[i] = m.ID
	}

	out := s.List(Filter{})
	if len(out) != 4 {
		t.Fatalf("got %d memories, want 4", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Strength > out[i-1].Strength {
			t.Fatalf("not ordered by strength desc at %d: %f > %f", i, out[i].Strength, out[i-1].Strength)
		}
	}

	page := s.List(Filter{Limit: 2, Offset: 1})
	if len(page) != 2 {
		t.Fatalf("got %d, want 2", len(page))
	}
	if !almostEqual(page[0].Strength, 0.7) || !almostEqual(page[1].Strength, 0.5) {
		t.Errorf("unexpected page: %f, %f", page[0].Strength, page[1].Strength)
	}

	empty := s.List(Filter{Offset: 10})
	if len(empty) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(empty))
	}
}

func TestListExcludesDormant(t *testing.T) {
	s := newTestStore(t)

	active := Memory{Type: Episodic, Strength: 0.6}
	dormant := Memory{Type: Episodic, Strength: 0.1}
	if err := s.Create(&active); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(&dormant); err != nil {
		t.Fatal(err)
	}

	out := s.List(Filter{})
	if len(out) != 1 || out[0].ID != active.ID {
		t.Fatalf("expected only the active memory, got %d results", len(out))
	}

	all := s.List(Filter{IncludeDormant: true})
	if len(all) != 2 {
		t.Fatalf("expected 2 with IncludeDormant, got %d", len(all))
	}
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)

	a := Memory{Type: Episodic, Strength: 0.8, Tags: []string{"api"}}
	b := Memory{Type: Semantic, Strength: 0.8, Tags: []string{"db"}}
	if err := s.Create(&a); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(&b); err != nil {
		t.Fatal(err)
	}

	byType := s.List(Filter{Type: Semantic})
	if len(byType) != 1 || byType[0].ID != b.ID {
		t.Errorf("type filter failed")
	}
	byTag := s.List(Filter{Tag: "api"})
	if len(byTag) != 1 || byTag[0].ID != a.ID {
		t.Errorf("tag filter failed")
	}
}

func TestPurgeDormant(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	weak := Memory{Type: Working, Strength: 0.25}
	strong := Memory{Type: Procedural, Strength: 0.95}
	if err := s.Create(&weak); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(&strong); err != nil {
		t.Fatal(err)
	}

	// A week of silence: the working memory decays well below the
	// activation threshold, the procedural one barely moves.
	now = base.Add(7 * 24 * time.Hour)
	purged := s.PurgeDormant(24 * time.Hour)
	if len(purged) != 1 || purged[0] != weak.ID {
		t.Fatalf("expected only the weak memory purged, got %v", purged)
	}
	if _, err := s.Get(weak.ID); !errors.Is(err, ErrNotFound) {
		t.Error("purged memory still readable")
	}
	if _, err := s.Get(strong.ID); err != nil {
		t.Errorf("strong memory should survive: %v", err)
	}

	// Dormancy alone is not enough: a recently accessed dormant memory
	// stays within the grace period.
	recent := Memory{Type: Episodic, Strength: 0.05}
	if err := s.Create(&recent); err != nil {
		t.Fatal(err)
	}
	purged = s.PurgeDormant(24 * time.Hour)
	if len(purged) != 0 {
		t.Errorf("expected no purge inside the grace period, got %v", purged)
	}
}

func TestWeakestDormant(t *testing.T) {
	s := newTestStore(t)

	for _, st := range []float64{0.05, 0.1, 0.15, 0.6} {
		m := Memory{Type: Episodic, Strength: st}
		if err := s.Create(&m); err != nil {
			t.Fatal(err)
		}
	}

	ids := s.WeakestDormant(2)
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
	first, _ := s.Get(ids[0])
	second, _ := s.Get(ids[1])
	if first.Strength > second.Strength {
		t.Errorf("not weakest-first: %f then %f", first.Strength, second.Strength)
	}

	// Never more than asked, never an active memory.
	all := s.WeakestDormant(10)
	for _, id := range all {
		m, _ := s.Get(id)
		if m.StateAt(0.2) != StateDormant {
			t.Errorf("active memory %s offered for eviction", id)
		}
	}
}

func TestStatistics(t *testing.T) {
	s := newTestStore(t)

	for _, tc := range []struct {
		typ Type
		st  float64
	}{
		{Episodic, 0.8}, {Episodic, 0.1}, {Semantic, 0.6},
	} {
		m := Memory{Type: tc.typ, Strength: tc.st}
		if err := s.Create(&m); err != nil {
			t.Fatal(err)
		}
	}

	st := s.Statistics()
	if st.Total != 3 {
		t.Errorf("got total %d, want 3", st.Total)
	}
	if st.ByType[string(Episodic)] != 2 || st.ByType[string(Semantic)] != 1 {
		t.Errorf("unexpected type counts: %v", st.ByType)
	}
	if st.Active != 2 || st.Dormant != 1 {
		t.Errorf("got active=%d dormant=%d, want 2/1", st.Active, st.Dormant)
	}
	if !almostEqual(st.AverageStrength, 0.5) {
		t.Errorf("got avg strength %f, want 0.5", st.AverageStrength)
	}
}

func TestParseType(t *testing.T) {
	for _, valid := range []string{"episodic", "semantic", "procedural", "emotional", "working"} {
		if _, err := ParseType(valid); err != nil {
			t.Errorf("ParseType(%q): %v", valid, err)
		}
	}
	if _, err := ParseType("declarative"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("got %v, want ErrInvalidType", err)
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
