package forum

import (
	"errors"
	"testing"
	"time"
)

func rankedPost(id int64, createdAt time.Time, score int64) RankedPost {
	return RankedPost{
		Post:  Post{ID: id, CreatedAt: createdAt},
		Score: score,
	}
}

func TestNetScoreSumsSignedValues(t *testing.T) {
	votes := []Vote{{Value: 1}, {Value: 1}, {Value: -1}}
	if got := NetScore(votes); got != 1 {
		t.Fatalf("expected net score 1, got %d", got)
	}
	if got := NetScore(nil); got != 0 {
		t.Fatalf("expected empty vote set to score 0, got %d", got)
	}
}

func TestParseSortModeRejectsUnknownMode(t *testing.T) {
	if _, err := ParseSortMode("spicy"); !errors.Is(err, ErrInvalidSortMode) {
		t.Fatalf("expected ErrInvalidSortMode, got %v", err)
	}
	mode, err := ParseSortMode("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != SortHot {
		t.Fatalf("expected empty mode to default to hot, got %s", mode)
	}
}

func TestRankTopOrdersByScoreThenRecency(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	items := []RankedPost{
		rankedPost(1, base, 0),
		rankedPost(2, base.Add(time.Minute), 1),
	}

	ranked, err := Rank(items, SortTop)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranked[0].Post.ID != 2 {
		t.Fatalf("expected post with net score 1 first, got post %d", ranked[0].Post.ID)
	}
}

func TestRankNewOrdersByCreationDescending(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	items := []RankedPost{
		rankedPost(1, base, 100),
		rankedPost(2, base.Add(time.Hour), 0),
	}

	ranked, err := Rank(items, SortNew)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranked[0].Post.ID != 2 {
		t.Fatalf("expected newest post first regardless of score, got post %d", ranked[0].Post.ID)
	}
}

func TestRankHotVoteMagnitudeDominatesAtEqualAge(t *testing.T) {
	created := time.Unix(1700000000, 0).UTC()
	items := []RankedPost{
		rankedPost(1, created, 1),  // B
		rankedPost(2, created, 10), // A
	}

	ranked, err := Rank(items, SortHot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranked[0].Post.ID != 2 {
		t.Fatalf("expected higher-scored post first at equal age, got post %d", ranked[0].Post.ID)
	}
}

func TestRankHotRecencyDominatesAtEqualScore(t *testing.T) {
	old := time.Unix(1700000000, 0).UTC()
	items := []RankedPost{
		rankedPost(1, old, 1),                   // C, much earlier
		rankedPost(2, old.Add(72*time.Hour), 1), // D, just now
	}

	ranked, err := Rank(items, SortHot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranked[0].Post.ID != 2 {
		t.Fatalf("expected newer post first at equal score, got post %d", ranked[0].Post.ID)
	}
}

func TestRankHotZeroScoreReducesToTimeDecay(t *testing.T) {
	created := time.Unix(1700000000, 0).UTC()
	score := HotScore(0, created)
	want := float64(created.Unix()) / 45000
	if score != want {
		t.Fatalf("expected pure time decay %f for zero score, got %f", want, score)
	}
}

func TestRankIsDeterministic(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	build := func() []RankedPost {
		return []RankedPost{
			rankedPost(1, base, 3),
			rankedPost(2, base.Add(time.Minute), 3),
			rankedPost(3, base.Add(2*time.Minute), -2),
			rankedPost(4, base.Add(3*time.Minute), 0),
		}
	}

	first, err := Rank(build(), SortHot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Rank(build(), SortHot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range first {
		if first[i].Post.ID != second[i].Post.ID {
			t.Fatalf("ordering not deterministic at index %d: %d vs %d", i, first[i].Post.ID, second[i].Post.ID)
		}
		if first[i].Score != second[i].Score {
			t.Fatalf("score not deterministic at index %d", i)
		}
	}
}

func TestRankRejectsUnknownMode(t *testing.T) {
	if _, err := Rank(nil, SortMode("best")); !errors.Is(err, ErrInvalidSortMode) {
		t.Fatalf("expected ErrInvalidSortMode, got %v", err)
	}
}

func TestPaginateOutOfRangePageIsEmpty(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	items := make([]RankedPost, 0, 15)
	for i := int64(1); i <= 15; i++ {
		items = append(items, rankedPost(i, base, 0))
	}

	if got := len(Paginate(items, 1)); got != PageSize {
		t.Fatalf("expected full first page of %d, got %d", PageSize, got)
	}
	if got := len(Paginate(items, 2)); got != 5 {
		t.Fatalf("expected 5 items on second page, got %d", got)
	}
	if got := len(Paginate(items, 3)); got != 0 {
		t.Fatalf("expected empty third page, got %d", got)
	}
	if got := len(Paginate(items, 0)); got != PageSize {
		t.Fatalf("expected page below 1 to clamp to first page, got %d", got)
	}
}
