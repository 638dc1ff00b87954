package forum

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// SortMode selects the ordering applied to a post listing.
type SortMode string

const (
	// SortNew orders by creation time, newest first.
	SortNew SortMode = "new"
	// SortTop orders by net score, highest first.
	SortTop SortMode = "top"
	// SortHot blends log-scaled vote magnitude with time decay.
	SortHot SortMode = "hot"
)

// PageSize is the fixed number of posts per listing page.
const PageSize = 10

// hotDecaySeconds controls how quickly recency overtakes vote magnitude: one
// decay unit of age is worth one order of magnitude of net score.
const hotDecaySeconds = 45000

// ErrInvalidSortMode reports an ordering mode outside {new, top, hot}.
var ErrInvalidSortMode = errors.New("forum: invalid sort mode")

// ParseSortMode validates a raw sort parameter. An empty value defaults to
// hot, matching the listing endpoint's historical behavior.
func ParseSortMode(raw string) (SortMode, error) {
	switch SortMode(strings.ToLower(strings.TrimSpace(raw))) {
	case SortNew:
		return SortNew, nil
	case SortTop:
		return SortTop, nil
	case SortHot, "":
		return SortHot, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortMode, raw)
	}
}

// RankedPost couples a post with the aggregates computed from live vote rows.
type RankedPost struct {
	Post          Post      `json:"post"`
	Author        string    `json:"username"`
	CommunityName string    `json:"community_name"`
	Score         int64     `json:"votes"`
	CallerVote    int       `json:"user_vote"`
	CommentCount  int64     `json:"comment_count"`
}

// NetScore sums the signed values of the supplied vote rows. An empty set
// scores zero.
func NetScore(votes []Vote) int64 {
	var total int64
	for _, vote := range votes {
		total += int64(vote.Value)
	}
	return total
}

// HotScore computes sign(score)*log10(max(1,|score|)) + created/45000s. Vote
// magnitude dominates while scores are moving; once they plateau the linear
// recency term takes over. A zero score reduces the rank to pure time decay.
func HotScore(score int64, createdAt time.Time) float64 {
	magnitude := math.Log10(math.Max(1, math.Abs(float64(score))))
	var sign float64
	switch {
	case score > 0:
		sign = 1
	case score < 0:
		sign = -1
	}
	return sign*magnitude + float64(createdAt.Unix())/hotDecaySeconds
}

// Rank orders the cohort in place according to mode and returns it. Ties on
// the primary key always break toward the newer post.
func Rank(items []RankedPost, mode SortMode) ([]RankedPost, error) {
	switch mode {
	case SortNew:
		sort.SliceStable(items, func(i, j int) bool {
			return newerFirst(items[i], items[j])
		})
	case SortTop:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Score != items[j].Score {
				return items[i].Score > items[j].Score
			}
			return newerFirst(items[i], items[j])
		})
	case SortHot:
		sort.SliceStable(items, func(i, j int) bool {
			left := HotScore(items[i].Score, items[i].Post.CreatedAt)
			right := HotScore(items[j].Score, items[j].Post.CreatedAt)
			if left != right {
				return left > right
			}
			return newerFirst(items[i], items[j])
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSortMode, mode)
	}
	return items, nil
}

// Paginate slices one offset-based page out of a ranked cohort. Page numbers
// start at 1; a page beyond the end is an empty page, not an error.
func Paginate(items []RankedPost, page int) []RankedPost {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * PageSize
	if offset >= len(items) {
		return []RankedPost{}
	}
	end := offset + PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func newerFirst(a, b RankedPost) bool {
	if !a.Post.CreatedAt.Equal(b.Post.CreatedAt) {
		return a.Post.CreatedAt.After(b.Post.CreatedAt)
	}
	return a.Post.ID > b.Post.ID
}
