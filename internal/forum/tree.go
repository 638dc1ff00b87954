package forum

import "sort"

// CommentRecord is a flat comment row joined with its author's username, the
// shape the storage layer hands to the tree builder.
type CommentRecord struct {
	Comment
	Username string `json:"username"`
}

// CommentNode is one node of the assembled reply forest.
type CommentNode struct {
	CommentRecord
	Children []*CommentNode `json:"children"`
}

// rootParentID keys top-level comments in the grouping pass. Row ids start
// at 1, so 0 never collides with a real parent.
const rootParentID int64 = 0

// BuildCommentTree assembles an unordered flat row set into a forest. One
// pass groups rows by parent id, then assembly recurses from the root group.
// Siblings are ordered newest first at every depth. A row whose parent id
// matches no row in the set is attached at top level instead of being
// dropped, so a dangling reference never hides a comment.
func BuildCommentTree(records []CommentRecord) []*CommentNode {
	if len(records) == 0 {
		return []*CommentNode{}
	}

	known := make(map[int64]struct{}, len(records))
	for _, record := range records {
		known[record.ID] = struct{}{}
	}

	groups := make(map[int64][]CommentRecord)
	for _, record := range records {
		parent := rootParentID
		if record.ParentID != nil {
			if _, ok := known[*record.ParentID]; ok {
				parent = *record.ParentID
			}
		}
		groups[parent] = append(groups[parent], record)
	}

	return assembleChildren(groups, rootParentID)
}

func assembleChildren(groups map[int64][]CommentRecord, parent int64) []*CommentNode {
	siblings := groups[parent]
	sort.SliceStable(siblings, func(i, j int) bool {
		if !siblings[i].CreatedAt.Equal(siblings[j].CreatedAt) {
			return siblings[i].CreatedAt.After(siblings[j].CreatedAt)
		}
		return siblings[i].ID > siblings[j].ID
	})

	nodes := make([]*CommentNode, 0, len(siblings))
	for _, record := range siblings {
		nodes = append(nodes, &CommentNode{
			CommentRecord: record,
			Children:      assembleChildren(groups, record.ID),
		})
	}
	return nodes
}
