package community

// BuildTree reconstructs the nested discussion tree from a flat reply list.
// Two passes, O(n): index every reply by id, then attach each reply to its
// parent's children. A reply whose parent id does not resolve within the
// input (orphaned after a deletion, or a cross-post reference) is kept
// renderable by treating it as a root rather than failing the whole tree.
//
// Sibling order follows input order at every depth. Callers supply replies
// sorted by creation time ascending; BuildTree itself never sorts.
func BuildTree(replies []*Reply) []*ThreadNode {
	index := make(map[string]*ThreadNode, len(replies))
	nodes := make([]*ThreadNode, 0, len(replies))
	for _, r := range replies {
		n := &ThreadNode{Reply: *r}
		index[r.ID] = n
		nodes = append(nodes, n)
	}

	var roots []*ThreadNode
	for _, n := range nodes {
		if n.ParentReplyID != nil {
			if parent, ok := index[*n.ParentReplyID]; ok && parent != n {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	return roots
}
