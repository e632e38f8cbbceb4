package community

import (
	"testing"
	"time"
)

func mkReply(id, postID string, parent *string, at time.Time) *Reply {
	return &Reply{ID: id, PostID: postID, ParentReplyID: parent, AuthorID: "u1", Content: id, CreatedAt: at}
}

func strp(s string) *string { return &s }

func TestBuildTree_Empty(t *testing.T) {
	if got := BuildTree(nil); len(got) != 0 {
		t.Errorf("expected empty forest, got %d roots", len(got))
	}
}

func TestBuildTree_SingleRoot(t *testing.T) {
	roots := BuildTree([]*Reply{mkReply("a", "p1", nil, time.Now())})
	if len(roots) != 1 || roots[0].ID != "a" {
		t.Fatalf("expected single root a, got %v", roots)
	}
	if len(roots[0].Children) != 0 {
		t.Errorf("expected no children")
	}
}

func TestBuildTree_NestedChild(t *testing.T) {
	base := time.Now()
	roots := BuildTree([]*Reply{
		mkReply("a", "p1", nil, base),
		mkReply("b", "p1", strp("a"), base.Add(time.Second)),
	})
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}
	if len(roots[0].Children) != 1 || roots[0].Children[0].ID != "b" {
		t.Errorf("expected b as child of a, got %v", roots[0].Children)
	}
}

func TestBuildTree_DeepNesting(t *testing.T) {
	base := time.Now()
	roots := BuildTree([]*Reply{
		mkReply("a", "p1", nil, base),
		mkReply("b", "p1", strp("a"), base.Add(1*time.Second)),
		mkReply("c", "p1", strp("b"), base.Add(2*time.Second)),
		mkReply("d", "p1", strp("c"), base.Add(3*time.Second)),
	})
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}
	n := roots[0]
	for _, want := range []string{"b", "c", "d"} {
		if len(n.Children) != 1 {
			t.Fatalf("expected chain at %s, got %d children", n.ID, len(n.Children))
		}
		n = n.Children[0]
		if n.ID != want {
			t.Fatalf("expected %s in chain, got %s", want, n.ID)
		}
	}
}

func TestBuildTree_SiblingOrderMatchesInput(t *testing.T) {
	base := time.Now()
	roots := BuildTree([]*Reply{
		mkReply("a", "p1", nil, base),
		mkReply("b", "p1", strp("a"), base.Add(1*time.Second)),
		mkReply("c", "p1", strp("a"), base.Add(2*time.Second)),
		mkReply("d", "p1", strp("a"), base.Add(3*time.Second)),
	})
	kids := roots[0].Children
	if len(kids) != 3 {
		t.Fatalf("expected 3 children, got %d", len(kids))
	}
	for i, want := range []string{"b", "c", "d"} {
		if kids[i].ID != want {
			t.Errorf("child %d: expected %s, got %s", i, want, kids[i].ID)
		}
	}
}

func TestBuildTree_ChildrenAreExactlyParentMatches(t *testing.T) {
	base := time.Now()
	replies := []*Reply{
		mkReply("a", "p1", nil, base),
		mkReply("b", "p1", nil, base.Add(1*time.Second)),
		mkReply("a1", "p1", strp("a"), base.Add(2*time.Second)),
		mkReply("b1", "p1", strp("b"), base.Add(3*time.Second)),
		mkReply("a2", "p1", strp("a"), base.Add(4*time.Second)),
	}
	roots := BuildTree(replies)

	byID := map[string]*ThreadNode{}
	var walk func(nodes []*ThreadNode)
	walk = func(nodes []*ThreadNode) {
		for _, n := range nodes {
			byID[n.ID] = n
			walk(n.Children)
		}
	}
	walk(roots)

	for _, r := range replies {
		if r.ParentReplyID == nil {
			continue
		}
		parent := byID[*r.ParentReplyID]
		found := false
		for _, child := range parent.Children {
			if child.ID == r.ID {
				found = true
			}
		}
		if !found {
			t.Errorf("reply %s missing from parent %s children", r.ID, *r.ParentReplyID)
		}
	}
	if len(byID["a"].Children) != 2 || len(byID["b"].Children) != 1 {
		t.Errorf("unexpected child counts: a=%d b=%d", len(byID["a"].Children), len(byID["b"].Children))
	}
}

func TestBuildTree_OrphanBecomesRoot(t *testing.T) {
	base := time.Now()
	roots := BuildTree([]*Reply{
		mkReply("a", "p1", nil, base),
		mkReply("b", "p1", strp("deleted-parent"), base.Add(time.Second)),
	})
	if len(roots) != 2 {
		t.Fatalf("expected orphan promoted to root, got %d roots", len(roots))
	}
	if roots[0].ID != "a" || roots[1].ID != "b" {
		t.Errorf("expected roots [a b], got [%s %s]", roots[0].ID, roots[1].ID)
	}
}

func TestBuildTree_SelfParentBecomesRoot(t *testing.T) {
	roots := BuildTree([]*Reply{mkReply("a", "p1", strp("a"), time.Now())})
	if len(roots) != 1 || roots[0].ID != "a" {
		t.Fatalf("self-referencing reply must degrade to a root, got %v", roots)
	}
	if len(roots[0].Children) != 0 {
		t.Errorf("self-referencing reply must not become its own child")
	}
}
