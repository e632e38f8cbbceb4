package community

import (
	"time"

	"github.com/carelink/portal/internal/platform/store"
)

const (
	// PostCollection and ReplyCollection name the backing document collections.
	PostCollection  = "posts"
	ReplyCollection = "replies"
)

// Post is a community discussion root. LikedBy is the source of truth for
// likes; LikeCount is a display cache maintained through atomic increments.
type Post struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	ViewCount  int64     `json:"view_count"`
	LikeCount  int64     `json:"like_count"`
	LikedBy    []string  `json:"liked_by"`
	ReplyCount int64     `json:"reply_count"`
}

// Reply is one entry in a post's discussion. A nil ParentReplyID marks a root
// reply. ReplyCount counts direct children only; the owning post's ReplyCount
// counts replies at every depth.
type Reply struct {
	ID            string    `json:"id"`
	PostID        string    `json:"post_id"`
	ParentReplyID *string   `json:"parent_reply_id,omitempty"`
	AuthorID      string    `json:"author_id"`
	AuthorName    string    `json:"author_name"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	ReplyCount    int64     `json:"reply_count"`
}

// ThreadNode is a reply plus its resolved children.
type ThreadNode struct {
	Reply
	Children []*ThreadNode `json:"children"`
}

func (p *Post) doc() store.Document {
	liked := p.LikedBy
	if liked == nil {
		liked = []string{}
	}
	return store.Document{
		"id":          p.ID,
		"author_id":   p.AuthorID,
		"author_name": p.AuthorName,
		"content":     p.Content,
		"created_at":  p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"view_count":  p.ViewCount,
		"like_count":  p.LikeCount,
		"liked_by":    liked,
		"reply_count": p.ReplyCount,
	}
}

func postFromDoc(doc store.Document) *Post {
	p := &Post{
		ID:         store.Str(doc, "id"),
		AuthorID:   store.Str(doc, "author_id"),
		AuthorName: store.Str(doc, "author_name"),
		Content:    store.Str(doc, "content"),
		ViewCount:  store.Int64(doc, "view_count"),
		LikeCount:  store.Int64(doc, "like_count"),
		LikedBy:    store.StringSet(doc, "liked_by"),
		ReplyCount: store.Int64(doc, "reply_count"),
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, store.Str(doc, "created_at"))
	return p
}

func (r *Reply) doc() store.Document {
	d := store.Document{
		"id":          r.ID,
		"post_id":     r.PostID,
		"author_id":   r.AuthorID,
		"author_name": r.AuthorName,
		"content":     r.Content,
		"created_at":  r.CreatedAt.UTC().Format(time.RFC3339Nano),
		"reply_count": r.ReplyCount,
	}
	if r.ParentReplyID != nil {
		d["parent_reply_id"] = *r.ParentReplyID
	}
	return d
}

func replyFromDoc(doc store.Document) *Reply {
	r := &Reply{
		ID:         store.Str(doc, "id"),
		PostID:     store.Str(doc, "post_id"),
		AuthorID:   store.Str(doc, "author_id"),
		AuthorName: store.Str(doc, "author_name"),
		Content:    store.Str(doc, "content"),
		ReplyCount: store.Int64(doc, "reply_count"),
	}
	if parent := store.Str(doc, "parent_reply_id"); parent != "" {
		r.ParentReplyID = &parent
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, store.Str(doc, "created_at"))
	return r
}
