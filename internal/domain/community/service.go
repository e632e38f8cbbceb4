package community

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/carelink/portal/internal/platform/dispatch"
	"github.com/carelink/portal/internal/platform/store"
)

// ErrMalformedReply marks a reply whose parent id references a reply that
// does not exist or belongs to a different post.
var ErrMalformedReply = errors.New("malformed reply: parent does not resolve")

// Service owns post and reply lifecycles. All writes go through the mutation
// dispatcher; counter maintenance uses the store's atomic primitives only,
// never a read-modify-write on a counter field.
type Service struct {
	st store.Store
	d  *dispatch.Dispatcher
}

func NewService(st store.Store, d *dispatch.Dispatcher) *Service {
	return &Service{st: st, d: d}
}

func (s *Service) CreatePost(ctx context.Context, p *Post) error {
	if p.AuthorID == "" {
		return fmt.Errorf("author_id is required")
	}
	if p.Content == "" {
		return fmt.Errorf("content is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.LikedBy = []string{}
	key := s.d.CreateRecord(PostCollection, p.doc())
	p.ID = key.ID
	return nil
}

// GetPost reads a post and records the view fire-and-forget.
func (s *Service) GetPost(ctx context.Context, id string) (*Post, error) {
	doc, err := s.st.Get(ctx, store.Key{Collection: PostCollection, ID: id})
	if err != nil {
		return nil, err
	}
	s.d.Dispatch(dispatch.Request{
		Op:     dispatch.OpIncrement,
		Target: store.Key{Collection: PostCollection, ID: id},
		Field:  "view_count",
		Delta:  1,
	})
	return postFromDoc(doc), nil
}

func (s *Service) ListPosts(ctx context.Context, limit, offset int) ([]*Post, int, error) {
	docs, err := s.st.Query(ctx, PostCollection)
	if err != nil {
		return nil, 0, err
	}
	posts := make([]*Post, 0, len(docs))
	for _, doc := range docs {
		posts = append(posts, postFromDoc(doc))
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) })
	total := len(posts)
	if offset >= total {
		return []*Post{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return posts[offset:end], total, nil
}

func (s *Service) DeletePost(ctx context.Context, id string, actorID string) error {
	doc, err := s.st.Get(ctx, store.Key{Collection: PostCollection, ID: id})
	if err != nil {
		return err
	}
	if store.Str(doc, "author_id") != actorID {
		return fmt.Errorf("only the author may delete a post")
	}
	s.d.Dispatch(dispatch.Request{Op: dispatch.OpDelete, Target: store.Key{Collection: PostCollection, ID: id}})
	return nil
}

// CreateReply validates the reply against its post and parent, creates it
// through the dispatcher, and issues the counter increments: the post's
// reply_count grows for replies at every depth, the parent reply's
// reply_count only for its direct children.
func (s *Service) CreateReply(ctx context.Context, r *Reply) error {
	if r.AuthorID == "" {
		return fmt.Errorf("author_id is required")
	}
	if r.Content == "" {
		return fmt.Errorf("content is required")
	}
	if r.PostID == "" {
		return fmt.Errorf("post_id is required")
	}
	if _, err := s.st.Get(ctx, store.Key{Collection: PostCollection, ID: r.PostID}); err != nil {
		return fmt.Errorf("post %s: %w", r.PostID, err)
	}
	if r.ParentReplyID != nil {
		parentDoc, err := s.st.Get(ctx, store.Key{Collection: ReplyCollection, ID: *r.ParentReplyID})
		if err != nil {
			return fmt.Errorf("%w: parent %s", ErrMalformedReply, *r.ParentReplyID)
		}
		if store.Str(parentDoc, "post_id") != r.PostID {
			return fmt.Errorf("%w: parent %s belongs to another post", ErrMalformedReply, *r.ParentReplyID)
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	key := s.d.CreateRecord(ReplyCollection, r.doc())
	r.ID = key.ID

	s.d.Dispatch(dispatch.Request{
		Op:     dispatch.OpIncrement,
		Target: store.Key{Collection: PostCollection, ID: r.PostID},
		Field:  "reply_count",
		Delta:  1,
	})
	if r.ParentReplyID != nil {
		s.d.Dispatch(dispatch.Request{
			Op:     dispatch.OpIncrement,
			Target: store.Key{Collection: ReplyCollection, ID: *r.ParentReplyID},
			Field:  "reply_count",
			Delta:  1,
		})
	}
	return nil
}

// DeleteReply removes a single node. Children keep their parent_reply_id and
// surface as roots on the next tree build.
func (s *Service) DeleteReply(ctx context.Context, id string, actorID string) error {
	doc, err := s.st.Get(ctx, store.Key{Collection: ReplyCollection, ID: id})
	if err != nil {
		return err
	}
	if store.Str(doc, "author_id") != actorID {
		return fmt.Errorf("only the author may delete a reply")
	}
	s.d.Dispatch(dispatch.Request{Op: dispatch.OpDelete, Target: store.Key{Collection: ReplyCollection, ID: id}})
	s.d.Dispatch(dispatch.Request{
		Op:     dispatch.OpIncrement,
		Target: store.Key{Collection: PostCollection, ID: store.Str(doc, "post_id")},
		Field:  "reply_count",
		Delta:  -1,
	})
	if parent := store.Str(doc, "parent_reply_id"); parent != "" {
		s.d.Dispatch(dispatch.Request{
			Op:     dispatch.OpIncrement,
			Target: store.Key{Collection: ReplyCollection, ID: parent},
			Field:  "reply_count",
			Delta:  -1,
		})
	}
	return nil
}

// Thread loads all replies for a post sorted by creation time ascending and
// builds the nested tree. BuildTree requires pre-sorted input; the sort here
// is the caller-side contract, not part of the engine.
func (s *Service) Thread(ctx context.Context, postID string) ([]*ThreadNode, error) {
	docs, err := s.st.Query(ctx, ReplyCollection, store.Where{Field: "post_id", Op: store.OpEq, Value: postID})
	if err != nil {
		return nil, err
	}
	replies := make([]*Reply, 0, len(docs))
	for _, doc := range docs {
		replies = append(replies, replyFromDoc(doc))
	}
	sort.SliceStable(replies, func(i, j int) bool { return replies[i].CreatedAt.Before(replies[j].CreatedAt) })
	return BuildTree(replies), nil
}

// ToggleLike flips userID's membership in the post's liked_by set and adjusts
// the like_count cache by the matching delta. The membership read and the two
// writes are not one transaction; concurrent toggles by the same user can
// transiently skew the counter, which RecountLikes repairs.
func (s *Service) ToggleLike(ctx context.Context, postID, userID string) (liked bool, err error) {
	key := store.Key{Collection: PostCollection, ID: postID}
	doc, err := s.st.Get(ctx, key)
	if err != nil {
		return false, err
	}
	member := false
	for _, u := range store.StringSet(doc, "liked_by") {
		if u == userID {
			member = true
			break
		}
	}
	if member {
		s.d.Dispatch(dispatch.Request{Op: dispatch.OpSetRemove, Target: key, Field: "liked_by", Value: userID})
		s.d.Dispatch(dispatch.Request{Op: dispatch.OpIncrement, Target: key, Field: "like_count", Delta: -1})
		return false, nil
	}
	s.d.Dispatch(dispatch.Request{Op: dispatch.OpSetAdd, Target: key, Field: "liked_by", Value: userID})
	s.d.Dispatch(dispatch.Request{Op: dispatch.OpIncrement, Target: key, Field: "like_count", Delta: 1})
	return true, nil
}

// RecountLikes reconciles like_count with the liked_by set. The correction is
// applied as an atomic delta so the counter is never overwritten wholesale.
func (s *Service) RecountLikes(ctx context.Context, postID string) error {
	key := store.Key{Collection: PostCollection, ID: postID}
	doc, err := s.st.Get(ctx, key)
	if err != nil {
		return err
	}
	actual := int64(len(store.StringSet(doc, "liked_by")))
	cached := store.Int64(doc, "like_count")
	if actual == cached {
		return nil
	}
	return s.st.AtomicIncrement(ctx, key, "like_count", actual-cached)
}
