package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/engine/mutator"
	"go.trai.ch/zerr"
)

// edgeOf returns the edge a toggle mutation sets or clears.
func edgeOf(mut domain.Mutation) (collection, sourceID, targetID string, ok bool) {
	switch v := mut.(type) {
	case domain.Like:
		return domain.CollectionLikes, v.UserID, v.PostID, true
	case domain.Unlike:
		return domain.CollectionLikes, v.UserID, v.PostID, true
	case domain.Follow:
		return domain.CollectionFollows, v.FollowerID, v.FolloweeID, true
	case domain.Unfollow:
		return domain.CollectionFollows, v.FollowerID, v.FolloweeID, true
	default:
		return "", "", "", false
	}
}

// Mutate applies mut optimistically. It returns once the local change is visible and the
// pending record is durable; done, which may be nil, receives the remote outcome. A toggle
// that matches the current state is completed at once without a write.
func (c *Client) Mutate(ctx context.Context, mut domain.Mutation, done func(error)) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if mut == nil {
		return zerr.With(domain.ErrValidation, "field", "mutation")
	}
	if err := mut.Validate(); err != nil {
		return err
	}
	if done == nil {
		done = func(error) {}
	}

	if collection, source, target, ok := edgeOf(mut); ok {
		on, err := c.HasEdge(ctx, collection, source, target)
		if err != nil {
			return err
		}
		if on == (mut.Toggle() == domain.ToggleOn) {
			done(nil)
			return nil
		}
	}

	payload, err := domain.EncodeMutation(mut)
	if err != nil {
		return err
	}
	localID := uuid.NewString()
	rec := domain.PendingMutation{
		LocalID:   localID,
		Kind:      mut.Kind(),
		Key:       mut.Key(),
		Payload:   payload,
		CreatedAt: c.now(),
	}

	return c.mutations.Apply(ctx, mutator.Request{
		Key:    mut.Key(),
		Toggle: mut.Toggle(),
		Record: rec,
		Change: c.local.Change(ctx, localID, mut),
		Send: func(ctx context.Context) error {
			return c.write(ctx, mut, rec.CreatedAt.UnixMilli())
		},
		OnSuccess: func() {
			c.local.Settle(localID, mut)
			c.invalidateAfter(mut)
		},
		Done: done,
	})
}

// HasEdge reports whether sourceID has an edge to targetID, preferring the optimistic state
// of pending mutations over the remote one.
func (c *Client) HasEdge(ctx context.Context, collection, sourceID, targetID string) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	edgeID := domain.EdgeID(sourceID, targetID)
	if on, ok := c.local.Edge(collection, edgeID); ok {
		return on, nil
	}
	_, err := c.fetch(ctx, collection, edgeID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// write performs the remote write of mut. Every write is idempotent: edges and items have
// deterministic IDs and comments carry a caller generated ID.
func (c *Client) write(ctx context.Context, mut domain.Mutation, now int64) error {
	put := func(collection, id string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return zerr.Wrap(err, domain.ErrMarshalFailed.Error())
		}
		return c.remote.Write(ctx, collection, id, data, false)
	}
	edge := func(source, target string) domain.Edge {
		return domain.Edge{ID: domain.EdgeID(source, target), SourceID: source, TargetID: target, CreatedAt: now}
	}

	switch v := mut.(type) {
	case domain.Like:
		e := edge(v.UserID, v.PostID)
		return put(domain.CollectionLikes, e.ID, e)
	case domain.Unlike:
		return c.remote.Delete(ctx, domain.CollectionLikes, domain.EdgeID(v.UserID, v.PostID))
	case domain.Follow:
		e := edge(v.FollowerID, v.FolloweeID)
		return put(domain.CollectionFollows, e.ID, e)
	case domain.Unfollow:
		return c.remote.Delete(ctx, domain.CollectionFollows, domain.EdgeID(v.FollowerID, v.FolloweeID))
	case domain.Collect:
		return put(domain.CollectionItems, v.Item.ID, v.Item)
	case domain.Uncollect:
		return c.remote.Delete(ctx, domain.CollectionItems, v.ItemID)
	case domain.AddComment:
		createdAt := v.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		comment := domain.Comment{
			Edge: domain.Edge{ID: v.ID, SourceID: v.AuthorID, TargetID: v.PostID, CreatedAt: createdAt},
			Body: v.Body,
		}
		return put(domain.CollectionComments, v.ID, comment)
	default:
		return zerr.With(domain.ErrUnknownMutationKind, "kind", string(mut.Kind()))
	}
}

// invalidateAfter drops the cache entries a confirmed mutation made stale.
func (c *Client) invalidateAfter(mut domain.Mutation) {
	switch v := mut.(type) {
	case domain.Like:
		c.docs.Invalidate(docKey(domain.CollectionLikes, domain.EdgeID(v.UserID, v.PostID)))
		c.docs.Invalidate(docKey(domain.CollectionPosts, v.PostID))
	case domain.Unlike:
		c.docs.Invalidate(docKey(domain.CollectionLikes, domain.EdgeID(v.UserID, v.PostID)))
		c.docs.Invalidate(docKey(domain.CollectionPosts, v.PostID))
	case domain.Follow:
		c.invalidateFollow(v.FollowerID, v.FolloweeID)
	case domain.Unfollow:
		c.invalidateFollow(v.FollowerID, v.FolloweeID)
	case domain.Collect:
		c.docs.Invalidate(docKey(domain.CollectionItems, v.Item.ID))
	case domain.Uncollect:
		c.docs.Invalidate(docKey(domain.CollectionItems, v.ItemID))
	case domain.AddComment:
		c.docs.Invalidate(docKey(domain.CollectionPosts, v.PostID))
	}
}

func (c *Client) invalidateFollow(follower, followee string) {
	c.docs.Invalidate(docKey(domain.CollectionFollows, domain.EdgeID(follower, followee)))
	c.docs.Invalidate(docKey(domain.CollectionProfiles, follower))
	c.docs.Invalidate(docKey(domain.CollectionProfiles, followee))
	c.lists.Invalidate(followingKey(follower))
}

// NewComment builds an AddComment with a fresh time-sortable ID.
func (c *Client) NewComment(authorID, postID, body string) domain.AddComment {
	now := c.now()
	return domain.AddComment{
		ID:        newCommentID(now),
		AuthorID:  authorID,
		PostID:    postID,
		Body:      body,
		CreatedAt: now.UnixMilli(),
	}
}

// ResumePending replays the pending records a previous process left behind.
func (c *Client) ResumePending(ctx context.Context) (mutator.ResumeResult, error) {
	if err := c.checkOpen(); err != nil {
		return mutator.ResumeResult{}, err
	}
	attempts := uint(max(c.cfg.Mutations.ResumeAttempts, 1))
	return c.mutations.Resume(ctx, func(ctx context.Context, rec domain.PendingMutation) error {
		mut, err := domain.DecodeMutation(rec.Kind, rec.Payload)
		if err != nil {
			return err
		}
		if err := c.write(ctx, mut, rec.CreatedAt.UnixMilli()); err != nil {
			return err
		}
		c.invalidateAfter(mut)
		return nil
	}, attempts)
}
