package app

import (
	"context"
	"slices"

	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/zerr"
)

func followingKey(userID string) string {
	return domain.CollectionFollows + "/from/" + userID
}

// Following returns the IDs userID follows, sorted. The remote list is cached; pending
// follow and unfollow mutations are applied on top.
func (c *Client) Following(ctx context.Context, userID string) ([]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := domain.ValidateID("userId", userID); err != nil {
		return nil, err
	}

	remote, err := c.lists.FetchOrJoin(ctx, followingKey(userID), func(ctx context.Context) ([]string, error) {
		return c.followees(ctx, userID)
	})
	if err != nil {
		return nil, zerr.With(err, "user_id", userID)
	}

	overlay := c.local.EdgesFrom(domain.CollectionFollows, userID)
	if len(overlay) == 0 {
		return slices.Clone(remote), nil
	}
	out := make([]string, 0, len(remote)+len(overlay))
	for _, id := range remote {
		if on, ok := overlay[id]; !ok || on {
			out = append(out, id)
		}
	}
	for id, on := range overlay {
		if on && !slices.Contains(remote, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// followees pages through the follows edges leaving userID.
func (c *Client) followees(ctx context.Context, userID string) ([]string, error) {
	pageSize := max(c.cfg.Reconcile.PageSize, 1)
	var (
		out   []string
		after *domain.Cursor
	)
	for {
		docs, err := c.remote.Query(ctx, domain.Query{
			Collection: domain.CollectionFollows,
			Field:      domain.FieldSourceID,
			In:         []string{userID},
			OrderBy:    domain.FieldCreatedAt,
			Limit:      pageSize,
			After:      after,
		})
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			var e domain.Edge
			if err := d.Decode(&e); err != nil {
				return nil, zerr.Wrap(err, domain.ErrUnmarshalFailed.Error())
			}
			out = append(out, e.TargetID)
			after = &domain.Cursor{Timestamp: e.CreatedAt, ID: d.ID}
		}
		if len(docs) < pageSize {
			break
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// FeedPage returns a page of posts by actorIDs, newest first. An empty next cursor means
// the feed is exhausted.
func (c *Client) FeedPage(ctx context.Context, actorIDs []string, cursor string, limit int) ([]domain.Post, string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, "", err
	}
	if limit == 0 {
		limit = c.cfg.Feed.DefaultLimit
	}
	posts, next, err := c.feed.Page(ctx, actorIDs, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	for i := range posts {
		p := &posts[i]
		p.LikeCount = c.local.OverlayCount(domain.CollectionPosts, p.ID, "likeCount", p.LikeCount)
		p.CommentCount = c.local.OverlayCount(domain.CollectionPosts, p.ID, "commentCount", p.CommentCount)
	}
	return posts, next, nil
}

// HomeFeed returns a page of the posts by userID and everyone userID follows.
func (c *Client) HomeFeed(ctx context.Context, userID, cursor string, limit int) ([]domain.Post, string, error) {
	following, err := c.Following(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	return c.FeedPage(ctx, append([]string{userID}, following...), cursor, limit)
}
