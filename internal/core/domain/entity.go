package domain

// EntityType names a kind of entity the client can read.
type EntityType string

const (
	// EntityProfile is a user profile.
	EntityProfile EntityType = "profile"
	// EntityPost is a post authored by a profile.
	EntityPost EntityType = "post"
	// EntityItem is an item collected by a profile.
	EntityItem EntityType = "item"
)

// Remote collection names.
const (
	CollectionProfiles = "profiles"
	CollectionPosts    = "posts"
	CollectionItems    = "items"
	CollectionFollows  = "follows"
	CollectionLikes    = "likes"
	CollectionComments = "comments"
	CollectionMarks    = "counter_marks"
	CollectionReports  = "reconciliation_reports"
)

// Collection returns the remote collection that stores entities of type t.
func (t EntityType) Collection() (string, bool) {
	switch t {
	case EntityProfile:
		return CollectionProfiles, true
	case EntityPost:
		return CollectionPosts, true
	case EntityItem:
		return CollectionItems, true
	default:
		return "", false
	}
}

// Entity is implemented by every readable entity.
type Entity interface {
	EntityID() string
	EntityType() EntityType
}

// Profile is a user profile. Its counts are denormalized caches of the follows collection.
type Profile struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName,omitzero"`
	FollowerCount  int64  `json:"followerCount"`
	FollowingCount int64  `json:"followingCount"`
	CreatedAt      int64  `json:"createdAt,omitzero"`
}

// EntityID implements Entity.
func (p *Profile) EntityID() string { return p.ID }

// EntityType implements Entity.
func (p *Profile) EntityType() EntityType { return EntityProfile }

// Post is a feed item. CreatedAt is in unix milliseconds and orders the feed.
type Post struct {
	ID           string `json:"id"`
	AuthorID     string `json:"authorId"`
	Caption      string `json:"caption,omitzero"`
	CreatedAt    int64  `json:"createdAt"`
	LikeCount    int64  `json:"likeCount"`
	CommentCount int64  `json:"commentCount"`
	Hidden       bool   `json:"hidden,omitzero"`
}

// EntityID implements Entity.
func (p *Post) EntityID() string { return p.ID }

// EntityType implements Entity.
func (p *Post) EntityType() EntityType { return EntityPost }

// Item is something a user collected. Items are persisted locally before they reach the remote store.
type Item struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Name        string `json:"name,omitzero"`
	CollectedAt int64  `json:"collectedAt"`
}

// EntityID implements Entity.
func (i *Item) EntityID() string { return i.ID }

// EntityType implements Entity.
func (i *Item) EntityType() EntityType { return EntityItem }
