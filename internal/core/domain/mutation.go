package domain

import (
	"encoding/json"
	"errors"

	"go.trai.ch/zerr"
)

// MutationKind names a typed mutation.
type MutationKind string

// Mutation kinds.
const (
	KindLike      MutationKind = "like"
	KindUnlike    MutationKind = "unlike"
	KindFollow    MutationKind = "follow"
	KindUnfollow  MutationKind = "unfollow"
	KindCollect   MutationKind = "collect"
	KindUncollect MutationKind = "uncollect"
	KindComment   MutationKind = "comment"
)

// Toggle is the target state of a toggle mutation.
type Toggle uint8

const (
	// ToggleNone marks a mutation that is not part of an on/off pair.
	ToggleNone Toggle = iota
	// ToggleOn turns a relationship on (like, follow, collect).
	ToggleOn
	// ToggleOff turns a relationship off (unlike, unfollow, uncollect).
	ToggleOff
)

// Inverse reports whether t and o are opposite toggle states.
func (t Toggle) Inverse(o Toggle) bool {
	return (t == ToggleOn && o == ToggleOff) || (t == ToggleOff && o == ToggleOn)
}

// Mutation is a typed write request. Mutations carry data only; the remote write is derived
// from them so that a pending record can be replayed after a restart.
type Mutation interface {
	Kind() MutationKind
	// Key identifies the logical state the mutation changes. Mutations with equal keys are
	// serialized.
	Key() string
	Toggle() Toggle
	Validate() error
}

// Like records that UserID likes PostID.
type Like struct {
	UserID string `json:"userId"`
	PostID string `json:"postId"`
}

// Kind implements Mutation.
func (m Like) Kind() MutationKind { return KindLike }

// Key implements Mutation.
func (m Like) Key() string { return CollectionLikes + "/" + EdgeID(m.UserID, m.PostID) }

// Toggle implements Mutation.
func (m Like) Toggle() Toggle { return ToggleOn }

// Validate implements Mutation.
func (m Like) Validate() error { return validatePair("userId", m.UserID, "postId", m.PostID) }

// Unlike removes a like.
type Unlike struct {
	UserID string `json:"userId"`
	PostID string `json:"postId"`
}

// Kind implements Mutation.
func (m Unlike) Kind() MutationKind { return KindUnlike }

// Key implements Mutation.
func (m Unlike) Key() string { return CollectionLikes + "/" + EdgeID(m.UserID, m.PostID) }

// Toggle implements Mutation.
func (m Unlike) Toggle() Toggle { return ToggleOff }

// Validate implements Mutation.
func (m Unlike) Validate() error { return validatePair("userId", m.UserID, "postId", m.PostID) }

// Follow records that FollowerID follows FolloweeID.
type Follow struct {
	FollowerID string `json:"followerId"`
	FolloweeID string `json:"followeeId"`
}

// Kind implements Mutation.
func (m Follow) Kind() MutationKind { return KindFollow }

// Key implements Mutation.
func (m Follow) Key() string { return CollectionFollows + "/" + EdgeID(m.FollowerID, m.FolloweeID) }

// Toggle implements Mutation.
func (m Follow) Toggle() Toggle { return ToggleOn }

// Validate implements Mutation.
func (m Follow) Validate() error { return validateFollow(m.FollowerID, m.FolloweeID) }

// Unfollow removes a follow.
type Unfollow struct {
	FollowerID string `json:"followerId"`
	FolloweeID string `json:"followeeId"`
}

// Kind implements Mutation.
func (m Unfollow) Kind() MutationKind { return KindUnfollow }

// Key implements Mutation.
func (m Unfollow) Key() string { return CollectionFollows + "/" + EdgeID(m.FollowerID, m.FolloweeID) }

// Toggle implements Mutation.
func (m Unfollow) Toggle() Toggle { return ToggleOff }

// Validate implements Mutation.
func (m Unfollow) Validate() error { return validateFollow(m.FollowerID, m.FolloweeID) }

// Collect stores an item for its owner.
type Collect struct {
	Item Item `json:"item"`
}

// Kind implements Mutation.
func (m Collect) Kind() MutationKind { return KindCollect }

// Key implements Mutation.
func (m Collect) Key() string { return CollectionItems + "/" + m.Item.ID }

// Toggle implements Mutation.
func (m Collect) Toggle() Toggle { return ToggleOn }

// Validate implements Mutation.
func (m Collect) Validate() error {
	if m.Item.CollectedAt < 0 {
		return invalid("collectedAt", "must not be negative")
	}
	return validatePair("item.id", m.Item.ID, "item.ownerId", m.Item.OwnerID)
}

// Uncollect removes a collected item.
type Uncollect struct {
	UserID string `json:"userId"`
	ItemID string `json:"itemId"`
}

// Kind implements Mutation.
func (m Uncollect) Kind() MutationKind { return KindUncollect }

// Key implements Mutation.
func (m Uncollect) Key() string { return CollectionItems + "/" + m.ItemID }

// Toggle implements Mutation.
func (m Uncollect) Toggle() Toggle { return ToggleOff }

// Validate implements Mutation.
func (m Uncollect) Validate() error { return validatePair("userId", m.UserID, "itemId", m.ItemID) }

// MaxCommentLength bounds comment bodies.
const MaxCommentLength = 2000

// AddComment appends a comment to a post. ID is generated by the caller so that the write
// is idempotent when replayed.
type AddComment struct {
	ID        string `json:"id"`
	AuthorID  string `json:"authorId"`
	PostID    string `json:"postId"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"createdAt"`
}

// Kind implements Mutation.
func (m AddComment) Kind() MutationKind { return KindComment }

// Key implements Mutation.
func (m AddComment) Key() string { return CollectionComments + "/" + m.ID }

// Toggle implements Mutation.
func (m AddComment) Toggle() Toggle { return ToggleNone }

// Validate implements Mutation.
func (m AddComment) Validate() error {
	if err := ValidateID("id", m.ID); err != nil {
		return err
	}
	if err := validatePair("authorId", m.AuthorID, "postId", m.PostID); err != nil {
		return err
	}
	if m.Body == "" {
		return invalid("body", "must not be empty")
	}
	if len(m.Body) > MaxCommentLength {
		return invalid("body", "is too long")
	}
	return nil
}

func validatePair(aName, a, bName, b string) error {
	if err := ValidateID(aName, a); err != nil {
		return err
	}
	return ValidateID(bName, b)
}

func validateFollow(follower, followee string) error {
	if err := validatePair("followerId", follower, "followeeId", followee); err != nil {
		return err
	}
	if follower == followee {
		return invalid("followeeId", "must differ from followerId")
	}
	return nil
}

// EncodeMutation serializes m for a pending record.
func EncodeMutation(m Mutation) (json.RawMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, zerr.Wrap(err, ErrMarshalFailed.Error())
	}
	return data, nil
}

// DecodeMutation restores a mutation from a pending record.
func DecodeMutation(kind MutationKind, payload json.RawMessage) (Mutation, error) {
	var m Mutation
	switch kind {
	case KindLike:
		m = decodeInto[Like](payload)
	case KindUnlike:
		m = decodeInto[Unlike](payload)
	case KindFollow:
		m = decodeInto[Follow](payload)
	case KindUnfollow:
		m = decodeInto[Unfollow](payload)
	case KindCollect:
		m = decodeInto[Collect](payload)
	case KindUncollect:
		m = decodeInto[Uncollect](payload)
	case KindComment:
		m = decodeInto[AddComment](payload)
	default:
		return nil, zerr.With(ErrUnknownMutationKind, "kind", string(kind))
	}
	if m == nil {
		return nil, zerr.With(ErrUnmarshalFailed, "kind", string(kind))
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Join(ErrUnmarshalFailed, err)
	}
	return m, nil
}

func decodeInto[T Mutation](payload json.RawMessage) Mutation {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil
	}
	return v
}
