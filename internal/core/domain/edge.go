package domain

// Field names used by edge documents.
const (
	FieldSourceID  = "sourceId"
	FieldTargetID  = "targetId"
	FieldCreatedAt = "createdAt"
	FieldAuthorID  = "authorId"
	FieldOwnerID   = "ownerId"
	FieldCollected = "collectedAt"
)

// Edge is a directed relationship between two entities. Edges are the source of truth
// for every denormalized counter.
type Edge struct {
	ID        string `json:"id"`
	SourceID  string `json:"sourceId"`
	TargetID  string `json:"targetId"`
	CreatedAt int64  `json:"createdAt"`
}

// Comment is a repeatable edge from a profile to a post, identified by a generated ID.
type Comment struct {
	Edge
	Body string `json:"body"`
}

// EdgeID returns the deterministic document ID of an idempotent relationship.
func EdgeID(sourceID, targetID string) string {
	return sourceID + "_" + targetID
}

// EdgeOp is the kind of change an edge event reports.
type EdgeOp string

const (
	// EdgeCreated reports that an edge document appeared.
	EdgeCreated EdgeOp = "created"
	// EdgeDeleted reports that an edge document disappeared.
	EdgeDeleted EdgeOp = "deleted"
)

// EdgeEvent is one edge creation or deletion as delivered by an event source.
// Delivery is at-least-once; EventID identifies redeliveries of the same change.
type EdgeEvent struct {
	EventID    string
	Collection string
	EdgeID     string
	SourceID   string
	TargetID   string
	Op         EdgeOp
}

// CounterSpec declares which denormalized counters an edge collection drives.
// Either field may be empty when only one side keeps a count.
type CounterSpec struct {
	EdgeCollection   string
	SourceCollection string
	OutgoingField    string
	TargetCollection string
	IncomingField    string
}

// DefaultCounterSpecs returns the counters kept for the built-in edge collections.
func DefaultCounterSpecs() []CounterSpec {
	return []CounterSpec{
		{
			EdgeCollection:   CollectionFollows,
			SourceCollection: CollectionProfiles,
			OutgoingField:    "followingCount",
			TargetCollection: CollectionProfiles,
			IncomingField:    "followerCount",
		},
		{
			EdgeCollection:   CollectionLikes,
			TargetCollection: CollectionPosts,
			IncomingField:    "likeCount",
		},
		{
			EdgeCollection:   CollectionComments,
			TargetCollection: CollectionPosts,
			IncomingField:    "commentCount",
		},
	}
}

// CounterField is one denormalized counter on an entity collection together with
// the edge query that recomputes it.
type CounterField struct {
	EntityCollection string
	Field            string
	EdgeCollection   string
	// EdgeField is the edge field matched against the entity ID (sourceId or targetId).
	EdgeField string
}

// CounterFields flattens specs into the per-entity counters they define.
func CounterFields(specs []CounterSpec) []CounterField {
	var out []CounterField
	for _, s := range specs {
		if s.OutgoingField != "" {
			out = append(out, CounterField{
				EntityCollection: s.SourceCollection,
				Field:            s.OutgoingField,
				EdgeCollection:   s.EdgeCollection,
				EdgeField:        FieldSourceID,
			})
		}
		if s.IncomingField != "" {
			out = append(out, CounterField{
				EntityCollection: s.TargetCollection,
				Field:            s.IncomingField,
				EdgeCollection:   s.EdgeCollection,
				EdgeField:        FieldTargetID,
			})
		}
	}
	return out
}
