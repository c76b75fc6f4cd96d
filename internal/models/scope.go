package models

import "time"

// SharedTopic is the topic name that marks an item as visible across projects.
const SharedTopic = "shared"

// TargetType says what a topic tag or project member points at.
type TargetType string

const (
	TargetNode     TargetType = "node"
	TargetDocument TargetType = "document"
)

// Collection is a named project holding node and document members.
type Collection struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Topic is a named tag.
type Topic struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Target identifies a node or document.
type Target struct {
	Type TargetType `json:"type" validate:"required,oneof=node document"`
	ID   string     `json:"id" validate:"required"`
}

// TopicTag attaches a topic to a target with a weight.
type TopicTag struct {
	Topic  string  `json:"topic"`
	Target Target  `json:"target"`
	Weight float64 `json:"weight"`
}

// ScopeFilter restricts search results to a project and/or a topic set.
type ScopeFilter struct {
	Project       string   `json:"project,omitempty"`
	Topics        []string `json:"topics,omitempty"`
	ExcludeTopics []string `json:"exclude_topics,omitempty"`
	IncludeShared bool     `json:"include_shared,omitempty"`
}

// IsZero reports whether the filter places no constraint.
func (f *ScopeFilter) IsZero() bool {
	return f == nil || (f.Project == "" && len(f.Topics) == 0 && len(f.ExcludeTopics) == 0)
}
