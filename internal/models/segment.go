package models

import (
	"time"
)

// SegmentType distinguishes re-evaluated segments from pinned ones.
type SegmentType string

const (
	SegmentDynamic SegmentType = "DYNAMIC"
	SegmentStatic  SegmentType = "STATIC"
)

// Segment is a named, reusable criteria tree with a cached size.
type Segment struct {
	ID              string       `json:"id" bson:"_id"`
	Name            string       `json:"name" bson:"name"`
	Description     string       `json:"description,omitempty" bson:"description,omitempty"`
	Type            SegmentType  `json:"type" bson:"type"`
	Criteria        CriteriaTree `json:"criteria" bson:"criteria"`
	ContactCount    int64        `json:"contactCount" bson:"contactCount"`
	LastEvaluatedAt *time.Time   `json:"lastEvaluatedAt,omitempty" bson:"lastEvaluatedAt,omitempty"`
	CreatedAt       time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt" bson:"updatedAt"`
}

// StaticTag is the synthetic tag that pins contacts to a static segment.
func (s *Segment) StaticTag() string {
	return "segment:" + s.ID
}

// CriteriaTree is the persisted, user-authored boolean expression. It is only
// interpreted by the criteria compiler.
type CriteriaTree struct {
	Operator string         `json:"operator,omitempty" bson:"operator,omitempty"`
	Rules    []CriteriaRule `json:"rules,omitempty" bson:"rules,omitempty"`
	Groups   []CriteriaTree `json:"groups,omitempty" bson:"groups,omitempty"`
}

// CriteriaRule compares a single contact field against a value.
type CriteriaRule struct {
	Field string `json:"field" bson:"field"`
	Op    string `json:"op" bson:"op"`
	Value any    `json:"value,omitempty" bson:"value,omitempty"`
}

// IsEmpty reports whether the tree has no rules and no groups.
func (t *CriteriaTree) IsEmpty() bool {
	return t == nil || (len(t.Rules) == 0 && len(t.Groups) == 0)
}

// SegmentInsights is the pre-send sizing breakdown of a criteria tree,
// restricted to active, opted-in contacts.
type SegmentInsights struct {
	Total         int64    `json:"total"`
	ByCity        []Bucket `json:"byCity"`
	ByAccountType []Bucket `json:"byAccountType"`
	ByAgeBracket  []Bucket `json:"byAgeBracket"`
	ByGender      []Bucket `json:"byGender"`
}

// Bucket is one value of a distribution.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// UnknownBucket collects contacts without a value for the attribute.
const UnknownBucket = "unknown"

// AgeBrackets are the lower bounds used to bucket ages; the label of bracket
// i covers [AgeBrackets[i], AgeBrackets[i+1]).
var AgeBrackets = []int{0, 18, 25, 35, 45, 55, 200}

// AgeBracketLabel returns the bracket label for an age.
func AgeBracketLabel(age int) string {
	if age <= 0 {
		return UnknownBucket
	}
	for i := len(AgeBrackets) - 2; i >= 0; i-- {
		if age >= AgeBrackets[i] {
			return BracketLabelFor(AgeBrackets[i])
		}
	}
	return UnknownBucket
}

// BracketLabelFor returns the label of the bracket starting at lower.
func BracketLabelFor(lower int) string {
	switch lower {
	case 0:
		return "<18"
	case 18:
		return "18-24"
	case 25:
		return "25-34"
	case 35:
		return "35-44"
	case 45:
		return "45-54"
	case 55:
		return "55+"
	}
	return UnknownBucket
}
