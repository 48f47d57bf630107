package domain

import "fmt"

// ValidateNode checks a node before it enters the store.
func ValidateNode(n Node) error {
	if n.ID == "" {
		return NewValidationError("id", "", ErrMissingID)
	}
	if !ValidNodeTypes[n.Type] {
		return NewValidationError("type", string(n.Type), ErrUnknownNodeType)
	}
	if err := ValidateMetadata(n.Metadata); err != nil {
		return err
	}
	for _, r := range n.Relationships {
		if err := ValidateRelationship(r); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMetadata checks the bounded metadata scores. Updates replace
// metadata wholesale, so patched metadata goes through the same gate as
// inserts.
func ValidateMetadata(m Metadata) error {
	if m.Confidence < 0 || m.Confidence > 1 {
		return NewValidationError("metadata.confidence",
			fmt.Sprintf("%g", m.Confidence), ErrScoreOutOfRange)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return NewValidationError("metadata.importance",
			fmt.Sprintf("%g", m.Importance), ErrScoreOutOfRange)
	}
	if m.Reliability < 0 || m.Reliability > 1 {
		return NewValidationError("metadata.reliability",
			fmt.Sprintf("%g", m.Reliability), ErrScoreOutOfRange)
	}
	return nil
}

// ValidateRelationship checks an edge's shape. Endpoint existence is the
// store's concern, not validation's.
func ValidateRelationship(r Relationship) error {
	if r.SourceID == "" {
		return NewValidationError("source_id", "", ErrMissingID)
	}
	if r.TargetID == "" {
		return NewValidationError("target_id", "", ErrMissingID)
	}
	if r.SourceID == r.TargetID {
		return NewValidationError("target_id", r.TargetID, ErrSelfRelationship)
	}
	if !ValidRelTypes[r.Type] {
		return NewValidationError("type", string(r.Type), ErrUnknownRelType)
	}
	if r.Strength < 0 || r.Strength > 1 {
		return NewValidationError("strength",
			fmt.Sprintf("%g", r.Strength), ErrScoreOutOfRange)
	}
	return nil
}
