package model

import (
	"fmt"

	"github.com/google/uuid"
)

// TargetType tags the audience variant of a broadcast.
type TargetType string

const (
	TargetAll      TargetType = "ALL"
	TargetRole     TargetType = "ROLE"
	TargetProduct  TargetType = "PRODUCT"
	TargetSelected TargetType = "SELECTED"
)

// TargetSpec describes the audience of a broadcast. Exactly one variant is
// meaningful per Type; the remaining fields stay zero.
type TargetSpec struct {
	Type    TargetType  `json:"type"`
	Role    string      `json:"role,omitempty"`
	Product string      `json:"product,omitempty"`
	UserIDs []uuid.UUID `json:"userIds,omitempty"`
}

// FanOutOnWrite reports whether the audience must be precomputed into
// per-user delivery rows before activation. PRODUCT audiences can be
// arbitrarily large, so they never resolve on the hot path.
func (t TargetSpec) FanOutOnWrite() bool {
	return t.Type == TargetProduct
}

// Validate checks internal consistency of the variant.
func (t TargetSpec) Validate() error {
	switch t.Type {
	case TargetAll:
		return nil
	case TargetRole:
		if t.Role == "" {
			return fmt.Errorf("target ROLE requires a role")
		}
	case TargetProduct:
		if t.Product == "" {
			return fmt.Errorf("target PRODUCT requires a product")
		}
	case TargetSelected:
		if len(t.UserIDs) == 0 {
			return fmt.Errorf("target SELECTED requires at least one user id")
		}
	default:
		return fmt.Errorf("unknown target type %q", t.Type)
	}
	return nil
}

// DedupedUserIDs returns the SELECTED list with duplicates removed,
// preserving first-seen order.
func (t TargetSpec) DedupedUserIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(t.UserIDs))
	out := make([]uuid.UUID, 0, len(t.UserIDs))
	for _, id := range t.UserIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
