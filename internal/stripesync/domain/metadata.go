package domain

import (
	"sort"
	"strings"
)

// Metadata keys stamped on Stripe objects so the engine can tell its own
// subscriptions and items apart from externally managed ones.
const (
	MetadataManagedKey       = "storage_manager_managed"
	MetadataAssignmentTagKey = "storage_manager_assignment"
	MetadataAssignmentIDsKey = "storage_assignment_ids"
	MetadataPriceSnapshotKey = "storage_price_snapshot"
	MetadataFlagValue        = "1"
)

// ManagedSubscription reports whether the subscription metadata carries the
// managed marker.
func ManagedSubscription(metadata map[string]string) bool {
	return metadata[MetadataManagedKey] == MetadataFlagValue
}

// TaggedItem reports whether the item metadata carries the assignment tag.
func TaggedItem(metadata map[string]string) bool {
	return metadata[MetadataAssignmentTagKey] == MetadataFlagValue
}

// ParseAssignmentIDs splits the stored id set, dropping blanks and duplicates.
// The result is sorted so metadata writes are deterministic.
func ParseAssignmentIDs(metadata map[string]string) []string {
	raw := metadata[MetadataAssignmentIDsKey]
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	seen := map[string]struct{}{}
	ids := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		ids = append(ids, part)
	}
	sort.Strings(ids)
	return ids
}

// JoinAssignmentIDs renders an id set back to its metadata form.
func JoinAssignmentIDs(ids []string) string {
	return strings.Join(ids, ",")
}

// MergeAssignmentID adds an id to the set, keeping it sorted and deduped.
func MergeAssignmentID(ids []string, id string) []string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ids
	}
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	merged := append(append([]string{}, ids...), id)
	sort.Strings(merged)
	return merged
}

// RemoveAssignmentID drops an id from the set.
func RemoveAssignmentID(ids []string, id string) []string {
	id = strings.TrimSpace(id)
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing == id {
			continue
		}
		out = append(out, existing)
	}
	return out
}
