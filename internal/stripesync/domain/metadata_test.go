package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAssignmentIDs(t *testing.T) {
	metadata := map[string]string{
		MetadataAssignmentIDsKey: "3, 1,,1,2 ",
	}
	assert.Equal(t, []string{"1", "2", "3"}, ParseAssignmentIDs(metadata))

	assert.Nil(t, ParseAssignmentIDs(nil))
	assert.Nil(t, ParseAssignmentIDs(map[string]string{MetadataAssignmentIDsKey: "  "}))
}

func TestMergeAssignmentID(t *testing.T) {
	assert.Equal(t, []string{"1", "2"}, MergeAssignmentID([]string{"2"}, "1"))
	assert.Equal(t, []string{"1"}, MergeAssignmentID([]string{"1"}, "1"))
	assert.Equal(t, []string{"1"}, MergeAssignmentID(nil, "1"))
	assert.Equal(t, []string{"1"}, MergeAssignmentID([]string{"1"}, " "))
}

func TestRemoveAssignmentID(t *testing.T) {
	assert.Equal(t, []string{"2"}, RemoveAssignmentID([]string{"1", "2"}, "1"))
	assert.Empty(t, RemoveAssignmentID([]string{"1"}, "1"))
	assert.Equal(t, []string{"1"}, RemoveAssignmentID([]string{"1"}, "9"))
}

func TestManagedAndTaggedMarkers(t *testing.T) {
	assert.True(t, ManagedSubscription(map[string]string{MetadataManagedKey: MetadataFlagValue}))
	assert.False(t, ManagedSubscription(map[string]string{MetadataManagedKey: "0"}))
	assert.False(t, ManagedSubscription(nil))

	assert.True(t, TaggedItem(map[string]string{MetadataAssignmentTagKey: MetadataFlagValue}))
	assert.False(t, TaggedItem(nil))
}

func TestJoinAssignmentIDsRoundTrip(t *testing.T) {
	ids := []string{"10", "11"}
	parsed := ParseAssignmentIDs(map[string]string{MetadataAssignmentIDsKey: JoinAssignmentIDs(ids)})
	assert.Equal(t, ids, parsed)
}
