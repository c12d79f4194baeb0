package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterModifiedPayload(t *testing.T) {
	filtered, offending := FilterModifiedPayload(TypeTaskCreate, map[string]interface{}{
		"title":    "review incident",
		"priority": "high",
	})
	assert.Empty(t, offending)
	assert.Equal(t, "review incident", filtered["title"])

	_, offending = FilterModifiedPayload(TypeTaskCreate, map[string]interface{}{
		"title":  "ok",
		"secret": "nope",
	})
	assert.Equal(t, "secret", offending)

	// unknown action types allow nothing
	_, offending = FilterModifiedPayload("UNKNOWN", map[string]interface{}{"title": "x"})
	assert.Equal(t, "title", offending)
}

func TestOverlayPayload(t *testing.T) {
	snapshot := map[string]interface{}{"title": "original", "owner": "alice"}
	effective := OverlayPayload(snapshot, map[string]interface{}{
		"title": "changed",
		"owner": "mallory", // not in the overlay allowlist
	})
	assert.Equal(t, "changed", effective["title"])
	assert.Equal(t, "alice", effective["owner"])

	// snapshot itself must not be mutated
	assert.Equal(t, "original", snapshot["title"])
}

func TestMissingInputs(t *testing.T) {
	missing := MissingInputs(TypeMeetingSchedule, map[string]interface{}{
		"title":        "",
		"participants": []string{"a@example.com"},
	})
	assert.Equal(t, []string{"title"}, missing, "empty values count as missing")

	assert.Nil(t, MissingInputs(TypeTaskCreate, map[string]interface{}{"title": "ok"}))
	assert.Nil(t, MissingInputs("UNKNOWN_TYPE", nil))
}
