package action

// modifiableKeys lists, per action type, the payload keys a MODIFIED
// decision may override. Keys outside the list are rejected at decision
// time so a reviewer cannot smuggle arbitrary fields into an execution.
var modifiableKeys = map[string][]string{
	TypeTaskCreate:      {"title", "description", "due_date", "priority", "assignee_id"},
	TypePlaybookAssign:  {"title", "summary", "assignee_id", "priority"},
	TypeMeetingSchedule: {"title", "summary", "participants", "due_date"},
	TypePlaybookStep:    {"title", "description", "due_date", "priority", "assignee_id", "summary"},
}

// overlayKeys is the fixed cross-action-type allowlist applied when a
// modified payload is overlaid onto the frozen proposal snapshot at
// execution time.
var overlayKeys = []string{"title", "description", "due_date", "priority", "assignee_id", "summary", "participants"}

// requiredKeys lists, per action type, the payload keys an executor cannot
// act without. Dry-run plans report absent keys so a reviewer sees the gap
// before approving.
var requiredKeys = map[string][]string{
	TypeTaskCreate:      {"title"},
	TypePlaybookAssign:  {"title", "assignee_id"},
	TypeMeetingSchedule: {"title", "participants"},
}

// MissingInputs returns the required keys absent or empty in payload, in
// declaration order. Unknown action types require nothing.
func MissingInputs(actionType string, payload map[string]interface{}) []string {
	var missing []string
	for _, key := range requiredKeys[actionType] {
		value, ok := payload[key]
		if !ok || value == nil || value == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// ModifiableKeys returns the modification allowlist for an action type.
// Unknown action types get an empty allowlist (every override is rejected).
func ModifiableKeys(actionType string) []string {
	return modifiableKeys[actionType]
}

// FilterModifiedPayload restricts payload to the action type's allowlist.
// The first disallowed key is returned so validation errors can name it.
func FilterModifiedPayload(actionType string, payload map[string]interface{}) (map[string]interface{}, string) {
	if len(payload) == 0 {
		return nil, ""
	}
	allowed := make(map[string]bool)
	for _, key := range ModifiableKeys(actionType) {
		allowed[key] = true
	}
	filtered := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		if !allowed[key] {
			return nil, key
		}
		filtered[key] = value
	}
	return filtered, ""
}

// OverlayPayload applies the modified payload on top of the frozen snapshot
// payload, restricted to the cross-action-type overlay allowlist.
func OverlayPayload(snapshot, modified map[string]interface{}) map[string]interface{} {
	effective := ClonePayload(snapshot)
	if effective == nil {
		effective = map[string]interface{}{}
	}
	if len(modified) == 0 {
		return effective
	}
	allowed := make(map[string]bool, len(overlayKeys))
	for _, key := range overlayKeys {
		allowed[key] = true
	}
	for key, value := range modified {
		if allowed[key] {
			effective[key] = value
		}
	}
	return effective
}
