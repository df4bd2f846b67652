package store

import (
	"encoding/json"
	"fmt"
)

// schemaVersion is the current persisted-snapshot schema. Bumping it
// requires a migration step in migrations below.
const schemaVersion = 2

// migrations[v] upgrades a state map from version v to v+1. Each step is
// pure and tolerant: fields it does not understand pass through to the
// final typed decode, which drops them.
var migrations = map[int]func(map[string]any) map[string]any{
	1: migrateV1,
}

// migrateState applies migration steps sequentially from the stored
// version up to the current schema.
func migrateState(state json.RawMessage, from int) (json.RawMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(state, &m); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if m == nil {
		m = make(map[string]any)
	}

	for v := from; v < schemaVersion; v++ {
		step, ok := migrations[v]
		if !ok {
			return nil, fmt.Errorf("no migration from version %d", v)
		}
		m = step(m)
	}
	return json.Marshal(m)
}

// migrateV1 upgrades the original persisted shape: the session maps were
// named modelResponses/userResponses, and each session referenced its
// respondent through separate optional modelId/userId fields instead of
// the unified subjectId/subjectType pair.
func migrateV1(state map[string]any) map[string]any {
	if v, ok := state["modelResponses"]; ok {
		state["modelSessions"] = v
		delete(state, "modelResponses")
	}
	if v, ok := state["userResponses"]; ok {
		state["userSessions"] = v
		delete(state, "userResponses")
	}

	migrateV1Sessions(state["modelSessions"], "model")
	migrateV1Sessions(state["userSessions"], "user")

	if _, ok := state["selection"]; !ok {
		state["selection"] = map[string]any{
			"modelIds":   []any{},
			"sessionIds": []any{},
		}
	}
	return state
}

// migrateV1Sessions rewrites every session record inside a [[id, rec]]
// pair list in place. Records that already carry subjectId keep it.
func migrateV1Sessions(sessions any, fallbackType string) {
	pairs, ok := sessions.([]any)
	if !ok {
		return
	}
	for _, p := range pairs {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		rec, ok := pair[1].(map[string]any)
		if !ok {
			continue
		}

		if _, ok := rec["subjectId"]; !ok {
			if id, ok := rec["modelId"].(string); ok && id != "" {
				rec["subjectId"] = id
				rec["subjectType"] = "model"
			} else if id, ok := rec["userId"].(string); ok && id != "" {
				rec["subjectId"] = id
				rec["subjectType"] = "user"
			} else {
				rec["subjectId"] = nil
			}
		}
		if _, ok := rec["subjectType"]; !ok {
			rec["subjectType"] = fallbackType
		}
		delete(rec, "modelId")
		delete(rec, "userId")
	}
}
