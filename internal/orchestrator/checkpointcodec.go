package orchestrator

import (
	"encoding/json"

	"longagent/internal/barrier"
)

// marshalTaskProgress and unmarshalTaskProgress convert between the
// orchestrator's live map[string]*barrier.Progress and the
// json.RawMessage shape checkpoint.Record carries (spec.md §4.3: the
// checkpoint store treats TaskProgress as an opaque payload it never
// interprets).
func marshalTaskProgress(tp map[string]*barrier.Progress) (json.RawMessage, error) {
	if len(tp) == 0 {
		return nil, nil
	}
	return json.Marshal(tp)
}

func unmarshalTaskProgress(raw json.RawMessage, out *map[string]*barrier.Progress) error {
	if len(raw) == 0 {
		*out = map[string]*barrier.Progress{}
		return nil
	}
	return json.Unmarshal(raw, out)
}
