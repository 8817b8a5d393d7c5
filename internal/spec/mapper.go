package spec

// MapInputToBackend renames UI keys to backend keys group by group.
//
// Every caller-supplied key is copied through verbatim first, then the renames
// declared in ui_schema overwrite their backend keys. Callers that already send
// backend-shaped keys therefore keep them, and forward-compatible fields are
// not dropped here. Groups the template does not know pass through unchanged;
// PayloadBuilder filters them. No validation happens at this stage.
//
// The input is never mutated. Group maps are fresh; leaf values are shared.
func (ix *Index) MapInputToBackend(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for group, value := range input {
		fields, ok := value.(map[string]any)
		if !ok {
			out[group] = value
			continue
		}

		mapped := make(map[string]any, len(fields))
		for k, v := range fields {
			mapped[k] = v
		}
		for _, m := range ix.fields[group] {
			if v, ok := fields[m.UIKey]; ok {
				mapped[m.BackendKey] = v
			}
		}
		out[group] = mapped
	}
	return out
}
