package handler

import "encoding/json"

// union accumulates one fan-out aggregation's partial results, de-duplicated
// by primary key: tool name for tools/list, resource URI for resources/list,
// prompt name for prompts/list (spec.md §4.7).
type union struct {
	listKey string // the result object's array field: "tools"/"resources"/"prompts"
	primary string // the per-item field that identifies it: "name"/"uri"/"name"
	seen    map[string]bool
	ordered []json.RawMessage
}

func newUnion(method string) *union {
	switch method {
	case "resources/list":
		return &union{listKey: "resources", primary: "uri", seen: make(map[string]bool)}
	case "prompts/list":
		return &union{listKey: "prompts", primary: "name", seen: make(map[string]bool)}
	default: // tools/list
		return &union{listKey: "tools", primary: "name", seen: make(map[string]bool)}
	}
}

// add unions in one backend's result payload (the "result" object of its
// JSON-RPC response), skipping any item whose primary key was already seen.
func (u *union) add(result json.RawMessage) error {
	if len(result) == 0 {
		return nil
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(result, &payload); err != nil {
		return err
	}
	rawList, ok := payload[u.listKey]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawList, &items); err != nil {
		return err
	}
	for _, item := range items {
		id, err := u.primaryKey(item)
		if err != nil || id == "" {
			// An item with no usable primary key still gets included —
			// only exact duplicates are dropped, not malformed entries.
			u.ordered = append(u.ordered, item)
			continue
		}
		if u.seen[id] {
			continue
		}
		u.seen[id] = true
		u.ordered = append(u.ordered, item)
	}
	return nil
}

func (u *union) primaryKey(item json.RawMessage) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(item, &fields); err != nil {
		return "", err
	}
	v, _ := fields[u.primary].(string)
	return v, nil
}

// marshal renders the merged union back into a result object shaped like
// the one each individual backend returns: {"<listKey>": [...]}.
func (u *union) marshal() (json.RawMessage, error) {
	items := u.ordered
	if items == nil {
		items = []json.RawMessage{}
	}
	return json.Marshal(map[string][]json.RawMessage{u.listKey: items})
}
