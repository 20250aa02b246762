package dsl

import (
	"fmt"

	yaml "go.yaml.in/yaml/v2"
)

// rawDocument mirrors the on-disk YAML shape before the content union and
// per-day "inline slots vs template reference" ambiguity is resolved.
type rawDocument struct {
	Channel      string                 `yaml:"channel"`
	BroadcastDay string                 `yaml:"broadcast_day"`
	Timezone     string                 `yaml:"timezone"`
	Templates    map[string][]interface{} `yaml:"templates"`
	Pools        map[string][]string    `yaml:"pools"`
	Schedule     map[string]interface{} `yaml:"schedule"`
}

// ParseDSL parses a programming DSL YAML document.
func ParseDSL(text []byte) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(text, &raw); err != nil {
		return nil, &CompileError{Reason: fmt.Sprintf("yaml parse: %v", err)}
	}
	if raw.Channel == "" {
		return nil, &CompileError{Reason: "missing required field: channel"}
	}
	if raw.Timezone == "" {
		return nil, &CompileError{Reason: "missing required field: timezone"}
	}

	doc := &Document{
		Channel:      raw.Channel,
		BroadcastDay: raw.BroadcastDay,
		Timezone:     raw.Timezone,
		Pools:        raw.Pools,
		Templates:    make(map[string][]Slot, len(raw.Templates)),
		Schedule:     make(map[string]DaySchedule, len(raw.Schedule)),
	}

	for name, rawSlots := range raw.Templates {
		slots, err := decodeSlotList(rawSlots)
		if err != nil {
			return nil, &CompileError{Reason: fmt.Sprintf("template %q: %v", name, err)}
		}
		doc.Templates[name] = slots
	}

	for day, v := range raw.Schedule {
		ds, err := decodeDaySchedule(v)
		if err != nil {
			return nil, &CompileError{Reason: fmt.Sprintf("schedule day %q: %v", day, err)}
		}
		doc.Schedule[day] = ds
	}

	return doc, nil
}

func decodeDaySchedule(v interface{}) (DaySchedule, error) {
	switch t := v.(type) {
	case []interface{}:
		slots, err := decodeSlotList(t)
		if err != nil {
			return DaySchedule{}, err
		}
		return DaySchedule{Slots: slots}, nil
	case map[interface{}]interface{}:
		use, ok := t["use"].(string)
		if !ok || use == "" {
			return DaySchedule{}, fmt.Errorf("expected a slot list or {use: <template>}")
		}
		return DaySchedule{TemplateName: use}, nil
	case map[string]interface{}:
		use, ok := t["use"].(string)
		if !ok || use == "" {
			return DaySchedule{}, fmt.Errorf("expected a slot list or {use: <template>}")
		}
		return DaySchedule{TemplateName: use}, nil
	default:
		return DaySchedule{}, fmt.Errorf("unrecognized schedule day shape %T", v)
	}
}

func decodeSlotList(raw []interface{}) ([]Slot, error) {
	slots := make([]Slot, 0, len(raw))
	for i, item := range raw {
		s, err := decodeSlot(item)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		slots = append(slots, s)
	}
	return slots, nil
}

func decodeSlot(v interface{}) (Slot, error) {
	m, err := asStringMap(v)
	if err != nil {
		return Slot{}, fmt.Errorf("slot is not a mapping: %w", err)
	}
	start, _ := m["start"].(string)
	if start == "" {
		return Slot{}, fmt.Errorf("missing required field: start")
	}
	slotMinutes, ok := asInt(m["slot_minutes"])
	if !ok || slotMinutes <= 0 {
		return Slot{}, fmt.Errorf("missing or invalid required field: slot_minutes")
	}
	content, err := decodeContent(m["content"])
	if err != nil {
		return Slot{}, fmt.Errorf("content: %w", err)
	}
	return Slot{Start: start, SlotMinutes: slotMinutes, Content: content}, nil
}

func decodeContent(v interface{}) (SlotContent, error) {
	if v == nil {
		return SlotContent{}, fmt.Errorf("missing required field")
	}
	if id, ok := v.(string); ok {
		return SlotContent{Kind: ContentAsset, AssetID: id}, nil
	}
	m, err := asStringMap(v)
	if err != nil {
		return SlotContent{}, fmt.Errorf("expected an asset id string or a pool/collection mapping: %w", err)
	}
	policy, _ := m["policy"].(string)
	if policy == "" {
		policy = "sequential"
	}
	rating, _ := m["rating"].(string)
	if poolID, ok := m["pool"].(string); ok {
		return SlotContent{Kind: ContentPool, PoolID: poolID, Policy: policy, Rating: rating}, nil
	}
	if collectionID, ok := m["collection"].(string); ok {
		return SlotContent{Kind: ContentCollection, CollectionID: collectionID, Policy: policy, Rating: rating}, nil
	}
	return SlotContent{}, fmt.Errorf("expected one of: pool, collection")
}

// asStringMap normalizes both yaml.v2's map[interface{}]interface{} and a
// plain map[string]interface{} into the latter.
func asStringMap(v interface{}) (map[string]interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			out[ks] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a mapping (got %T)", v)
	}
}

func asInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}
