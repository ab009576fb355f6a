package store

import (
	"encoding/json"
	"time"
)

func marshalTags(tags map[string]any) ([]byte, error) {
	if tags == nil {
		tags = map[string]any{}
	}
	return json.Marshal(tags)
}

func unmarshalTags(data []byte) (map[string]any, error) {
	tags := map[string]any{}
	if len(data) == 0 {
		return tags, nil
	}
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func decodeOrganisations(data []byte) ([]string, error) {
	orgs := []string{}
	if len(data) == 0 || string(data) == "null" {
		return orgs, nil
	}
	if err := json.Unmarshal(data, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

func nonNilCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
