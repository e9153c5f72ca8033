package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// cursorPayload is the opaque cursor contents (spec.md §6): a sort value
// (createdAt, formatted for stable lexicographic comparison) plus the row's
// id, so pagination is stable even when two rows share a sort value.
type cursorPayload struct {
	SortValue string `json:"sortValue"`
	ID        string `json:"id"`
}

// EncodeCursor produces the opaque base64 cursor string.
func EncodeCursor(sortValue, id string) string {
	b, _ := json.Marshal(cursorPayload{SortValue: sortValue, ID: id})
	return base64.URLEncoding.EncodeToString(b)
}

// DecodeCursor parses a cursor previously produced by EncodeCursor. An empty
// string decodes to a zero-value cursor (start of the list).
func DecodeCursor(cursor string) (sortValue, id string, err error) {
	if cursor == "" {
		return "", "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", fmt.Errorf("invalid cursor: %w", err)
	}
	var p cursorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", "", fmt.Errorf("invalid cursor: %w", err)
	}
	return p.SortValue, p.ID, nil
}

// NormalizeLimit clamps limit into [1, 100], defaulting to 20 (spec.md §6).
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}
