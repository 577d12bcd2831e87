package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/maruel/natural"

	"scbe/course"
)

// AudioEntry is a narration side channel entry. Older versions stored bare
// asset id, newer ones store object with id member.
type AudioEntry struct {
	ID string
}

func (e *AudioEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		e.ID = ""
		return nil
	case data[0] == '"':
		return json.Unmarshal(data, &e.ID)
	case data[0] == '{':
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		e.ID = obj.ID
		return nil
	default:
		return fmt.Errorf("unexpected audio entry: %.32s", data)
	}
}

func (e AudioEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID string `json:"id"`
	}{e.ID})
}

// Reference returns media reference for narration of the page.
func (e AudioEntry) Reference(pageID string) course.MediaReference {
	return course.MediaReference{
		ID:     e.ID,
		Type:   course.MediaAudio,
		URL:    "",
		Title:  "Audio Narration",
		PageID: pageID,
	}
}

// MediaEntries is a media side channel entry, single object or array of
// objects.
type MediaEntries []course.MediaReference

func (m *MediaEntries) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*m = nil
		return nil
	case data[0] == '[':
		var list []course.MediaReference
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*m = list
		return nil
	case data[0] == '{':
		var one course.MediaReference
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*m = MediaEntries{one}
		return nil
	default:
		return fmt.Errorf("unexpected media entry: %.32s", data)
	}
}

// DecodeAudio decodes audioNarration blob. Entries which cannot be decoded
// are reported in skipped and left out.
func DecodeAudio(blob json.RawMessage) (entries map[string]AudioEntry, skipped []string, err error) {
	raw, err := decodeMap(blob)
	if err != nil || raw == nil {
		return nil, nil, err
	}
	entries = make(map[string]AudioEntry, len(raw))
	for key, v := range raw {
		if isNull(v) {
			continue
		}
		var e AudioEntry
		if err := json.Unmarshal(v, &e); err != nil || len(e.ID) == 0 {
			skipped = append(skipped, key)
			continue
		}
		entries[key] = e
	}
	sort.Sort(natural.StringSlice(skipped))
	return entries, skipped, nil
}

// DecodeMedia decodes media-enhancements blob. Entries which cannot be
// decoded are reported in skipped and left out.
func DecodeMedia(blob json.RawMessage) (entries map[string]MediaEntries, skipped []string, err error) {
	raw, err := decodeMap(blob)
	if err != nil || raw == nil {
		return nil, nil, err
	}
	entries = make(map[string]MediaEntries, len(raw))
	for key, v := range raw {
		var e MediaEntries
		if err := json.Unmarshal(v, &e); err != nil {
			skipped = append(skipped, key)
			continue
		}
		if len(e) > 0 {
			entries[key] = e
		}
	}
	sort.Sort(natural.StringSlice(skipped))
	return entries, skipped, nil
}

func isNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

func decodeMap(blob json.RawMessage) (map[string]json.RawMessage, error) {
	if isNull(blob) {
		return nil, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("side channel is not an object: %w", err)
	}
	return raw, nil
}
