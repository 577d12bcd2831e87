// Package reconcile keeps media references of course content consistent with
// side channel data and with media actually present in the media store.
package reconcile

import (
	"context"

	"scbe/course"
)

// Reconcile merges narration and media side channels into pages of content.
// Side channels are keyed by page bucket: welcome, objectives and topic-<i>.
// Result is a new value, content is not modified. References are appended
// only when page has no reference with the same id, so reconciling already
// reconciled content changes nothing. Returns number of appended references.
func Reconcile(content *course.CourseContent, audio map[string]AudioEntry, media map[string]MediaEntries) (*course.CourseContent, int) {
	if content == nil {
		return nil, 0
	}
	out := content.Clone()
	if out.Topics == nil {
		out.Topics = []course.Page{}
	}

	added := 0
	for _, b := range out.Buckets() {
		p := b.Page
		p.Media = unique(p.Media)
		pageID := p.ID
		if len(pageID) == 0 {
			pageID = b.Key
		}
		if e, ok := audio[b.Key]; ok && len(e.ID) > 0 && !p.HasMedia(e.ID) {
			p.Media = append(p.Media, e.Reference(pageID))
			added++
		}
		for _, ref := range media[b.Key] {
			if len(ref.ID) == 0 || p.HasMedia(ref.ID) {
				continue
			}
			if len(ref.PageID) == 0 {
				ref.PageID = pageID
			}
			p.Media = append(p.Media, ref)
			added++
		}
	}
	return out, added
}

// unique drops repeated ids keeping the first occurrence, result is never
// nil.
func unique(refs []course.MediaReference) []course.MediaReference {
	out := make([]course.MediaReference, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.ID]; ok {
			continue
		}
		seen[ref.ID] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// ExistsFunc reports whether media asset with id is present.
type ExistsFunc func(ctx context.Context, id string) (bool, error)
