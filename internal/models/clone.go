package models

import "time"

// CloneAppData produces a fully independent copy of a snapshot: no slice,
// map or pointer is shared with the source, so mutating the clone never
// affects the original. The copy is explicit and type-aware rather than a
// serialize/deserialize round trip, so nothing is silently dropped.
func CloneAppData(d *AppData) *AppData {
	if d == nil {
		return NewAppData()
	}
	out := &AppData{
		Tasks:    make([]Task, len(d.Tasks)),
		Projects: make([]Project, len(d.Projects)),
		Areas:    make([]Area, len(d.Areas)),
		Settings: CloneSettings(d.Settings),
	}
	for i := range d.Tasks {
		out.Tasks[i] = CloneTask(d.Tasks[i])
	}
	for i := range d.Projects {
		out.Projects[i] = CloneProject(d.Projects[i])
	}
	for i := range d.Areas {
		out.Areas[i] = CloneArea(d.Areas[i])
	}
	return out
}

// CloneTask returns a deep copy of t.
func CloneTask(t Task) Task {
	out := t
	out.Recurrence = append([]byte(nil), t.Recurrence...)
	out.Tags = cloneStrings(t.Tags)
	out.Contexts = cloneStrings(t.Contexts)
	if t.Checklist != nil {
		out.Checklist = append([]ChecklistItem(nil), t.Checklist...)
	}
	out.Attachments = cloneAttachments(t.Attachments)
	out.ReviewAt = cloneTime(t.ReviewAt)
	out.CompletedAt = cloneTime(t.CompletedAt)
	out.DeletedAt = cloneTime(t.DeletedAt)
	return out
}

// CloneProject returns a deep copy of p.
func CloneProject(p Project) Project {
	out := p
	out.TagIds = cloneStrings(p.TagIds)
	out.Attachments = cloneAttachments(p.Attachments)
	out.ReviewAt = cloneTime(p.ReviewAt)
	out.DeletedAt = cloneTime(p.DeletedAt)
	return out
}

// CloneArea returns a deep copy of a.
func CloneArea(a Area) Area {
	out := a
	out.CreatedAt = cloneTime(a.CreatedAt)
	out.UpdatedAt = cloneTime(a.UpdatedAt)
	return out
}

// CloneAttachment returns a deep copy of a.
func CloneAttachment(a Attachment) Attachment {
	out := a
	out.DeletedAt = cloneTime(a.DeletedAt)
	return out
}

// CloneSettings deep-copies the bag, including nested maps and arrays that
// arrive from JSON decoding.
func CloneSettings(s Settings) Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		a := make([]any, len(x))
		for i, e := range x {
			a[i] = cloneValue(e)
		}
		return a
	default:
		// Scalars (and json.Number/strings/bools) are immutable.
		return v
	}
}

func cloneAttachments(as []Attachment) []Attachment {
	if as == nil {
		return nil
	}
	out := make([]Attachment, len(as))
	for i := range as {
		out[i] = CloneAttachment(as[i])
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
