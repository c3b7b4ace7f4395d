// Package status reduces operation lifecycle events into a display-ready
// combined status per set of targets: processing/failed/cancelled/succeeded
// flags plus resolved status labels.
package status

// Label is a status label: either static text or a function of the target's
// underlying value. The zero Label is "unset".
type Label struct {
	text string
	fn   func(value any) string
}

// Text makes a static label.
func Text(s string) Label { return Label{text: s} }

// Func makes a label computed from the target's value.
func Func(fn func(value any) string) Label { return Label{fn: fn} }

// IsZero reports whether the label is unset.
func (l Label) IsZero() bool { return l.text == "" && l.fn == nil }

// Resolve produces the label text for a target value.
func (l Label) Resolve(value any) string {
	if l.fn != nil {
		return l.fn(value)
	}
	return l.text
}

// Labels is the per-operation label set, one slot per terminal state plus
// processing.
type Labels struct {
	Processing Label
	Succeeded  Label
	Failed     Label
	Cancelled  Label
}

// Table maps operation names to their labels. The wildcard key "*" supplies
// fallbacks for operations without an entry of their own.
type Table map[string]Labels

// Wildcard is the fallback key of a Table.
const Wildcard = "*"

// DefaultTable returns the built-in label table.
func DefaultTable() Table {
	return Table{
		"load":   {Processing: Text("Loading")},
		"read":   {Processing: Text("Loading")},
		"send":   {Processing: Text("Sending"), Succeeded: Text("Sent")},
		"create": {Processing: Text("Creating"), Succeeded: Text("Created")},
		"update": {Processing: Text("Updating"), Succeeded: Text("Updated")},
		"delete": {Processing: Text("Deleting"), Succeeded: Text("Deleted")},
		Wildcard: {
			Processing: Text("Processing"),
			Failed:     Text("Error"),
			Cancelled:  Text("Cancelled"),
		},
	}
}
