package selector

// EventKind is a drag-and-drop or picker event delivered to a Zone.
type EventKind int

const (
	DragEnter EventKind = iota
	DragOver
	DragLeave
	Drop
	Pick
)

// Zone is the drop target. It tracks the drag highlight and hands back
// accepted images.
type Zone struct {
	active bool
}

// Active reports whether a drag is hovering over the zone.
func (z *Zone) Active() bool { return z.active }

// Handle applies one event. files is only read for Drop and Pick. It
// returns the accepted image, or nil if nothing was selected.
func (z *Zone) Handle(kind EventKind, files []File) *Image {
	switch kind {
	case DragEnter, DragOver:
		z.active = true
		return nil
	case DragLeave:
		z.active = false
		return nil
	case Drop:
		z.active = false
	case Pick:
	default:
		return nil
	}

	img, ok := Accept(files)
	if !ok {
		return nil
	}
	return img
}

// ParseSource maps the form's source field onto an event. Unknown values
// are treated as a pick.
func ParseSource(source string) EventKind {
	switch source {
	case "dragenter":
		return DragEnter
	case "dragover":
		return DragOver
	case "dragleave":
		return DragLeave
	case "drop":
		return Drop
	default:
		return Pick
	}
}
