package signaturepad

import "strconv"

type Phase int

const (
	PhaseStart Phase = iota
	PhaseMove
	PhaseEnd
	PhaseCancel
	PhaseLeave
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseMove:
		return "move"
	case PhaseEnd:
		return "end"
	case PhaseCancel:
		return "cancel"
	case PhaseLeave:
		return "leave"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}

func (p Phase) terminal() bool {
	return p == PhaseEnd || p == PhaseCancel || p == PhaseLeave
}

const primaryButton = 0

// Rect is the rendered bounding rectangle of the surface in client space.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

type PointerEvent struct {
	Phase     Phase
	PointerID int
	ClientX   float64
	ClientY   float64
	Button    int
}

type MouseEvent struct {
	Phase   Phase
	ClientX float64
	ClientY float64
	Button  int
}

type Touch struct {
	Identifier int
	ClientX    float64
	ClientY    float64
}

// TouchEvent carries the changed touches of a native touch event.
type TouchEvent struct {
	Phase   Phase
	Changed []Touch
}

// Disposition tells the host what to do with the native event after the pad
// has seen it.
type Disposition struct {
	StopPropagation bool
	PreventDefault  bool
	Consumed        bool
}

// contact is what every adapter reduces its native event to.
type contact struct {
	id      string
	clientX float64
	clientY float64
	phase   Phase
}

type captureState int

const (
	stateIdle captureState = iota
	stateDrawing
)

// tracker holds the single active contact.
type tracker struct {
	state   captureState
	id      string
	last    Point
	painted bool
}

func (t *tracker) drawing() bool { return t.state == stateDrawing }

func (t *tracker) begin(id string, p Point) {
	t.state = stateDrawing
	t.id = id
	t.last = p
	t.painted = false
}

func (t *tracker) owns(id string) bool {
	return t.state == stateDrawing && t.id == id
}

func (t *tracker) reset() {
	t.state = stateIdle
	t.id = ""
	t.last = Point{}
	t.painted = false
}

func pointerContact(ev PointerEvent) contact {
	return contact{
		id:      "pointer:" + strconv.Itoa(ev.PointerID),
		clientX: ev.ClientX,
		clientY: ev.ClientY,
		phase:   ev.Phase,
	}
}

func mouseContact(ev MouseEvent) contact {
	return contact{id: "mouse", clientX: ev.ClientX, clientY: ev.ClientY, phase: ev.Phase}
}

func touchContact(t Touch, phase Phase) contact {
	return contact{
		id:      "touch:" + strconv.Itoa(t.Identifier),
		clientX: t.ClientX,
		clientY: t.ClientY,
		phase:   phase,
	}
}

// normalize maps a client-space position into backing-store pixels.
func normalize(rect Rect, backingW, backingH int, clientX, clientY float64) Point {
	sx, sy := 1.0, 1.0
	if rect.Width > 0 {
		sx = float64(backingW) / rect.Width
	}
	if rect.Height > 0 {
		sy = float64(backingH) / rect.Height
	}
	return Point{
		X: (clientX - rect.Left) * sx,
		Y: (clientY - rect.Top) * sy,
	}
}
