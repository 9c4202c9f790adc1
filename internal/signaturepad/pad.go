// Package signaturepad is a headless signature capture surface. The host feeds
// it layout values and raw pointer, mouse and touch events, and gets back
// rendered pixels, live PNG payloads and finished JPEG files.
package signaturepad

import (
	"image"
	"sync"

	"go.uber.org/zap"
)

type Options struct {
	// Height is the CSS height of the surface.
	Height            float64
	MinWidth          float64
	LineWidth         float64
	RequireActivation bool
	ScrollLock        ScrollLockMode
	Env               Environment
	Document          Document
	OnChange          func(payload string)
	Context           ContextFactory
	Encoder           Encoder
	Logger            *zap.Logger
}

type ExportResult struct {
	File *File
	Err  error
}

// Pad is safe for concurrent use. OnChange runs without the pad's lock held.
type Pad struct {
	mu         sync.Mutex
	opts       Options
	log        *zap.Logger
	surface    *Surface
	track      tracker
	lock       *scrollLock
	activation ActivationState
	bounds     Rect
	container  float64
	observed   bool
	pointers   bool
	strokes    int
}

func New(opts Options) *Pad {
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Env.DevicePixelRatio <= 0 {
		opts.Env.DevicePixelRatio = 1
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pad{
		opts:     opts,
		log:      log.Named("signaturepad"),
		surface:  newSurface(opts.MinWidth, opts.LineWidth, opts.Context),
		lock:     newScrollLock(opts.Document, opts.ScrollLock, opts.Env),
		pointers: opts.Env.PointerEvents,
	}
	if opts.RequireActivation {
		p.activation = Disarmed
	}
	return p
}

// Configure sizes the surface for the given container width, CSS height and
// device pixel ratio and clears it to white.
func (p *Pad) Configure(containerWidth, desiredHeight, dpr float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observed = true
	p.configureLocked(containerWidth, desiredHeight, dpr)
}

func (p *Pad) configureLocked(containerWidth, desiredHeight, dpr float64) {
	if p.track.drawing() {
		p.log.Debug("configure interrupted a stroke", zap.String("contact", p.track.id))
		p.track.reset()
		p.lock.release()
	}
	p.container = containerWidth
	if err := p.surface.configure(containerWidth, desiredHeight, dpr, p.opts.Env.ViewportWidth); err != nil {
		p.log.Warn("signature surface unavailable", zap.Error(err))
	}
	css := p.surface.CSSSize()
	p.opts.Height = css.Height
	p.opts.Env.DevicePixelRatio = p.surface.DevicePixelRatio()
	p.bounds.Width = css.Width
	p.bounds.Height = css.Height
	p.strokes = 0
}

func (p *Pad) reconfigureLocked() {
	p.configureLocked(p.container, p.opts.Height, p.opts.Env.DevicePixelRatio)
}

// Mount performs the pre-paint configuration.
func (p *Pad) Mount(containerWidth float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observed = true
	p.configureLocked(containerWidth, p.opts.Height, p.opts.Env.DevicePixelRatio)
}

// AfterFirstPaint reconfigures once layout has settled.
func (p *Pad) AfterFirstPaint(containerWidth float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observed = true
	p.configureLocked(containerWidth, p.opts.Height, p.opts.Env.DevicePixelRatio)
}

// ObserveContainerWidth reconfigures when the observed width changed. It
// reports whether a reconfiguration happened.
func (p *Pad) ObserveContainerWidth(width float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.observed && width == p.container {
		return false
	}
	p.observed = true
	p.configureLocked(width, p.opts.Height, p.opts.Env.DevicePixelRatio)
	return true
}

func (p *Pad) ViewportResized(viewportWidth, dpr float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.Env.ViewportWidth = viewportWidth
	if dpr > 0 {
		p.opts.Env.DevicePixelRatio = dpr
	}
	p.reconfigureLocked()
}

// SetBounds records where the surface is rendered in client space.
func (p *Pad) SetBounds(r Rect) {
	p.mu.Lock()
	p.bounds = r
	p.mu.Unlock()
}

func (p *Pad) Bounds() Rect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bounds
}

func (p *Pad) BackingSize() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.surface.BackingSize()
}

func (p *Pad) CSSSize() Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.surface.CSSSize()
}

func (p *Pad) LineWidth() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.surface.LineWidth()
}

func (p *Pad) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.surface.available()
}

func (p *Pad) Drawing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track.drawing()
}

// StrokeCount is the number of completed strokes that left ink since the
// last clear or configure. A tap without movement does not count.
func (p *Pad) StrokeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.strokes
}

func (p *Pad) Activation() ActivationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activation
}

func (p *Pad) Activate() {
	p.mu.Lock()
	p.activation = Armed
	p.mu.Unlock()
}

// Reset returns the pad to its initial state: disarmed when activation is
// required, and blank.
func (p *Pad) Reset() {
	p.mu.Lock()
	if p.opts.RequireActivation {
		p.activation = Disarmed
	}
	p.track.reset()
	p.lock.release()
	p.surface.fill()
	p.strokes = 0
	p.mu.Unlock()
}

// Clear blanks the surface. The activation state is left alone.
func (p *Pad) Clear() {
	p.mu.Lock()
	p.surface.fill()
	p.strokes = 0
	notify := p.livePayloadLocked()
	p.mu.Unlock()
	notify()
}

func (p *Pad) HandlePointer(ev PointerEvent) Disposition {
	p.mu.Lock()
	p.pointers = true
	if ev.Phase == PhaseStart && ev.Button != primaryButton {
		p.mu.Unlock()
		return Disposition{StopPropagation: true}
	}
	d, notify := p.handleLocked(pointerContact(ev))
	p.mu.Unlock()
	notify()
	return d
}

func (p *Pad) HandleMouse(ev MouseEvent) Disposition {
	p.mu.Lock()
	if p.pointers || (ev.Phase == PhaseStart && ev.Button != primaryButton) {
		p.mu.Unlock()
		return Disposition{StopPropagation: true}
	}
	d, notify := p.handleLocked(mouseContact(ev))
	p.mu.Unlock()
	notify()
	return d
}

func (p *Pad) HandleTouch(ev TouchEvent) Disposition {
	p.mu.Lock()
	if p.pointers {
		// Pointer events draw; the touch listener only keeps the page still.
		d := Disposition{StopPropagation: true, PreventDefault: p.track.drawing()}
		p.mu.Unlock()
		return d
	}
	out := Disposition{StopPropagation: true}
	notify := noop
	for _, t := range ev.Changed {
		c := touchContact(t, ev.Phase)
		if ev.Phase == PhaseStart && p.track.drawing() {
			if p.track.owns(c.id) {
				out.PreventDefault = true
			}
			continue
		}
		if ev.Phase != PhaseStart && !p.track.owns(c.id) {
			continue
		}
		d, n := p.handleLocked(c)
		out.PreventDefault = out.PreventDefault || d.PreventDefault
		out.Consumed = out.Consumed || d.Consumed
		notify = n
		if ev.Phase == PhaseStart {
			break
		}
	}
	p.mu.Unlock()
	notify()
	return out
}

func noop() {}

// handleLocked drives the contact state machine. The returned func must be
// called after the lock is released.
func (p *Pad) handleLocked(c contact) (Disposition, func()) {
	d := Disposition{StopPropagation: true}
	if p.activation == Disarmed || !p.surface.available() {
		return d, noop
	}
	w, h := p.surface.BackingSize()

	switch {
	case c.phase == PhaseStart:
		if p.track.drawing() {
			return d, noop
		}
		p.track.begin(c.id, normalize(p.bounds, w, h, c.clientX, c.clientY))
		p.lock.acquire()
	case c.phase == PhaseMove:
		if !p.track.owns(c.id) {
			return d, noop
		}
		pt := normalize(p.bounds, w, h, c.clientX, c.clientY)
		if p.surface.segment(p.track.last, pt) {
			p.track.painted = true
		}
		p.track.last = pt
	case c.phase.terminal():
		if !p.track.owns(c.id) {
			return d, noop
		}
		painted := p.track.painted
		p.track.reset()
		p.lock.release()
		if painted {
			p.strokes++
		}
		d.PreventDefault = true
		d.Consumed = true
		return d, p.livePayloadLocked()
	default:
		return d, noop
	}
	d.PreventDefault = true
	d.Consumed = true
	return d, noop
}

// livePayloadLocked encodes the current pixels for OnChange and returns the
// call to make once unlocked.
func (p *Pad) livePayloadLocked() func() {
	if p.opts.OnChange == nil {
		return noop
	}
	snap, err := p.surface.snapshot()
	if err != nil {
		return noop
	}
	cb := p.opts.OnChange
	log := p.log
	return func() {
		payload, err := pngDataURL(snap)
		if err != nil {
			log.Warn("live payload encode failed", zap.Error(err))
			return
		}
		cb(payload)
	}
}

// LiveDataPayload returns the raw surface as a PNG data URL.
func (p *Pad) LiveDataPayload() (string, error) {
	snap, err := p.Snapshot()
	if err != nil {
		return "", err
	}
	return pngDataURL(snap)
}

// Snapshot copies the current backing store.
func (p *Pad) Snapshot() (*image.RGBA, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.surface.snapshot()
}

// ExportImage produces the final upload file: white background, grayscale,
// JPEG at quality 0.92 unless options say otherwise.
func (p *Pad) ExportImage(opts ...ExportOption) (*File, error) {
	snap, err := p.Snapshot()
	if err != nil {
		return nil, err
	}
	f, err := finalize(snap, resolveExportOptions(p.opts.Encoder, opts))
	if err != nil {
		p.log.Error("signature export failed", zap.Error(err))
		return nil, err
	}
	p.log.Debug("signature exported",
		zap.String("name", f.Name),
		zap.Int("bytes", len(f.Data)),
		zap.Int("width", f.Width),
		zap.Int("height", f.Height),
	)
	return f, nil
}

// ExportImageAsync copies the pixels before returning and encodes them in the
// background. The channel yields exactly one result.
func (p *Pad) ExportImageAsync(opts ...ExportOption) <-chan ExportResult {
	out := make(chan ExportResult, 1)
	snap, err := p.Snapshot()
	if err != nil {
		out <- ExportResult{Err: err}
		close(out)
		return out
	}
	o := resolveExportOptions(p.opts.Encoder, opts)
	go func() {
		defer close(out)
		f, err := finalize(snap, o)
		if err != nil {
			p.log.Error("signature export failed", zap.Error(err))
		}
		out <- ExportResult{File: f, Err: err}
	}()
	return out
}
