package signaturepad

import "strings"

type ActivationState int

const (
	Armed ActivationState = iota
	Disarmed
)

func (s ActivationState) String() string {
	if s == Disarmed {
		return "disarmed"
	}
	return "armed"
}

type ScrollLockMode int

const (
	ScrollLockAuto ScrollLockMode = iota
	ScrollLockOn
	ScrollLockOff
)

// ParseScrollLockMode accepts "auto", "on" and "off". Anything else is auto.
func ParseScrollLockMode(raw string) ScrollLockMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "true", "force", "forced":
		return ScrollLockOn
	case "off", "false", "never":
		return ScrollLockOff
	default:
		return ScrollLockAuto
	}
}

// Document is the host page whose scrolling may be suspended during a stroke.
type Document interface {
	Overflow() string
	SetOverflow(value string)
}

// Environment describes the runtime the pad is embedded in. It is passed per
// instance so tests can pin every value.
type Environment struct {
	DevicePixelRatio float64
	ViewportWidth    float64
	PointerEvents    bool
	TouchCapable     bool
	MobileWebKit     bool
}

// ParseUserAgent derives the touch related flags from a browser user agent.
func ParseUserAgent(ua string, maxTouchPoints int) Environment {
	env := Environment{DevicePixelRatio: 1, PointerEvents: true}
	lower := strings.ToLower(ua)
	ios := strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") || strings.Contains(lower, "ipod")
	// iPadOS reports a desktop Safari user agent but still exposes touch points.
	if strings.Contains(lower, "macintosh") && maxTouchPoints > 1 {
		ios = true
	}
	env.MobileWebKit = ios && strings.Contains(lower, "applewebkit")
	env.TouchCapable = maxTouchPoints > 0 || ios || strings.Contains(lower, "android")
	return env
}

type scrollLock struct {
	doc     Document
	enabled bool
	held    bool
	prior   string
}

func newScrollLock(doc Document, mode ScrollLockMode, env Environment) *scrollLock {
	enabled := false
	switch mode {
	case ScrollLockOn:
		enabled = true
	case ScrollLockAuto:
		enabled = env.TouchCapable || env.MobileWebKit
	}
	return &scrollLock{doc: doc, enabled: enabled && doc != nil}
}

func (l *scrollLock) acquire() {
	if !l.enabled || l.held {
		return
	}
	l.prior = l.doc.Overflow()
	l.doc.SetOverflow("hidden")
	l.held = true
}

func (l *scrollLock) release() {
	if !l.held {
		return
	}
	l.doc.SetOverflow(l.prior)
	l.held = false
	l.prior = ""
}
