package signaturepad

import "testing"

type fakeDocument struct {
	overflow string
	writes   []string
}

func (d *fakeDocument) Overflow() string { return d.overflow }

func (d *fakeDocument) SetOverflow(v string) {
	d.overflow = v
	d.writes = append(d.writes, v)
}

func TestActivationGating(t *testing.T) {
	p := newConfiguredPad(t, 300, 100, 1, Options{RequireActivation: true})
	if p.Activation() != Disarmed {
		t.Fatalf("state=%v want disarmed", p.Activation())
	}
	d := p.HandlePointer(PointerEvent{Phase: PhaseStart, PointerID: 1, ClientX: 10, ClientY: 10})
	if d.Consumed || d.PreventDefault || p.Drawing() {
		t.Fatalf("disarmed pad accepted input: %+v", d)
	}

	p.Activate()
	stroke(p, 1, [2]float64{10, 10}, [2]float64{100, 10})
	if p.StrokeCount() != 1 {
		t.Fatalf("armed pad ignored stroke")
	}
	if p.Activation() != Armed {
		t.Fatalf("pad disarmed itself after a stroke")
	}

	p.Reset()
	if p.Activation() != Disarmed || p.StrokeCount() != 0 {
		t.Fatalf("reset state=%v strokes=%d", p.Activation(), p.StrokeCount())
	}
	snap, _ := p.Snapshot()
	if !isWhite(snap, 50, 10) {
		t.Fatalf("reset did not clear the surface")
	}
}

func TestScrollLockRestoresPriorOverflow(t *testing.T) {
	doc := &fakeDocument{overflow: "scroll"}
	p := newConfiguredPad(t, 300, 100, 1, Options{
		Document: doc,
		Env:      Environment{TouchCapable: true, PointerEvents: true},
	})
	p.HandlePointer(PointerEvent{Phase: PhaseStart, PointerID: 1, ClientX: 10, ClientY: 10})
	if doc.overflow != "hidden" {
		t.Fatalf("overflow=%q during stroke", doc.overflow)
	}
	p.HandlePointer(PointerEvent{Phase: PhaseStart, PointerID: 2, ClientX: 10, ClientY: 10})
	p.HandlePointer(PointerEvent{Phase: PhaseEnd, PointerID: 1})
	if doc.overflow != "scroll" {
		t.Fatalf("overflow=%q want scroll", doc.overflow)
	}
	if len(doc.writes) != 2 {
		t.Fatalf("writes=%v want exactly suspend and restore", doc.writes)
	}
}

func TestScrollLockModes(t *testing.T) {
	cases := []struct {
		name string
		mode ScrollLockMode
		env  Environment
		lock bool
	}{
		{"auto desktop", ScrollLockAuto, Environment{}, false},
		{"auto touch", ScrollLockAuto, Environment{TouchCapable: true}, true},
		{"auto webkit", ScrollLockAuto, Environment{MobileWebKit: true}, true},
		{"forced on", ScrollLockOn, Environment{}, true},
		{"forced off", ScrollLockOff, Environment{TouchCapable: true, MobileWebKit: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := &fakeDocument{}
			p := newConfiguredPad(t, 300, 100, 1, Options{ScrollLock: tc.mode, Env: tc.env, Document: doc})
			p.HandlePointer(PointerEvent{Phase: PhaseStart, PointerID: 1, ClientX: 10, ClientY: 10})
			if got := doc.overflow == "hidden"; got != tc.lock {
				t.Fatalf("locked=%v want %v", got, tc.lock)
			}
			p.HandlePointer(PointerEvent{Phase: PhaseEnd, PointerID: 1})
			if doc.overflow != "" {
				t.Fatalf("overflow=%q not restored", doc.overflow)
			}
		})
	}
}

func TestParseScrollLockMode(t *testing.T) {
	if ParseScrollLockMode("ON") != ScrollLockOn || ParseScrollLockMode("off") != ScrollLockOff || ParseScrollLockMode("") != ScrollLockAuto {
		t.Fatalf("unexpected scroll lock parsing")
	}
}

func TestParseUserAgent(t *testing.T) {
	iphone := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	env := ParseUserAgent(iphone, 5)
	if !env.MobileWebKit || !env.TouchCapable {
		t.Fatalf("iphone env=%+v", env)
	}

	ipad := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"
	if env := ParseUserAgent(ipad, 5); !env.MobileWebKit {
		t.Fatalf("ipados desktop agent not detected: %+v", env)
	}
	if env := ParseUserAgent(ipad, 0); env.MobileWebKit || env.TouchCapable {
		t.Fatalf("mac desktop detected as touch: %+v", env)
	}

	android := "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Mobile Safari/537.36"
	if env := ParseUserAgent(android, 0); env.MobileWebKit || !env.TouchCapable {
		t.Fatalf("android env=%+v", env)
	}
}
