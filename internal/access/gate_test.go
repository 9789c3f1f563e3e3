package access

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"transcode-bridge/internal/domain"
)

type fakeProbe struct {
	tier domain.AccessTier
}

func (p fakeProbe) Tier() domain.AccessTier { return p.tier }
func (p fakeProbe) HostVersion() string     { return "test/1" }

type fakeDialog struct {
	answer bool
	err    error
	asks   int
}

func (d *fakeDialog) Ask(context.Context, string, string) (bool, error) {
	d.asks++
	return d.answer, d.err
}

type memoryDecisions struct {
	decision domain.AccessDecision
	saves    int
}

func (m *memoryDecisions) Decision() (domain.AccessDecision, error) { return m.decision, nil }

func (m *memoryDecisions) SaveDecision(d domain.AccessDecision) error {
	m.decision = d
	m.saves++
	return nil
}

type fakeChecker bool

func (c fakeChecker) CanAccess(context.Context) bool { return bool(c) }

type recordingOpener struct {
	fail   map[string]error
	opened []string
}

func (o *recordingOpener) Open(_ context.Context, uri string) error {
	o.opened = append(o.opened, uri)
	return o.fail[uri]
}

func TestLegacyTierAlwaysGranted(t *testing.T) {
	g := NewGate(Options{Probe: fakeProbe{tier: domain.AccessTierLegacyImplicit}})

	status := g.CheckAccess(context.Background())
	if !status.Granted || status.Tier != domain.AccessTierLegacyImplicit || status.HostVersion != "test/1" {
		t.Fatalf("status = %+v", status)
	}
	outcome, err := g.RequestAccess(context.Background())
	if err != nil || outcome != domain.AccessOutcomeGranted {
		t.Fatalf("RequestAccess() = %q, %v, want granted", outcome, err)
	}
}

func TestExplicitDialogPersistsDecision(t *testing.T) {
	dialog := &fakeDialog{answer: true}
	decisions := &memoryDecisions{}
	g := NewGate(Options{Probe: fakeProbe{tier: domain.AccessTierExplicitDialog}, Dialog: dialog, Decisions: decisions})

	if g.CheckAccess(context.Background()).Granted {
		t.Fatal("granted before any decision")
	}
	outcome, err := g.RequestAccess(context.Background())
	if err != nil || outcome != domain.AccessOutcomeGranted {
		t.Fatalf("RequestAccess() = %q, %v, want granted", outcome, err)
	}
	if decisions.decision != domain.AccessDecisionGranted {
		t.Fatalf("decision = %q, want granted", decisions.decision)
	}
	if !g.CheckAccess(context.Background()).Granted {
		t.Fatal("CheckAccess() not granted after approval")
	}

	// A stored grant short-circuits the dialog.
	if _, err := g.RequestAccess(context.Background()); err != nil {
		t.Fatalf("second RequestAccess() error = %v", err)
	}
	if dialog.asks != 1 {
		t.Fatalf("dialog asks = %d, want 1", dialog.asks)
	}
}

func TestExplicitDialogDeniedAndUnavailable(t *testing.T) {
	decisions := &memoryDecisions{}
	g := NewGate(Options{Probe: fakeProbe{tier: domain.AccessTierExplicitDialog}, Dialog: &fakeDialog{answer: false}, Decisions: decisions})

	outcome, err := g.RequestAccess(context.Background())
	if err != nil || outcome != domain.AccessOutcomeDenied {
		t.Fatalf("RequestAccess() = %q, %v, want denied", outcome, err)
	}
	if decisions.decision != domain.AccessDecisionDenied {
		t.Fatalf("decision = %q, want denied", decisions.decision)
	}

	broken := NewGate(Options{Probe: fakeProbe{tier: domain.AccessTierExplicitDialog}, Dialog: &fakeDialog{err: errors.New("no window")}})
	outcome, err = broken.RequestAccess(context.Background())
	if outcome != domain.AccessOutcomeUnavailable || domain.KindOf(err) != domain.KindPermissionUnavailable {
		t.Fatalf("RequestAccess() = %q, %v, want unavailable", outcome, err)
	}
}

func TestSettingsChainFallsThroughInOrder(t *testing.T) {
	opener := &recordingOpener{fail: map[string]error{
		"x-apple.systempreferences:com.apple.preference.security?Privacy_AllFiles": errors.New("no pane"),
		"x-apple.systempreferences:com.apple.preference.security":                  errors.New("no prefs"),
	}}
	appCalls := 0
	appSettings := func(context.Context) error {
		appCalls++
		return nil
	}
	g := NewGate(Options{
		Probe:    fakeProbe{tier: domain.AccessTierSettingsRedirect},
		Checker:  fakeChecker(false),
		Surfaces: SettingsSurfaces("darwin", opener, appSettings),
	})

	outcome, err := g.RequestAccess(context.Background())
	if err != nil || outcome != domain.AccessOutcomeOpened {
		t.Fatalf("RequestAccess() = %q, %v, want opened", outcome, err)
	}
	if len(opener.opened) != 2 || appCalls != 1 {
		t.Fatalf("opened = %v app calls = %d, want both deep links then app settings once", opener.opened, appCalls)
	}
	if !strings.HasSuffix(opener.opened[0], "Privacy_AllFiles") {
		t.Fatalf("first surface = %q, want targeted", opener.opened[0])
	}
}

func TestSettingsChainStopsAtFirstSuccess(t *testing.T) {
	opener := &recordingOpener{}
	appCalls := 0
	g := NewGate(Options{
		Probe: fakeProbe{tier: domain.AccessTierSettingsRedirect},
		Surfaces: SettingsSurfaces("darwin", opener, func(context.Context) error {
			appCalls++
			return nil
		}),
	})

	if outcome, _ := g.RequestAccess(context.Background()); outcome != domain.AccessOutcomeOpened {
		t.Fatalf("outcome = %q, want opened", outcome)
	}
	if len(opener.opened) != 1 || appCalls != 0 {
		t.Fatalf("opened = %v app calls = %d, want only the targeted surface", opener.opened, appCalls)
	}
}

func TestSettingsChainAllFail(t *testing.T) {
	g := NewGate(Options{
		Probe: fakeProbe{tier: domain.AccessTierSettingsRedirect},
		Surfaces: []Surface{
			{Name: "targeted", Open: func(context.Context) error { return errors.New("a") }},
			{Name: "general", Open: func(context.Context) error { return errors.New("b") }},
			{Name: "app-settings", Open: func(context.Context) error { return errors.New("c") }},
		},
	})

	outcome, err := g.RequestAccess(context.Background())
	if outcome != domain.AccessOutcomeUnavailable {
		t.Fatalf("outcome = %q, want unavailable", outcome)
	}
	if !strings.Contains(err.Error(), "targeted: a | general: b | app-settings: c") {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenAppSettings(t *testing.T) {
	g := NewGate(Options{Probe: fakeProbe{tier: domain.AccessTierSettingsRedirect}})
	if err := g.OpenAppSettings(context.Background()); domain.KindOf(err) != domain.KindPermissionUnavailable {
		t.Fatalf("OpenAppSettings() without surface = %v", err)
	}

	opened := false
	g = NewGate(Options{
		Probe:       fakeProbe{tier: domain.AccessTierSettingsRedirect},
		AppSettings: func(context.Context) error { opened = true; return nil },
	})
	if err := g.OpenAppSettings(context.Background()); err != nil || !opened {
		t.Fatalf("OpenAppSettings() = %v opened = %v", err, opened)
	}
}

func TestHostProbeTiers(t *testing.T) {
	cases := []struct {
		probe HostProbe
		want  domain.AccessTier
	}{
		{HostProbe{GOOS: "darwin"}, domain.AccessTierSettingsRedirect},
		{HostProbe{GOOS: "windows"}, domain.AccessTierExplicitDialog},
		{HostProbe{GOOS: "linux"}, domain.AccessTierLegacyImplicit},
		{HostProbe{GOOS: "linux", Override: domain.AccessTierExplicitDialog}, domain.AccessTierExplicitDialog},
		{HostProbe{GOOS: "darwin", Override: "bogus"}, domain.AccessTierSettingsRedirect},
	}
	for _, tc := range cases {
		if got := tc.probe.Tier(); got != tc.want {
			t.Fatalf("Tier(%+v) = %q, want %q", tc.probe, got, tc.want)
		}
	}
}

func TestDirCheckerWalksToExistingAncestor(t *testing.T) {
	root := t.TempDir()
	if !(DirChecker{Dir: filepath.Join(root, "Movies", "App")}).CanAccess(context.Background()) {
		t.Fatal("CanAccess() = false for missing child of readable dir")
	}
	if (DirChecker{}).CanAccess(context.Background()) {
		t.Fatal("CanAccess() = true for empty dir")
	}
}
