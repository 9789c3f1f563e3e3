package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"transcode-bridge/internal/domain"
	"transcode-bridge/internal/metrics"
)

const (
	dialogTitle   = "Storage access"
	dialogMessage = "Allow the app to read and write videos in your media folders?"
)

// ErrNoSurfaces is returned when the settings chain is empty.
var ErrNoSurfaces = errors.New("no settings surface configured")

// DecisionStore persists the explicit-dialog answer.
type DecisionStore interface {
	Decision() (domain.AccessDecision, error)
	SaveDecision(domain.AccessDecision) error
}

// Surface is one settings page the user can be sent to.
type Surface struct {
	Name string
	Open func(ctx context.Context) error
}

// Options configures a Gate.
type Options struct {
	Probe       Probe
	Dialog      Dialog
	Decisions   DecisionStore
	Checker     AccessChecker
	Surfaces    []Surface
	AppSettings func(ctx context.Context) error
	Metrics     *metrics.Metrics
}

// Gate decides and obtains storage access for the host's tier.
type Gate struct {
	tier        domain.AccessTier
	hostVersion string
	dialog      Dialog
	decisions   DecisionStore
	checker     AccessChecker
	surfaces    []Surface
	appSettings func(ctx context.Context) error
	metrics     *metrics.Metrics
}

// NewGate selects the tier once from opts.Probe.
func NewGate(opts Options) *Gate {
	probe := opts.Probe
	if probe == nil {
		probe = NewHostProbe("")
	}
	return &Gate{
		tier:        probe.Tier(),
		hostVersion: probe.HostVersion(),
		dialog:      opts.Dialog,
		decisions:   opts.Decisions,
		checker:     opts.Checker,
		surfaces:    opts.Surfaces,
		appSettings: opts.AppSettings,
		metrics:     opts.Metrics,
	}
}

// Tier returns the selected tier.
func (g *Gate) Tier() domain.AccessTier {
	return g.tier
}

// CheckAccess reports whether storage access is currently granted.
func (g *Gate) CheckAccess(ctx context.Context) domain.AccessStatus {
	status := domain.AccessStatus{Tier: g.tier, HostVersion: g.hostVersion}

	switch g.tier {
	case domain.AccessTierLegacyImplicit:
		status.Granted = true
	case domain.AccessTierExplicitDialog:
		status.Granted = g.storedDecision() == domain.AccessDecisionGranted
	case domain.AccessTierSettingsRedirect:
		status.Granted = g.checker != nil && g.checker.CanAccess(ctx)
	}
	return status
}

// RequestAccess runs the tier's request flow.
func (g *Gate) RequestAccess(ctx context.Context) (domain.AccessOutcome, error) {
	outcome, err := g.request(ctx)
	g.metrics.IncAccessRequest(string(outcome))
	log.Info().Str("tier", string(g.tier)).Str("outcome", string(outcome)).Err(err).Msg("access requested")
	return outcome, err
}

func (g *Gate) request(ctx context.Context) (domain.AccessOutcome, error) {
	switch g.tier {
	case domain.AccessTierLegacyImplicit:
		return domain.AccessOutcomeGranted, nil
	case domain.AccessTierExplicitDialog:
		return g.requestByDialog(ctx)
	case domain.AccessTierSettingsRedirect:
		return g.requestBySettings(ctx)
	default:
		err := fmt.Errorf("unknown access tier %q", g.tier)
		return domain.AccessOutcomeUnavailable, domain.NewError(domain.KindPermissionUnavailable, err.Error(), err)
	}
}

func (g *Gate) requestByDialog(ctx context.Context) (domain.AccessOutcome, error) {
	if g.storedDecision() == domain.AccessDecisionGranted {
		return domain.AccessOutcomeGranted, nil
	}
	if g.dialog == nil {
		err := errors.New("no dialog available")
		return domain.AccessOutcomeUnavailable, domain.NewError(domain.KindPermissionUnavailable, err.Error(), err)
	}

	yes, err := g.dialog.Ask(ctx, dialogTitle, dialogMessage)
	if err != nil {
		return domain.AccessOutcomeUnavailable, domain.NewError(domain.KindPermissionUnavailable, "access dialog failed", err)
	}

	decision := domain.AccessDecisionDenied
	outcome := domain.AccessOutcomeDenied
	if yes {
		decision = domain.AccessDecisionGranted
		outcome = domain.AccessOutcomeGranted
	}
	if g.decisions != nil {
		if err := g.decisions.SaveDecision(decision); err != nil {
			log.Warn().Err(err).Msg("access decision not persisted")
		}
	}
	return outcome, nil
}

// requestBySettings tries each surface once, in order, and stops at the first that opens.
func (g *Gate) requestBySettings(ctx context.Context) (domain.AccessOutcome, error) {
	if len(g.surfaces) == 0 {
		return domain.AccessOutcomeUnavailable, domain.NewError(domain.KindPermissionUnavailable, ErrNoSurfaces.Error(), ErrNoSurfaces)
	}

	attemptErrors := make([]string, 0, len(g.surfaces))
	for _, s := range g.surfaces {
		if err := s.Open(ctx); err != nil {
			attemptErrors = append(attemptErrors, fmt.Sprintf("%s: %v", s.Name, err))
			continue
		}
		log.Debug().Str("surface", s.Name).Msg("settings surface opened")
		return domain.AccessOutcomeOpened, nil
	}

	err := errors.New(strings.Join(attemptErrors, " | "))
	return domain.AccessOutcomeUnavailable, domain.NewError(domain.KindPermissionUnavailable, "no settings surface could be opened", err)
}

// OpenAppSettings opens the application's own settings page.
func (g *Gate) OpenAppSettings(ctx context.Context) error {
	if g.appSettings == nil {
		return domain.NewError(domain.KindPermissionUnavailable, "app settings unavailable", nil)
	}
	if err := g.appSettings(ctx); err != nil {
		return domain.NewError(domain.KindPermissionUnavailable, "cannot open app settings", err)
	}
	return nil
}

func (g *Gate) storedDecision() domain.AccessDecision {
	if g.decisions == nil {
		return domain.AccessDecisionUnknown
	}
	d, err := g.decisions.Decision()
	if err != nil {
		log.Warn().Err(err).Msg("access decision unreadable")
		return domain.AccessDecisionUnknown
	}
	return d
}

// SettingsSurfaces returns the deep-link chain for goos, ending with the app settings page.
func SettingsSurfaces(goos string, opener SettingsOpener, appSettings func(ctx context.Context) error) []Surface {
	var uris []string
	switch goos {
	case "darwin":
		uris = []string{
			"x-apple.systempreferences:com.apple.preference.security?Privacy_AllFiles",
			"x-apple.systempreferences:com.apple.preference.security",
		}
	case "windows":
		uris = []string{
			"ms-settings:privacy-broadfilesystemaccess",
			"ms-settings:privacy",
		}
	}

	surfaces := make([]Surface, 0, len(uris)+1)
	for i, uri := range uris {
		uri := uri
		name := "targeted"
		if i > 0 {
			name = "general"
		}
		surfaces = append(surfaces, Surface{
			Name: name,
			Open: func(ctx context.Context) error { return opener.Open(ctx, uri) },
		})
	}
	if appSettings != nil {
		surfaces = append(surfaces, Surface{Name: "app-settings", Open: appSettings})
	}
	return surfaces
}
