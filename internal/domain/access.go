package domain

// AccessTier selects how storage access is obtained on the host.
type AccessTier string

const (
	// AccessTierLegacyImplicit hosts grant storage access without asking.
	AccessTierLegacyImplicit AccessTier = "legacy-implicit"
	// AccessTierExplicitDialog hosts ask through a synchronous yes/no dialog.
	AccessTierExplicitDialog AccessTier = "explicit-dialog"
	// AccessTierSettingsRedirect hosts grant access only from a settings surface.
	AccessTierSettingsRedirect AccessTier = "settings-redirect"
)

// Valid reports whether t is one of the known tiers.
func (t AccessTier) Valid() bool {
	switch t {
	case AccessTierLegacyImplicit, AccessTierExplicitDialog, AccessTierSettingsRedirect:
		return true
	default:
		return false
	}
}

// AccessOutcome is the result of one access request.
type AccessOutcome string

const (
	AccessOutcomeOpened      AccessOutcome = "opened"
	AccessOutcomeGranted     AccessOutcome = "granted"
	AccessOutcomeDenied      AccessOutcome = "denied"
	AccessOutcomeUnavailable AccessOutcome = "unavailable"
)

// AccessDecision is the persisted answer of an explicit dialog.
type AccessDecision string

const (
	AccessDecisionUnknown AccessDecision = ""
	AccessDecisionGranted AccessDecision = "granted"
	AccessDecisionDenied  AccessDecision = "denied"
)

// AccessStatus is the result of an access check.
type AccessStatus struct {
	Granted     bool       `json:"granted"`
	Tier        AccessTier `json:"tier"`
	HostVersion string     `json:"hostVersion"`
}
