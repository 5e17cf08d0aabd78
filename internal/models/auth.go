package models

// LoginState is the outcome of a login step.
type LoginState string

const (
	LoginStateEstablished          LoginState = "authenticated"
	LoginStateAwaitingSecondFactor LoginState = "two_factor_required"
)

// First factor methods, recorded on the session for auditing.
const (
	MethodPassword  = "password"
	MethodMagicLink = "magic_link"
	MethodOAuth     = "oauth"
)

// FirstFactor is the proof that one identity factor has been verified.
type FirstFactor struct {
	AccountID string
	Remember  bool
	Method    string
}

// LoginResult is returned from every step of the login state machine.
type LoginResult struct {
	State     LoginState
	AccountID string // empty while the second factor is pending
}

// TwoFactorSetup is handed to the user when enrolment starts. The secret is
// not yet committed to the account.
type TwoFactorSetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
}

// TwoFactorStatus summarizes second factor state for the account owner.
type TwoFactorStatus struct {
	Enabled                bool `json:"enabled"`
	RemainingRecoveryCodes int  `json:"remaining_recovery_codes"`
}
