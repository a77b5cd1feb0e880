package domain

// DenyReason is the typed cause of a rejected connect attempt.
type DenyReason string

// Deny reasons, in the order the authorization pipeline evaluates them.
const (
	DenyUnknownCertificate DenyReason = "unknown_certificate"
	DenySessionExpired     DenyReason = "session_expired"
	DenyAccountDisabled    DenyReason = "account_disabled"
	DenyAlreadyConnected   DenyReason = "already_connected"
	DenyACLForbidden       DenyReason = "acl_forbidden"
)

// Message returns the user-visible diagnostic for the reason.
func (r DenyReason) Message() string {
	switch r {
	case DenyUnknownCertificate:
		return "certificate is not recognized"
	case DenySessionExpired:
		return "session has expired, please renew it"
	case DenyAccountDisabled:
		return "account is disabled"
	case DenyAlreadyConnected:
		return "a session is already active for this account"
	case DenyACLForbidden:
		return "account is not permitted on this profile"
	default:
		return string(r)
	}
}

// Decision is the outcome of an authorization check. It carries no side
// effects; recording the outcome is the caller's job.
type Decision struct {
	Allowed bool
	Reason  DenyReason // set only when denied
	Account string     // account identity when one was resolved, else ""
}

// Allow builds a positive decision for the given account.
func Allow(account string) Decision {
	return Decision{Allowed: true, Account: account}
}

// Deny builds a rejection. account may be empty when no account could be
// resolved (nothing to notify).
func Deny(reason DenyReason, account string) Decision {
	return Decision{Reason: reason, Account: account}
}
