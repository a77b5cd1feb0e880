// Package domain defines the core data types shared across the vpnfleet
// authorization, ledger, and fleet dispatch layers.
package domain

import (
	"strings"
	"time"
)

// FederatedDelimiter marks federated/guest identities (e.g. "partner::alice").
// The classification is decided once, when the account row is created; every
// later check reads the Federated flag, never the identity string.
const FederatedDelimiter = "::"

// IsFederatedIdentity reports whether an identity follows the federated/guest
// naming convention. Used only at account creation time.
func IsFederatedIdentity(identity string) bool {
	return strings.Contains(identity, FederatedDelimiter)
}

// Account is the control-plane identity a certificate resolves to. Accounts
// are created lazily on first reference and never by an explicit user action.
type Account struct {
	Identity       string
	Disabled       bool
	Permissions    []string
	SessionExpires *time.Time // nil = no session provisioned
	Federated      bool       // exempt from session-expiry checks
	CreatedAt      time.Time
}

// CertBinding maps a certificate common name to exactly one account. Common
// names are globally unique; an account may own any number of bindings.
type CertBinding struct {
	CommonName string
	AccountID  string
	ValidFrom  time.Time
	ValidUntil time.Time
	IssuedBy   string
}

// ConnectionRecord is one row of the connection ledger: a single physical
// connection attempt on one profile.
type ConnectionRecord struct {
	ID               string
	Profile          string
	CommonName       string
	IP4              string
	IP6              string
	ConnectedAt      time.Time
	DisconnectedAt   *time.Time // nil = open
	BytesTransferred int64
	Lost             bool // closed by reconciliation, not by a disconnect event
}

// Open reports whether the record has no disconnect instant yet.
func (r ConnectionRecord) Open() bool { return r.DisconnectedAt == nil }

// Profile is one logical VPN service read from the fleet configuration file.
// It is configuration-derived and never mutated at runtime.
type Profile struct {
	Name        string
	Number      int // 1..64, selects the management port block
	Processes   int // number of termination processes, indexes 0..Processes-1
	ACL         bool
	Permissions []string // required permission set when ACL is enabled
}

// ProcessSession is a live session as reported by one termination process.
type ProcessSession struct {
	CommonName  string
	RealAddress string
	IP4         string
	IP6         string
	BytesIn     int64
	BytesOut    int64
	ConnectedAt time.Time
}

// Notification is a user-visible message recorded against an account, e.g. a
// connect rejection diagnostic.
type Notification struct {
	ID        string
	AccountID string
	Text      string
	CreatedAt time.Time
}
