package core

import "strings"

// ChannelID identifies a channel for the lifetime of this process. It is an
// owned value, never a borrowed reference into channel memory, so it stays
// valid as a map key after the channel itself is invalidated.
type ChannelID string

func (id ChannelID) String() string { return string(id) }

type ChannelKind string

const (
	ChannelKindAuthentication ChannelKind = "server_authentication"
	ChannelKindTLSConnection  ChannelKind = "server_tls_connection"
)

// SASLStatus mirrors the peer's authentication-status transitions. Within one
// channel they arrive at most once each and in order; only one terminal
// transition is possible.
type SASLStatus int

const (
	SASLStatusNotStarted SASLStatus = iota
	SASLStatusInProgress
	SASLStatusServerSucceeded
	SASLStatusServerFailed
	SASLStatusClientFailed
	SASLStatusSucceeded
)

func (s SASLStatus) String() string {
	switch s {
	case SASLStatusNotStarted:
		return "not_started"
	case SASLStatusInProgress:
		return "in_progress"
	case SASLStatusServerSucceeded:
		return "server_succeeded"
	case SASLStatusServerFailed:
		return "server_failed"
	case SASLStatusClientFailed:
		return "client_failed"
	case SASLStatusSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

type AbortReason int

const (
	AbortReasonInvalidChallenge AbortReason = iota
	AbortReasonUserAbort
)

// CredentialKind is the caller-facing shape of a credential, before mechanism
// selection maps it onto a concrete wire mechanism.
type CredentialKind string

const (
	CredentialKindPassword CredentialKind = "password"
	CredentialKindOAuth2   CredentialKind = "oauth2"
)

// ChannelProperties are the immutable properties a channel carries from
// creation. MaySaveResponse is tri-state: nil means the peer did not announce
// it, which is treated as permission to save.
type ChannelProperties struct {
	AdvertisedMechanisms []string
	MaySaveResponse      *bool
	Hostname             string
	ReferenceIdentities  []string
	CertificateRef       string
}

func (p ChannelProperties) MaySave() bool {
	if p.MaySaveResponse == nil {
		return true
	}
	return *p.MaySaveResponse
}

func (p ChannelProperties) SupportsMechanism(name string) bool {
	for _, mech := range p.AdvertisedMechanisms {
		if mech == name {
			return true
		}
	}
	return false
}

// Account is the stable description of an account as seen by the dispatch and
// resolution layers. The parameter map is provider-defined.
type Account struct {
	ID              string
	Provider        string
	DefaultUsername string
	CredentialRef   string
	Params          map[string]string
}

func (a Account) Param(key string) string {
	if a.Params == nil {
		return ""
	}
	return strings.TrimSpace(a.Params[key])
}

// IdentityInfo is what an identity service reports about a credential record.
type IdentityInfo struct {
	Username string
	Caption  string
}

// SessionData carries identity-session parameters and results. Well-known
// keys follow the signon convention.
type SessionData map[string]any

const (
	SessionDataAccessToken = "AccessToken"
	SessionDataSecret      = "Secret"
	SessionDataClientID    = "ClientId"
	SessionDataUIPolicy    = "UiPolicy"
)

// UIPolicyNoUserInteraction tells the identity service it must not raise any
// interactive prompt while processing the session.
const UIPolicyNoUserInteraction = 2

func (d SessionData) GetString(key string) string {
	if d == nil {
		return ""
	}
	if value, ok := d[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

type AccountEventKind string

const (
	AccountEventCreated   AccountEventKind = "created"
	AccountEventDeleted   AccountEventKind = "deleted"
	AccountEventToggled   AccountEventKind = "toggled"
	AccountEventAltered   AccountEventKind = "altered"
	AccountEventReconnect AccountEventKind = "reconnect"
)

// AccountEvent is emitted by the account storage plugin toward the account
// manager. Enabled is meaningful only for toggled events.
type AccountEvent struct {
	Kind        AccountEventKind
	AccountName string
	Enabled     bool
}

// StorageRestriction flags tell the account manager which pieces of an
// account it must not try to change through this plugin.
type StorageRestriction uint32

const (
	RestrictionCannotSetService StorageRestriction = 1 << iota
	RestrictionCannotSetParameters
	RestrictionCannotSetEnabled
	RestrictionCannotSetPresence
)

const RestrictionsAll = ^StorageRestriction(0)

func (r StorageRestriction) Has(flag StorageRestriction) bool { return r&flag != 0 }
