package sasl

import (
	"fmt"

	"github.com/nemomobile/telepathy-accounts-signon/core"
)

// Mechanism is one concrete wire mechanism the peer may advertise.
type Mechanism int

const (
	MechanismUnsupported Mechanism = iota
	MechanismFacebook
	MechanismPassword
	MechanismWLM
	MechanismGoogle
)

const (
	wireFacebook = "X-FACEBOOK-PLATFORM"
	wirePassword = "X-TELEPATHY-PASSWORD"
	wireWLM      = "X-MESSENGER-OAUTH2"
	wireGoogle   = "X-OAUTH2"
)

// mechanismTable is ordered by preference. The trailing password entry keeps
// password selectable when an OAuth mechanism was already matched earlier in
// the scan for a different credential kind.
var mechanismTable = []struct {
	mechanism Mechanism
	wire      string
}{
	{MechanismFacebook, wireFacebook},
	{MechanismPassword, wirePassword},
	{MechanismWLM, wireWLM},
	{MechanismGoogle, wireGoogle},
	{MechanismPassword, wirePassword},
}

// WireName returns the mechanism string sent on the wire.
func (m Mechanism) WireName() string {
	for _, entry := range mechanismTable {
		if entry.mechanism == m {
			return entry.wire
		}
	}
	return ""
}

func (m Mechanism) String() string {
	switch m {
	case MechanismFacebook:
		return "facebook"
	case MechanismPassword:
		return "password"
	case MechanismWLM:
		return "wlm"
	case MechanismGoogle:
		return "google"
	default:
		return "unsupported"
	}
}

// CredentialKind reports which credential shape the mechanism consumes.
func (m Mechanism) CredentialKind() core.CredentialKind {
	if m == MechanismPassword {
		return core.CredentialKindPassword
	}
	return core.CredentialKindOAuth2
}

// Select picks the preferred mechanism for the given credential kind among
// the channel's advertised mechanisms. Password credentials map only to the
// password mechanism; OAuth credentials try Facebook, WLM and Google in
// preference order.
func Select(props core.ChannelProperties, kind core.CredentialKind) Mechanism {
	for _, entry := range mechanismTable {
		if entry.mechanism.CredentialKind() != kind {
			continue
		}
		if props.SupportsMechanism(entry.wire) {
			return entry.mechanism
		}
	}
	return MechanismUnsupported
}

// SupportsKind reports whether the channel advertises any mechanism usable
// with the given credential kind.
func SupportsKind(props core.ChannelProperties, kind core.CredentialKind) bool {
	return Select(props, kind) != MechanismUnsupported
}

// MechanismForWire maps an advertised wire name back to a Mechanism.
func MechanismForWire(wire string) (Mechanism, error) {
	for _, entry := range mechanismTable {
		if entry.wire == wire {
			return entry.mechanism, nil
		}
	}
	return MechanismUnsupported, core.BadInput(fmt.Sprintf("unsupported mechanism %q", wire))
}
