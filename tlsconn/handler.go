package tlsconn

import (
	"context"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/nemomobile/telepathy-accounts-signon/core"
)

// CertificateDetails is the verification input extracted from a TLS channel:
// the peer hostname, the identities the certificate may legitimately carry
// and an opaque reference to the certificate object itself.
type CertificateDetails struct {
	Hostname            string
	ReferenceIdentities []string
	CertificateRef      string
}

// Verifier receives the extracted details. Certificate validation itself
// happens outside this module.
type Verifier func(ctx context.Context, details CertificateDetails) error

// ServerTLSHandler owns one TLS negotiation channel for its lifetime. All
// inputs come from the channel's immutable properties at construction.
type ServerTLSHandler struct {
	channel core.Channel
	details CertificateDetails
	logger  core.Logger

	mu     sync.Mutex
	closed bool
}

// New extracts the certificate details from the channel. Reference
// identities default to the hostname alone when the peer sends none.
func New(channel core.Channel, logger core.Logger) (*ServerTLSHandler, error) {
	if channel == nil {
		return nil, core.BadInput("tlsconn: channel is required")
	}
	if channel.Kind() != core.ChannelKindTLSConnection {
		return nil, core.BadInput("tlsconn: channel is not a tls connection channel")
	}
	if reason := channel.InvalidationError(); reason != nil {
		return nil, core.ChannelInvalidated(reason.Error())
	}

	props := channel.Properties()
	if props.CertificateRef == "" {
		return nil, core.BadInput("tlsconn: channel carries no certificate reference")
	}

	identities := props.ReferenceIdentities
	if len(identities) == 0 {
		identities = []string{props.Hostname}
	}

	return &ServerTLSHandler{
		channel: channel,
		logger:  glog.Ensure(logger),
		details: CertificateDetails{
			Hostname:            props.Hostname,
			ReferenceIdentities: identities,
			CertificateRef:      props.CertificateRef,
		},
	}, nil
}

func (h *ServerTLSHandler) ChannelID() core.ChannelID { return h.channel.ID() }

func (h *ServerTLSHandler) Details() CertificateDetails { return h.details }

// Verify hands the details to the verifier and closes the channel once the
// verdict is in, whatever it is.
func (h *ServerTLSHandler) Verify(ctx context.Context, verify Verifier) error {
	if verify == nil {
		return core.BadInput("tlsconn: verifier is required")
	}
	err := verify(ctx, h.details)
	if err != nil {
		h.logger.Info("certificate rejected",
			"channel", h.channel.ID().String(), "hostname", h.details.Hostname, "error", err)
	}
	h.Close(ctx)
	return err
}

func (h *ServerTLSHandler) Close(ctx context.Context) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	if err := h.channel.Close(ctx); err != nil {
		h.logger.Warn("channel close failed", "channel", h.channel.ID().String(), "error", err)
	}
}
