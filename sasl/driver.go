package sasl

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/nemomobile/telepathy-accounts-signon/core"
)

// Driver runs one SASL exchange on an authentication channel: start the
// mechanism, answer the challenge when the mechanism has one, accept the
// server success and wait for the terminal status.
type Driver struct {
	logger core.Logger
}

func NewDriver(logger core.Logger) *Driver {
	return &Driver{logger: glog.Ensure(logger)}
}

// OAuthCredentials is the secret material an OAuth-family mechanism needs.
// ClientID is only consumed by the Facebook mechanism and may be empty.
type OAuthCredentials struct {
	Username    string
	AccessToken string
	ClientID    string
}

// AuthenticatePassword runs the password mechanism with the raw password
// bytes as initial data.
func (d *Driver) AuthenticatePassword(ctx context.Context, channel core.AuthChannel, password string) error {
	return d.run(ctx, channel, wirePassword, func(ctx context.Context) error {
		return channel.StartMechanismWithData(ctx, wirePassword, []byte(password))
	}, nil)
}

// AuthenticateOAuth runs the selected OAuth-family mechanism.
func (d *Driver) AuthenticateOAuth(ctx context.Context, channel core.AuthChannel, mechanism Mechanism, creds OAuthCredentials) error {
	switch mechanism {
	case MechanismFacebook:
		return d.authenticateFacebook(ctx, channel, creds)
	case MechanismWLM:
		return d.authenticateWLM(ctx, channel, creds)
	case MechanismGoogle:
		return d.authenticateGoogle(ctx, channel, creds)
	default:
		return core.BadInput("unsupported mechanism for oauth credentials")
	}
}

func (d *Driver) authenticateFacebook(ctx context.Context, channel core.AuthChannel, creds OAuthCredentials) error {
	return d.run(ctx, channel, wireFacebook, func(ctx context.Context) error {
		return channel.StartMechanism(ctx, wireFacebook)
	}, func(ctx context.Context, challenge []byte) ([]byte, error) {
		decoded, err := DecodeFacebookChallenge(challenge)
		if err != nil {
			return nil, err
		}
		return EncodeFacebookResponse(decoded, creds.AccessToken, creds.ClientID), nil
	})
}

func (d *Driver) authenticateWLM(ctx context.Context, channel core.AuthChannel, creds OAuthCredentials) error {
	token, err := DecodeWLMToken(creds.AccessToken)
	if err != nil {
		return err
	}
	return d.run(ctx, channel, wireWLM, func(ctx context.Context) error {
		return channel.StartMechanismWithData(ctx, wireWLM, token)
	}, nil)
}

func (d *Driver) authenticateGoogle(ctx context.Context, channel core.AuthChannel, creds OAuthCredentials) error {
	payload := EncodeGoogleInitialResponse(creds.Username, creds.AccessToken)
	return d.run(ctx, channel, wireGoogle, func(ctx context.Context) error {
		return channel.StartMechanismWithData(ctx, wireGoogle, payload)
	}, nil)
}

type statusEvent struct {
	status    core.SASLStatus
	peerError string
}

// run wires the channel callbacks before starting the mechanism so no
// status transition is lost, then drives the exchange to a terminal state.
// respond, when non-nil, answers exactly one challenge.
func (d *Driver) run(
	ctx context.Context,
	channel core.AuthChannel,
	mechanism string,
	start func(ctx context.Context) error,
	respond func(ctx context.Context, challenge []byte) ([]byte, error),
) error {
	if reason := channel.InvalidationError(); reason != nil {
		return core.ChannelInvalidated(reason.Error())
	}

	statusEvents := make(chan statusEvent, 8)
	cancelStatus := channel.OnStatusChanged(func(status core.SASLStatus, peerError string, details map[string]any) {
		select {
		case statusEvents <- statusEvent{status: status, peerError: peerError}:
		default:
		}
	})
	defer cancelStatus()

	challenges := make(chan []byte, 4)
	cancelChallenge := channel.OnNewChallenge(func(challenge []byte) {
		select {
		case challenges <- challenge:
		default:
		}
	})
	defer cancelChallenge()

	invalidated := make(chan error, 1)
	cancelInvalidated := channel.OnInvalidated(func(reason error) {
		select {
		case invalidated <- reason:
		default:
		}
	})
	defer cancelInvalidated()

	d.logger.Debug("starting sasl mechanism", "mechanism", mechanism, "channel", channel.ID().String())
	if err := start(ctx); err != nil {
		return core.MapError(err)
	}

	for {
		select {
		case <-ctx.Done():
			return core.MapError(ctx.Err())
		case reason := <-invalidated:
			msg := "channel invalidated during authentication"
			if reason != nil {
				msg = reason.Error()
			}
			return core.ChannelInvalidated(msg)
		case challenge := <-challenges:
			if respond == nil {
				d.logger.Debug("ignoring unexpected challenge", "mechanism", mechanism)
				continue
			}
			response, err := respond(ctx, challenge)
			if err != nil {
				if abortErr := channel.AbortSASL(ctx, core.AbortReasonInvalidChallenge, err.Error()); abortErr != nil {
					d.logger.Warn("abort after bad challenge failed", "error", abortErr)
				}
				return err
			}
			if err := channel.Respond(ctx, response); err != nil {
				return core.MapError(err)
			}
			respond = nil
		case event := <-statusEvents:
			switch event.status {
			case core.SASLStatusServerSucceeded:
				if err := channel.AcceptSASL(ctx); err != nil {
					return core.MapError(err)
				}
			case core.SASLStatusSucceeded:
				d.logger.Debug("sasl exchange succeeded", "mechanism", mechanism)
				return nil
			case core.SASLStatusServerFailed, core.SASLStatusClientFailed:
				msg := event.peerError
				if msg == "" {
					msg = "authentication failed"
				}
				return core.AuthenticationFailed(msg)
			}
		}
	}
}
