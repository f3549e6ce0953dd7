package command

import (
	"context"

	"github.com/nemomobile/telepathy-accounts-signon/core"
	"github.com/nemomobile/telepathy-accounts-signon/session"
)

// DispatchService is the mutating surface the channel commands drive. The
// auth factory satisfies it.
type DispatchService interface {
	HandleChannels(ctx context.Context, batch core.ChannelBatch, dctx core.DispatchContext)
	ObserveChannels(ctx context.Context, batch core.ChannelBatch, claim core.ClaimOperation, dctx core.DispatchContext)
	SaveRetryPassword(account core.Account, password string)
	Session(id core.ChannelID) (*session.ServerSASLHandler, bool)
}

// CredentialPoller refreshes the failing-credentials set on demand.
type CredentialPoller interface {
	Poll(ctx context.Context) error
}

type HandleChannelsCommand struct {
	service DispatchService
}

func NewHandleChannelsCommand(service DispatchService) *HandleChannelsCommand {
	return &HandleChannelsCommand{service: service}
}

func (c *HandleChannelsCommand) Execute(ctx context.Context, msg HandleChannelsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	if err := msg.Validate(); err != nil {
		return commandWrapValidation(err, "command: handle channels rejected")
	}
	c.service.HandleChannels(ctx, msg.Batch, msg.Dispatch)
	return nil
}

type ObserveChannelsCommand struct {
	service DispatchService
}

func NewObserveChannelsCommand(service DispatchService) *ObserveChannelsCommand {
	return &ObserveChannelsCommand{service: service}
}

func (c *ObserveChannelsCommand) Execute(ctx context.Context, msg ObserveChannelsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	if err := msg.Validate(); err != nil {
		return commandWrapValidation(err, "command: observe channels rejected")
	}
	c.service.ObserveChannels(ctx, msg.Batch, msg.Claim, msg.Dispatch)
	return nil
}

type ProvidePasswordCommand struct {
	service DispatchService
}

func NewProvidePasswordCommand(service DispatchService) *ProvidePasswordCommand {
	return &ProvidePasswordCommand{service: service}
}

func (c *ProvidePasswordCommand) Execute(ctx context.Context, msg ProvidePasswordMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	if err := msg.Validate(); err != nil {
		return commandWrapValidation(err, "command: provide password rejected")
	}
	handler, ok := c.service.Session(msg.ChannelID)
	if !ok {
		return commandInvalidInputError("command: no live session for channel")
	}
	return handler.ProvidePassword(ctx, msg.Password, msg.Remember)
}

type CancelAuthCommand struct {
	service DispatchService
}

func NewCancelAuthCommand(service DispatchService) *CancelAuthCommand {
	return &CancelAuthCommand{service: service}
}

func (c *CancelAuthCommand) Execute(ctx context.Context, msg CancelAuthMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	if err := msg.Validate(); err != nil {
		return commandWrapValidation(err, "command: cancel rejected")
	}
	handler, ok := c.service.Session(msg.ChannelID)
	if !ok {
		return commandInvalidInputError("command: no live session for channel")
	}
	return handler.Cancel(ctx)
}

type SaveRetryPasswordCommand struct {
	service DispatchService
}

func NewSaveRetryPasswordCommand(service DispatchService) *SaveRetryPasswordCommand {
	return &SaveRetryPasswordCommand{service: service}
}

func (c *SaveRetryPasswordCommand) Execute(ctx context.Context, msg SaveRetryPasswordMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	if err := msg.Validate(); err != nil {
		return commandWrapValidation(err, "command: save retry password rejected")
	}
	c.service.SaveRetryPassword(msg.Account, msg.Password)
	return nil
}

type PollCredentialsCommand struct {
	poller CredentialPoller
}

func NewPollCredentialsCommand(poller CredentialPoller) *PollCredentialsCommand {
	return &PollCredentialsCommand{poller: poller}
}

func (c *PollCredentialsCommand) Execute(ctx context.Context, msg PollCredentialsMessage) error {
	if c == nil || c.poller == nil {
		return commandDependencyError("command: credential poller is required")
	}
	return c.poller.Poll(ctx)
}
