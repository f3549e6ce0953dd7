package command

import (
	"fmt"
	"strings"

	"github.com/nemomobile/telepathy-accounts-signon/core"
)

const (
	TypeHandleChannels    = "signon.command.channels.handle"
	TypeObserveChannels   = "signon.command.channels.observe"
	TypeProvidePassword   = "signon.command.password.provide"
	TypeCancelAuth        = "signon.command.password.cancel"
	TypeSaveRetryPassword = "signon.command.password.save_retry"
	TypePollCredentials   = "signon.command.credentials.poll"
)

type HandleChannelsMessage struct {
	Batch    core.ChannelBatch
	Dispatch core.DispatchContext
}

func (HandleChannelsMessage) Type() string { return TypeHandleChannels }

func (m HandleChannelsMessage) Validate() error {
	if len(m.Batch.Channels) == 0 {
		return fmt.Errorf("command: channel batch is empty")
	}
	if m.Dispatch == nil {
		return fmt.Errorf("command: dispatch context is required")
	}
	return nil
}

type ObserveChannelsMessage struct {
	Batch    core.ChannelBatch
	Claim    core.ClaimOperation
	Dispatch core.DispatchContext
}

func (ObserveChannelsMessage) Type() string { return TypeObserveChannels }

func (m ObserveChannelsMessage) Validate() error {
	if len(m.Batch.Channels) == 0 {
		return fmt.Errorf("command: channel batch is empty")
	}
	if m.Dispatch == nil {
		return fmt.Errorf("command: dispatch context is required")
	}
	return nil
}

type ProvidePasswordMessage struct {
	ChannelID core.ChannelID
	Password  string
	Remember  bool
}

func (ProvidePasswordMessage) Type() string { return TypeProvidePassword }

func (m ProvidePasswordMessage) Validate() error {
	return validateChannelID(m.ChannelID)
}

type CancelAuthMessage struct {
	ChannelID core.ChannelID
}

func (CancelAuthMessage) Type() string { return TypeCancelAuth }

func (m CancelAuthMessage) Validate() error {
	return validateChannelID(m.ChannelID)
}

type SaveRetryPasswordMessage struct {
	Account  core.Account
	Password string
}

func (SaveRetryPasswordMessage) Type() string { return TypeSaveRetryPassword }

func (m SaveRetryPasswordMessage) Validate() error {
	if strings.TrimSpace(m.Account.ID) == "" {
		return fmt.Errorf("command: account id is required")
	}
	return nil
}

type PollCredentialsMessage struct{}

func (PollCredentialsMessage) Type() string { return TypePollCredentials }

func (PollCredentialsMessage) Validate() error { return nil }

func validateChannelID(id core.ChannelID) error {
	if strings.TrimSpace(id.String()) == "" {
		return fmt.Errorf("command: channel id is required")
	}
	return nil
}
