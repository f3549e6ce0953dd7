package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[HandleChannelsMessage]    = (*HandleChannelsCommand)(nil)
	_ gocmd.Commander[ObserveChannelsMessage]   = (*ObserveChannelsCommand)(nil)
	_ gocmd.Commander[ProvidePasswordMessage]   = (*ProvidePasswordCommand)(nil)
	_ gocmd.Commander[CancelAuthMessage]        = (*CancelAuthCommand)(nil)
	_ gocmd.Commander[SaveRetryPasswordMessage] = (*SaveRetryPasswordCommand)(nil)
	_ gocmd.Commander[PollCredentialsMessage]   = (*PollCredentialsCommand)(nil)
)
