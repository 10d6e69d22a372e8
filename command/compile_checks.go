package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RegisterWatchMessage] = (*RegisterWatchCommand)(nil)
	_ gocmd.Commander[DisableWatchMessage]  = (*DisableWatchCommand)(nil)
	_ gocmd.Commander[RefreshTokenMessage]  = (*RefreshTokenCommand)(nil)
)
