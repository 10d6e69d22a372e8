package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-crmwatch/watch"
)

var (
	_ gocmd.Querier[ListWatchesMessage, []watch.Channel]   = (*ListWatchesQuery)(nil)
	_ gocmd.Querier[CredentialInfoMessage, CredentialInfo] = (*CredentialInfoQuery)(nil)
)
