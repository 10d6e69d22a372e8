package query

const (
	TypeListWatches    = "crmwatch.query.watch.list"
	TypeCredentialInfo = "crmwatch.query.credential.info"
)

type ListWatchesMessage struct{}

func (ListWatchesMessage) Type() string { return TypeListWatches }

func (ListWatchesMessage) Validate() error { return nil }

type CredentialInfoMessage struct{}

func (CredentialInfoMessage) Type() string { return TypeCredentialInfo }

func (CredentialInfoMessage) Validate() error { return nil }
