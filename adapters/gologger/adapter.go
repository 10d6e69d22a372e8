package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Component suffixes appended to the service name.
const (
	ComponentOAuth   = "oauth"
	ComponentCRM     = "crm"
	ComponentWatch   = "watch"
	ComponentRenewer = "renewer"
	ComponentWebhook = "webhook"
	ComponentServer  = "server"
	ComponentJobs    = "jobs"
)

// Loggers resolves the service logger once and hands out per component
// children named "<service>.<component>".
type Loggers struct {
	service  string
	provider glog.LoggerProvider
	root     glog.Logger
}

// NewLoggers applies provider > logger > nop precedence. A bare logger is
// wrapped so every component shares it.
func NewLoggers(service string, provider glog.LoggerProvider, logger glog.Logger) Loggers {
	service = strings.TrimSpace(service)
	if service == "" {
		service = "crmwatch"
	}
	resolvedProvider, resolvedLogger := glog.Resolve(service, provider, logger)
	return Loggers{service: service, provider: resolvedProvider, root: resolvedLogger}
}

func (l Loggers) Service() string { return l.service }

func (l Loggers) Root() glog.Logger {
	if l.root == nil {
		return glog.Nop()
	}
	return l.root
}

func (l Loggers) Provider() glog.LoggerProvider { return l.provider }

func (l Loggers) Component(component string) glog.Logger {
	component = strings.Trim(strings.TrimSpace(component), ".")
	if component == "" {
		return l.Root()
	}
	if l.provider == nil {
		return l.Root()
	}
	return l.provider.GetLogger(l.service + "." + component)
}

// Job bridges the resolved pair to the go-job logger contracts.
func (l Loggers) Job() (job.LoggerProvider, job.Logger) {
	var provider job.LoggerProvider
	if l.provider != nil {
		provider = job.GoLoggerProvider(l.provider)
	}
	return provider, job.GoLogger(l.Root())
}
