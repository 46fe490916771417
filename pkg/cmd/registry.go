// Package cmd wires the leadflow components for the command-line binaries.
package cmd

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/leadflow/pkg/dispatcher"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/nodes/clientmessage"
	"github.com/dukex/leadflow/pkg/nodes/custom"
	"github.com/dukex/leadflow/pkg/nodes/dbquery"
	"github.com/dukex/leadflow/pkg/nodes/email"
	"github.com/dukex/leadflow/pkg/nodes/httpcall"
	"github.com/dukex/leadflow/pkg/nodes/portalsync"
	"github.com/dukex/leadflow/pkg/nodes/scoring"
	"github.com/dukex/leadflow/pkg/nodes/trigger"
	"github.com/dukex/leadflow/pkg/registry"
)

// NodeDeps are the collaborators of the built-in node handlers. DB and Mailer are optional: the
// db-query and email-send kinds stay unregistered without them, so such nodes fail to dispatch.
type NodeDeps struct {
	HTTPClient *http.Client
	DB         *sql.DB
	Mailer     email.Mailer
	Publisher  message.Publisher
	Dispatcher *dispatcher.Dispatcher
	Functions  *custom.Registry
}

func NewRegistry(logger *slog.Logger, deps NodeDeps) *registry.Registry {
	reg := registry.NewRegistry(logger)
	client := httpcall.NewClient(deps.HTTPClient)

	reg.Register(models.KindWebhookTrigger, trigger.NewWebhook())
	reg.Register(models.KindHTTPCall, httpcall.New(client))
	reg.Register(models.KindExternalPortalSync, portalsync.New(client))
	reg.Register(models.KindLeadScoring, scoring.New())
	reg.Register(models.KindClientMessage, clientmessage.New(deps.Publisher))
	reg.Register(models.KindAgentTask, deps.Dispatcher.Handler())

	functions := deps.Functions
	if functions == nil {
		functions = custom.NewRegistry(logger)
	}

	reg.Register(models.KindCustom, functions)

	if deps.DB != nil {
		reg.Register(models.KindDBQuery, dbquery.New(deps.DB))
	} else {
		logger.Warn("No query database configured, db-query nodes will not dispatch")
	}

	if deps.Mailer != nil {
		reg.Register(models.KindEmailSend, email.New(deps.Mailer))
	} else {
		logger.Warn("No SMTP relay configured, email-send nodes will not dispatch")
	}

	return reg
}
