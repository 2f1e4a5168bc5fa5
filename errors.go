package agentreplay

import (
	"github.com/agentreplay/agentreplay-go/pkg/agentctx"
	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
)

// Fields are the ambient agent, session, workflow and user identifiers.
type Fields = agentctx.Fields

// Error types, re-exported from pkg/errors.
type (
	ConfigurationError     = pkgerrors.ConfigurationError
	TransientDeliveryError = pkgerrors.TransientDeliveryError
	PermanentDeliveryError = pkgerrors.PermanentDeliveryError
	InstrumentationError   = pkgerrors.InstrumentationError
	RedactionConfigError   = pkgerrors.RedactionConfigError
	ShutdownError          = pkgerrors.ShutdownError
	APIError               = pkgerrors.APIError
)

// Sentinel errors.
var (
	ErrMissingAPIKey  = pkgerrors.ErrMissingAPIKey
	ErrMissingURL     = pkgerrors.ErrMissingURL
	ErrClientClosed   = pkgerrors.ErrClientClosed
	ErrNotInitialized = pkgerrors.ErrNotInitialized
)
