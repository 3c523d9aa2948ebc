package linkbridge

import (
	runtimepkg "github.com/drblury/linkbridge/internal/runtime"
	configpkg "github.com/drblury/linkbridge/internal/runtime/config"
	errspkg "github.com/drblury/linkbridge/internal/runtime/errors"
	idspkg "github.com/drblury/linkbridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/linkbridge/internal/runtime/jsoncodec"
	"github.com/drblury/linkbridge/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/linkbridge/internal/runtime/logging"
	"github.com/drblury/linkbridge/internal/runtime/outcome"
	"github.com/drblury/linkbridge/transport"
)

type (
	Config              = configpkg.Config
	Flags               = configpkg.Flags
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	State               = lifecycle.State

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
	LoggerOptions = loggingpkg.Options

	ConfigValidationError = errspkg.ConfigValidationError

	// Send outcomes
	Outcome          = outcome.Outcome
	OutcomeAccepted  = outcome.Accepted
	OutcomeRejected  = outcome.Rejected
	OutcomeTimedOut  = outcome.TimedOut
	OutcomeLinkError = outcome.LinkError

	// Transport contract
	Connection            = transport.Connection
	Link                  = transport.Link
	LinkOptions           = transport.LinkOptions
	Message               = transport.Message
	Delivery              = transport.Delivery
	LinkEvent             = transport.Event
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
	RejectedError         = transport.RejectedError
	LinkError             = transport.LinkError
)

const (
	StateStarting = lifecycle.StateStarting
	StateOpen     = lifecycle.StateOpen
	StateClosing  = lifecycle.StateClosing
	StateClosed   = lifecycle.StateClosed
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.Load
	ParseFlags     = configpkg.ParseFlags

	NewLogger                 = loggingpkg.New
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	// Transport registry. Import individual transports via
	// _ "github.com/drblury/linkbridge/transport/amqp" (AMQP 1.0), or all of them via
	// _ "github.com/drblury/linkbridge/transport/transports".
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities
	IsRejected               = transport.IsRejected
	IsLinkError              = transport.IsLinkError

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	ErrConfigRequired = errspkg.ErrConfigRequired
	ErrLoggerRequired = errspkg.ErrLoggerRequired
	ErrAlreadyStarted = errspkg.ErrAlreadyStarted
	ErrShuttingDown   = errspkg.ErrShuttingDown
	ErrConnectionLost = errspkg.ErrConnectionLost
	ErrLinkLost       = errspkg.ErrLinkLost
	ErrLinkClosed     = transport.ErrLinkClosed

	CreateULID = idspkg.CreateULID
)
