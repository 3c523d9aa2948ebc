package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock config for testing
type mockConfig struct {
	transport string
}

func (m *mockConfig) GetTransport() string          { return m.transport }
func (m *mockConfig) GetIdentity() string           { return "test" }
func (m *mockConfig) GetSenderAddress() string      { return "queue" }
func (m *mockConfig) GetAMQPURL() string            { return "" }
func (m *mockConfig) GetAMQPLinkCredit() int        { return 0 }
func (m *mockConfig) GetIdleTimeout() time.Duration { return 0 }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }

type mockConnection struct {
	id string
}

func (m *mockConnection) OpenLink(ctx context.Context, opts LinkOptions) (Link, error) {
	return nil, errors.New("not implemented")
}

func (m *mockConnection) Close(ctx context.Context) error { return nil }

func (m *mockConnection) ID() string { return m.id }

func mockBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Connection, error) {
	return &mockConnection{id: cfg.GetTransport()}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	reg.Register("test-transport", mockBuilder)
	assert.True(t, reg.Has("test-transport"))
	assert.Contains(t, reg.Names(), "test-transport")
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()

	caps := Capabilities{
		Name:                "test-transport",
		SupportsConfirms:    true,
		SupportsFlowControl: true,
	}

	reg.RegisterWithCapabilities("test-transport", mockBuilder, caps)

	assert.True(t, reg.Has("test-transport"))
	retrievedCaps := reg.GetCapabilities("test-transport")
	assert.Equal(t, "test-transport", retrievedCaps.Name)
	assert.True(t, retrievedCaps.SupportsConfirms)
	assert.True(t, retrievedCaps.ReportsBrokerCredit())
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	reg := NewRegistry()
	caps := reg.GetCapabilities("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.SupportsConfirms)
	assert.False(t, caps.SupportsFlowControl)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", mockBuilder)

	conn, err := reg.Build(context.Background(), &mockConfig{transport: "test-transport"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test-transport", conn.ID())
}

func TestRegistry_Build_NilLoggerIsReplaced(t *testing.T) {
	reg := NewRegistry()
	var got watermill.LoggerAdapter
	reg.Register("logged", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Connection, error) {
		got = logger
		return &mockConnection{}, nil
	})

	_, err := reg.Build(context.Background(), &mockConfig{transport: "logged"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRegistry_Build_NilConfig(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Build(context.Background(), nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

func TestRegistry_Build_UnknownTransport(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", mockBuilder)
	reg.Register("a", mockBuilder)

	_, err := reg.Build(context.Background(), &mockConfig{transport: "unknown-transport"}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
	assert.Contains(t, err.Error(), "[a b]")
}

func TestRegistry_Build_BuilderError(t *testing.T) {
	reg := NewRegistry()

	expectedErr := errors.New("builder error")
	reg.Register("failing-transport", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Connection, error) {
		return nil, expectedErr
	})

	_, err := reg.Build(context.Background(), &mockConfig{transport: "failing-transport"}, nil)
	assert.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "failing-transport")
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()

	assert.Empty(t, reg.Names())

	reg.Register("transport3", mockBuilder)
	reg.Register("transport1", mockBuilder)
	reg.Register("transport2", mockBuilder)

	assert.Equal(t, []string{"transport1", "transport2", "transport3"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				reg.Register("transport", mockBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	assert.True(t, reg.Has("transport"))
}

func TestBuildWithDefaultRegistry(t *testing.T) {
	_, err := Build(context.Background(), &mockConfig{transport: "nonexistent"}, nil)
	assert.Error(t, err)
}

func TestPackageLevelRegisterWithCapabilities(t *testing.T) {
	caps := Capabilities{
		Name:             "test-pkg-caps-transport",
		SupportsOrdering: true,
	}

	RegisterWithCapabilities("test-pkg-caps-transport", mockBuilder, caps)

	assert.True(t, DefaultRegistry.Has("test-pkg-caps-transport"))
	retrievedCaps := GetCapabilities("test-pkg-caps-transport")
	assert.Equal(t, "test-pkg-caps-transport", retrievedCaps.Name)
	assert.True(t, retrievedCaps.SupportsOrdering)
}
