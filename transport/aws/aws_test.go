package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/linkbridge/transport"
	"github.com/drblury/linkbridge/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsConfirms)
	assert.Equal(t, int64(256*1024), caps.MaxMessageSize)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.AWSCapabilities, caps)
	assert.Equal(t, "aws", caps.Name)
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "aws", TransportName)
}

func stubFactories(t *testing.T) {
	t.Helper()
	originalConfigLoader := DefaultConfigLoader
	originalTopicResolver := TopicResolverFactory
	originalPubFactory := PublisherFactory
	t.Cleanup(func() {
		DefaultConfigLoader = originalConfigLoader
		TopicResolverFactory = originalTopicResolver
		PublisherFactory = originalPubFactory
	})

	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		return &sns.GenerateArnTopicResolver{}, nil
	}
}

func TestBuild(t *testing.T) {
	t.Run("creates connection with mocked factories", func(t *testing.T) {
		stubFactories(t)

		mockPub := &mockPublisher{}
		var gotConfig sns.PublisherConfig
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			gotConfig = cfg
			return mockPub, nil
		}

		cfg := &transporttest.Config{
			Identity:     "sender",
			AWSRegion:    "us-east-1",
			AWSAccountID: "123456789012",
		}
		conn, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, "aws:sender", conn.ID())
		assert.Equal(t, "us-east-1", gotConfig.AWSConfig.Region)
		assert.Empty(t, gotConfig.OptFns)

		link, err := conn.OpenLink(context.Background(), transport.LinkOptions{Address: "orders"})
		require.NoError(t, err)
		_, err = link.Send(context.Background(), transport.Message{ID: "sender-0"})
		require.NoError(t, err)
		assert.Equal(t, "orders", mockPub.topic)
	})

	t.Run("endpoint override sets base endpoint", func(t *testing.T) {
		stubFactories(t)

		var gotConfig sns.PublisherConfig
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			gotConfig = cfg
			return &mockPublisher{}, nil
		}

		cfg := &transporttest.Config{AWSRegion: "us-east-1", AWSEndpoint: "http://localhost:4566"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
		require.Len(t, gotConfig.OptFns, 1)

		opts := amazonsns.Options{}
		gotConfig.OptFns[0](&opts)
		require.NotNil(t, opts.BaseEndpoint)
		assert.Equal(t, "http://localhost:4566", *opts.BaseEndpoint)
	})

	t.Run("returns error when config loader fails", func(t *testing.T) {
		stubFactories(t)
		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		_, err := Build(context.Background(), &transporttest.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "config error")
	})

	t.Run("returns error when topic resolver fails", func(t *testing.T) {
		stubFactories(t)
		TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
			return nil, errors.New("missing account id")
		}

		_, err := Build(context.Background(), &transporttest.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "missing account id")
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		stubFactories(t)
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		cfg := &transporttest.Config{AWSRegion: "us-east-1", AWSAccountID: "123456789012"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "publisher error")
	})
}

func TestResolveAccountAndRegion(t *testing.T) {
	t.Run("uses config values", func(t *testing.T) {
		cfg := &transporttest.Config{
			AWSAccountID: "123456789012",
			AWSRegion:    "us-west-2",
		}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-west-2", region)
	})

	t.Run("uses fallback region when config region empty", func(t *testing.T) {
		cfg := &transporttest.Config{AWSAccountID: "123456789012"}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-east-1", region)
	})

	t.Run("uses localstack default when endpoint set and account empty", func(t *testing.T) {
		cfg := &transporttest.Config{AWSEndpoint: "http://localhost:4566"}
		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("replaces malformed account id against localstack", func(t *testing.T) {
		cfg := &transporttest.Config{AWSEndpoint: "http://localhost:4566", AWSAccountID: "'42'"}
		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("returns empty values for nil config", func(t *testing.T) {
		accountID, region := resolveAccountAndRegion(nil, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "", accountID)
		assert.Equal(t, "us-east-1", region)
	})
}

func TestEndpointOptions(t *testing.T) {
	t.Run("none without endpoint", func(t *testing.T) {
		opts, err := endpointOptions(nil, &aws.Config{})
		require.NoError(t, err)
		assert.Nil(t, opts)
	})

	t.Run("resolver override from loaded base endpoint", func(t *testing.T) {
		opts, err := endpointOptions(nil, &aws.Config{BaseEndpoint: aws.String("http://localstack:4566")})
		require.NoError(t, err)
		assert.Len(t, opts, 1)
	})
}

func TestAwsEndpointURL(t *testing.T) {
	t.Run("returns nil for nil config", func(t *testing.T) {
		url, err := awsEndpointURL(nil)
		assert.NoError(t, err)
		assert.Nil(t, url)
	})

	t.Run("returns nil for empty endpoint", func(t *testing.T) {
		url, err := awsEndpointURL(&transporttest.Config{})
		assert.NoError(t, err)
		assert.Nil(t, url)
	})

	t.Run("parses valid endpoint", func(t *testing.T) {
		url, err := awsEndpointURL(&transporttest.Config{AWSEndpoint: "http://localhost:4566"})
		assert.NoError(t, err)
		assert.NotNil(t, url)
		assert.Equal(t, "localhost:4566", url.Host)
	})
}

type mockPublisher struct {
	topic string
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	m.topic = topic
	return nil
}

func (m *mockPublisher) Close() error { return nil }
