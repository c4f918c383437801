// Package secrets resolves secret values from AWS Secrets Manager through a
// process-lifetime read-through cache.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"gpt-actions-proxy-go/internal/config"
	"gpt-actions-proxy-go/internal/metrics"
)

// ErrClientUnavailable is returned when no store client was injected,
// e.g. in test environments without AWS access.
var ErrClientUnavailable = errors.New("secrets: store client unavailable")

// API abstracts the Secrets Manager client for testing.
type API interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// NewClient builds the real Secrets Manager client from the default AWS
// credential chain, honoring an explicit region from config.
func NewClient(cfg *config.Config) (API, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Secrets.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Secrets.Region))
	}

	awscfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}

	return secretsmanager.NewFromConfig(awscfg), nil
}

type entry struct {
	value   string
	version string
}

// Cache is a read-through cache keyed by secret id. Entries live for the
// process lifetime; only GetCurrent invalidates, and only when the store
// reports a new current version.
type Cache struct {
	api     API
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache creates a Cache backed by the given store client.
// A nil client is allowed; lookups then fail with ErrClientUnavailable.
// The metrics parameter is optional; pass nil to disable fetch metrics.
func NewCache(api API, logger *slog.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		api:     api,
		logger:  logger.With("component", "secret_cache"),
		metrics: m,
		entries: make(map[string]*entry),
	}
}

// Get returns the value for the given secret id, fetching it from the store
// on first use. Fetch failures are not retried.
func (c *Cache) Get(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		return e.value, nil
	}

	e, err := c.fetch(ctx, id)
	if err != nil {
		return "", err
	}
	return e.value, nil
}

// GetCurrent returns the value for the secret's current version, refreshing
// the cached value when the store reports a version id different from the
// one cached. This lets secret rotation take effect without a restart.
func (c *Cache) GetCurrent(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		e, err := c.fetch(ctx, id)
		if err != nil {
			return "", err
		}
		return e.value, nil
	}

	current, err := c.currentVersion(ctx, id)
	if err != nil {
		return "", err
	}

	if current != "" && current != e.version {
		c.logger.Info("secret rotated, refreshing cache", "secret_id", id)
		e, err = c.fetch(ctx, id)
		if err != nil {
			return "", err
		}
	}

	return e.value, nil
}

// fetch loads a secret from the store and caches it. Caller holds c.mu.
func (c *Cache) fetch(ctx context.Context, id string) (*entry, error) {
	if c.api == nil {
		return nil, ErrClientUnavailable
	}

	out, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		c.countFetch("error")
		return nil, fmt.Errorf("secrets: get value for %s: %w", id, err)
	}
	if out.SecretString == nil {
		c.countFetch("error")
		return nil, fmt.Errorf("secrets: %s does not contain a SecretString payload", id)
	}
	c.countFetch("ok")

	e := &entry{
		value:   *out.SecretString,
		version: aws.ToString(out.VersionId),
	}
	c.entries[id] = e
	return e, nil
}

// currentVersion asks the store which version id is staged AWSCURRENT.
// An empty result means the store reported no current version; the cached
// value is then kept as-is. Caller holds c.mu.
func (c *Cache) currentVersion(ctx context.Context, id string) (string, error) {
	if c.api == nil {
		return "", ErrClientUnavailable
	}

	out, err := c.api.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: describe %s: %w", id, err)
	}

	for version, stages := range out.VersionIdsToStages {
		for _, stage := range stages {
			if stage == "AWSCURRENT" {
				return version, nil
			}
		}
	}
	return "", nil
}

func (c *Cache) countFetch(outcome string) {
	if c.metrics != nil {
		c.metrics.SecretFetches.WithLabelValues(outcome).Inc()
	}
}
