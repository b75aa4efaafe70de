// Package secrets loads gateway credentials from Google Secret Manager. It is
// best effort: any failure keeps the value already taken from the environment.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"github.com/joao-fontenele/storefront-payments/internal/config"
)

// Secret ids looked up in the configured project.
const (
	KeySecretID     = "razorpay-key-secret"
	WebhookSecretID = "razorpay-webhook-secret"
)

type Lookup interface {
	Access(ctx context.Context, secretID string) (string, error)
}

type Manager struct {
	client    *secretmanager.Client
	projectID string
}

func NewManager(ctx context.Context, projectID string) (*Manager, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("secrets: project id is empty")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secretmanager.NewClient: %w", err)
	}
	return &Manager{client: client, projectID: projectID}, nil
}

// Access returns the latest version of secretID, trimmed.
func (m *Manager) Access(ctx context.Context, secretID string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", m.projectID, secretID)
	resp, err := m.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("access secret version %s: %w", name, err)
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("access secret version %s: empty payload", name)
	}
	return strings.TrimSpace(string(resp.Payload.Data)), nil
}

func (m *Manager) Close() error {
	return m.client.Close()
}

// Apply overwrites the gateway secrets in cfg with the values held in
// Secret Manager. Missing or unreadable secrets keep the environment value.
func Apply(ctx context.Context, cfg *config.Config, lookup Lookup, logger *slog.Logger) {
	targets := []struct {
		id  string
		dst *string
	}{
		{KeySecretID, &cfg.RazorpayKeySecret},
		{WebhookSecretID, &cfg.RazorpayWebhookSecret},
	}

	for _, t := range targets {
		value, err := lookup.Access(ctx, t.id)
		if err != nil {
			logger.Warn("secret unavailable, using environment value", "secret_id", t.id, "error", err, "env_set", *t.dst != "")
			continue
		}
		if value == "" {
			continue
		}
		*t.dst = value
	}
}

// Load resolves secrets for cfg when SECRETS_PROJECT_ID is configured.
func Load(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	if cfg.SecretsProjectID == "" {
		return
	}

	manager, err := NewManager(ctx, cfg.SecretsProjectID)
	if err != nil {
		logger.Warn("secret manager unavailable, using environment secrets", "error", err)
		return
	}
	defer func() { _ = manager.Close() }()

	Apply(ctx, cfg, manager, logger)
}
