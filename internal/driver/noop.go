package driver

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// NoopClient fakes the remote driver for development and tests: every
// created session exists until deleted.
type NoopClient struct{}

func (NoopClient) Create(_ context.Context, _ string, _ map[string]string) (string, error) {
	return "wd-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12], nil
}

func (NoopClient) Delete(_ context.Context, _, _ string) error {
	return nil
}

func (NoopClient) Alive(_ context.Context, _, webdriverID string) (bool, error) {
	return strings.TrimSpace(webdriverID) != "", nil
}
