package portal

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/efdreinf/reinf-cli/internal/config"
)

var (
	_ Automation = (*Browser)(nil)
	_ Automation = (*HTTPClient)(nil)
	_ Automation = (*Stub)(nil)
)

// New builds the driver selected by cfg.Driver. The chrome driver blocks
// until the operator has logged in.
func New(ctx context.Context, cfg config.PortalConfig) (Automation, error) {
	switch cfg.Driver {
	case "chrome":
		b, err := NewBrowser(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := b.Open(ctx); err != nil {
			b.Close() //nolint:errcheck
			return nil, err
		}
		return b, nil
	case "http":
		return NewHTTPClient(cfg.URL, nil, cfg.RetryAttempts), nil
	case "stub":
		return NewStub(), nil
	default:
		return nil, eris.Errorf("portal: unknown driver %q", cfg.Driver)
	}
}
