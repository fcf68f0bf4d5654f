//go:build !bedrock

package llm

import (
	"fmt"
	"log/slog"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

const bedrockLinked = false

func newBedrockAdapter(desc domain.ProviderDescriptor, _ config.ProviderConfig, _ *slog.Logger) (domain.Adapter, error) {
	return nil, fmt.Errorf("%w: %s requires a build with -tags bedrock", domain.ErrUnavailable, desc.Key())
}
