package temporal

import (
	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/logger"
	"go.temporal.io/sdk/client"
)

// NewTemporalClient dials the temporal frontend named in the configuration
func NewTemporalClient(cfg *config.Configuration, log *logger.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
		Logger:    log.GetTemporalLogger(),
	})
	if err != nil {
		log.Errorw("failed to create temporal client", "error", err)
		return nil, err
	}

	log.Infow("temporal client created",
		"address", cfg.Temporal.Address,
		"namespace", cfg.Temporal.Namespace,
	)
	return c, nil
}
