//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SwingPulse/pkg/config"
	"SwingPulse/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application and a
// cleanup that releases infrastructure clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		ProvideClickHouseClient,
		ProvideBarStore,
		ProvideOutcomeStore,
		ProvideBinStats,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		ProvideController,
		ProvideBarsHandler,
		ProvideLoader,
		ProvideEventForwarder,
		ProvideHTTPHandler,

		ProvideApp,
	)
	return nil, nil, nil
}
