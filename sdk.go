package platform

import (
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"go.unpod.dev/platform-sdk/api"
	"go.unpod.dev/platform-sdk/internal/client"
)

// NewSDK creates a new SDK with the specified options.
func NewSDK(options ...Option) *SDK {
	// Create the raw client
	cfg := &client.Config{
		Clock:  clock.New(),
		Logger: zerolog.Nop(),
	}
	for _, option := range options {
		option(cfg)
	}
	rawClient := client.New(cfg)

	// Now create the SDK struct
	return &SDK{
		API: api.NewClient(rawClient),
	}
}

// SDK is the main entry point for communicating with the Unpod platform.
type SDK struct {
	// API is the checksummed REST client the application's data-fetching
	// layer calls into.
	API *api.Client
}
