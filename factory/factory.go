package factory

import (
	"fmt"
	"net/http"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"github.com/pneumacap/otcs-mcp-sub000/internal"
	"github.com/pneumacap/otcs-mcp-sub000/tools"
	"go.uber.org/zap"
)

// NewCategoryService creates a CategoryService talking to the content server
// described by config. This is the primary way for external projects to
// create a client.
//
// Usage:
//
//	import (
//	    otcs "github.com/pneumacap/otcs-mcp-sub000"
//	    "github.com/pneumacap/otcs-mcp-sub000/factory"
//	)
//
//	config, err := otcs.LoadConfigFromEnv()
//	if err != nil {
//	    // handle error
//	}
//	svc, err := factory.NewCategoryService(config)
func NewCategoryService(config *otcs.Config) (otcs.CategoryService, error) {
	return NewCategoryServiceWithClient(config, nil)
}

// NewCategoryServiceWithClient is NewCategoryService with a caller-supplied
// HTTP client. A nil client gets one built from the server settings.
func NewCategoryServiceWithClient(config *otcs.Config, client *http.Client) (otcs.CategoryService, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	transport := internal.NewHTTPTransport(config, client)
	zap.S().Debugw("category service created",
		"baseUrl", config.Server.BaseURL,
		"maxRetries", config.Transport.MaxRetries,
		"parallelFetches", config.Resolver.ParallelFetches)
	return internal.NewCategoryManager(transport, config), nil
}

// NewCategoryServiceWithTransport creates a CategoryService on top of an
// existing Transport, for callers that route requests themselves.
func NewCategoryServiceWithTransport(transport otcs.Transport, config *otcs.Config) (otcs.CategoryService, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if config == nil {
		config = otcs.DefaultConfig()
	}
	if config.Resolver.ParallelFetches <= 0 {
		return nil, fmt.Errorf("invalid config: %w", &otcs.ConfigError{Field: "resolver.parallelFetches", Message: "must be greater than 0"})
	}
	return internal.NewCategoryManager(transport, config), nil
}

// NewToolRegistry exposes svc as agent tools.
func NewToolRegistry(svc otcs.CategoryService) *tools.Registry {
	return tools.NewRegistry(tools.CategoryTools(svc)...)
}
