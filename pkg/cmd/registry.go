// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"log/slog"

	"github.com/ciroautuori/automato/pkg/registry"
	"github.com/ciroautuori/automato/pkg/steps/delay"
	"github.com/ciroautuori/automato/pkg/steps/httprequest"
	logstep "github.com/ciroautuori/automato/pkg/steps/log"
	"github.com/ciroautuori/automato/pkg/steps/transform"
)

// NewRegistry builds the step executor registry with every built-in step
// type.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.Register(logstep.NewFactory())
	reg.Register(httprequest.NewFactory())
	reg.Register(transform.NewFactory())
	reg.Register(delay.NewFactory())

	return reg
}
