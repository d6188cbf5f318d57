package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aerocert/internal/analytics"
	"github.com/smallbiznis/aerocert/internal/audit"
	"github.com/smallbiznis/aerocert/internal/certification"
	"github.com/smallbiznis/aerocert/internal/clock"
	"github.com/smallbiznis/aerocert/internal/config"
	"github.com/smallbiznis/aerocert/internal/lock"
	"github.com/smallbiznis/aerocert/internal/migration"
	"github.com/smallbiznis/aerocert/internal/observability"
	"github.com/smallbiznis/aerocert/internal/scheduler"
	"github.com/smallbiznis/aerocert/pkg/db"
	"github.com/smallbiznis/aerocert/pkg/redisclient"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redisclient.Module,
		lock.Module,

		// Functional Domains
		audit.Module,
		certification.Module,
		analytics.Module,

		// migrations run before the scheduler starts its loop
		migration.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
