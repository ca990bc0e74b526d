package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/cppla/reverence/config"
	"github.com/cppla/reverence/models"
	"github.com/cppla/reverence/routes"
	"github.com/cppla/reverence/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db := config.InitDatabase(models.All()...)

	r := routes.SetupRouter(db)

	srv := utils.GraceServer(":"+cfg.AppPort, r)
	srv.OnShutdown(func(context.Context) {
		if err := utils.CloseRedis(); err != nil {
			utils.L().Warn("closing redis", zap.Error(err))
		}
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				utils.L().Warn("closing database", zap.Error(err))
			}
		}
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := srv.ListenAndServe(); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
