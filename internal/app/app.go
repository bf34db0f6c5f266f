package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/trunov/imageopt/cmd/migrate"
	"github.com/trunov/imageopt/internal/cache"
	"github.com/trunov/imageopt/internal/codec"
	"github.com/trunov/imageopt/internal/config"
	"github.com/trunov/imageopt/internal/converter"
	"github.com/trunov/imageopt/internal/entities"
	"github.com/trunov/imageopt/internal/ledger"
	"github.com/trunov/imageopt/internal/redisholder"
	"github.com/trunov/imageopt/internal/repository/storage"
	"github.com/trunov/imageopt/internal/scheduler"
	"github.com/trunov/imageopt/internal/transport/handler"
	"github.com/trunov/imageopt/internal/transport/router"
	use_case "github.com/trunov/imageopt/internal/use-case"
)

type App struct {
	HttpServer *http.Server
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	err := migrate.Migrate(cfg.Database.DSN, migrate.Migrations)
	if err != nil {
		return nil, err
	}

	repo, err := storage.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	holder, err := redisholder.Build(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}

	redisCache := cache.NewCache("imageopt", holder.Get())

	enc := codec.NewEncoder()
	conv := converter.New(enc, cfg.Media.BaseDir)
	led := ledger.New(repo, redisCache)

	sched := scheduler.New(repo, conv, led, cfg.Batch.TickInterval*time.Second)

	// A batch interrupted by a restart left its persisted state at
	// "running"; re-arm the loop so it resumes where it stopped.
	if state, err := repo.BatchState(ctx); err == nil && state == entities.BatchRunning {
		log.Printf("[app] resuming interrupted batch")
		if err := sched.Start(ctx); err != nil {
			return nil, err
		}
	}

	uc := use_case.New(repo, sched, conv, led, redisCache, enc, cfg.Media.BaseDir)

	h := handler.New(uc)
	r := router.NewRouter(h)

	s := &http.Server{
		Handler:      r,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout * time.Second,
	}

	return &App{
		HttpServer: s,
	}, nil
}

func (a *App) Run() error {
	log.Printf("starting server")
	return a.HttpServer.ListenAndServe()
}
