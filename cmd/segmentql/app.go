package main

import (
	"context"
	"fmt"

	"github.com/rpattn/segmentql/internal/config"
	"github.com/rpattn/segmentql/internal/db"
	"github.com/rpattn/segmentql/internal/export"
	"github.com/rpattn/segmentql/internal/repository"
	"github.com/rpattn/segmentql/internal/repository/memory"
	"github.com/rpattn/segmentql/internal/schema/registry"
	"github.com/rpattn/segmentql/internal/segmentation"
	"github.com/rpattn/segmentql/internal/segments"
)

// stores are the persistence ports behind the services.
type stores struct {
	records  repository.RecordStore
	fields   repository.CustomFieldStore
	segments repository.SegmentRepository
	lists    repository.ListRepository
	close    func()
}

func (rt *cli) openStores(ctx context.Context) (*stores, error) {
	switch rt.cfg.Database.Driver {
	case config.DriverMemory:
		store := memory.NewContactStore()
		if path := rt.cfg.Database.SeedPath; path != "" {
			seeded, err := memory.LoadSeed(path)
			if err != nil {
				return nil, err
			}
			store = seeded
			rt.logger.Info("loaded seed data", "path", path)
		}
		return &stores{
			records:  store,
			fields:   store,
			segments: memory.NewSegmentRepository(),
			lists:    memory.NewListRepository(),
			close:    func() {},
		}, nil

	case config.DriverPostgres:
		conn, err := db.NewConnection(ctx, rt.cfg.Database.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		contacts := repository.NewContactRepository(conn.Pool)
		return &stores{
			records:  contacts,
			fields:   contacts,
			segments: repository.NewSegmentRepository(conn.Pool),
			lists:    repository.NewListRepository(conn.Pool),
			close:    conn.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", rt.cfg.Database.Driver)
}

// app holds the wired services for one command invocation.
type app struct {
	stores       *stores
	registry     *registry.Registry
	segments     *segments.Service
	segmentation *segmentation.Service
	exports      *export.Service
}

func (a *app) Close() {
	a.stores.close()
}

func (rt *cli) openApp(ctx context.Context) (*app, error) {
	st, err := rt.openStores(ctx)
	if err != nil {
		return nil, err
	}

	reg := registry.New(st.fields, registry.WithLogger(rt.logger))
	if err := reg.Refresh(ctx); err != nil {
		// Filtering on base fields still works without the catalog.
		rt.logger.Warn("custom field catalog unavailable", "error", err)
	}

	segs := segments.NewService(st.segments, st.lists, segments.WithLogger(rt.logger))
	seg := segmentation.NewService(reg, st.records, segs,
		segmentation.WithEmptyPolicy(rt.cfg.Segmentation.EmptyExpression),
		segmentation.WithLogger(rt.logger),
		segmentation.WithCollectorOptions(rt.cfg.Collector.Options()...),
		segmentation.WithSessionIdle(rt.cfg.Collector.SessionIdle),
	)
	exports := export.NewService(seg, segs, reg,
		export.WithLogger(rt.logger),
		export.WithSheetName(rt.cfg.Export.SheetName),
	)

	return &app{
		stores:       st,
		registry:     reg,
		segments:     segs,
		segmentation: seg,
		exports:      exports,
	}, nil
}
