package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agentworkforce/offlinesync/internal/agent"
	"github.com/agentworkforce/offlinesync/internal/bridge"
	"github.com/agentworkforce/offlinesync/internal/cachetier"
	"github.com/agentworkforce/offlinesync/internal/config"
	"github.com/agentworkforce/offlinesync/internal/intercept"
	"github.com/agentworkforce/offlinesync/internal/records"
	"github.com/agentworkforce/offlinesync/internal/syncagent"
)

// runtime is every long-lived component of one agent, built from config.
type runtime struct {
	cfg     config.Config
	store   records.Store
	storage cachetier.Storage
	metrics *bridge.Metrics
	monitor *syncagent.Monitor
	agent   *agent.Agent
}

func buildRuntime(cfg config.Config, logger printfLogger) (*runtime, error) {
	store, err := records.BuildStoreFromDSN(cfg.RecordsDSN)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	storage, err := cachetier.BuildStorageFromDSN(cfg.CacheDSN)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open cache storage: %w", err)
	}
	rt := &runtime{
		cfg:     cfg,
		store:   store,
		storage: storage,
		metrics: bridge.NewMetrics(time.Now()),
	}

	b := bridge.New(bridge.Options{
		Metrics:        rt.metrics,
		Logger:         logger,
		OriginPatterns: cfg.AllowedOrigins,
	})
	prober := syncagent.NewHTTPProber(cfg.ProbeTarget(), nil, cfg.ProbeTimeout)
	rt.monitor = syncagent.NewMonitor(prober, syncagent.MonitorOptions{
		Interval:    cfg.ProbeInterval,
		JitterRatio: cfg.ProbeJitter,
		OnOnline: func(ctx context.Context) {
			if rt.agent != nil {
				rt.agent.TriggerSync(ctx)
			}
		},
		Logger: logger,
	})

	tiers := cachetier.NewManager(storage, cachetier.NamesFor(cfg.CachePrefix, cfg.Version))
	interceptor, err := intercept.New(intercept.Options{
		Origin:          cfg.OriginURL(),
		Rules:           cfg.Rules,
		ShellAssets:     cfg.ShellAssets,
		Tiers:           tiers,
		Transport:       http.DefaultTransport,
		FetchTimeout:    cfg.FetchTimeout,
		ImageMaxBytes:   cfg.ImageMaxBytes,
		OfflinePagePath: cfg.OfflinePagePath,
		Online:          rt.monitor.Online,
		Metrics:         rt.metrics,
		Logger:          logger,
	})
	if err != nil {
		rt.closeStores()
		return nil, err
	}

	sender := syncagent.NewHTTPSender(cfg.RemoteEndpoint, nil).WithRetries(cfg.SendRetries, 100*time.Millisecond, 2*time.Second)
	orchestrator, err := syncagent.NewOrchestrator(syncagent.Options{
		Store:       store,
		Sender:      sender,
		Prober:      prober,
		Notifier:    b,
		Metrics:     rt.metrics,
		Logger:      logger,
		SendTimeout: cfg.SendTimeout,
	})
	if err != nil {
		rt.closeStores()
		return nil, err
	}

	rt.agent, err = agent.New(agent.Options{
		Version:      cfg.Version,
		CachePrefix:  cfg.CachePrefix,
		Records:      store,
		Tiers:        tiers,
		Interceptor:  interceptor,
		Orchestrator: orchestrator,
		Bridge:       b,
		Prober:       prober,
		Metrics:      rt.metrics,
		Logger:       logger,
		SyncDelay:    cfg.SyncDelay,
	})
	if err != nil {
		rt.closeStores()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) closeStores() error {
	return errors.Join(rt.store.Close(), rt.storage.Close())
}

func (rt *runtime) Close() error {
	var errs []error
	if rt.agent != nil {
		errs = append(errs, rt.agent.Close())
	}
	errs = append(errs, rt.closeStores())
	return errors.Join(errs...)
}
