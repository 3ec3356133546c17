package main

import (
	"fmt"
	"io"

	"github.com/and161185/toollink/internal/auth"
	"github.com/and161185/toollink/internal/backend"
	"github.com/and161185/toollink/internal/config"
	"github.com/and161185/toollink/internal/gate"
	"github.com/and161185/toollink/internal/portal"
	"github.com/and161185/toollink/internal/session"
	"github.com/and161185/toollink/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// newLogger is swapped in tests.
var newLogger = func(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// app is one "tab": storage, session manager, gate and portal over a single config.
type app struct {
	cfg    config.Config
	out    io.Writer
	log    *zap.Logger
	kv     *store.File
	mgr    *auth.Manager
	gate   *gate.Gate
	portal *portal.Service
	reg    *prometheus.Registry

	// transitions is called from watch; nil otherwise.
	transitions func(from, to auth.State)
}

func openApp(cfg config.Config, out io.Writer) (*app, error) {
	log, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	kv, err := store.NewFile(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	tokens := backend.TokenFunc(func() (string, error) {
		tok, _, err := kv.Get(store.KeyAccessToken)
		return tok, err
	})
	client, err := backend.New(cfg.BackendURL, tokens)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, out: out, log: log, kv: kv, reg: prometheus.NewRegistry()}
	mgr, err := auth.New(session.NewStore(kv), client, kv, auth.Options{
		LoginTimeout:         cfg.LoginTimeout,
		RefreshTimeout:       cfg.RefreshTimeout,
		InitTimeout:          cfg.InitTimeout,
		LogoutTimeout:        cfg.LogoutTimeout,
		TokenRefreshInterval: cfg.TokenRefreshInterval,
		ReconcileInterval:    cfg.ReconcileInterval,
		MaxRefreshFailures:   cfg.MaxRefreshFailures,
		Logger:               log,
		Metrics:              auth.NewMetrics(a.reg),
		OnTransition: func(from, to auth.State) {
			if a.transitions != nil {
				a.transitions(from, to)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	a.mgr = mgr
	a.gate = gate.New(mgr, gate.Options{PendingTimeout: cfg.PendingTimeout, StrictAdmin: cfg.StrictAdmin})
	a.portal = portal.New(client, a.gate, portal.Options{OnUnauthorized: mgr.SignalForceLogout, Logger: log})
	log.Debug("app ready", zap.String("instance", mgr.InstanceID()), zap.String("storage", kv.Dir()))
	return a, nil
}

func (a *app) close() {
	a.mgr.Close()
	_ = a.log.Sync()
}
