// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"

	"github.com/luxfi/whispr/vms"
	"github.com/luxfi/whispr/vms/whisprvm"
)

const (
	apiPrefix       = "/ext/whispr"
	shutdownTimeout = 10 * time.Second
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:           "whisprd",
		Short:         "Runs the Whispr confidential AMM",
		RunE:          runFunc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddFlags(c.Flags())
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	config, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}
	return run(c.Context(), log.Root(), config)
}

func openDB(dir string) (database.Database, error) {
	if dir == "" {
		return memdb.New(), nil
	}
	return badgerdb.New(dir, nil, "", nil)
}

func run(ctx context.Context, logger log.Logger, config *Config) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}

	db, err := openDB(config.DBDir)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	factory := &whisprvm.Factory{Registerer: registry}
	vmIntf, err := factory.New(logger)
	if err != nil {
		return err
	}
	vm := vmIntf.(*whisprvm.VM)

	vmConfig, err := json.Marshal(config.VM)
	if err != nil {
		return err
	}
	if err := vm.Initialize(ctx, db, vmConfig); err != nil {
		return errors.Join(err, db.Close())
	}
	if err := vm.Start(ctx); err != nil {
		return errors.Join(err, vm.Shutdown(ctx))
	}

	handler, err := newHandler(ctx, vm, registry, config.CORSOrigins)
	if err != nil {
		return errors.Join(err, vm.Shutdown(ctx))
	}
	server := &http.Server{
		Addr:              config.Address(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving whispr API",
			log.String("address", server.Addr),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(server.Shutdown(shutdownCtx), vm.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

// newHandler mounts the VM API, /health and /metrics behind CORS.
func newHandler(ctx context.Context, vm *whisprvm.VM, gatherer prometheus.Gatherer, origins []string) (http.Handler, error) {
	router := mux.NewRouter()
	if _, err := vms.Mount(ctx, router, apiPrefix, vm); err != nil {
		return nil, err
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		details, err := vm.HealthCheck(r.Context())
		status := http.StatusOK
		body := map[string]interface{}{
			"healthy": err == nil,
			"details": details,
		}
		if err != nil {
			status = http.StatusServiceUnavailable
			body["error"] = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router), nil
}
