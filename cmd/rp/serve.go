package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"refportal/internal/app"
	"refportal/internal/feed"
	"refportal/internal/metrics"
	"refportal/internal/server"
	"refportal/internal/session"
)

func serveCmd() *cobra.Command {
	var basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("REFPORTAL_JWT_SECRET is required for sessions (run 'rp init')")
			}
			log := newLogger()
			defer log.Sync()

			ctx := cmd.Context()
			conn, e, err := app.Open(ctx, viper.GetString("workspace"), log)
			if err != nil {
				return err
			}
			defer conn.Close()
			ttl, err := e.Config.SessionTTL()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			e.Metrics = metrics.New(reg)
			broker := feed.NewBroker()
			broker.Metrics = e.Metrics
			broker.Log = log.Named("feed")
			e.Feed = broker

			g, gctx := errgroup.WithContext(ctx)
			if url := viper.GetString("redis-url"); url != "" {
				rf, closeRelay, err := app.RelayChanges(ctx, &e, url, viper.GetString("redis-channel"), log)
				if err != nil {
					return err
				}
				defer closeRelay()
				g.Go(func() error { return rf.Run(gctx) })
				log.Infow("relaying referral changes through redis", "channel", viper.GetString("redis-channel"))
			}
			if d := server.NewWebhookDispatcher(e, log.Named("webhooks")); d != nil {
				g.Go(func() error { return d.Run(gctx) })
			}

			handler, err := server.New(server.Config{
				Engine: e,
				Sessions: session.Manager{
					DB:     conn,
					Repo:   e.Repo,
					Events: e.Events,
					Secret: []byte(secret),
					TTL:    ttl,
				},
				BasePath: basePath,
				Gatherer: reg,
				Log:      log.Named("http"),
			})
			if err != nil {
				return err
			}
			addr := viper.GetString("addr")
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				fmt.Printf("Serving referral portal API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "session signing secret (or REFPORTAL_JWT_SECRET)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
