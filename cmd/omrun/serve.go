package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"omrun/internal/config"
	"omrun/internal/httpapi"
	"omrun/internal/sample"
)

func (c *cli) serveCmd() *cobra.Command {
	var inferTimeout int64
	var corsOrigins []string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Keep one model loaded and serve inferences over HTTP",
		Example: "  omrun serve --model resnet50.om --addr :8080",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.resolve()
			if err != nil {
				return err
			}
			if err := requireModel(cfg); err != nil {
				return err
			}
			httpapi.SetInferTimeoutSeconds(inferTimeout)
			httpapi.SetCORSOptions(len(corsOrigins) > 0, corsOrigins,
				[]string{http.MethodGet, http.MethodPost}, []string{"Content-Type"})
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, cfg)
		},
	}
	addModelFlags(cmd, &c.flags)
	f := cmd.Flags()
	f.StringVar(&c.flags.Addr, "addr", "", "HTTP listen address (default :8080)")
	f.IntVar(&c.flags.TopK, "top-k", 0, "Default elements to rank per output (default 5)")
	f.BoolVar(&c.flags.NoRank, "no-rank", false, "Do not rank unless a request sets top_k")
	f.Int64Var(&c.flags.MaxBodyBytes, "max-body-bytes", 0, "Largest accepted /infer body (default 64 MiB)")
	f.StringVar(&c.flags.OutputDType, "dtype", "", "Output element type: float32|float16 (default float32)")
	f.Int64Var(&inferTimeout, "infer-timeout", 0, "Seconds a request may wait for the model (0 disables)")
	f.StringSliceVar(&corsOrigins, "cors-origin", nil, "Allowed CORS origin (repeatable); CORS is off when unset")
	return cmd
}

func (c *cli) serve(ctx context.Context, cfg config.Config) error {
	opts, err := sampleOptions(c, cfg)
	if err != nil {
		return err
	}
	res, err := c.openResource(cfg)
	if err != nil {
		return err
	}
	defer res.Close()
	sess, err := sample.OpenSession(res.Runtime(), res.Mode(), cfg.Backend, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			c.log.Error().Err(err).Msg("close session")
		}
	}()

	httpapi.SetLogger(c.log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	defer httpapi.SetMaxBodyBytes(0)
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(sess), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	httpapi.SetBaseContext(gctx)
	defer httpapi.SetBaseContext(nil)
	g.Go(func() error {
		c.log.Info().Str("addr", cfg.Addr).Str("model", cfg.Model).Str("backend", cfg.Backend).Msg("omrun listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.log.Warn().Err(err).Msg("graceful shutdown error")
		}
		return nil
	})
	return g.Wait()
}
