package cmd

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/l7mp/reflow/pkg/server"
	"github.com/l7mp/reflow/pkg/transport"
)

var (
	addr     string
	manifest string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and serve the websocket protocol",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := setupLogger()
		if err != nil {
			return err
		}
		log.Info(fmt.Sprintf("starting reflow %s", build.String()))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine := server.New(log)
		engineErr := make(chan error, 1)
		go func() { engineErr <- engine.Run(ctx) }()
		go func() {
			for ev := range engine.Errors() {
				log.Info("engine error", "query", ev.Query,
					"category", ev.Category, "message", ev.Message)
			}
		}()

		if manifest != "" {
			m, err := transport.LoadManifest(manifest)
			if err != nil {
				return err
			}
			if err := m.Apply(ctx, engine, log); err != nil {
				return err
			}
			log.V(1).Info("manifest applied", "path", manifest,
				"attributes", len(m.Attributes), "sources", len(m.Sources))
		}

		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           transport.NewServer(log, engine),
			ReadHeaderTimeout: 10 * time.Second,
		}
		httpErr := make(chan error, 1)
		go func() { httpErr <- httpSrv.ListenAndServe() }()
		log.Info("listening", "addr", addr)

		select {
		case <-ctx.Done():
			httpSrv.Close() //nolint:errcheck
			<-engineErr
			log.Info("shutting down")
			return nil
		case err := <-httpErr:
			return err
		case err := <-engineErr:
			httpSrv.Close() //nolint:errcheck
			return err
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "The address the websocket endpoint binds to.")
	serveCmd.Flags().StringVar(&manifest, "manifest", "", "Path of a YAML attribute/source manifest applied at startup.")
	rootCmd.AddCommand(serveCmd)
}
