// The parenting-server command runs the in-memory development backend: the
// messaging REST API plus the push stream, for local work against the client
// daemon without the production backend.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/limeechian/parenting-app-sub004/internal/models"
	"github.com/limeechian/parenting-app-sub004/server"
)

func main() {
	var (
		addr string
		seed bool
	)

	rootCmd := &cobra.Command{
		Use:   "parenting-server",
		Short: "In-memory development backend for the messaging client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, seed)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVar(&addr, "listen", "127.0.0.1:8080", "listen address")
	rootCmd.Flags().BoolVar(&seed, "seed", false, "seed demo users and a conversation")

	if err := rootCmd.Execute(); err != nil {
		jww.FATAL.Printf("%v", err)
		os.Exit(1)
	}
}

func run(addr string, seed bool) error {
	jww.SetStdoutOutput(os.Stderr)
	jww.SetStdoutThreshold(jww.LevelInfo)

	store := server.NewStore()
	if seed {
		store.AddUser(models.Participant{ID: "alice", DisplayName: "Alice"})
		store.AddUser(models.Participant{ID: "bob", DisplayName: "Bob"})
		jww.INFO.Printf("seeded users alice and bob")
	}
	srv := server.New(store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Addr: addr, Handler: srv.Router()}
	go func() {
		<-ctx.Done()
		jww.INFO.Printf("shutting down")
		httpServer.Shutdown(context.Background())
	}()

	jww.INFO.Printf("development backend listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
