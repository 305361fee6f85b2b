// Command ariad is the Aria Runtime daemon: it loads configuration, wires
// the full runtime (§4.12), and serves the container lifecycle IPC socket
// (§6), the ICC HTTP surface (§4.6), and the gRPC session service plus its
// HTTP facade (§4.12's supplemented gRPC surface) until terminated.
//
// Usage:
//
//	ariad serve --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ariacorp/ariarun/internal/config"
	"github.com/ariacorp/ariarun/internal/container"
	"github.com/ariacorp/ariarun/internal/icc"
	"github.com/ariacorp/ariarun/internal/runtime"
	"github.com/ariacorp/ariarun/internal/sessiongw"
	"github.com/ariacorp/ariarun/internal/sessionsvc"
)

// CLI is ariad's command surface, the daemon counterpart of ariactl's
// kong.CLI (cmd/ariactl/main.go) — grounded on the teacher's cmd/hector
// CLI/ServeCmd split.
type CLI struct {
	Serve ServeCmd `cmd:"" help:"Start the Aria Runtime daemon."`
}

// ServeCmd loads a config file and runs the daemon until SIGINT/SIGTERM.
type ServeCmd struct {
	Config string `short:"c" help:"Path to config file." type:"path" default:"/etc/aria/config.yaml"`
}

func (c *ServeCmd) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("ariad: shutting down")
		cancel()
	}()

	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("ariad: load config: %w", err)
	}

	logger := slog.Default()
	rt, err := runtime.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("ariad: build runtime: %w", err)
	}

	ipcServer := container.NewIPCServer(rt.Container, cfg.Server.IPCSocket, logger)
	iccServer := icc.New(cfg.Server.ICCAddr, rt, rt.Tokens, icc.WithLogger(logger))

	grpcServer := grpc.NewServer()
	sessionsvc.RegisterSessionServiceServer(grpcServer, sessionsvc.NewServer(rt))

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("ariad: listen grpc %s: %w", cfg.Server.GRPCAddr, err)
	}

	gwClient, err := sessionsvc.Dial(cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("ariad: dial session service: %w", err)
	}
	defer gwClient.Close()
	gwServer := &http.Server{Addr: cfg.Server.GatewayAddr, Handler: sessiongw.New(gwClient)}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("ariad: ipc listening", "socket", cfg.Server.IPCSocket)
		return ipcServer.Serve(gctx)
	})
	group.Go(func() error {
		slog.Info("ariad: icc listening", "addr", cfg.Server.ICCAddr)
		return iccServer.ListenAndServe(gctx)
	})
	group.Go(func() error {
		slog.Info("ariad: grpc session service listening", "addr", cfg.Server.GRPCAddr)
		errCh := make(chan error, 1)
		go func() { errCh <- grpcServer.Serve(grpcLis) }()
		select {
		case err := <-errCh:
			return err
		case <-gctx.Done():
			grpcServer.GracefulStop()
			return nil
		}
	})
	group.Go(func() error {
		slog.Info("ariad: session gateway listening", "addr", cfg.Server.GatewayAddr)
		errCh := make(chan error, 1)
		go func() { errCh <- gwServer.ListenAndServe() }()
		select {
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		case <-gctx.Done():
			return gwServer.Shutdown(context.Background())
		}
	})

	err = group.Wait()

	for _, userID := range rt.ActiveUserIDs() {
		rt.Container.EmergencyCleanup(context.Background(), userID)
	}
	if closeErr := rt.Close(); closeErr != nil {
		slog.Error("ariad: close runtime", "error", closeErr)
	}
	return err
}

func main() {
	var cli CLI
	k := kong.Parse(&cli,
		kong.Name("ariad"),
		kong.Description("Aria Runtime daemon"),
		kong.UsageOnError(),
	)
	k.FatalIfErrorf(k.Run())
}
