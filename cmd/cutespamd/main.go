package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/nightfall-oss/cutespam/internal/config"
	"github.com/nightfall-oss/cutespam/internal/core"
	"github.com/nightfall-oss/cutespam/rpcfront"
)

var gitCommitSHA = ""

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchInterrupts(ctx, cancel)

	app := &cli.App{
		Name:        "cutespamd",
		Version:     gitCommitSHA,
		Description: "Personal image-archive perceptual-hash index, catalog, sync, and RPC daemon",
		Flags:       append(newKlogFlagSet(), flagConfig, flagDBPath, flagSocket),
		Action:      runDaemon,
	}
	sort.Sort(cli.FlagsByName(app.Flags))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}

// watchInterrupts cancels ctx on the first SIGINT/SIGTERM; per spec.md
// §5, any further signal is logged and otherwise ignored rather than
// being allowed to kill the process immediately.
func watchInterrupts(ctx context.Context, cancel context.CancelFunc) {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(interrupt)

	first := true
	for {
		select {
		case <-interrupt:
			if first {
				fmt.Println()
				klog.Info("received interrupt signal, shutting down")
				cancel()
				first = false
			} else {
				klog.Info("received repeated interrupt signal, already shutting down")
			}
		case <-ctx.Done():
			return
		}
	}
}

var (
	configPath string
	dbPath     string
	socketPath string
)

var flagConfig = &cli.StringFlag{
	Name:        "config",
	Usage:       "path to the YAML config file",
	EnvVars:     []string{"CUTESPAM_CONFIG"},
	Value:       "~/.config/cutespam/config.yml",
	Destination: &configPath,
}

var flagDBPath = &cli.StringFlag{
	Name:        "db",
	Usage:       "path to the catalog SQLite database",
	EnvVars:     []string{"CUTESPAM_DB"},
	Value:       "~/.local/share/cutespam/catalog.db",
	Destination: &dbPath,
}

var flagSocket = &cli.StringFlag{
	Name:        "socket",
	Usage:       "path to the RpcFront Unix domain socket",
	EnvVars:     []string{"CUTESPAM_SOCKET"},
	Value:       "~/.local/share/cutespam/cutespamd.sock",
	Destination: &socketPath,
}

func runDaemon(c *cli.Context) error {
	ctx := c.Context

	resolvedConfig, err := expandHome(configPath)
	if err != nil {
		return err
	}
	cfg, err := loadOrDefaultConfig(resolvedConfig)
	if err != nil {
		return err
	}
	imageFolder, err := cfg.ResolvedImageFolder()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(imageFolder, 0o755); err != nil {
		return fmt.Errorf("cutespamd: creating image folder: %w", err)
	}

	resolvedDB, err := expandHome(dbPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolvedDB), 0o755); err != nil {
		return fmt.Errorf("cutespamd: creating database directory: %w", err)
	}

	co, err := core.New(ctx, cfg, resolvedDB)
	if err != nil {
		return err
	}
	defer co.Close()

	resolvedSocket, err := expandHome(socketPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolvedSocket), 0o755); err != nil {
		return fmt.Errorf("cutespamd: creating socket directory: %w", err)
	}
	listener, err := rpcfront.Listen(resolvedSocket)
	if err != nil {
		return err
	}

	srv := &rpcfront.Server{
		Lock:         co.Lock,
		Catalog:      co.Catalog,
		Engine:       co.Engine,
		Synchronizer: co.Synchronizer,
		HashBits:     cfg.HashLength,
	}

	klog.Infof("cutespamd: listening on %s, watching %s", resolvedSocket, cfg.ImageFolder)

	errc := make(chan error, 2)
	go func() { errc <- rpcfront.Serve(ctx, listener, srv) }()
	go func() { errc <- co.Run(ctx) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		<-errc // wait for whichever of the two goroutines notices cancellation first
		return nil
	}
}

func loadOrDefaultConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Default()
		return &cfg, cfg.Validate()
	}
	return config.Load(path)
}

func expandHome(p string) (string, error) {
	if len(p) == 0 || p[0] != '~' {
		return filepath.Abs(p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cutespamd: resolving ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}
