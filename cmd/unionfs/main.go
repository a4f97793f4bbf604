// Command unionfs mounts a union of two backing directories at a mount
// point, routing a fixed set of relative path prefixes to the alternate
// backend and everything else to the default backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/clientfs/unionfs/internal/backend"
	"github.com/clientfs/unionfs/internal/config"
	"github.com/clientfs/unionfs/internal/metrics"
	"github.com/clientfs/unionfs/internal/routing"
	"github.com/clientfs/unionfs/internal/unionfs"
	"github.com/clientfs/unionfs/pkg/clientfserr"
	"github.com/clientfs/unionfs/pkg/utils"
)

const usage = "usage: unionfs [-config path] <mountpoint> <alternate-dir> [alternate-path ...]"

func main() {
	if err := run(os.Args[1:]); err != nil {
		code := 1
		if cfErr, ok := err.(*clientfserr.Error); ok {
			fmt.Fprintln(os.Stderr, cfErr.Error())
			code = cfErr.Kind.ExitCode()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(code)
	}
}

func run(args []string) error {
	args, configPath := extractConfigFlag(args)

	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return clientfserr.Wrap(clientfserr.KindArgumentInvalid, "unionfs", "load config file", err)
		}
	}
	cfg.LoadFromEnv("UNIONFS")
	if err := cfg.Validate(); err != nil {
		return clientfserr.Wrap(clientfserr.KindArgumentInvalid, "unionfs", "validate config", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return clientfserr.Wrap(clientfserr.KindArgumentInvalid, "unionfs", "build logger", err)
	}
	defer logger.Close()

	if len(args) < 2 {
		return clientfserr.New(clientfserr.KindArgumentInvalid, "unionfs", usage)
	}
	mountpoint := args[0]
	alternateDir := args[1]
	alternatePaths := args[2:]

	if os.Geteuid() != 0 {
		return clientfserr.New(clientfserr.KindPrivilegeMissing, "unionfs", "unionfs must run as root to impersonate callers")
	}

	if err := backend.EnsureIsDir(mountpoint); err != nil {
		return clientfserr.Wrap(clientfserr.KindBackendUnavailable, "unionfs", "mount point", err)
	}
	if err := backend.EnsureIsDir(alternateDir); err != nil {
		return clientfserr.Wrap(clientfserr.KindBackendUnavailable, "unionfs", "alternate directory", err)
	}

	table, err := routing.NewTable(alternatePaths)
	if err != nil {
		return clientfserr.Wrap(clientfserr.KindArgumentInvalid, "unionfs", "alternate path table", err)
	}

	// Both backend descriptors are acquired before the mount happens, so
	// that mounting over mountpoint's own directory never shadows the
	// descriptor already open on it.
	def, err := backend.Open("default", mountpoint)
	if err != nil {
		return clientfserr.Wrap(clientfserr.KindBackendUnavailable, "unionfs", "open default backend", err)
	}
	alt, err := backend.Open("alternate", alternateDir)
	if err != nil {
		return clientfserr.Wrap(clientfserr.KindBackendUnavailable, "unionfs", "open alternate backend", err)
	}

	var collector *metrics.Collector
	if cfg.Monitoring.Metrics.Enabled {
		collector, err = metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Addr:      cfg.Monitoring.Metrics.Addr,
			Path:      cfg.Monitoring.Metrics.Path,
			Namespace: "unionfs",
			Subsystem: "fs",
		})
		if err != nil {
			return clientfserr.Wrap(clientfserr.KindBackendUnavailable, "unionfs", "start metrics collector", err)
		}
	}

	fsys := unionfs.New(def, alt, table, collector)

	server, err := fs.Mount(mountpoint, fsys.Root(), &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:       "unionfs",
			Name:         "unionfs",
			SingleThreaded: true,
			AllowOther:   true,
		},
	})
	if err != nil {
		return clientfserr.Wrap(clientfserr.KindBackendUnavailable, "unionfs", "mount FUSE filesystem", err)
	}

	logger.Infof("mounted union filesystem at %s (alternate=%s, routes=%v)", mountpoint, alternateDir, table.Entries())

	ctx, cancel := context.WithCancel(context.Background())
	if collector != nil {
		go func() {
			if err := collector.Start(ctx); err != nil {
				logger.Errorf("metrics collector stopped: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, unmounting")
		_ = server.Unmount()
	}()

	server.Wait()
	cancel()
	return nil
}

func extractConfigFlag(args []string) ([]string, string) {
	for i, a := range args {
		if a == "-config" && i+1 < len(args) {
			rest := append([]string{}, args[:i]...)
			rest = append(rest, args[i+2:]...)
			return rest, args[i+1]
		}
	}
	return args, ""
}

func newLogger(cfg *config.Configuration) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	var output *os.File = os.Stderr
	if cfg.Global.LogFile != "" {
		f, err := os.OpenFile(cfg.Global.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		output = f
	}
	loggerCfg := &utils.StructuredLoggerConfig{
		Level:         level,
		Output:        output,
		Format:        utils.FormatText,
		IncludeCaller: false,
	}
	if cfg.Global.LogJSON {
		loggerCfg.Format = utils.FormatJSON
	}
	return utils.NewStructuredLogger(loggerCfg)
}
