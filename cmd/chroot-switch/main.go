// Command chroot-switch escapes any chroot jail the calling process has
// inherited, re-enters a named client's subtree (or the real root for the
// privileged "pid1" alias), and execs a command there.
package main

import (
	"fmt"
	"os"

	"github.com/clientfs/unionfs/internal/chroot"
	"github.com/clientfs/unionfs/internal/config"
	"github.com/clientfs/unionfs/pkg/clientfserr"
	"github.com/clientfs/unionfs/pkg/utils"
)

const usage = "usage: chroot-switch [-config path] <client> [command [args...]]"

const (
	defaultConfigDir  = "/bedrock/etc/clients.d"
	defaultClientsDir = "/bedrock/clients"
)

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
			return clientfserr.Wrap(clientfserr.KindArgumentInvalid, "chroot-switch", "load config file", err)
		}
	}
	cfg.LoadFromEnv("CHROOT_SWITCH")
	if err := cfg.Validate(); err != nil {
		return clientfserr.Wrap(clientfserr.KindArgumentInvalid, "chroot-switch", "validate config", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return clientfserr.Wrap(clientfserr.KindArgumentInvalid, "chroot-switch", "build logger", err)
	}
	defer logger.Close()

	if len(args) < 1 {
		return clientfserr.New(clientfserr.KindArgumentInvalid, "chroot-switch", usage)
	}
	clientName := args[0]
	command := args[1:]

	layout := chroot.Config{ConfigDir: defaultConfigDir, ClientsDir: defaultClientsDir}

	if err := chroot.EnsureCapSysChroot(os.Args[0]); err != nil {
		return err
	}

	var securityCheck chroot.ConfigSecurityCheck = checkConfigSecure
	if clientName != chroot.PrivilegedAlias {
		if err := securityCheck(layout.ConfigPath(clientName)); err != nil {
			return clientfserr.Wrap(clientfserr.KindConfigInsecure, "chroot-switch", "config security check", err)
		}
	}

	warn := func(msg string) { logger.Warn(msg) }
	originalCwd := chroot.CurrentWorkingDirectory(warn)

	if err := chroot.BreakOutOfChroot(layout.ConfigDir); err != nil {
		return err
	}

	return chroot.ResolveAndExec(clientName, layout.ClientPath(clientName), originalCwd, command, warn)
}

// checkConfigSecure stands in for the external configuration-security
// predicate spec.md scopes out of this repository. It rejects a config
// file that is missing or world-writable; it does not check the file's
// owner. Deployments that need a different trust policy supply their own
// by replacing this function.
func checkConfigSecure(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("%s is world-writable", path)
	}
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
