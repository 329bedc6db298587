package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/pipeline"
)

// NewRunCmd creates the run command.
func NewRunCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the protocol hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, cfgFile, logLevel)
		},
	}

	// Driver flags
	cmd.Flags().String("line-udp", "", "syslog/line UDP listen address host:port (adds a line driver)")
	cmd.Flags().String("snmp-trap", "", "SNMP trap listen address host:port (adds a trap driver)")
	cmd.Flags().String("community", "", "community string required on v1/v2c traps received via --snmp-trap")
	cmd.Flags().Bool("journal", false, "enable systemd journal driver")

	// Emitter flags
	cmd.Flags().Bool("stdout", false, "enable stdout emitter")
	cmd.Flags().String("stdout-format", "", "stdout output format (json, text)")

	// Hot-reload flag
	cmd.Flags().Bool("hot-reload", true, "enable hot-reload of config and rule files")

	return cmd
}

func runPipeline(cmd *cobra.Command, cfgFile, logLevel *string) error {
	cfg, err := config.Load(*cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := SetupLogging(resolveLogLevel(*logLevel, cmd.Flags().Changed("log-level"), cfg.LogLevel))

	if err := applyCLIOverrides(cmd, cfg); err != nil {
		return err
	}

	p, err := pipeline.New(cfg, log)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	log.Infof("starting protocol hub: drivers=%d, normalizers=%d, emitters=%d",
		p.DriverCount(), len(p.Normalizers()), p.EmitterCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	hotReloadEnabled, _ := cmd.Flags().GetBool("hot-reload")
	if *cfgFile != "" && hotReloadEnabled {
		startConfigWatcher(ctx, cmd, cfgFile, cfg.RuleFiles(), p, log)
	}

	go handleSignals(ctx, cancel, sigChan, cmd, cfgFile, p, log)
	go notifyReady(ctx, p, log)

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pipeline error: %w", err)
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("protocol hub stopped")
	return nil
}

// notifyReady tells systemd the hub is up once the drivers are listening.
// Outside systemd SdNotify is a no-op.
func notifyReady(ctx context.Context, p *pipeline.Pipeline, log logger.ILogger) {
	select {
	case <-p.Ready():
	case <-ctx.Done():
		return
	}
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warningf("sd_notify failed: %v", err)
		return
	}
	if sent {
		log.Debug("notified systemd: READY=1")
	}
}

func startConfigWatcher(ctx context.Context, cmd *cobra.Command, cfgFile *string, ruleFiles []string, p *pipeline.Pipeline, log logger.ILogger) {
	watcher := config.NewConfigWatcher(*cfgFile, log, ruleFiles...)
	if err := watcher.Start(ctx); err != nil {
		log.Warningf("failed to start config watcher: %v", err)
		return
	}

	log.Infof("hot-reload enabled: config=%s, rule files=%d", *cfgFile, len(ruleFiles))

	go func() {
		for {
			select {
			case newCfg := <-watcher.Changes():
				reconfigure(cmd, newCfg, p, log)
			case err := <-watcher.Errors():
				log.Errorf("config watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal, cmd *cobra.Command, cfgFile *string, p *pipeline.Pipeline, log logger.ILogger) {
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading config")
				newCfg, err := config.Load(*cfgFile)
				if err != nil {
					log.Errorf("failed to reload config: %v", err)
					continue
				}
				reconfigure(cmd, newCfg, p, log)
			case syscall.SIGINT, syscall.SIGTERM:
				log.Infof("received shutdown signal: %v", sig)
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func reconfigure(cmd *cobra.Command, cfg *config.Config, p *pipeline.Pipeline, log logger.ILogger) {
	if err := applyCLIOverrides(cmd, cfg); err != nil {
		log.Errorf("reconfigure failed: %v", err)
		return
	}
	if err := p.Reconfigure(cfg); err != nil {
		log.Errorf("reconfigure failed: %v", err)
	}
}

// applyCLIOverrides adds the drivers and emitters requested on the command
// line to cfg. It is applied to every reloaded config too.
func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if addr, _ := cmd.Flags().GetString("line-udp"); addr != "" {
		host, port, err := splitHostPort(addr)
		if err != nil {
			return fmt.Errorf("--line-udp: %w", err)
		}
		cfg.Drivers.Line = append(cfg.Drivers.Line, config.LineDriverConfig{
			PluginID: "cli-line-udp",
			Network:  "udp",
			Address:  host,
			Port:     port,
			Protocol: "SYSLOG",
		})
	}
	if addr, _ := cmd.Flags().GetString("snmp-trap"); addr != "" {
		host, port, err := splitHostPort(addr)
		if err != nil {
			return fmt.Errorf("--snmp-trap: %w", err)
		}
		community, _ := cmd.Flags().GetString("community")
		cfg.Drivers.Traps = append(cfg.Drivers.Traps, config.TrapDriverConfig{
			PluginID:  "cli-snmp-trap",
			Address:   host,
			Port:      port,
			Community: community,
		})
	}
	if v, _ := cmd.Flags().GetBool("journal"); v {
		cfg.Drivers.Journal.Enabled = true
	}
	if v, _ := cmd.Flags().GetBool("stdout"); v {
		cfg.Emitters.Stdout.Enabled = true
	}
	if format, _ := cmd.Flags().GetString("stdout-format"); format != "" {
		cfg.Emitters.Stdout.Format = format
	}

	cfg.ApplyDefaults()
	return cfg.Validate()
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}
