package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/openquad/quadpilot/internal/pilot"
	"github.com/openquad/quadpilot/pkg/hal"
	"github.com/openquad/quadpilot/pkg/log"
	"github.com/openquad/quadpilot/pkg/util"
)

type consoleConfig struct {
	// Device is the serial console port; empty means stdio
	Device string `mapstructure:"device"`
	Baud   int    `mapstructure:"baud"`
}

type config struct {
	Pilot       pilot.Config  `mapstructure:"pilot"`
	Console     consoleConfig `mapstructure:"console"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	LogMode     string        `mapstructure:"log_mode"`
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "quadpilot",
	Short: "quadpilot runs the flight controller: boot checks, mode switching and the fixed-rate control loop",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the config file")
	rootCmd.PersistentFlags().String("platform", "sim", "hardware backend (sim, linux)")
	rootCmd.PersistentFlags().String("console-device", "", "serial console device, stdio when empty")
	rootCmd.PersistentFlags().Int("console-baud", 38400, "serial console baud rate")
	rootCmd.PersistentFlags().String("metrics-addr", ":9667", "prometheus listen address")
	rootCmd.PersistentFlags().String("log-mode", "development", "log mode (development, production)")
}

func loadConfig(cmd *cobra.Command) (config, error) {
	v := viper.New()
	v.SetDefault("pilot.hal.platform", "sim")
	v.SetDefault("console.baud", 38400)
	v.SetDefault("metrics_addr", ":9667")
	v.SetDefault("log_mode", "development")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("quadpilot")
		v.AddConfigPath("/etc/quadpilot")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("QUADPILOT")
	v.AutomaticEnv()

	flags := cmd.PersistentFlags()
	_ = v.BindPFlag("pilot.hal.platform", flags.Lookup("platform"))
	_ = v.BindPFlag("console.device", flags.Lookup("console-device"))
	_ = v.BindPFlag("console.baud", flags.Lookup("console-baud"))
	_ = v.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))
	_ = v.BindPFlag("log_mode", flags.Lookup("log-mode"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// stdioConsole stands in for the serial port during bench runs.
type stdioConsole struct{}

func (stdioConsole) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConsole) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioConsole) Close() error                { return nil }

func openConsole(cfg consoleConfig) (io.ReadWriteCloser, error) {
	if cfg.Device == "" {
		return stdioConsole{}, nil
	}
	port, err := serial.Open(cfg.Device, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open console port %s: %w", cfg.Device, err)
	}
	return port, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// setup logger
	var zapLogger *zap.Logger
	if cfg.LogMode == "production" {
		zapLogger = zap.Must(zap.NewProduction())
	} else {
		zapLogger = zap.Must(zap.NewDevelopment())
	}
	zapLogger = zapLogger.With(zap.String("app", "quadpilot"))
	_ = zap.ReplaceGlobals(zapLogger.With(zap.String("scope", "global")))

	ctx, cancelCtx := context.WithCancelCause(log.IntoContext(cmd.Context(), zapLogger))
	defer cancelCtx(context.Canceled)

	hw, err := hal.New(cfg.Pilot.Hal)
	if err != nil {
		return fmt.Errorf("failed to create hardware backend: %w", err)
	}

	transport, err := openConsole(cfg.Console)
	if err != nil {
		return err
	}

	p := pilot.New(cfg.Pilot, hw, transport, util.RealClock{})

	var wg sync.WaitGroup

	// setup stop signal handlers
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case sig := <-sigs:
			cancelCtx(fmt.Errorf("signal %s received", sig))
		}
	}()

	// Run the flight controller
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := p.Run(ctx)
		if err != nil && err != context.Canceled {
			log.FromContext(ctx).Error("Failed to run flight controller", zap.Error(err))
			cancelCtx(err)
		}
	}()

	// Closing the transport is what unblocks a console read pending on
	// the serial port.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if err := transport.Close(); err != nil {
			log.FromContext(ctx).Error("Failed to close console transport", zap.Error(err))
		}
	}()

	// setup prometheus endpoint
	promHandler := http.NewServeMux()
	promHandler.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: promHandler}
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.FromContext(ctx).Error("Failed to start prometheus server", zap.Error(err))
			cancelCtx(err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.FromContext(ctx).Error("Failed to shutdown prometheus server", zap.Error(err))
		}
	}()

	wg.Wait()

	if err := p.Close(); err != nil {
		log.FromContext(ctx).Error("Failed to close hardware", zap.Error(err))
	}

	if err := context.Cause(ctx); err != nil && err != context.Canceled {
		return err
	}
	log.FromContext(ctx).Info("Exiting")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
