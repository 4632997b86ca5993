package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/videonode/cmd"
	"github.com/smazurov/videonode/internal/api"
	"github.com/smazurov/videonode/internal/config"
	"github.com/smazurov/videonode/internal/devices"
	"github.com/smazurov/videonode/internal/events"
	"github.com/smazurov/videonode/internal/logging"
	"github.com/smazurov/videonode/internal/params"
	"github.com/smazurov/videonode/internal/session"
)

// Options is the CLI surface described in the original spec: an address
// and port to bind, the idle-reap timeout, a codec name for the startup log, optional
// pull-client mode, plus the ambient logging/config knobs the rest of the
// module carries.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	Addr        string `help:"Address to bind" default:"0.0.0.0" toml:"server.addr" env:"SERVER_ADDR"`
	Port        int    `help:"Port to listen on" short:"p" default:"8090" toml:"server.port" env:"SERVER_PORT"`
	IdleTimeout int    `help:"Idle session reap timeout in seconds" default:"30" toml:"server.idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	Codec       string `help:"Codec name reported in the startup log (mjpeg, h264); stream requests that omit codec use mjpeg" default:"mjpeg" toml:"server.codec" env:"SERVER_CODEC"`
	Connect     string `help:"Pull-client mode: connect to ip[:port] instead of serving (out of scope for this build)" default:"" toml:"server.connect" env:"SERVER_CONNECT"`

	LatencyConfig string `help:"Path to latency preset TOML file" default:"" toml:"latency.config_file" env:"LATENCY_CONFIG_FILE"`

	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingCapture string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingSession string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingDevices string `help:"Devices logging level" default:"info" toml:"logging.devices" env:"LOGGING_DEVICES"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			fmt.Fprintln(os.Stderr, "failed to load config:", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"api":      opts.LoggingAPI,
				"capture":  opts.LoggingCapture,
				"session":  opts.LoggingSession,
				"devices":  opts.LoggingDevices,
				"h264enc":  opts.LoggingCapture,
				"mp4frag":  opts.LoggingCapture,
				"udpframe": opts.LoggingCapture,
			},
		})
		logger := logging.GetLogger("main")

		if opts.Connect != "" {
			logger.Error("pull-client mode (--connect) is not implemented in this build", "connect", opts.Connect)
			os.Exit(1)
		}

		eventBus := events.New()

		paramsStore, err := params.NewStore(opts.LatencyConfig, logging.GetLogger("params"))
		if err != nil {
			logger.Error("failed to load latency presets", "error", err)
			os.Exit(1)
		}

		sessionMgr := session.New(time.Duration(opts.IdleTimeout)*time.Second, eventBus)

		deviceBroadcaster := &eventBusBroadcaster{bus: eventBus}
		detector := devices.NewDetector()
		monitorCtx, monitorCancel := context.WithCancel(context.Background())

		server := api.NewServer(&api.Options{
			AuthUsername:   opts.AuthUsername,
			AuthPassword:   opts.AuthPassword,
			SessionManager: sessionMgr,
			EventBus:       eventBus,
			ParamsStore:    paramsStore,
		})

		hooks.OnStart(func() {
			if err := detector.StartMonitoring(monitorCtx, deviceBroadcaster); err != nil {
				logger.Warn("device hotplug monitoring unavailable", "error", err)
			}

			addr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
			logger.Info("starting SilkCast", "addr", addr, "default_codec", opts.Codec)
			if startErr := server.Start(addr); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("HTTP server failed", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down SilkCast")
			monitorCancel()
			detector.StopMonitoring()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("error stopping HTTP server", "error", stopErr)
			}
			sessionMgr.Close()
			if closeErr := paramsStore.Close(); closeErr != nil {
				logger.Warn("error stopping latency preset watcher", "error", closeErr)
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateDevicesCmd())

	cli.Run()
}

// eventBusBroadcaster adapts internal/events.Bus to the
// devices.EventBroadcaster interface the hotplug monitor expects.
type eventBusBroadcaster struct {
	bus *events.Bus
}

func (b *eventBusBroadcaster) BroadcastDeviceDiscovery(action string, device devices.DeviceInfo, timestamp string) {
	b.bus.Publish(events.DeviceDiscoveryEvent{
		DevicePath: device.DevicePath,
		DeviceID:   device.DeviceId,
		Action:     action,
		Timestamp:  timestamp,
	})
}
