package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	. "github.com/elijahnyp/traffic_controller/util"

	"github.com/elijahnyp/traffic_controller/device"
	"github.com/elijahnyp/traffic_controller/engine"
	"github.com/elijahnyp/traffic_controller/source"
	"github.com/elijahnyp/traffic_controller/state"
)

var forwarder Forwarder

func engineTiming() engine.Timing {
	return engine.Timing{
		Tick:         Duration("tick_interval_ms", time.Millisecond),
		Poll:         Duration("poll_interval_ms", time.Millisecond),
		CycleTimeout: Duration("cycle_timeout_s", time.Second),
		Backoff:      Duration("source_backoff_s", time.Second),
	}
}

func deviceConfig() device.Config {
	return device.Config{
		Port:        Config.GetString("serial_port"),
		BaudRate:    Config.GetInt("baud_rate"),
		ReadTimeout: Duration("read_timeout_ms", time.Millisecond),
		Settle:      Duration("settle_ms", time.Millisecond),
	}
}

// countSource builds the configured count source. The MQTT source must be
// registered before the client connects so it is subscribed on connect.
func countSource() (source.CountSource, error) {
	switch kind := strings.ToLower(Config.GetString("count_source")); kind {
	case "", "file":
		path := Config.GetString("counts_file")
		Logger.Info().Msgf("reading counts from file %s", path)
		return source.NewFile(path), nil
	case "mqtt":
		if !Config.GetBool("mqtt_enabled") {
			return nil, fmt.Errorf("count_source mqtt needs mqtt_enabled")
		}
		t := source.NewTopic(Config.GetString("counts_topic"))
		RegisterMQTTSubscription(t.Name(), t.Handle)
		Logger.Info().Msgf("reading counts from topic %s", t.Name())
		return t, nil
	default:
		return nil, fmt.Errorf("unknown count_source %q", kind)
	}
}

func presentationSinks(publisher *StatePublisher) state.Sinks {
	sinks := state.Sinks{wsHub}
	if Config.GetBool("console_display") {
		sinks = append(sinks, NewConsoleBoard(os.Stdout, true))
	}
	if publisher != nil {
		sinks = append(sinks, publisher)
	}
	if forwarder.Enabled {
		sinks = append(sinks, forwardSink(&forwarder))
	}
	return sinks
}

func main() {
	os.Exit(run())
}

func run() int {
	LogInit("info")
	SetupConfig()
	RegisterNewConfigListener(func() { LogInit(Config.GetString("log_level")) })
	RegisterNewConfigListener(loadModel)
	OnNewConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := countSource()
	if err != nil {
		Logger.Error().Msgf("Error configuring count source: %v", err)
		return 1
	}

	var publisher *StatePublisher
	if Config.GetBool("mqtt_enabled") {
		if Config.GetBool("ha_discovery") {
			RegisterMQTTConnectHook("haadvertise", func(client MQTT.Client) {
				AdvertiseHA(currentModel(), client)
			})
		}
		if err := MqttInit(); err != nil {
			// auto reconnect takes over once the broker shows up
			Logger.Error().Msgf("Error connecting to MQTT: %v", err)
		}
		defer MqttClose()
		publisher = NewStatePublisher(Publish)
		go publisher.Run(ctx)
		go OnlinePinger(ctx)
		if Config.GetBool("ha_discovery") {
			go HAAdvertiser(ctx)
		}
	}

	if err := forwarder.MakeForwarder(); err != nil {
		Logger.Error().Msgf("Error starting forwarder: %v", err)
	}
	defer forwarder.Stop()

	link, err := device.Open(ctx, deviceConfig())
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		Logger.Error().Msgf("Error opening controller link: %v", err)
		return 1
	}

	syncEngine := engine.New(src, link,
		engine.WithTiming(engineTiming()),
		engine.WithTable(state.NewTable(Config.GetBool("exclusive_green"))),
		engine.WithSink(presentationSinks(publisher)),
	)

	var running atomic.Bool
	running.Store(true)
	monitor := NewMonitorServer()
	monitor.AddHandler("/", HomeHandler)
	monitor.AddHandler("/ws", ServeWebSocket(wsHub, syncEngine))
	monitor.AddHandler("/api/status", APIStatus(syncEngine))
	monitor.AddHandler("/status.png", StatusImage(syncEngine))
	monitor.AddHandler("/healthz", Healthz(running.Load))
	if err := monitor.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
	RegisterNewConfigListener(monitor.Restart) // details_port may have changed
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := monitor.Stop(shutdownCtx); err != nil {
			Logger.Error().Msgf("Error stopping monitor server: %v", err)
		}
	}()

	Logger.Info().Msg("ready")
	err = syncEngine.Run(ctx)
	running.Store(false)
	if err != nil {
		if errors.Is(err, engine.ErrTransport) {
			Logger.Error().Msgf("controller link failed, restart required: %v", err)
		} else {
			Logger.Error().Msgf("sync engine stopped: %v", err)
		}
		return 1
	}
	Logger.Info().Msg("shutdown complete")
	return 0
}

// OnlinePinger refreshes the availability topic.
func OnlinePinger(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		if Client != nil && Client.IsConnected() {
			if err := Publish(OnlineTopic(), false, "online"); err != nil {
				Logger.Error().Msgf("Error publishing online message: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// HAAdvertiser - advertises Home Assistant discovery messages every 5 minutes
func HAAdvertiser(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if Client != nil && Client.IsConnected() {
				Logger.Debug().Msg("Advertising Home Assistant discovery messages")
				AdvertiseHA(currentModel(), Client)
			}
		}
	}
}
