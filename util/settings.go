package util

import (
	"crypto/rand"
	"fmt"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "TRAFFIC"

var Config = viper.New()

var config_listeners []func()

func RegisterNewConfigListener(new_listener func()) {
	for _, listener := range config_listeners {
		if reflect.ValueOf(new_listener).Pointer() == reflect.ValueOf(listener).Pointer() {
			Logger.Warn().Msg("config listener already registered")
			return
		}
	}
	config_listeners = append(config_listeners, new_listener)
}

func OnNewConfig() {
	for _, listener := range config_listeners {
		listener()
	}
}

func GetRandString(n int) string {
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, n)
	for i := range b {
		randBytes := make([]byte, 1)
		if _, err := rand.Read(randBytes); err != nil {
			b[i] = letterBytes[i%len(letterBytes)]
		} else {
			b[i] = letterBytes[int(randBytes[0])%len(letterBytes)]
		}
	}
	return string(b)
}

// Duration reads an integer key expressed in unit.
func Duration(key string, unit time.Duration) time.Duration {
	return time.Duration(Config.GetInt64(key)) * unit
}

func setDefaults() {
	Config.SetDefault("Log_level", "info")
	Config.SetDefault("Log_format", "console")

	// controller link
	Config.SetDefault("Serial_port", "/dev/ttyACM0")
	Config.SetDefault("Baud_rate", 9600)
	Config.SetDefault("Read_timeout_ms", 100)
	Config.SetDefault("Settle_ms", 2000)

	// counts
	Config.SetDefault("Count_source", "file")
	Config.SetDefault("Counts_file", "carsCount.txt")
	Config.SetDefault("Counts_topic", "traffic/counts")

	// engine cadence
	Config.SetDefault("Tick_interval_ms", 500)
	Config.SetDefault("Poll_interval_ms", 50)
	Config.SetDefault("Cycle_timeout_s", 60)
	Config.SetDefault("Source_backoff_s", 2)
	Config.SetDefault("Exclusive_green", true)

	// presentation
	Config.SetDefault("Console_display", true)
	Config.SetDefault("Details_port", 8080)
	Config.SetDefault("Forwarder.enabled", false)
	Config.SetDefault("Forwarder.workers", 2)
	Config.SetDefault("Forwarder.timeout_ms", 2000)

	// mqtt
	Config.SetDefault("Mqtt_enabled", false)
	Config.SetDefault("Broker_URI", "tcp://mqtt")
	Config.SetDefault("Cleansess", false)
	Config.SetDefault("Id_base", "traffic_controller")
	Config.SetDefault("Username", "")
	Config.SetDefault("Password", "")
	Config.SetDefault("State_topic", "traffic/state")
	Config.SetDefault("Online_topic", "traffic/online")
	Config.SetDefault("Ha_discovery", true)
}

func SetupConfig() {
	Config.SetEnvPrefix(ENV_PREFIX)
	setDefaults()

	// config file
	Config.SetConfigName("traffic_controller")
	Config.AddConfigPath("/")
	Config.AddConfigPath("./")
	Config.AddConfigPath("./config")
	Config.AddConfigPath("/etc")
	Config.AddConfigPath("/traffic_controller")
	Config.AddConfigPath("/traffic_controller/config")

	err := Config.ReadInConfig()
	if err != nil {
		Logger.Error().Msgf("unable to read config file: %v", fmt.Errorf("%v", err))
	}

	// environment variables
	Config.AutomaticEnv()

	// watch for changes
	Config.WatchConfig()
	Config.OnConfigChange(func(e fsnotify.Event) {
		Logger.Info().Msgf("Config file changed: %v", e.Name)
		Logger.Debug().Msgf("Config Additional Info: %v", e.String())
		OnNewConfig()
	})
}
