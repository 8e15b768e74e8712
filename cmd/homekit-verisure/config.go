package main

import (
	"errors"
	"os"
	"time"

	alarm "github.com/caarlos0/homekit-verisure"
	"github.com/joho/godotenv"
)

type Config struct {
	Username     string        `env:"VERISURE_USERNAME,notEmpty"`
	Password     string        `env:"VERISURE_PASSWORD,notEmpty"`
	BaseURL      string        `env:"VERISURE_URL"      envDefault:"https://mypages.verisure.com"`
	Code         string        `env:"CODE"`
	ShowAlarm    bool          `env:"SHOW_ALARM"        envDefault:"true"`
	ScanInterval time.Duration `env:"SCAN_INTERVAL"     envDefault:"30s"`
	Address      string        `env:"LISTEN"            envDefault:":9009"`
	DBPath       string        `env:"DB_PATH"           envDefault:"./db"`
	Pin          string        `env:"PIN"`
	MQTTBroker   string        `env:"MQTT_BROKER"`
	MQTTPrefix   string        `env:"MQTT_PREFIX"       envDefault:"verisure"`
	MQTTClientID string        `env:"MQTT_CLIENT_ID"    envDefault:"homekit-verisure"`
	MQTTUsername string        `env:"MQTT_USERNAME"`
	MQTTPassword string        `env:"MQTT_PASSWORD"`
}

// code returns the configured code, or nil if there's none, in which case
// commands sent with it are ignored.
func (c Config) code() *string {
	if c.Code == "" {
		return nil
	}
	code := c.Code
	return &code
}

// invalidCodePanels returns the panels that won't accept the configured code.
func (c Config) invalidCodePanels(panels []alarm.Panel) []alarm.Panel {
	code := c.code()
	if code == nil {
		return nil
	}
	var result []alarm.Panel
	for _, p := range panels {
		if !alarm.ValidCode(p, *code) {
			result = append(result, p)
		}
	}
	return result
}

// loadDotEnv loads environment variables from path. A missing file is not an
// error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
