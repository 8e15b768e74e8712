package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/env/v11"
	alarm "github.com/caarlos0/homekit-verisure"
	"github.com/caarlos0/homekit-verisure/verisure"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const manufacturer = "Verisure"

func main() {
	log.Info(
		"homekit-verisure",
		"version", version,
		"commit", commit,
		"date", date,
		"info", strings.Join([]string{
			"Homekit bridge for Verisure alarm systems",
			"© Carlos Alexandro Becker",
			"https://becker.software",
		}, "\n"),
	)

	if err := loadDotEnv(".env"); err != nil {
		log.Fatal("could not load .env", "err", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	client := verisure.NewClient(
		cfg.Username,
		cfg.Password,
		verisure.WithBaseURL(cfg.BaseURL),
	)
	if err := client.Login(ctx); err != nil {
		log.Fatal("could not login to verisure", "err", err)
	}
	if err := client.Refresh(ctx); err != nil {
		log.Fatal("could not get alarm status", "err", err)
	}

	panels, err := verisure.Discover(meteredSession{client}, cfg.ShowAlarm)
	if err != nil {
		log.Fatal("could not discover alarms", "err", err)
	}

	registry := alarm.NewRegistry()
	registry.Register(panels...)
	if err := registry.Update(ctx); err != nil {
		log.Warn("could not update panels", "err", err)
	}
	for _, p := range cfg.invalidCodePanels(registry.Panels()) {
		log.Warn("configured code does not match the panel code format", "id", p.ID(), "format", p.CodeFormat())
	}
	log.Info("loaded panels", "count", len(registry.Panels()), "code", cfg.code() != nil)

	reg := meteredRegistry{registry}

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Verisure Bridge",
		Manufacturer: manufacturer,
		Firmware:     version,
	})

	alarms := setupAlarms(reg, cfg.code())

	var bus *MQTT
	if cfg.MQTTBroker != "" {
		bus = NewMQTT(cfg.MQTTPrefix, cfg.code(), reg)
		if err := bus.Connect(cfg); err != nil {
			log.Fatal("could not setup mqtt", "err", err)
		}
		defer bus.Close()
	}

	go func() {
		tick := time.NewTicker(cfg.ScanInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
			if err := registry.Update(ctx); err != nil {
				log.Error("could not update panels", "err", err)
			}
			for _, a := range alarms {
				a.Update()
			}
			if bus != nil {
				bus.Publish()
			}
		}
	}()

	fs := hap.NewFsStore(cfg.DBPath)

	server, err := hap.NewServer(fs, bridge.A, alarmAccessories(alarms)...)
	if err != nil {
		log.Fatal("fail to create server", "error", err)
	}
	server.Addr = cfg.Address
	if cfg.Pin != "" {
		server.Pin = cfg.Pin
	}
	server.ServeMux().Handle("/metrics", promhttp.Handler())
	registerAPI(server.ServeMux(), reg)
	server.ServeMux().Handle("/", indexHandler(reg))

	log.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}
}

func alarmAccessories(alarms []*SecuritySystem) []*accessory.A {
	var result []*accessory.A
	for _, a := range alarms {
		result = append(result, a.A)
	}
	return result
}
