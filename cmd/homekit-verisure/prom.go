package main

import (
	"context"

	alarm "github.com/caarlos0/homekit-verisure"
	"github.com/caarlos0/homekit-verisure/verisure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var armStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_verisure",
	Subsystem:   "alarm",
	Name:        "state",
	Help:        "0: unknown, 1: disarmed, 2: armed home, 3: armed away",
	ConstLabels: map[string]string{},
}, []string{"id"})

var commandCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace:   "homekit_verisure",
	Subsystem:   "alarm",
	Name:        "commands_total",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"service"})

var requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace:   "homekit_verisure",
	Subsystem:   "client",
	Name:        "requests_total",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"op"})

var requestErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace:   "homekit_verisure",
	Subsystem:   "client",
	Name:        "request_errors_total",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"op"})

// meteredRegistry counts every dispatched command.
type meteredRegistry struct {
	*alarm.Registry
}

func (r meteredRegistry) Dispatch(ctx context.Context, cmd alarm.Command) error {
	commandCounter.WithLabelValues(cmd.Kind.String()).Inc()
	return r.Registry.Dispatch(ctx, cmd)
}

// meteredSession counts requests made to Verisure and their errors.
type meteredSession struct {
	verisure.Session
}

func (s meteredSession) Refresh(ctx context.Context) error {
	return observe("refresh", s.Session.Refresh(ctx))
}

func (s meteredSession) SetAlarmStatus(ctx context.Context, code string, status verisure.TargetStatus) error {
	return observe("set_alarm_status", s.Session.SetAlarmStatus(ctx, code, status))
}

func observe(op string, err error) error {
	requestCounter.WithLabelValues(op).Inc()
	if err != nil {
		requestErrorCounter.WithLabelValues(op).Inc()
	}
	return err
}
