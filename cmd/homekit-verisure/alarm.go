package main

import (
	"context"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	alarm "github.com/caarlos0/homekit-verisure"
)

type SecuritySystem struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem

	panel    alarm.Panel
	code     *string
	registry Registry
	synced   bool
}

func NewSecuritySystem(info accessory.Info, panel alarm.Panel, code *string, registry Registry) *SecuritySystem {
	a := &SecuritySystem{
		panel:    panel,
		code:     code,
		registry: registry,
	}
	a.A = accessory.New(info, accessory.TypeSecuritySystem)

	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = a.updateHandler

	return a
}

// Update syncs the accessory with the cached panel state.
func (a *SecuritySystem) Update() {
	state := a.panel.State()
	armStateGauge.WithLabelValues(a.panel.ID()).Set(float64(state))

	current, ok := currentState(state)
	if !ok {
		return
	}

	// the target follows every state change, including the ones made outside
	// of HomeKit, and the first known state.
	if a.synced && a.SecuritySystem.SecuritySystemCurrentState.Value() == current {
		return
	}
	a.synced = true

	err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(current)
	log.Info("set current state", "id", a.panel.ID(), "state", state, "err", err)
	err = a.SecuritySystem.SecuritySystemTargetState.SetValue(targetState(state))
	log.Info("set target state", "id", a.panel.ID(), "state", state, "err", err)
}

func (a *SecuritySystem) updateHandler(
	v interface{},
	r *http.Request,
) (response interface{}, code int) {
	target, ok := v.(int)
	if !ok {
		return nil, hap.JsonStatusInvalidValueInRequest
	}
	kind, ok := commandKind(target)
	if !ok {
		return nil, hap.JsonStatusResourceDoesNotExist
	}

	if a.code == nil {
		log.Warn("no code configured, ignoring command", "id", a.panel.ID(), "service", kind)
	}

	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	log.Info("dispatching", "id", a.panel.ID(), "service", kind)
	if err := a.registry.Dispatch(ctx, alarm.Command{
		Kind:    kind,
		Code:    a.code,
		Targets: []string{a.panel.ID()},
	}); err != nil {
		log.Error("could not change alarm state", "id", a.panel.ID(), "service", kind, "err", err)
		return nil, hap.JsonStatusResourceBusy
	}
	return nil, hap.JsonStatusSuccess
}

// commandKind maps a HomeKit target state to a command.
// Night is armed as home, as Verisure has no such mode.
func commandKind(target int) (alarm.Kind, bool) {
	switch target {
	case characteristic.SecuritySystemTargetStateStayArm,
		characteristic.SecuritySystemTargetStateNightArm:
		return alarm.KindArmHome, true
	case characteristic.SecuritySystemTargetStateAwayArm:
		return alarm.KindArmAway, true
	case characteristic.SecuritySystemTargetStateDisarm:
		return alarm.KindDisarm, true
	default:
		return 0, false
	}
}

func currentState(state alarm.State) (int, bool) {
	switch state {
	case alarm.StateDisarmed:
		return characteristic.SecuritySystemCurrentStateDisarmed, true
	case alarm.StateArmedHome:
		return characteristic.SecuritySystemCurrentStateStayArm, true
	case alarm.StateArmedAway:
		return characteristic.SecuritySystemCurrentStateAwayArm, true
	default:
		return 0, false
	}
}

func targetState(state alarm.State) int {
	switch state {
	case alarm.StateArmedHome:
		return characteristic.SecuritySystemTargetStateStayArm
	case alarm.StateArmedAway:
		return characteristic.SecuritySystemTargetStateAwayArm
	default:
		return characteristic.SecuritySystemTargetStateDisarm
	}
}

func setupAlarms(registry Registry, code *string) []*SecuritySystem {
	var alarms []*SecuritySystem
	for i, panel := range registry.Panels() {
		a := NewSecuritySystem(accessory.Info{
			Name:         panel.Name(),
			SerialNumber: panel.ID(),
			Manufacturer: manufacturer,
		}, panel, code, registry)
		a.Id = uint64(2 + i)
		a.Update()
		alarms = append(alarms, a)
	}
	return alarms
}
