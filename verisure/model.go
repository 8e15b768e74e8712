package verisure

import (
	"encoding/json"
	"fmt"

	logp "github.com/charmbracelet/log"
)

type DeviceType string

const DeviceAlarm DeviceType = "alarm"

// Alarm statuses as reported by My Pages.
const (
	StatusUnarmed   = "unarmed"
	StatusArmedHome = "armedhome"
	StatusArmedAway = "armedaway"
	StatusPending   = "pending"
)

// TargetStatus is the status an alarm can be set to.
type TargetStatus string

const (
	AlarmDisarmed  TargetStatus = "DISARMED"
	AlarmArmedHome TargetStatus = "ARMED_HOME"
	AlarmArmedAway TargetStatus = "ARMED_AWAY"
)

type AlarmStatus struct {
	ID     string
	Name   string
	Status string
	Date   string
}

type remoteStatus struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Date   string `json:"date"`
	Name   string `json:"name"`
}

const typeArmState = "ARM_STATE"

func deviceType(s string) (DeviceType, bool) {
	switch s {
	case typeArmState:
		return DeviceAlarm, true
	default:
		return "", false
	}
}

type statusTable map[DeviceType]map[string]AlarmStatus

func statusFromJSON(bts []byte, logger *logp.Logger) (statusTable, error) {
	var items []remoteStatus
	if err := json.Unmarshal(bts, &items); err != nil {
		return nil, fmt.Errorf("invalid status: %w", err)
	}

	table := statusTable{}
	for _, item := range items {
		device, ok := deviceType(item.Type)
		if !ok {
			logger.Debug("ignoring status", "type", item.Type, "id", item.ID)
			continue
		}
		if item.ID == "" {
			return nil, fmt.Errorf("invalid status: %s without id", item.Type)
		}
		if table[device] == nil {
			table[device] = map[string]AlarmStatus{}
		}
		table[device][item.ID] = AlarmStatus{
			ID:     item.ID,
			Name:   item.Name,
			Status: item.Status,
			Date:   item.Date,
		}
	}
	return table, nil
}

func (t statusTable) get(device DeviceType) map[string]AlarmStatus {
	result := map[string]AlarmStatus{}
	for id, status := range t[device] {
		result[id] = status
	}
	return result
}
