package verisure

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	alarm "github.com/caarlos0/homekit-verisure"
	logp "github.com/charmbracelet/log"
	"golang.org/x/exp/slices"
)

// ErrNotConnected is returned when setting up alarms without a session.
var ErrNotConnected = errors.New("a connection has not been made to Verisure mypages")

// Session is a Verisure session.
// Its status table is only updated when Refresh is called.
type Session interface {
	Refresh(ctx context.Context) error
	Status(device DeviceType) map[string]AlarmStatus
	SetAlarmStatus(ctx context.Context, code string, status TargetStatus) error
}

var _ Session = &Client{}

var codeFormat = regexp.MustCompile(`^\d{4}$`)

// Alarm is a Verisure alarm control panel.
type Alarm struct {
	session Session
	id      string
	device  DeviceType
	log     *logp.Logger

	mu    sync.RWMutex
	state alarm.State
}

var (
	_ alarm.Panel   = &Alarm{}
	_ alarm.Updater = &Alarm{}
)

type AlarmOption func(*Alarm)

func WithAlarmLogger(l *logp.Logger) AlarmOption {
	return func(a *Alarm) {
		a.log = l
	}
}

func NewAlarm(session Session, status AlarmStatus, opts ...AlarmOption) *Alarm {
	a := &Alarm{
		session: session,
		id:      status.ID,
		device:  DeviceAlarm,
		log:     log,
		state:   alarm.StateUnknown,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Alarm) ID() string { return a.id }

func (a *Alarm) Name() string {
	return fmt.Sprintf("Alarm %s", a.id)
}

func (a *Alarm) State() alarm.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// CodeFormat requires a four digit code.
func (a *Alarm) CodeFormat() *regexp.Regexp {
	return codeFormat
}

// Update refreshes the session and updates the alarm state from it.
// Unknown statuses are logged and leave the state unchanged.
func (a *Alarm) Update(ctx context.Context) error {
	if err := a.session.Refresh(ctx); err != nil {
		return err
	}

	status, ok := a.session.Status(a.device)[a.id]
	if !ok {
		a.log.Error("alarm not found in status", "id", a.id)
		return nil
	}

	var state alarm.State
	switch status.Status {
	case StatusUnarmed:
		state = alarm.StateDisarmed
	case StatusArmedHome:
		state = alarm.StateArmedHome
	case StatusArmedAway:
		state = alarm.StateArmedAway
	case StatusPending:
		return nil
	default:
		a.log.Error("unknown alarm state", "id", a.id, "status", status.Status)
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != state {
		a.log.Info("alarm state changed", "id", a.id, "from", a.state, "to", state)
	}
	a.state = state
	return nil
}

func (a *Alarm) Disarm(ctx context.Context, code string) error {
	a.log.Warn("disarming", "id", a.id)
	return a.session.SetAlarmStatus(ctx, code, AlarmDisarmed)
}

func (a *Alarm) ArmHome(ctx context.Context, code string) error {
	a.log.Warn("arming home", "id", a.id)
	return a.session.SetAlarmStatus(ctx, code, AlarmArmedHome)
}

func (a *Alarm) ArmAway(ctx context.Context, code string) error {
	a.log.Warn("arming away", "id", a.id)
	return a.session.SetAlarmStatus(ctx, code, AlarmArmedAway)
}

// Discover returns an alarm for every alarm status in the session, sorted by
// ID. No alarm is returned if show is false.
func Discover(session Session, show bool, opts ...AlarmOption) ([]alarm.Panel, error) {
	if session == nil {
		return nil, ErrNotConnected
	}
	if !show {
		return nil, nil
	}

	var alarms []alarm.Panel
	for _, status := range session.Status(DeviceAlarm) {
		alarms = append(alarms, NewAlarm(session, status, opts...))
	}
	slices.SortFunc(alarms, func(a, b alarm.Panel) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return alarms, nil
}
