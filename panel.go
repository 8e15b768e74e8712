package alarm

import (
	"context"
	"errors"
	"regexp"
)

// ErrNotImplemented is returned by panels that do not support a command.
var ErrNotImplemented = errors.New("not implemented")

type State uint8

const (
	StateUnknown State = iota
	StateDisarmed
	StateArmedHome
	StateArmedAway
)

func (s State) String() string {
	switch s {
	case StateDisarmed:
		return "disarmed"
	case StateArmedHome:
		return "armed_home"
	case StateArmedAway:
		return "armed_away"
	default:
		return "unknown"
	}
}

// Panel is an alarm control panel.
//
// State must return the cached state only, it never talks to the device.
// A nil CodeFormat means the panel does not require a code.
type Panel interface {
	ID() string
	Name() string
	State() State
	CodeFormat() *regexp.Regexp
	Disarm(ctx context.Context, code string) error
	ArmHome(ctx context.Context, code string) error
	ArmAway(ctx context.Context, code string) error
}

// Updater is implemented by panels that refresh their state periodically.
type Updater interface {
	Update(ctx context.Context) error
}

// UnimplementedPanel can be embedded into panels to fail every command they
// don't override with ErrNotImplemented.
type UnimplementedPanel struct{}

func (UnimplementedPanel) CodeFormat() *regexp.Regexp { return nil }

func (UnimplementedPanel) Disarm(context.Context, string) error {
	return ErrNotImplemented
}

func (UnimplementedPanel) ArmHome(context.Context, string) error {
	return ErrNotImplemented
}

func (UnimplementedPanel) ArmAway(context.Context, string) error {
	return ErrNotImplemented
}

const (
	AttrState      = "state"
	AttrCodeFormat = "code_format"
)

// Attributes returns the state attributes of the given panel.
func Attributes(p Panel) map[string]any {
	var format any
	if re := p.CodeFormat(); re != nil {
		format = re.String()
	}
	return map[string]any{
		AttrState:      p.State().String(),
		AttrCodeFormat: format,
	}
}

// RequiresCode tells whether the panel needs a code to be commanded.
func RequiresCode(p Panel) bool {
	return p.CodeFormat() != nil
}

// ValidCode checks the given code against the panel code format.
// Panels without a code format accept anything.
func ValidCode(p Panel, code string) bool {
	re := p.CodeFormat()
	return re == nil || re.MatchString(code)
}
