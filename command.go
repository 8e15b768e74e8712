package alarm

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownService is returned when parsing an invalid service name.
var ErrUnknownService = errors.New("unknown service")

type Kind uint8

const (
	KindDisarm Kind = iota + 1
	KindArmHome
	KindArmAway
)

// Kinds are all supported command kinds.
var Kinds = []Kind{KindDisarm, KindArmHome, KindArmAway}

// String returns the service name of the command kind.
func (k Kind) String() string {
	switch k {
	case KindDisarm:
		return "alarm_disarm"
	case KindArmHome:
		return "alarm_arm_home"
	case KindArmAway:
		return "alarm_arm_away"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

func ParseKind(service string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == service {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownService, service)
}

// Apply calls the method matching the command kind on the given panel.
func (k Kind) Apply(ctx context.Context, p Panel, code string) error {
	switch k {
	case KindDisarm:
		return p.Disarm(ctx, code)
	case KindArmHome:
		return p.ArmHome(ctx, code)
	case KindArmAway:
		return p.ArmAway(ctx, code)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownService, k)
	}
}

// Command is a single service call.
//
// A nil Code means no code was given. Empty Targets means all panels.
type Command struct {
	Kind    Kind
	Code    *string
	Targets []string
}

// NewCommand creates a command with the given code, targeting the given
// panels, or all of them if none is given.
func NewCommand(kind Kind, code string, targets ...string) Command {
	return Command{
		Kind:    kind,
		Code:    &code,
		Targets: targets,
	}
}
