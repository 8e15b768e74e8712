package alarm

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"

	logp "github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind Kind
	code string
}

type fakePanel struct {
	id      string
	state   State
	calls   []call
	err     error
	updates int
}

func (p *fakePanel) ID() string                 { return p.id }
func (p *fakePanel) Name() string               { return "Fake " + p.id }
func (p *fakePanel) State() State               { return p.state }
func (p *fakePanel) CodeFormat() *regexp.Regexp { return regexp.MustCompile(`^\d{4}$`) }

func (p *fakePanel) Disarm(_ context.Context, code string) error {
	p.calls = append(p.calls, call{KindDisarm, code})
	return p.err
}

func (p *fakePanel) ArmHome(_ context.Context, code string) error {
	p.calls = append(p.calls, call{KindArmHome, code})
	return p.err
}

func (p *fakePanel) ArmAway(_ context.Context, code string) error {
	p.calls = append(p.calls, call{KindArmAway, code})
	return p.err
}

func (p *fakePanel) Update(context.Context) error {
	p.updates++
	return p.err
}

// disarmOnly only supports disarming.
type disarmOnly struct {
	UnimplementedPanel
	disarmed bool
}

func (*disarmOnly) ID() string   { return "C" }
func (*disarmOnly) Name() string { return "Disarm only" }
func (*disarmOnly) State() State { return StateUnknown }

func (d *disarmOnly) Disarm(context.Context, string) error {
	d.disarmed = true
	return nil
}

func testRegistry(t *testing.T, panels ...Panel) (*Registry, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	r := NewRegistry(WithLogger(logp.NewWithOptions(&buf, logp.Options{
		Level: logp.DebugLevel,
	})))
	r.Register(panels...)
	return r, &buf
}

func ids(panels []Panel) []string {
	var result []string
	for _, p := range panels {
		result = append(result, p.ID())
	}
	return result
}

func TestRegister(t *testing.T) {
	a := &fakePanel{id: "A"}
	r, buf := testRegistry(t, a, &fakePanel{id: "B"})

	t.Run("duplicate", func(t *testing.T) {
		r.Register(&fakePanel{id: "A"})
		p, ok := r.Get("A")
		require.True(t, ok)
		require.Same(t, a, p)
		require.Contains(t, buf.String(), "panel already registered")
	})

	t.Run("sorted", func(t *testing.T) {
		r.Register(&fakePanel{id: "0"})
		require.Equal(t, []string{"0", "A", "B"}, ids(r.Panels()))
	})

	t.Run("missing", func(t *testing.T) {
		_, ok := r.Get("nope")
		require.False(t, ok)
	})
}

func TestResolve(t *testing.T) {
	r, _ := testRegistry(t, &fakePanel{id: "A"}, &fakePanel{id: "B"}, &fakePanel{id: "C"})

	t.Run("all", func(t *testing.T) {
		require.Equal(t, []string{"A", "B", "C"}, ids(r.Resolve()))
	})

	t.Run("subset", func(t *testing.T) {
		require.ElementsMatch(t, []string{"A", "C"}, ids(r.Resolve("C", "A")))
	})

	t.Run("unknown ids are ignored", func(t *testing.T) {
		require.Equal(t, []string{"B"}, ids(r.Resolve("B", "Z")))
		require.Empty(t, r.Resolve("Z"))
	})

	t.Run("duplicates", func(t *testing.T) {
		require.Equal(t, []string{"A"}, ids(r.Resolve("A", "A")))
	})
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("all panels", func(t *testing.T) {
		a := &fakePanel{id: "A", state: StateDisarmed}
		b := &fakePanel{id: "B"}
		r, _ := testRegistry(t, a, b)

		require.NoError(t, r.Dispatch(ctx, NewCommand(KindArmHome, "1234")))
		require.Equal(t, []call{{KindArmHome, "1234"}}, a.calls)
		require.Equal(t, []call{{KindArmHome, "1234"}}, b.calls)

		// state only changes after the next update.
		require.Equal(t, StateDisarmed, a.State())
		require.Equal(t, StateUnknown, b.State())
	})

	t.Run("no code", func(t *testing.T) {
		a := &fakePanel{id: "A"}
		b := &fakePanel{id: "B"}
		r, buf := testRegistry(t, a, b)

		for _, kind := range Kinds {
			require.NoError(t, r.Dispatch(ctx, Command{Kind: kind}))
			require.NoError(t, r.Dispatch(ctx, Command{Kind: kind, Targets: []string{"A"}}))
		}
		require.Empty(t, a.calls)
		require.Empty(t, b.calls)
		require.Contains(t, buf.String(), "no code given")
	})

	t.Run("selector", func(t *testing.T) {
		a := &fakePanel{id: "A"}
		b := &fakePanel{id: "B"}
		r, _ := testRegistry(t, a, b)

		require.NoError(t, r.Dispatch(ctx, NewCommand(KindDisarm, "0000", "A")))
		require.Equal(t, []call{{KindDisarm, "0000"}}, a.calls)
		require.Empty(t, b.calls)
	})

	t.Run("each kind", func(t *testing.T) {
		a := &fakePanel{id: "A"}
		r, _ := testRegistry(t, a)
		for _, kind := range Kinds {
			require.NoError(t, r.Dispatch(ctx, NewCommand(kind, "1111")))
		}
		require.Equal(t, []call{
			{KindDisarm, "1111"},
			{KindArmHome, "1111"},
			{KindArmAway, "1111"},
		}, a.calls)
	})

	t.Run("failure does not stop other panels", func(t *testing.T) {
		boom := errors.New("boom")
		a := &fakePanel{id: "A", err: boom}
		b := &fakePanel{id: "B"}
		r, buf := testRegistry(t, a, b)

		err := r.Dispatch(ctx, NewCommand(KindArmAway, "1234"))
		require.ErrorIs(t, err, boom)
		require.Len(t, a.calls, 1)
		require.Len(t, b.calls, 1)
		require.Contains(t, buf.String(), "command failed")
	})

	t.Run("not implemented", func(t *testing.T) {
		c := &disarmOnly{}
		b := &fakePanel{id: "B"}
		r, _ := testRegistry(t, c, b)

		err := r.Dispatch(ctx, NewCommand(KindArmHome, "1234"))
		require.ErrorIs(t, err, ErrNotImplemented)
		require.Len(t, b.calls, 1)

		require.NoError(t, r.Dispatch(ctx, NewCommand(KindDisarm, "", "C")))
		require.True(t, c.disarmed)
	})
}

func TestUpdate(t *testing.T) {
	boom := errors.New("boom")
	a := &fakePanel{id: "A"}
	b := &fakePanel{id: "B", err: boom}
	r, _ := testRegistry(t, a, b, &disarmOnly{})

	err := r.Update(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, a.updates)
	require.Equal(t, 1, b.updates)
}

func TestRegistryAttributes(t *testing.T) {
	r, _ := testRegistry(t, &fakePanel{id: "A", state: StateArmedAway}, &disarmOnly{})
	require.Equal(t, map[string]map[string]any{
		"A": {
			AttrState:      "armed_away",
			AttrCodeFormat: `^\d{4}$`,
		},
		"C": {
			AttrState:      "unknown",
			AttrCodeFormat: nil,
		},
	}, r.Attributes())
}
