package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/fault"
	"github.com/cuemby/devicehub/pkg/internal/clocktest"
	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

func testAddress() name.Address {
	return name.Address{HubID: "hub-1", Device: name.New("room", "thermostat")}
}

func simpleReadWriteBlueprint() blueprint.Blueprint {
	return blueprint.Blueprint{
		ID: "thermostat",
		Properties: map[string]blueprint.PropertySpec{
			"setpoint": {
				Name:     "setpoint",
				Kind:     blueprint.KindLogical,
				Mutable:  true,
				Readable: true,
				Initial:  meta.Double(20.0),
			},
			"sensor": {
				Name:     "sensor",
				Kind:     blueprint.KindPhysical,
				Readable: true,
				Read: func(ctx blueprint.ExecContext) (meta.Meta, error) {
					return meta.Double(21.5), nil
				},
			},
		},
		Actions: map[string]blueprint.ActionSpec{
			"ping": {
				Name: "ping",
				Handle: func(ctx blueprint.ExecContext, input meta.Meta) (meta.Meta, error) {
					return meta.String("pong"), nil
				},
			},
		},
	}
}

func newAttachedDevice(t *testing.T, bp blueprint.Blueprint) (*Device, *clocktest.Clock) {
	t.Helper()
	clk := clocktest.New()
	d, err := New(testAddress(), bp, clk)
	require.NoError(t, err)
	require.NoError(t, d.Attach(context.Background()))
	return d, clk
}

func TestNewRejectsInvalidBlueprint(t *testing.T) {
	bp := blueprint.Blueprint{
		ID: "bad",
		Properties: map[string]blueprint.PropertySpec{
			"x": {Name: "x"},
		},
		Actions: map[string]blueprint.ActionSpec{
			"x": {Name: "x"},
		},
	}
	_, err := New(testAddress(), bp, clocktest.New())
	assert.Error(t, err)
}

func TestNewStartsDetached(t *testing.T) {
	d, err := New(testAddress(), simpleReadWriteBlueprint(), clocktest.New())
	require.NoError(t, err)
	assert.Equal(t, blueprint.StateDetached, d.LifecycleState())
}

func TestAttachReachesStopped(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	assert.Equal(t, blueprint.StateStopped, d.LifecycleState())
}

func TestLifecycleFullCycle(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	ctx := context.Background()

	require.NoError(t, d.Start(ctx))
	assert.Equal(t, blueprint.StateRunning, d.LifecycleState())

	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, blueprint.StateStopped, d.LifecycleState())

	require.NoError(t, d.Detach(ctx, "test teardown"))
	assert.Equal(t, blueprint.StateDetached, d.LifecycleState())
}

func TestDetachStopsARunningDevice(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	ctx := context.Background()
	require.NoError(t, d.Start(ctx))

	require.NoError(t, d.Detach(ctx, "shutdown"))
	assert.Equal(t, blueprint.StateDetached, d.LifecycleState())
}

func TestFailReachableFromOperationalStates(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	require.NoError(t, d.Start(context.Background()))

	d.Fail(fault.New(fault.KindActionError, "BOOM", "simulated failure"))
	assert.Equal(t, blueprint.StateFailed, d.LifecycleState())
}

func TestRecoverReturnsToRunning(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	require.NoError(t, d.Start(context.Background()))
	d.Fail(fault.New(fault.KindActionError, "BOOM", "simulated failure"))
	require.Equal(t, blueprint.StateFailed, d.LifecycleState())

	require.NoError(t, d.Recover(context.Background()))
	assert.Equal(t, blueprint.StateRunning, d.LifecycleState())
}

func TestReadPropertyPhysical(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	v, ferr := d.ReadProperty(context.Background(), name.New("sensor"), blueprint.ExecContext{})
	require.Nil(t, ferr)
	got, _ := v.DoubleValue()
	assert.Equal(t, 21.5, got)
}

func TestReadPropertyLogicalReturnsCellValue(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	v, ferr := d.ReadProperty(context.Background(), name.New("setpoint"), blueprint.ExecContext{})
	require.Nil(t, ferr)
	got, _ := v.DoubleValue()
	assert.Equal(t, 20.0, got)
}

func TestReadPropertyNotFound(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	_, ferr := d.ReadProperty(context.Background(), name.New("missing"), blueprint.ExecContext{})
	require.NotNil(t, ferr)
	assert.Equal(t, "PROPERTY_NOT_FOUND", ferr.Code)
}

func TestReadPropertyNotReadable(t *testing.T) {
	bp := simpleReadWriteBlueprint()
	spec := bp.Properties["setpoint"]
	spec.Readable = false
	bp.Properties["setpoint"] = spec
	d, _ := newAttachedDevice(t, bp)

	_, ferr := d.ReadProperty(context.Background(), name.New("setpoint"), blueprint.ExecContext{})
	require.NotNil(t, ferr)
	assert.Equal(t, "NOT_READABLE", ferr.Code)
}

func TestWritePropertyUpdatesCellAndEmitsChange(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	// Attach emits LifecycleStateChanged (Detached -> Attaching),
	// LifecycleStateChanged (Attaching -> Stopped), then DeviceAttached.
	for i := 0; i < 3; i++ {
		<-d.Messages()
	}

	ferr := d.WriteProperty(context.Background(), name.New("setpoint"), meta.Double(25.0), blueprint.ExecContext{})
	require.Nil(t, ferr)

	v, _ := d.ReadProperty(context.Background(), name.New("setpoint"), blueprint.ExecContext{})
	got, _ := v.DoubleValue()
	assert.Equal(t, 25.0, got)

	msg := <-d.Messages()
	changed, ok := msg.Body.(ports.PropertyChanged)
	require.True(t, ok)
	assert.Equal(t, "setpoint", changed.Property.String())
}

func TestWritePropertyNotMutable(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	ferr := d.WriteProperty(context.Background(), name.New("sensor"), meta.Double(1), blueprint.ExecContext{})
	require.NotNil(t, ferr)
	assert.Equal(t, "NOT_MUTABLE", ferr.Code)
}

func TestWritePropertyValidationFailure(t *testing.T) {
	bp := simpleReadWriteBlueprint()
	spec := bp.Properties["setpoint"]
	min := 10.0
	max := 30.0
	spec.ValidationRules = []meta.Rule{meta.RangeRule{Min: &min, Max: &max}}
	bp.Properties["setpoint"] = spec
	d, _ := newAttachedDevice(t, bp)

	ferr := d.WriteProperty(context.Background(), name.New("setpoint"), meta.Double(99), blueprint.ExecContext{})
	require.NotNil(t, ferr)
	assert.Equal(t, "VALIDATION_ERROR", ferr.Code)
}

func TestWritePropertyNotFound(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	ferr := d.WriteProperty(context.Background(), name.New("missing"), meta.Int(1), blueprint.ExecContext{})
	require.NotNil(t, ferr)
	assert.Equal(t, "PROPERTY_NOT_FOUND", ferr.Code)
}

func TestExecuteRequiresRunningDevice(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	_, ferr := d.Execute(context.Background(), name.New("ping"), meta.Empty, blueprint.ExecContext{})
	require.NotNil(t, ferr)
	assert.Equal(t, "NOT_RUNNING", ferr.Code)
}

func TestExecuteSucceeds(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	require.NoError(t, d.Start(context.Background()))

	out, ferr := d.Execute(context.Background(), name.New("ping"), meta.Empty, blueprint.ExecContext{})
	require.Nil(t, ferr)
	s, _ := out.StringValue()
	assert.Equal(t, "pong", s)
}

func TestExecuteActionNotFound(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	require.NoError(t, d.Start(context.Background()))
	_, ferr := d.Execute(context.Background(), name.New("missing"), meta.Empty, blueprint.ExecContext{})
	require.NotNil(t, ferr)
	assert.Equal(t, "ACTION_NOT_FOUND", ferr.Code)
}

func TestExecuteRequiredPredicateNotMet(t *testing.T) {
	bp := simpleReadWriteBlueprint()
	bp.Properties["ready"] = blueprint.PropertySpec{
		Name:     "ready",
		Kind:     blueprint.KindPredicate,
		Readable: true,
		Mutable:  true,
		Initial:  meta.Bool(false),
	}
	action := bp.Actions["ping"]
	action.RequiredPredicates = []string{"ready"}
	bp.Actions["ping"] = action

	d, _ := newAttachedDevice(t, bp)
	require.NoError(t, d.Start(context.Background()))

	_, ferr := d.Execute(context.Background(), name.New("ping"), meta.Empty, blueprint.ExecContext{})
	require.NotNil(t, ferr)
	assert.Equal(t, "PRECONDITION_NOT_MET", ferr.Code)
}

func TestExecuteTimesOut(t *testing.T) {
	bp := simpleReadWriteBlueprint()
	never := make(chan struct{})
	t.Cleanup(func() { close(never) })
	action := bp.Actions["ping"]
	action.DefaultTimeout = &blueprint.DurationSpec{Millis: 1}
	action.Handle = func(ctx blueprint.ExecContext, input meta.Meta) (meta.Meta, error) {
		<-never
		return meta.Empty, nil
	}
	bp.Actions["ping"] = action

	d, _ := newAttachedDevice(t, bp)
	require.NoError(t, d.Start(context.Background()))

	_, ferr := d.Execute(context.Background(), name.New("ping"), meta.Empty, blueprint.ExecContext{})
	require.NotNil(t, ferr)
	assert.Equal(t, "TIMEOUT", ferr.Code)
}

func TestExecuteStampsDeviceOnExecContext(t *testing.T) {
	bp := simpleReadWriteBlueprint()
	var seen name.Name
	action := bp.Actions["ping"]
	action.Handle = func(ctx blueprint.ExecContext, input meta.Meta) (meta.Meta, error) {
		seen = ctx.Device
		return meta.Empty, nil
	}
	bp.Actions["ping"] = action

	d, _ := newAttachedDevice(t, bp)
	require.NoError(t, d.Start(context.Background()))

	_, ferr := d.Execute(context.Background(), name.New("ping"), meta.Empty, blueprint.ExecContext{})
	require.Nil(t, ferr)
	assert.True(t, seen.Equal(testAddress().Device))
}

func TestPostSignalWithNoOperationalFSM(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	assert.False(t, d.PostSignal("anything", meta.Empty))
}

func TestDerivedPropertyRecomputesFromSource(t *testing.T) {
	bp := simpleReadWriteBlueprint()
	bp.Properties["doubled"] = blueprint.PropertySpec{
		Name:         "doubled",
		Kind:         blueprint.KindDerived,
		Readable:     true,
		Dependencies: []string{"setpoint"},
		Initial:      meta.Double(0),
		Derive: func(values []meta.Meta) (meta.Meta, error) {
			v, _ := values[0].DoubleValue()
			return meta.Double(v * 2), nil
		},
	}
	d, _ := newAttachedDevice(t, bp)

	require.NoError(t, d.WriteProperty(context.Background(), name.New("setpoint"), meta.Double(15.0), blueprint.ExecContext{}))

	require.Eventually(t, func() bool {
		v, ferr := d.ReadProperty(context.Background(), name.New("doubled"), blueprint.ExecContext{})
		if ferr != nil {
			return false
		}
		got, _ := v.DoubleValue()
		return got == 30.0
	}, time.Second, 5*time.Millisecond)
}

func TestCellExposesBackingCell(t *testing.T) {
	d, _ := newAttachedDevice(t, simpleReadWriteBlueprint())
	c, ok := d.Cell("setpoint")
	require.True(t, ok)
	v, _ := c.Get().Value.DoubleValue()
	assert.Equal(t, 20.0, v)

	_, ok = d.Cell("missing")
	assert.False(t, ok)
}
