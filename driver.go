// Package skywatcher implements a protocol engine and motion controller
// for Skywatcher-family equatorial/altaz telescope mounts: wire codec,
// dual-axis motion state machine, kinematic translation layer, and
// capability discovery, as specified in SPEC_FULL.md.
package skywatcher

import (
	"log"
	"sync"
)

// ParkStore is the external persistence collaborator: it holds the last
// known park position and whether the mount was left parked. The motion
// core persists nothing itself (SPEC_FULL.md §6); Init reads from this
// interface and, if parked, writes the stored encoder values back to the
// mount.
type ParkStore interface {
	// Load returns the last stored (RAEncoder, DEEncoder, Parked) triple.
	Load() (raEncoder, deEncoder uint32, parked bool, err error)

	// Save persists the current (RAEncoder, DEEncoder, Parked) triple.
	Save(raEncoder, deEncoder uint32, parked bool) error
}

// StatusSource is the read-only boundary interface a property/UI binding
// layer (explicitly out of scope here, see spec.md §1) would consume.
// Nothing in this repo implements the binding itself.
type StatusSource interface {
	AxisStatus(Axis) (AxisStatus, error)
	Encoder(Axis) (uint32, error)
}

// AxisStatus is a point-in-time, guaranteed-fresh snapshot of one axis,
// returned by Driver.AxisStatus and satisfying StatusSource.
type AxisStatus struct {
	Initialized bool
	Running     bool
	Status      MotorStatus
}

// Driver glues the protocol engine components together: it owns the
// Transport, the command Dispatcher, and the Mount Model, and is the
// sole owner of the serial connection and the Model instance (SPEC_FULL.md
// §5). All exported methods serialize through a single mutex, which is
// sufficient to guarantee no two exchanges overlap on the wire and that
// one axis's command sequence is atomic with respect to the other axis.
type Driver struct {
	mu sync.Mutex

	transport *Transport
	dispatch  *dispatcher

	Model *Model

	// Park is the persistence collaborator consulted during Init. A nil
	// Park means park state is not persisted across runs.
	Park ParkStore

	Log   *log.Logger
	Debug bool
}

// NewDriver builds a Driver around an already-constructed Transport. The
// Model starts zero-valued; call Handshake then Init before issuing
// motion commands.
func NewDriver(t *Transport) *Driver {
	d := &Driver{
		transport: t,
		dispatch:  newDispatcher(t),
		Model:     NewModel(),
		Log:       log.Default(),
	}
	return d
}

// SetDebug toggles wire tracing on both the Driver and its Transport.
func (d *Driver) SetDebug(on bool) {
	d.Debug = on
	d.transport.Debug = on
}

// Close releases the underlying connection.
func (d *Driver) Close() error {
	return d.transport.Close()
}

// AxisStatus implements StatusSource by refreshing and returning a
// point-in-time snapshot for axis a.
func (d *Driver) AxisStatus(axis Axis) (AxisStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkMotorStatus(axis); err != nil {
		return AxisStatus{}, err
	}
	st := &d.Model.State[axis]
	return AxisStatus{Initialized: st.Initialized, Running: st.Running, Status: st.Status}, nil
}

// Encoder implements StatusSource by reading axis a's current position.
func (d *Driver) Encoder(axis Axis) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getAxisPosition(axis)
}
