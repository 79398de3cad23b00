//go:build linux

package bluez

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/chaz8081/btlink/internal/bt"
)

// Adapter implements bt.Adapter on one BlueZ adapter. Platform events are
// delivered to subscribers on a single signal goroutine, in bus order.
type Adapter struct {
	bus    *dbus.Conn
	name   string
	path   dbus.ObjectPath
	obj    dbus.BusObject
	events bt.Handlers

	signals   chan *dbus.Signal
	done      chan struct{}
	closeOnce sync.Once
}

// Open connects to the system bus and watches the named adapter (e.g.
// "hci0"). The adapter need not exist yet; Status reports AdapterAbsent
// until it does.
func Open(name string) (*Adapter, error) {
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}

	path := adapterPath(name)
	a := &Adapter{
		bus:     bus,
		name:    name,
		path:    path,
		obj:     bus.Object(service, path),
		signals: make(chan *dbus.Signal, 32),
		done:    make(chan struct{}),
	}

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchOption("path_namespace", string(path)),
		},
	}
	for _, m := range matches {
		if err := bus.AddMatchSignal(m...); err != nil {
			bus.Close()
			return nil, fmt.Errorf("bluez: add signal match: %w", err)
		}
	}
	bus.Signal(a.signals)
	go a.loop()

	slog.Info("[BLUEZ] adapter opened", "adapter", name, "status", a.Status())
	return a, nil
}

// Name returns the adapter name given to Open.
func (a *Adapter) Name() string { return a.name }

// Status queries the Powered property. An unknown object means the adapter
// is absent.
func (a *Adapter) Status() bt.AdapterStatus {
	v, err := a.obj.GetProperty(adapterIface + ".Powered")
	if err != nil {
		slog.Debug("[BLUEZ] adapter status query failed", "adapter", a.name, "error", err)
		return bt.AdapterAbsent
	}
	if on, _ := v.Value().(bool); on {
		return bt.AdapterEnabled
	}
	return bt.AdapterDisabled
}

// Enable requests power on. Completion arrives as EventAdapterPowered.
func (a *Adapter) Enable() error { return a.setPowered(true) }

// Disable requests power off.
func (a *Adapter) Disable() error { return a.setPowered(false) }

func (a *Adapter) setPowered(on bool) error {
	if a.Status() == bt.AdapterAbsent {
		return bt.ErrAdapterUnavailable
	}
	call := a.obj.Call(propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(on))
	if call.Err != nil {
		return fmt.Errorf("bluez: set Powered=%v: %w", on, call.Err)
	}
	return nil
}

// SetDiscoveryFilter restricts subsequent scans to a transport: "auto",
// "bredr" or "le".
func (a *Adapter) SetDiscoveryFilter(transport string) error {
	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant(transport),
	}
	if call := a.obj.Call(adapterIface+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return fmt.Errorf("bluez: set discovery filter: %w", call.Err)
	}
	return nil
}

func (a *Adapter) StartDiscovery() error {
	if call := a.obj.Call(adapterIface+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("bluez: start discovery: %w", call.Err)
	}
	return nil
}

func (a *Adapter) StopDiscovery() error {
	if call := a.obj.Call(adapterIface+".StopDiscovery", 0); call.Err != nil {
		return fmt.Errorf("bluez: stop discovery: %w", call.Err)
	}
	return nil
}

func (a *Adapter) Discovering() bool {
	v, err := a.obj.GetProperty(adapterIface + ".Discovering")
	if err != nil {
		return false
	}
	on, _ := v.Value().(bool)
	return on
}

// PairedDevices lists the bonded devices under this adapter.
func (a *Adapter) PairedDevices() ([]bt.Device, error) {
	objs, err := a.managedObjects()
	if err != nil {
		return nil, err
	}
	var out []bt.Device
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok || !isChild(path, a.path) {
			continue
		}
		if paired, _ := boolProp(props, "Paired"); !paired {
			continue
		}
		out = append(out, deviceFromProps(path, props))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (a *Adapter) Subscribe(handler func(bt.Event)) func() {
	return a.events.Subscribe(handler)
}

// Close drops the bus connection and waits for the signal goroutine.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		// Closing the connection closes the signal channel.
		err = a.bus.Close()
		<-a.done
	})
	return err
}

func (a *Adapter) managedObjects() (managedObjects, error) {
	var objs managedObjects
	call := a.bus.Object(service, "/").Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// device resolves a device object to a bt.Device, falling back to the
// address encoded in the path.
func (a *Adapter) device(path dbus.ObjectPath) bt.Device {
	var props map[string]dbus.Variant
	call := a.bus.Object(service, path).Call(propsIface+".GetAll", 0, deviceIface)
	if call.Err == nil && call.Store(&props) == nil {
		return deviceFromProps(path, props)
	}
	return bt.Device{Address: macFromPath(path)}
}

func (a *Adapter) loop() {
	defer close(a.done)
	for sig := range a.signals {
		for _, ev := range a.translate(sig) {
			a.events.Emit(ev)
		}
	}
	slog.Debug("[BLUEZ] signal loop stopped", "adapter", a.name)
}

// translate maps one bus signal to zero or more platform events.
func (a *Adapter) translate(sig *dbus.Signal) []bt.Event {
	switch sig.Name {
	case objManagerIface + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return nil
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props, ok := ifaces[deviceIface]
		if !ok || !isChild(path, a.path) {
			return nil
		}
		dev := deviceFromProps(path, props)
		slog.Debug("[BLUEZ] device added", "address", dev.Address, "name", dev.Name)
		return []bt.Event{{Type: bt.EventDeviceFound, Device: dev}}

	case propsIface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return nil
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		switch {
		case iface == adapterIface && sig.Path == a.path:
			return adapterEvents(changed)
		case iface == deviceIface && isChild(sig.Path, a.path):
			return a.deviceEvents(sig.Path, changed)
		}
	}
	return nil
}

func (a *Adapter) deviceEvents(path dbus.ObjectPath, changed map[string]dbus.Variant) []bt.Event {
	var out []bt.Event
	if up, ok := boolProp(changed, "Connected"); ok {
		typ := bt.EventLinkDisconnected
		if up {
			typ = bt.EventLinkConnected
		}
		out = append(out, bt.Event{Type: typ, Device: a.device(path)})
	}
	// Cached devices are not re-added during a scan; an RSSI update is
	// how BlueZ reports that they were seen again.
	if _, ok := changed["RSSI"]; ok {
		out = append(out, bt.Event{Type: bt.EventDeviceFound, Device: a.device(path)})
	}
	return out
}

var _ bt.Adapter = (*Adapter)(nil)
