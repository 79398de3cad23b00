// Package bluez drives a local BlueZ adapter over the D-Bus system bus:
// power control, classic discovery, bonded devices, platform link events
// and Serial Port Profile sockets handed over by the profile manager.
package bluez

import (
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/chaz8081/btlink/internal/bt"
)

const (
	service             = "org.bluez"
	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	objManagerIface     = "org.freedesktop.DBus.ObjectManager"
	propsIface          = "org.freedesktop.DBus.Properties"

	rootPath = dbus.ObjectPath("/org/bluez")
)

// managedObjects is the GetManagedObjects reply shape.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// adapterPath returns the object path of the named adapter, e.g. hci0.
func adapterPath(name string) dbus.ObjectPath {
	return rootPath + "/" + dbus.ObjectPath(name)
}

// devicePath returns the object path BlueZ uses for addr under adapter.
func devicePath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	return adapter + "/dev_" + dbus.ObjectPath(strings.ReplaceAll(strings.ToUpper(addr), ":", "_"))
}

// macFromPath extracts the address from .../dev_XX_XX_XX_XX_XX_XX.
func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

// isChild reports whether p is a direct child object of parent.
func isChild(p, parent dbus.ObjectPath) bool {
	rest, ok := strings.CutPrefix(string(p), string(parent)+"/")
	return ok && rest != "" && !strings.Contains(rest, "/")
}

// deviceFromProps builds a Device from Device1 properties. Alias is
// preferred over Name since BlueZ falls back to a formatted address when
// neither is advertised; that fallback is dropped.
func deviceFromProps(p dbus.ObjectPath, props map[string]dbus.Variant) bt.Device {
	var dev bt.Device
	if v, ok := props["Address"]; ok {
		dev.Address, _ = v.Value().(string)
	}
	if dev.Address == "" {
		dev.Address = macFromPath(p)
	}
	if v, ok := props["Name"]; ok {
		dev.Name, _ = v.Value().(string)
	}
	if v, ok := props["Alias"]; ok {
		if alias, _ := v.Value().(string); alias != "" && !sameAddress(alias, dev.Address) {
			dev.Name = alias
		}
	}
	return dev
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.ReplaceAll(a, "-", ":"), b)
}

func boolProp(props map[string]dbus.Variant, key string) (value, ok bool) {
	v, ok := props[key]
	if !ok {
		return false, false
	}
	value, ok = v.Value().(bool)
	return value, ok
}

// adapterEvents maps an Adapter1 PropertiesChanged payload to events.
func adapterEvents(changed map[string]dbus.Variant) []bt.Event {
	var out []bt.Event
	if on, ok := boolProp(changed, "Powered"); ok {
		out = append(out, bt.Event{Type: bt.EventAdapterPowered, Powered: on})
	}
	if on, ok := boolProp(changed, "Discovering"); ok {
		if on {
			out = append(out, bt.Event{Type: bt.EventDiscoveryStarted})
		} else {
			out = append(out, bt.Event{Type: bt.EventDiscoveryFinished})
		}
	}
	return out
}
