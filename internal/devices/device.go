// Package devices holds the host-side mirror of the remote device graph:
// local devices with typed properties, the registry boundary they live in,
// and the fixed tables that derive property semantics from raw readings.
package devices

// Property is one named reading of a local device: its current value, the
// physical unit, optional numeric bounds and the capability tag it
// contributes to the device.
type Property struct {
	Name       string
	Value      interface{}
	Unit       string
	Minimum    *float64
	Maximum    *float64
	Capability string
}

// Set updates the property value and reports whether it actually changed.
// Unchanged values are skipped silently so callers can gate change
// notifications on the return value.
func (p *Property) Set(value interface{}) bool {
	if p.Value == value {
		return false
	}
	p.Value = value
	return true
}

// Device is the host-mirrored counterpart of one remote device, keyed by the
// remote id. It is created on first sighting during reconciliation, updated
// on every sync cycle and destroyed only when the host removes it.
type Device struct {
	ID       string
	Title    string
	Type     string
	ParentID string

	connected    bool
	capabilities []string
	properties   map[string]*Property
}

// NewDevice creates a local device mirroring the given remote identity.
// ParentID is empty for top-level devices.
func NewDevice(id, title, deviceType, parentID string) *Device {
	return &Device{
		ID:         id,
		Title:      title,
		Type:       deviceType,
		ParentID:   parentID,
		connected:  true,
		properties: make(map[string]*Property),
	}
}

// Property returns the named property, or nil when the device does not have it
func (d *Device) Property(name string) *Property {
	return d.properties[name]
}

// AddProperty attaches a property to the device
func (d *Device) AddProperty(p *Property) {
	d.properties[p.Name] = p
}

// Properties returns the properties of the device keyed by name
func (d *Device) Properties() map[string]*Property {
	return d.properties
}

// AddCapability attaches a capability tag, keeping at most one instance of
// each tag on the device
func (d *Device) AddCapability(tag string) {
	for _, existing := range d.capabilities {
		if existing == tag {
			return
		}
	}
	d.capabilities = append(d.capabilities, tag)
}

// Capabilities returns the capability tags attached to the device
func (d *Device) Capabilities() []string {
	return d.capabilities
}

// SetConnected updates the connected flag and reports whether it changed
func (d *Device) SetConnected(connected bool) bool {
	if d.connected == connected {
		return false
	}
	d.connected = connected
	return true
}

// Connected reports whether the device was reachable on the last sync cycle
func (d *Device) Connected() bool {
	return d.connected
}
