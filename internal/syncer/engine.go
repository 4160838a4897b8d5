// Package syncer reconciles the cloud's device graph against the local
// device registry: creating devices on first sighting, updating them on
// every poll cycle and deriving host-model property semantics from the raw
// sensor readings.
package syncer

import (
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/devices"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/netatmo"
	"go.uber.org/zap"
)

// Poller keeps polling jobs alive for updatable devices. Reconciliation
// starts (or restarts) a polling reference for every device it sights.
type Poller interface {
	Start(device *devices.Device, requesterID string)
}

// Engine is the device synchronization engine
type Engine struct {
	registry devices.Registry
	poller   Poller
	logger   *zap.SugaredLogger
}

// New creates a synchronization engine writing into the given registry
func New(registry devices.Registry, poller Poller, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		registry: registry,
		poller:   poller,
		logger:   logger,
	}
}

// Reconcile synchronizes a freshly fetched remote device graph into the
// registry. Top-level devices are processed first, then their modules with
// the top-level device as parent reference. Devices already known are
// updated in place; property change notifications fire only for values that
// actually changed.
func (e *Engine) Reconcile(remote []netatmo.Device) {
	for i := range remote {
		device := remote[i]

		if device.IsModule() && device.ParentID == "" {
			e.logger.Warnf("Rejecting module [%s] with no owning top-level device", device.ID)
			continue
		}

		if e.syncDevice(&device) == nil {
			continue
		}

		for j := range device.Modules {
			module, err := netatmo.NewModule(device.ID, device.Modules[j])
			if err != nil {
				e.logger.Warnf("Rejecting module under device [%s]: %v", device.ID, err)
				continue
			}
			e.syncDevice(&module)
		}
	}
}

// syncDevice creates or updates the local mirror of one remote device and
// starts (or restarts) its polling reference
func (e *Engine) syncDevice(remote *netatmo.Device) *devices.Device {
	local := e.registry.GetDevice(remote.ID)
	created := false

	if local == nil {
		if remote.IsModule() && e.registry.GetDevice(remote.ParentID) == nil {
			e.logger.Warnf("Rejecting module [%s]: parent [%s] not in registry", remote.ID, remote.ParentID)
			return nil
		}
		local = devices.NewDevice(remote.ID, remote.DisplayName(), remote.Type, remote.ParentID)
		created = true
	}

	e.applyRemote(local, remote, created)

	if created {
		if err := e.registry.AddDevice(local); err != nil {
			e.logger.Errorf("Failed to add device [%s]: %v", remote.ID, err)
			return nil
		}
		e.logger.Infof("Discovered device [%s] (%s)", remote.ID, remote.Type)
	}

	e.poller.Start(local, local.ID)
	return local
}

// applyRemote derives the local property state from the remote readings.
// Change notifications are suppressed for freshly created devices: the host
// learns about those through the registry addition.
func (e *Engine) applyRemote(local *devices.Device, remote *netatmo.Device, created bool) {
	if remote.Unreachable() {
		// Retain stale values rather than zeroing them; no property
		// notifications this cycle.
		if local.SetConnected(false) {
			e.logger.Infof("Device [%s] became unreachable", remote.ID)
		}
		return
	}
	if local.SetConnected(true) && !created {
		e.logger.Infof("Device [%s] is reachable again", remote.ID)
	}

	for _, dataType := range remote.DataType {
		switch dataType {
		case netatmo.DataTypeWind:
			for _, reading := range devices.WindReadings {
				e.applyValue(local, reading, remote.DashboardData[reading], created)
			}
		case netatmo.DataTypeHealthIndex:
			e.applyHealthIndex(local, remote.DashboardData[dataType], created)
		default:
			e.applyValue(local, dataType, remote.DashboardData[dataType], created)
		}
	}

	e.applyAuxiliary(local, remote, created)
}

// applyValue updates one derived property from a raw dashboard reading.
// Missing or non-numeric readings leave the property untouched.
func (e *Engine) applyValue(local *devices.Device, dataType string, raw interface{}, created bool) {
	value, ok := devices.CoerceValue(dataType, raw)
	if !ok {
		return
	}
	e.setProperty(local, dataType, value, created)
}

// applyHealthIndex updates the enumerated health index property. A missing
// or non-numeric raw value maps to the empty string rather than failing.
func (e *Engine) applyHealthIndex(local *devices.Device, raw interface{}, created bool) {
	e.setProperty(local, devices.PropHealthIndex, devices.HealthIndexName(raw), created)
}

// applyAuxiliary attaches the conditional battery, signal and calibrating
// properties
func (e *Engine) applyAuxiliary(local *devices.Device, remote *netatmo.Device, created bool) {
	if remote.IsModule() {
		if remote.BatteryPercent != 0 || local.Property(devices.PropBattery) != nil {
			e.setProperty(local, devices.PropBattery, remote.BatteryPercent, created)
		}
		if remote.RFStatus != 0 {
			e.setProperty(local, devices.PropSignal, devices.MapSignalToPercent(remote.RFStatus, devices.RFSignalBaseline), created)
		}
		return
	}

	if remote.WifiStatus != 0 {
		e.setProperty(local, devices.PropSignal, devices.MapSignalToPercent(remote.WifiStatus, devices.WifiSignalBaseline), created)
	}
	if remote.CO2Calibrating || local.Property(devices.PropCalibrating) != nil {
		e.setProperty(local, devices.PropCalibrating, remote.CO2Calibrating, created)
	}
}

// setProperty creates the property on first sighting and diff-gates the
// change notification
func (e *Engine) setProperty(local *devices.Device, name string, value interface{}, created bool) {
	prop := local.Property(name)
	if prop == nil {
		prop = devices.NewProperty(name)
		local.AddProperty(prop)
		if prop.Capability != "" {
			local.AddCapability(prop.Capability)
		}
	}

	if prop.Set(value) && !created {
		e.registry.NotifyPropertyChanged(local, prop)
	}
}
