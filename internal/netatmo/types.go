// Package netatmo implements the client side of the Netatmo cloud API:
// the remote device model and the authenticated data fetches.
package netatmo

import "fmt"

// Netatmo device type identifiers
const (
	TypeStation       = "NAMain"
	TypeOutdoorModule = "NAModule1"
	TypeWindModule    = "NAModule2"
	TypeRainModule    = "NAModule3"
	TypeIndoorModule  = "NAModule4"
	TypeHealthCoach   = "NHC"
)

// Data types with special handling during reconciliation
const (
	DataTypeWind        = "Wind"
	DataTypeHealthIndex = "health_idx"
)

// OAuth scopes required to read the two device families
const (
	ScopeReadStation     = "read_station"
	ScopeReadHealthCoach = "read_homecoach"
)

// Device is one entry of the cloud's device graph. Top-level devices
// (stations, health coaches) own zero or more modules; a module reports
// through exactly one owning top-level device and carries its id in ParentID.
type Device struct {
	ID             string                 `json:"_id"`
	Type           string                 `json:"type"`
	StationName    string                 `json:"station_name,omitempty"`
	ModuleName     string                 `json:"module_name,omitempty"`
	Reachable      *bool                  `json:"reachable,omitempty"`
	DataType       []string               `json:"data_type,omitempty"`
	DashboardData  map[string]interface{} `json:"dashboard_data,omitempty"`
	BatteryPercent int                    `json:"battery_percent,omitempty"`
	WifiStatus     int                    `json:"wifi_status,omitempty"`
	RFStatus       int                    `json:"rf_status,omitempty"`
	CO2Calibrating bool                   `json:"co2_calibrating,omitempty"`
	Modules        []Device               `json:"modules,omitempty"`

	// ParentID is the owning top-level device id for modules. It is not on
	// the wire; NewModule fills it in during reconciliation.
	ParentID string `json:"-"`
}

// IsModuleType reports whether the given device type is a module type
func IsModuleType(deviceType string) bool {
	switch deviceType {
	case TypeOutdoorModule, TypeWindModule, TypeRainModule, TypeIndoorModule:
		return true
	}
	return false
}

// IsSelfUpdatingType reports whether devices of the given type poll the cloud
// themselves. Modules report through their owning top-level device instead.
func IsSelfUpdatingType(deviceType string) bool {
	return deviceType == TypeStation || deviceType == TypeHealthCoach
}

// IsModule reports whether the device is a module
func (d *Device) IsModule() bool {
	return IsModuleType(d.Type)
}

// IsSelfUpdating reports whether the device polls the cloud itself
func (d *Device) IsSelfUpdating() bool {
	return IsSelfUpdatingType(d.Type)
}

// Unreachable reports whether the cloud explicitly flagged the device as
// unreachable. Devices that do not carry the flag count as reachable.
func (d *Device) Unreachable() bool {
	return d.Reachable != nil && !*d.Reachable
}

// DisplayName returns the human-facing name of the device
func (d *Device) DisplayName() string {
	if d.ModuleName != "" {
		return d.ModuleName
	}
	if d.StationName != "" {
		return d.StationName
	}
	return d.ID
}

// NewModule binds a module to its owning top-level device. A module without
// an owning device is invalid and is rejected here.
func NewModule(parentID string, module Device) (Device, error) {
	if parentID == "" {
		return Device{}, fmt.Errorf("module [%s] has no owning top-level device", module.ID)
	}
	if !IsModuleType(module.Type) {
		return Device{}, fmt.Errorf("device [%s] of type %s is not a module", module.ID, module.Type)
	}
	module.ParentID = parentID
	return module, nil
}
