package devices

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry is the host device registry boundary. The adapter creates and
// updates devices through it; removal is host-initiated.
type Registry interface {
	AddDevice(device *Device) error
	RemoveDevice(id string) error
	GetDevice(id string) *Device
	Devices() map[string]*Device
	NotifyPropertyChanged(device *Device, property *Property)
}

// MemoryRegistry is an in-memory Registry. Change listeners observe device
// additions and property change notifications.
type MemoryRegistry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	logger  *zap.SugaredLogger

	onAdd             []func(*Device)
	onPropertyChanged []func(*Device, *Property)
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry(logger *zap.SugaredLogger) *MemoryRegistry {
	return &MemoryRegistry{
		devices: make(map[string]*Device),
		logger:  logger,
	}
}

// OnAdd registers a listener invoked whenever a device is added
func (r *MemoryRegistry) OnAdd(fn func(*Device)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAdd = append(r.onAdd, fn)
}

// OnPropertyChanged registers a listener invoked for every property change
// notification
func (r *MemoryRegistry) OnPropertyChanged(fn func(*Device, *Property)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPropertyChanged = append(r.onPropertyChanged, fn)
}

// AddDevice adds a new device; adding an id that already exists is an error
func (r *MemoryRegistry) AddDevice(device *Device) error {
	r.mu.Lock()
	if _, exists := r.devices[device.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("device [%s] already exists", device.ID)
	}
	r.devices[device.ID] = device
	listeners := append([]func(*Device){}, r.onAdd...)
	r.mu.Unlock()

	r.logger.Infof("Added device [%s] (%s)", device.ID, device.Title)
	for _, fn := range listeners {
		fn(device)
	}
	return nil
}

// RemoveDevice removes a device by id
func (r *MemoryRegistry) RemoveDevice(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[id]; !exists {
		return fmt.Errorf("device [%s] not found", id)
	}
	delete(r.devices, id)
	r.logger.Infof("Removed device [%s]", id)
	return nil
}

// GetDevice returns the device with the given id, or nil
func (r *MemoryRegistry) GetDevice(id string) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id]
}

// Devices returns a snapshot of the registry keyed by device id
func (r *MemoryRegistry) Devices() map[string]*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]*Device, len(r.devices))
	for id, device := range r.devices {
		snapshot[id] = device
	}
	return snapshot
}

// NotifyPropertyChanged reports a property change to the host
func (r *MemoryRegistry) NotifyPropertyChanged(device *Device, property *Property) {
	r.mu.RLock()
	listeners := append([]func(*Device, *Property){}, r.onPropertyChanged...)
	r.mu.RUnlock()

	r.logger.Debugf("Device [%s] property %s changed to %v", device.ID, property.Name, property.Value)
	for _, fn := range listeners {
		fn(device, property)
	}
}
