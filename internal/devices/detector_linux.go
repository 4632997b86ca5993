//go:build linux

package devices

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/videonode/internal/logging"
	"github.com/smazurov/videonode/pkg/linuxav/hotplug"
	"github.com/smazurov/videonode/pkg/linuxav/v4l2"
)

// deviceState tracks the fields the v4l2 package can report that the shared
// DeviceInfo struct doesn't carry (signal readiness, HDMI vs. webcam).
type deviceState struct {
	info  DeviceInfo
	kind  v4l2.DeviceType
	ready bool
}

type linuxDetector struct {
	ctx         context.Context
	cancel      context.CancelFunc
	broadcaster EventBroadcaster
	lastDevices map[string]deviceState // key is DeviceId
	mu          sync.Mutex
	logger      *slog.Logger
}

func newDetector() DeviceDetector {
	return &linuxDetector{
		lastDevices: make(map[string]deviceState),
		logger:      logging.GetLogger("devices"),
	}
}

// FindDevices returns all currently available V4L2 devices.
func (d *linuxDetector) FindDevices() ([]DeviceInfo, error) {
	found, err := v4l2.FindDevices()
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceInfo, len(found))
	for i, dev := range found {
		devices[i] = DeviceInfo{
			DevicePath: dev.DevicePath,
			DeviceName: dev.DeviceName,
			DeviceId:   dev.DeviceID,
			Caps:       dev.Caps,
		}
	}

	return devices, nil
}

// GetDeviceFormats returns supported formats for a device.
func (d *linuxDetector) GetDeviceFormats(devicePath string) ([]FormatInfo, error) {
	found, err := v4l2.GetFormats(devicePath)
	if err != nil {
		return nil, err
	}

	formats := make([]FormatInfo, len(found))
	for i, f := range found {
		formats[i] = FormatInfo{
			PixelFormat: f.PixelFormat,
			FormatName:  f.FormatName,
			Emulated:    f.Emulated,
		}
	}

	return formats, nil
}

// GetDevicePathByID returns the device path for a given device ID.
func (d *linuxDetector) GetDevicePathByID(deviceID string) (string, error) {
	return v4l2.GetDevicePathByID(deviceID)
}

// GetDeviceResolutions returns supported resolutions for a format.
func (d *linuxDetector) GetDeviceResolutions(devicePath string, pixelFormat uint32) ([]Resolution, error) {
	found, err := v4l2.GetResolutions(devicePath, pixelFormat)
	if err != nil {
		return nil, err
	}

	resolutions := make([]Resolution, len(found))
	for i, r := range found {
		resolutions[i] = Resolution{Width: r.Width, Height: r.Height}
	}

	return resolutions, nil
}

// GetDeviceFramerates returns supported framerates for a resolution.
func (d *linuxDetector) GetDeviceFramerates(devicePath string, pixelFormat uint32, width, height uint32) ([]Framerate, error) {
	found, err := v4l2.GetFramerates(devicePath, pixelFormat, width, height)
	if err != nil {
		return nil, err
	}

	framerates := make([]Framerate, len(found))
	for i, fr := range found {
		framerates[i] = Framerate{Numerator: fr.Numerator, Denominator: fr.Denominator}
	}

	return framerates, nil
}

// StartMonitoring starts monitoring for device changes using the netlink
// hotplug monitor and periodic/event-based HDMI signal checks.
func (d *linuxDetector) StartMonitoring(ctx context.Context, broadcaster EventBroadcaster) error {
	d.mu.Lock()
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.broadcaster = broadcaster
	d.mu.Unlock()

	devices, err := d.FindDevices()
	if err != nil {
		d.logger.Warn("failed to get initial device list", "error", err)
	} else {
		d.mu.Lock()
		for _, device := range devices {
			status := v4l2.GetDeviceStatus(device.DevicePath)
			st := deviceState{info: device, kind: status.DeviceType, ready: status.Ready}
			d.lastDevices[device.DeviceId] = st

			switch st.kind {
			case v4l2.DeviceTypeHDMI:
				signal := v4l2.GetDVTimings(device.DevicePath)
				if st.ready {
					d.logger.Info("HDMI device initialized with signal",
						"device_id", device.DeviceId,
						"path", device.DevicePath,
						"resolution", fmt.Sprintf("%dx%d", signal.Width, signal.Height),
						"fps", fmt.Sprintf("%.2f", signal.FPS))
				} else {
					d.logger.Info("HDMI device initialized without signal",
						"device_id", device.DeviceId,
						"path", device.DevicePath,
						"state", signalStateString(signal.State))
				}
			case v4l2.DeviceTypeWebcam:
				d.logger.Debug("webcam device initialized", "device_id", device.DeviceId, "path", device.DevicePath)
			}

			d.broadcaster.BroadcastDeviceDiscovery("added", device, time.Now().Format(time.RFC3339))
		}
		d.logger.Info("initialized with V4L2 devices", "count", len(devices))
		d.mu.Unlock()
	}

	mon, err := hotplug.NewMonitor()
	if err != nil {
		return fmt.Errorf("failed to create hotplug monitor: %w", err)
	}
	mon.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)

	events := make(chan hotplug.Event, 16)
	go func() {
		if err := mon.Run(d.ctx, events); err != nil && d.ctx.Err() == nil {
			d.logger.Error("hotplug monitor stopped", "error", err)
		}
	}()

	go func() {
		defer mon.Close()
		d.logger.Info("hotplug monitoring started for video4linux devices")
		for {
			select {
			case <-d.ctx.Done():
				d.logger.Info("hotplug monitor stopped")
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Action != hotplug.ActionAdd && ev.Action != hotplug.ActionRemove {
					continue
				}
				d.logger.Debug("hotplug event", "action", ev.Action, "kobj", ev.KObj, "dev_name", ev.DevName)
				if ev.Action == hotplug.ActionAdd {
					time.Sleep(1 * time.Second) // let the kernel finish enumerating the node
				}
				d.checkAndBroadcastDeviceChanges()
			}
		}
	}()

	go d.monitorDeviceSignals()

	return nil
}

// StopMonitoring stops the device monitoring.
func (d *linuxDetector) StopMonitoring() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// monitorDeviceSignals monitors HDMI devices using events and periodic checks.
func (d *linuxDetector) monitorDeviceSignals() {
	d.logger.Info("signal monitoring started for HDMI devices")

	go d.periodicSignalCheck()
	d.startEventMonitors()
}

// periodicSignalCheck checks HDMI devices that have signal for signal loss.
func (d *linuxDetector) periodicSignalCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug("periodic signal check stopped")
			return
		case <-ticker.C:
			d.checkHDMISignals()
		}
	}
}

// checkHDMISignals checks only HDMI devices for signal status.
func (d *linuxDetector) checkHDMISignals() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for deviceID, st := range d.lastDevices {
		if st.kind != v4l2.DeviceTypeHDMI {
			continue
		}
		if !st.ready {
			continue
		}

		signal := v4l2.GetDVTimings(st.info.DevicePath)
		newReady := signal.State == v4l2.SignalStateLocked

		if d.logger.Enabled(d.ctx, slog.LevelDebug) {
			if newReady {
				d.logger.Debug("HDMI device signal check",
					"device_id", deviceID,
					"path", st.info.DevicePath,
					"state", "locked",
					"resolution", fmt.Sprintf("%dx%d", signal.Width, signal.Height),
					"fps", fmt.Sprintf("%.2f", signal.FPS))
			} else {
				d.logger.Debug("HDMI device signal check",
					"device_id", deviceID,
					"path", st.info.DevicePath,
					"state", signalStateString(signal.State))
			}
		}

		if st.ready != newReady {
			if newReady {
				d.logger.Info("HDMI device signal acquired",
					"device_id", deviceID,
					"device_name", st.info.DeviceName,
					"resolution", fmt.Sprintf("%dx%d", signal.Width, signal.Height),
					"fps", fmt.Sprintf("%.2f", signal.FPS))
			} else {
				reason := signalStateString(signal.State)
				d.logger.Warn("HDMI device signal lost",
					"device_id", deviceID,
					"device_name", st.info.DeviceName,
					"reason", reason)

				go d.monitorDeviceEvents(deviceID, st.info.DevicePath)
			}

			st.ready = newReady
			d.lastDevices[deviceID] = st
			d.broadcaster.BroadcastDeviceDiscovery("status_changed", st.info, time.Now().Format(time.RFC3339))
		}
	}
}

// startEventMonitors starts event monitoring for HDMI devices without signal.
func (d *linuxDetector) startEventMonitors() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for deviceID, st := range d.lastDevices {
		if st.kind != v4l2.DeviceTypeHDMI {
			continue
		}
		if !st.ready {
			go d.monitorDeviceEvents(deviceID, st.info.DevicePath)
		}
	}
}

// monitorDeviceEvents waits for source change events on a specific device.
func (d *linuxDetector) monitorDeviceEvents(deviceID, devicePath string) {
	d.logger.Debug("starting event monitor for HDMI device", "device_id", deviceID)

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug("event monitor stopped", "device_id", deviceID)
			return
		default:
			result, err := v4l2.WaitForSourceChange(devicePath, 60000)
			if err != nil {
				d.logger.Debug("event monitoring not supported, falling back to polling only",
					"device_id", deviceID, "error", err)
				return
			}

			if result > 0 {
				d.logger.Debug("source change event received", "device_id", deviceID, "changes", result)

				signal := v4l2.GetDVTimings(devicePath)
				ready := signal.State == v4l2.SignalStateLocked

				d.mu.Lock()
				if st, exists := d.lastDevices[deviceID]; exists {
					if ready && !st.ready {
						d.logger.Info("HDMI device signal acquired (via event)",
							"device_id", deviceID,
							"device_name", st.info.DeviceName,
							"resolution", fmt.Sprintf("%dx%d", signal.Width, signal.Height),
							"fps", fmt.Sprintf("%.2f", signal.FPS))

						st.ready = ready
						d.lastDevices[deviceID] = st
						d.broadcaster.BroadcastDeviceDiscovery("status_changed", st.info, time.Now().Format(time.RFC3339))
						d.mu.Unlock()

						d.logger.Debug("stopping event monitor, signal present", "device_id", deviceID)
						return
					} else if !ready {
						d.logger.Warn("source change event but signal not locked",
							"device_id", deviceID,
							"state", signalStateString(signal.State))
					}
				}
				d.mu.Unlock()
			}
		}
	}
}

// signalStateString converts a signal state to a human-readable string.
func signalStateString(state v4l2.SignalState) string {
	switch state {
	case v4l2.SignalStateNoLink:
		return "no_link"
	case v4l2.SignalStateNoSignal:
		return "no_signal"
	case v4l2.SignalStateUnstable:
		return "unstable"
	case v4l2.SignalStateLocked:
		return "locked"
	case v4l2.SignalStateOutOfRange:
		return "out_of_range"
	case v4l2.SignalStateNotSupported:
		return "not_supported"
	default:
		return "no_device"
	}
}

// checkAndBroadcastDeviceChanges checks for V4L2 device changes and broadcasts if needed.
func (d *linuxDetector) checkAndBroadcastDeviceChanges() {
	devices, err := d.FindDevices()
	if err != nil {
		d.logger.Error("error getting device data", "error", err)
		return
	}

	current := make(map[string]DeviceInfo, len(devices))
	for _, device := range devices {
		current[device.DeviceId] = device
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for deviceID, oldState := range d.lastDevices {
		if _, exists := current[deviceID]; !exists {
			d.broadcaster.BroadcastDeviceDiscovery("removed", oldState.info, time.Now().Format(time.RFC3339))
			d.logger.Info("device removed", "device", oldState.info.DevicePath, "name", oldState.info.DeviceName, "id", deviceID)
			delete(d.lastDevices, deviceID)
		}
	}

	for deviceID, newDevice := range current {
		oldState, exists := d.lastDevices[deviceID]

		if !exists {
			status := v4l2.GetDeviceStatus(newDevice.DevicePath)
			st := deviceState{info: newDevice, kind: status.DeviceType, ready: status.Ready}
			d.broadcaster.BroadcastDeviceDiscovery("added", newDevice, time.Now().Format(time.RFC3339))
			d.logger.Info("device added", "device", newDevice.DevicePath, "name", newDevice.DeviceName, "id", deviceID)
			d.lastDevices[deviceID] = st

			if st.kind == v4l2.DeviceTypeHDMI && !st.ready {
				go d.monitorDeviceEvents(deviceID, newDevice.DevicePath)
			}
		} else if oldState.info != newDevice {
			d.broadcaster.BroadcastDeviceDiscovery("changed", newDevice, time.Now().Format(time.RFC3339))
			d.logger.Info("device changed", "device", newDevice.DevicePath, "name", newDevice.DeviceName, "id", deviceID)
			oldState.info = newDevice
			d.lastDevices[deviceID] = oldState
		}
	}
}
