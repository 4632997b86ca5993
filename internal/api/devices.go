package api

import (
	"net/http"

	"github.com/smazurov/videonode/internal/api/models"
	"github.com/smazurov/videonode/internal/params"
	"github.com/smazurov/videonode/pkg/linuxav/v4l2"
)

// handleDeviceList answers GET /device/list: every V4L2 capture device
// currently present on the host.
func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	found, err := s.deviceDetector.FindDevices()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "device_unavailable", err.Error())
		return
	}

	data := models.DeviceListData{Devices: make([]models.DeviceSummary, 0, len(found))}
	for _, d := range found {
		data.Devices = append(data.Devices, models.DeviceSummary{
			DeviceID:   d.DeviceId,
			DevicePath: d.DevicePath,
			DeviceName: d.DeviceName,
		})
	}
	writeJSON(w, http.StatusOK, data)
}

// handleDeviceCaps answers GET /device/{device}/caps: the driver's
// reported card name plus every (format x size x framerate) tuple it
// enumerates, mirroring the original implementation's build_device_caps_json.
func (s *Server) handleDeviceCaps(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device")

	devicePath, err := s.deviceDetector.GetDevicePathByID(deviceID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	formats, err := v4l2.GetFormats(devicePath)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "caps_unavailable", err.Error())
		return
	}

	card := deviceID
	if all, err := s.deviceDetector.FindDevices(); err == nil {
		for _, d := range all {
			if d.DeviceId == deviceID {
				card = d.DeviceName
				break
			}
		}
	}

	data := models.DeviceCapsData{
		Device:  deviceID,
		Card:    card,
		Formats: make([]models.FormatCaps, 0, len(formats)),
	}

	if sess, ok := s.sessionMgr.Find(deviceID); ok {
		actual := sess.Stats().Effective.Actual
		data.Current = &models.CurrentFormat{
			Width:  actual.Width,
			Height: actual.Height,
			FourCC: pixelFormatFourCC(actual.Codec),
			FPS:    actual.FPS,
		}
	}

	for _, f := range formats {
		fc := models.FormatCaps{
			FourCC:      v4l2.FormatFourCC(f.PixelFormat),
			Description: f.FormatName,
		}

		sizes, err := v4l2.GetResolutions(devicePath, f.PixelFormat)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "caps_unavailable", err.Error())
			return
		}
		for _, sz := range sizes {
			sizeCaps := models.SizeCaps{Type: "discrete", Width: sz.Width, Height: sz.Height}

			rates, err := v4l2.GetFramerates(devicePath, f.PixelFormat, sz.Width, sz.Height)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "caps_unavailable", err.Error())
				return
			}
			for _, fr := range rates {
				sizeCaps.Intervals = append(sizeCaps.Intervals, models.IntervalCaps{
					Numerator:   fr.Numerator,
					Denominator: fr.Denominator,
				})
			}
			fc.Sizes = append(fc.Sizes, sizeCaps)
		}
		data.Formats = append(data.Formats, fc)
	}

	writeJSON(w, http.StatusOK, data)
}

// pixelFormatFourCC reports the negotiated wire codec as a display string;
// an H.264 session has no single V4L2 fourcc of its own, so it is named
// directly rather than by the YUYV/NV12 raw format feeding the encoder.
func pixelFormatFourCC(codec params.Codec) string {
	if codec == params.CodecH264 {
		return "H264"
	}
	return "MJPG"
}
