package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/smazurov/videonode/internal/params"
)

// parseCaptureParams builds a CaptureParams from r's query string, starting
// from the defaults and overriding only the keys the client supplied,
// mirroring the original implementation's parse_params.
func parseCaptureParams(r *http.Request) (params.CaptureParams, error) {
	p := params.DefaultCaptureParams()
	q := r.URL.Query()

	if v := q.Get("w"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("w must be an integer, got %q", v)
		}
		p.Width = n
	}
	if v := q.Get("h"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("h must be an integer, got %q", v)
		}
		p.Height = n
	}
	if v := q.Get("fps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("fps must be an integer, got %q", v)
		}
		p.FPS = n
	}
	if v := q.Get("bitrate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("bitrate must be an integer, got %q", v)
		}
		p.BitrateKbps = n
	}
	if v := q.Get("quality"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("quality must be an integer, got %q", v)
		}
		p.Quality = n
	}
	if v := q.Get("gop"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("gop must be an integer, got %q", v)
		}
		p.GOP = n
	}
	if v := q.Get("codec"); v != "" {
		switch params.Codec(v) {
		case params.CodecMJPEG, params.CodecH264:
			p.Codec = params.Codec(v)
		default:
			return p, fmt.Errorf("codec must be one of mjpeg, h264, got %q", v)
		}
	}
	if v := q.Get("latency"); v != "" {
		switch params.Latency(v) {
		case params.LatencyView, params.LatencyLow, params.LatencyUltra, params.LatencyZeroLatency:
			p.Latency = params.Latency(v)
		default:
			return p, fmt.Errorf("latency must be one of view, low, ultra, zerolatency, got %q", v)
		}
	}
	if v := q.Get("container"); v != "" {
		switch params.Container(v) {
		case params.ContainerRaw, params.ContainerMP4:
			p.Container = params.Container(v)
		default:
			return p, fmt.Errorf("container must be one of raw, mp4, got %q", v)
		}
	}

	return p, nil
}
