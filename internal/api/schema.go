package api

import (
	"net/http"

	"github.com/smazurov/videonode/internal/api/models"
)

// handleSchema answers GET /api/schema: a hand-maintained description of
// every query parameter the streaming endpoints accept, mirroring the
// original implementation's hand-rolled schema document so a UI or CLI
// client can build a parameter form without hardcoding it.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.SchemaData{
		Params: []models.ParamSchema{
			{Name: "w", Type: "integer", Default: "640"},
			{Name: "h", Type: "integer", Default: "480"},
			{Name: "fps", Type: "integer", Default: "15"},
			{Name: "bitrate", Type: "integer", Default: "256"},
			{Name: "quality", Type: "integer", Default: "80"},
			{Name: "gop", Type: "integer", Default: "30"},
			{Name: "codec", Type: "string", Enum: []string{"mjpeg", "h264"}, Default: "mjpeg"},
			{Name: "latency", Type: "string", Enum: []string{"view", "low", "ultra", "zerolatency"}, Default: "view"},
			{Name: "container", Type: "string", Enum: []string{"raw", "mp4"}, Default: "raw"},
			{Name: "target", Type: "string"},
			{Name: "port", Type: "integer"},
			{Name: "duration", Type: "integer"},
		},
	})
}
