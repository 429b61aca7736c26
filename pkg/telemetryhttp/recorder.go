package telemetryhttp

import (
	"bytes"
	"net/http"
)

// Recorder passes a response through while keeping a copy for a response
// snapshot. It implements telemetry.ResponseSource.
type Recorder struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
	body        bytes.Buffer
	limit       int
}

// NewRecorder wraps w. limit caps the captured body in bytes; 0 means no cap.
func NewRecorder(w http.ResponseWriter, limit int) *Recorder {
	return &Recorder{ResponseWriter: w, status: http.StatusOK, limit: limit}
}

func (r *Recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *Recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.capture(p)
	return r.ResponseWriter.Write(p)
}

func (r *Recorder) capture(p []byte) {
	if r.limit <= 0 {
		r.body.Write(p)
		return
	}
	if room := r.limit - r.body.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		r.body.Write(p)
	}
}

// Flush implements http.Flusher when the wrapped writer does.
func (r *Recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the wrapped writer.
func (r *Recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// StatusCode is the status written, 200 if none was.
func (r *Recorder) StatusCode() int { return r.status }

// Content is the captured body.
func (r *Recorder) Content() []byte { return r.body.Bytes() }
