package telemetry

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// Request is the request-like source the assembler extracts request data from.
type Request interface {
	FullURL() string
	Method() string
	UserAgent() string
	IP() string
	// All returns every input value: query, form fields, uploaded files and
	// JSON body fields.
	All() map[string]any
	// Header returns all values of the named header.
	Header(name string) []string
}

// maxMemory bounds request bodies buffered and multipart forms parsed on
// behalf of telemetry.
const maxMemory = 32 << 20

type httpRequest struct {
	r *http.Request

	// body holds the buffered request body once it has been read. buffered
	// is set even when the body could not be kept, so it is never read twice.
	body     []byte
	buffered bool

	once  sync.Once
	input map[string]any
}

// HTTPRequest adapts a *http.Request. The body is read on the first call to
// All and put back on r.
func HTTPRequest(r *http.Request) Request {
	return &httpRequest{r: r}
}

// BindHTTPRequest returns a copy of r that carries itself as the ambient
// request. Form, JSON and multipart bodies are buffered up front, so the
// handler and telemetry can each read them in any order.
func BindHTTPRequest(r *http.Request) *http.Request {
	h := &httpRequest{}
	bound := r.WithContext(ContextWithRequest(r.Context(), h))
	h.r = bound
	if _, ok := bodyMediaType(bound); ok {
		h.body = bufferBody(bound)
		h.buffered = true
	}
	return bound
}

func (h *httpRequest) FullURL() string {
	scheme := "http"
	if h.r.TLS != nil {
		scheme = "https"
	}
	if proto := h.r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + h.r.Host + h.r.URL.RequestURI()
}

func (h *httpRequest) Method() string { return h.r.Method }

func (h *httpRequest) UserAgent() string { return h.r.UserAgent() }

func (h *httpRequest) IP() string { return clientIP(h.r) }

func (h *httpRequest) Header(name string) []string { return h.r.Header.Values(name) }

func (h *httpRequest) All() map[string]any {
	h.once.Do(func() { h.input = h.readInput() })
	return h.input
}

func (h *httpRequest) readInput() map[string]any {
	r := h.r
	input := make(map[string]any)
	for k, vs := range r.URL.Query() {
		input[k] = formValue(vs)
	}

	mediaType, ok := bodyMediaType(r)
	if !ok {
		return input
	}
	if !h.buffered {
		// A handler that already parsed a form has consumed the body.
		if mediaType == "application/json" || (r.PostForm == nil && r.MultipartForm == nil) {
			h.body = bufferBody(r)
		}
		h.buffered = true
	}
	if h.body == nil {
		addParsedForm(input, r)
		return input
	}

	switch mediaType {
	case "application/json":
		var fields map[string]any
		if json.Unmarshal(h.body, &fields) == nil {
			for k, v := range fields {
				input[k] = v
			}
		}
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(h.body))
		if err != nil {
			break
		}
		for k, vs := range values {
			input[k] = formValue(vs)
		}
	case "multipart/form-data":
		_, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		form, err := multipart.NewReader(bytes.NewReader(h.body), params["boundary"]).ReadForm(maxMemory)
		if err != nil {
			break
		}
		addMultipartForm(input, form)
	}
	return input
}

// addParsedForm falls back to whatever the handler has already parsed.
func addParsedForm(input map[string]any, r *http.Request) {
	if r.MultipartForm != nil {
		addMultipartForm(input, r.MultipartForm)
		return
	}
	for k, vs := range r.PostForm {
		input[k] = formValue(vs)
	}
}

func addMultipartForm(input map[string]any, form *multipart.Form) {
	for k, vs := range form.Value {
		input[k] = formValue(vs)
	}
	for k, fhs := range form.File {
		if len(fhs) == 1 {
			input[k] = fhs[0]
			continue
		}
		input[k] = append([]*multipart.FileHeader(nil), fhs...)
	}
}

// bodyMediaType reports the media type of a body telemetry knows how to read.
func bodyMediaType(r *http.Request) (string, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", false
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json", "application/x-www-form-urlencoded", "multipart/form-data":
		return mediaType, true
	}
	return "", false
}

type replayBody struct {
	io.Reader
	io.Closer
}

// bufferBody reads up to maxMemory bytes of r.Body and puts back a body that
// replays them followed by whatever was left unread. It returns nil when the
// body is larger than maxMemory or could not be read.
func bufferBody(r *http.Request) []byte {
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxMemory+1))
	r.Body = replayBody{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil || len(buf) > maxMemory {
		return nil
	}
	return buf
}

func formValue(vs []string) any {
	if len(vs) == 1 {
		return vs[0]
	}
	return append([]string(nil), vs...)
}

// clientIP prefers the first public X-Forwarded-For hop and falls back to the
// peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			ip := net.ParseIP(strings.TrimSpace(part))
			if isPublicIP(ip) {
				return ip.String()
			}
		}
	}
	if realIP := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); realIP != nil {
		return realIP.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsLinkLocalMulticast()
}

// ResponseSource is anything a response snapshot can be taken from.
type ResponseSource interface {
	StatusCode() int
	Header() http.Header
	Content() []byte
}

// Response is a plain ResponseSource.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

func (r Response) StatusCode() int     { return r.Status }
func (r Response) Header() http.Header { return r.Headers }
func (r Response) Content() []byte     { return r.Body }

// snapshotResponse copies status, headers (lowercased names) and content.
func snapshotResponse(src ResponseSource) map[string]any {
	headers := make(map[string]any, len(src.Header()))
	for name, values := range src.Header() {
		headers[strings.ToLower(name)] = append([]string(nil), values...)
	}
	return map[string]any{
		"status":  src.StatusCode(),
		"headers": headers,
		"content": string(src.Content()),
	}
}
