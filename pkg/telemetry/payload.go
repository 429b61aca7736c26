package telemetry

import (
	"context"
	"maps"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Payload keys.
const (
	KeyData     = "data"
	KeyEnv      = "env"
	KeyEvent    = "event"
	KeyEventTS  = "event_ts"
	KeyHost     = "host"
	KeyIP       = "ip"
	KeyMetadata = "@metadata"
	KeyName     = "name"
	KeyRequest  = "request"
	KeyResponse = "response"
	KeyThreadID = "thread_id"
	KeyUser     = "user"
	KeyIndex    = "index"
)

// Host identifies the machine a payload was built on.
type Host struct {
	Name string
	IP   string
}

var localHost = sync.OnceValue(func() Host {
	name, err := os.Hostname()
	if err != nil {
		return Host{}
	}
	// Same fallback as gethostbyname: the name itself when it won't resolve.
	ip := name
	if addrs, err := net.LookupHost(name); err == nil {
		for _, a := range addrs {
			if parsed := net.ParseIP(a); parsed != nil && parsed.To4() != nil {
				ip = a
				break
			}
		}
	}
	return Host{Name: name, IP: ip}
})

// assembler builds one payload from a builder's state and a config snapshot.
type assembler struct {
	cfg      Config
	ambient  AmbientProvider
	bindings Bindings
	vars     any
	now      func() time.Time
	host     func() Host
}

func (a *assembler) build(ctx context.Context, b *Builder) (map[string]any, error) {
	host := a.host()
	payload := map[string]any{
		KeyEnv:     a.cfg.Env,
		KeyEvent:   b.event,
		KeyEventTS: a.now().Unix(),
		KeyHost: map[string]any{
			KeyName: host.Name,
			KeyIP:   host.IP,
		},
	}

	maps.Copy(payload, resolveVars(a.cfg.Payloads.Vars))
	maps.Copy(payload, resolveVars(a.vars))

	if req := a.requestData(ctx, b); req != nil {
		payload[KeyRequest] = req
	}

	if len(b.response) > 0 {
		payload[KeyResponse] = b.response
	}

	if user := a.userData(ctx, b); user != nil {
		payload[KeyUser] = user
	}

	if id, ok := a.bindings.Get(ThreadIDBinding); ok {
		payload[KeyThreadID] = id
	}

	if len(b.data) > 0 {
		payload[KeyData] = b.data
	}

	// Expand shaped values before obfuscating so nested keys are visible.
	payload, err := NormalizeMap(payload)
	if err != nil {
		return nil, err
	}

	payload = Obfuscate(payload, a.cfg.Payloads.ObfuscatedDataKeys)

	if index := ResolveIndex(a.bindings, a.cfg.Index, b.event, payload); index != "" {
		payload[KeyMetadata] = map[string]any{KeyIndex: index}
	}

	return payload, nil
}

func (a *assembler) requestData(ctx context.Context, b *Builder) map[string]any {
	local := b.requestMode == requestAmbient ||
		b.requestMode == requestExplicit ||
		(b.requestMode == requestLiteral && len(b.requestFields) > 0)
	if !a.cfg.Payloads.Request.Included && !local {
		return nil
	}

	if b.requestMode == requestLiteral && len(b.requestFields) > 0 {
		return b.requestFields
	}

	req := b.request
	if req == nil {
		req = a.ambient.CurrentRequest(ctx)
	}
	if req == nil {
		return nil
	}

	headers := make(map[string]any)
	for _, name := range a.cfg.Payloads.Request.Headers {
		name = strings.TrimSpace(name)
		if values := req.Header(name); len(values) > 0 {
			headers[name] = strings.Join(values, ",")
		}
	}

	return map[string]any{
		"uri":     req.FullURL(),
		"method":  req.Method(),
		"agent":   req.UserAgent(),
		"ip":      req.IP(),
		"data":    req.All(),
		"headers": headers,
	}
}

func (a *assembler) userData(ctx context.Context, b *Builder) map[string]any {
	if !a.cfg.Payloads.User.Included && b.userMode == userExclude {
		return nil
	}

	var user any
	switch b.userMode {
	case userExplicit:
		user = b.user
	case userAmbient:
		user = a.ambient.CurrentUser(ctx)
	}
	if isEmpty(user) {
		return nil
	}

	data := make(map[string]any)
	for _, attr := range a.cfg.Payloads.User.Attributes {
		attr = strings.TrimSpace(attr)
		data[attr] = userAttribute(user, attr)
	}

	if extra := userCallback(user, a.cfg.Payloads.User.CallbackMethod); len(extra) > 0 {
		maps.Copy(data, extra)
	}

	if len(data) == 0 {
		return nil
	}
	return data
}

// scopedBindings reads request scoped bindings first, then process wide ones.
type scopedBindings struct {
	request Bindings
	process Bindings
}

func (s scopedBindings) Get(key string) (any, bool) {
	if s.request != nil {
		if v, ok := s.request.Get(key); ok {
			return v, true
		}
	}
	if s.process != nil {
		return s.process.Get(key)
	}
	return nil, false
}

func (s scopedBindings) Set(key string, value any) {
	if s.request != nil {
		s.request.Set(key, value)
		return
	}
	if s.process != nil {
		s.process.Set(key, value)
	}
}
