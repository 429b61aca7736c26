package telemetry

import "context"

// AmbientProvider exposes the request and authenticated user of the current
// unit of work. Either may be nil.
type AmbientProvider interface {
	CurrentRequest(ctx context.Context) Request
	CurrentUser(ctx context.Context) any
}

// ContextAmbient reads the ambient request and user from the context, where
// middleware put them with ContextWithRequest and ContextWithUser.
type ContextAmbient struct{}

func (ContextAmbient) CurrentRequest(ctx context.Context) Request {
	r, _ := ctx.Value(requestKey).(Request)
	return r
}

func (ContextAmbient) CurrentUser(ctx context.Context) any {
	return ctx.Value(userKey)
}

// ContextWithRequest stores the ambient request.
func ContextWithRequest(ctx context.Context, r Request) context.Context {
	return context.WithValue(ctx, requestKey, r)
}

// ContextWithUser stores the ambient authenticated user.
func ContextWithUser(ctx context.Context, user any) context.Context {
	return context.WithValue(ctx, userKey, user)
}
