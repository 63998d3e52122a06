package ctxutil

import "context"

type requestDataKey struct{}

// RequestData carries the authenticated caller of a request.
type RequestData struct {
	ChildID     string
	TokenString string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

// ChildID returns the authenticated child id, or "" for anonymous requests.
func ChildID(ctx context.Context) string {
	if rd := GetRequestData(ctx); rd != nil {
		return rd.ChildID
	}
	return ""
}
