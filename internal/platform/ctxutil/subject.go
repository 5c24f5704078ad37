package ctxutil

import "context"

type subjectKey struct{}

// WithSubject stores the authenticated token subject (the requesting user).
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(Default(ctx), subjectKey{}, subject)
}

func GetSubject(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
