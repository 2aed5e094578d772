package btr

import (
	"context"
	"html"
	"io"
	"net/http"

	"github.com/a-h/templ"
)

// Render writes a templ component to the HTTP response.
//
// Sets Content-Type to text/html and renders the component using the
// request's context. Replay programs render the same way:
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    btr.Render(w, r, program.Component(state))
//	}
func Render(w http.ResponseWriter, r *http.Request, component templ.Component) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return component.Render(r.Context(), w)
}

// ErrorComponent renders err as an explicit error payload. The message is
// HTML-escaped.
func ErrorComponent(err error) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		msg := "unknown error"
		if err != nil {
			msg = err.Error()
		}
		_, werr := io.WriteString(w, `<div class="btr-error" role="alert">Replay error: `+html.EscapeString(msg)+`</div>`)
		return werr
	})
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id Registry.Handler assigned to the request, or
// "" outside a registry request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
