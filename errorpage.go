package ghauth

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
)

//go:embed templates/error.html
var errorPageHTML string

var errorPageTmpl = template.Must(template.New("error").Parse(errorPageHTML))

// ErrorMessage is the user-facing text for one failure reason.
type ErrorMessage struct {
	Title       string
	Description string
}

var errorMessages = map[string]ErrorMessage{
	ReasonCancelled: {
		Title:       "Authentication Cancelled",
		Description: "You cancelled the GitHub authorization. Please try again if you want to sign in.",
	},
	ReasonAuthFailed: {
		Title:       "Authentication Failed",
		Description: "We couldn't complete the authentication process. Please try again.",
	},
	ReasonInvalidRequest: {
		Title:       "Invalid Request",
		Description: "The authentication request was invalid. Please try again.",
	},
}

// MessageFor returns the fixed message for reason; unknown reasons get the
// auth_failed text.
func MessageFor(reason string) ErrorMessage {
	if m, ok := errorMessages[reason]; ok {
		return m
	}
	return errorMessages[ReasonAuthFailed]
}

// ErrorPageHandler renders the message for ?message=<reason> with a link
// back to the start of the flow.
func (a *Auth) ErrorPageHandler(w http.ResponseWriter, r *http.Request) {
	msg := MessageFor(r.URL.Query().Get("message"))

	var buf bytes.Buffer
	err := errorPageTmpl.Execute(&buf, struct {
		ErrorMessage
		RetryPath string
	}{msg, StartPath})
	if err != nil {
		a.log.Error("auth.error_page.render_failed", "could not render error page", "error", err)
		http.Error(w, msg.Title, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
