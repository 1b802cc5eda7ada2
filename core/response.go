package core

import (
	"encoding/json"
	"fmt"
	"net/http"
)

var (
	jsonHeader  = []string{"application/json; charset=utf-8"}
	plainHeader = []string{"text/plain"}
)

// errorResponse is a fully precomputed error reply. The fixed responses
// are rendered once at startup; only errors carrying details marshal per
// request.
type errorResponse struct {
	status int
	body   []byte
}

func precompute(e *Error) errorResponse {
	return errorResponse{
		status: e.Status,
		body:   fmt.Appendf(nil, `{"error":%q,"code":%q}`, e.Message, e.Code),
	}
}

var (
	respNotFound          = precompute(ErrNotFound)
	respChallengeNotFound = precompute(ErrChallengeNotFound)
	respChallengeFail     = precompute(ErrChallengeFail)
)

func writeError(w http.ResponseWriter, e errorResponse) {
	h := w.Header()
	h["Content-Type"] = jsonHeader
	w.WriteHeader(e.status)
	w.Write(e.body)
}

// writeAppError renders a taxonomy error, including its details when
// present.
func writeAppError(w http.ResponseWriter, e *Error) {
	if len(e.Details) == 0 {
		writeError(w, precompute(e))
		return
	}
	body, err := json.Marshal(struct {
		Error   string            `json:"error"`
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}{e.Message, e.Code, e.Details})
	if err != nil {
		writeError(w, precompute(e))
		return
	}
	h := w.Header()
	h["Content-Type"] = jsonHeader
	w.WriteHeader(e.Status)
	w.Write(body)
}

func writePlain(w http.ResponseWriter, body string) {
	h := w.Header()
	h["Content-Type"] = plainHeader
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}
