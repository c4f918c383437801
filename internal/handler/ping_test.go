package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func pingRequest(t *testing.T, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewPingHandler(testLogger())
	e := echo.New()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(http.MethodGet, target, http.NoBody)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	return rec
}

func TestPingHandler_Handle(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		body        string
		wantMessage string
	}{
		{"number in query", "/ping?number=42", "", "you sent me 42"},
		{"no number", "/ping", "", "you sent me nothing"},
		{"string number in body", "/ping", `{"number":"7"}`, "you sent me 7"},
		{"numeric number in body", "/ping", `{"number":42}`, "you sent me 42"},
		{"null number in body", "/ping", `{"number":null}`, "you sent me nothing"},
		{"body without number", "/ping", `{"other":"x"}`, "you sent me nothing"},
		{"malformed body", "/ping", `!!not json!!`, "you sent me nothing"},
		{"query wins over body", "/ping?number=1", `{"number":"2"}`, "you sent me 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := pingRequest(t, tt.target, tt.body)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}

			var body struct {
				OK      bool   `json:"ok"`
				Path    string `json:"path"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !body.OK {
				t.Error("ok = false, want true")
			}
			if body.Path != "/ping" {
				t.Errorf("path = %q, want %q", body.Path, "/ping")
			}
			if body.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", body.Message, tt.wantMessage)
			}
		})
	}
}
