package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newCSRFHandler(called *bool, seenToken *string) http.Handler {
	mw := NewCSRFMiddleware(CSRFConfig{})
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		if seenToken != nil {
			*seenToken = CSRFTokenFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRFMiddleware_SafeMethods_PassThroughWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			handler := newCSRFHandler(&called, nil)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(method, "/todos", nil))

			if !called {
				t.Fatalf("handler should have been called for %s", method)
			}
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
		})
	}
}

func TestCSRFMiddleware_GETRequest_SetsCookieAndContextToken(t *testing.T) {
	called := false
	var seen string
	handler := newCSRFHandler(&called, &seen)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/todos", nil))

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected csrf_token cookie to be set")
	}
	if cookie.HttpOnly {
		t.Error("csrf cookie must be readable by scripts")
	}
	if len(cookie.Value) != 64 {
		t.Errorf("token length = %d, want 64", len(cookie.Value))
	}
	if seen != cookie.Value {
		t.Errorf("context token = %q, want cookie value %q", seen, cookie.Value)
	}
}

func TestCSRFMiddleware_GETRequest_ExistingCookie_DoesNotReplace(t *testing.T) {
	called := false
	var seen string
	handler := newCSRFHandler(&called, &seen)

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if len(w.Result().Cookies()) != 0 {
		t.Error("existing cookie should not be replaced")
	}
	if seen != "existing" {
		t.Errorf("context token = %q, want existing", seen)
	}
}

func TestCSRFMiddleware_StateChangingRequests(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		form       string
		wantStatus int
	}{
		{"no cookie", http.MethodPost, "", "tok", "", http.StatusForbidden},
		{"no request token", http.MethodPost, "tok", "", "", http.StatusForbidden},
		{"header mismatch", http.MethodPost, "tok", "other", "", http.StatusForbidden},
		{"header match", http.MethodPost, "tok", "tok", "", http.StatusOK},
		{"form match", http.MethodPost, "tok", "", "tok", http.StatusOK},
		{"form mismatch", http.MethodPost, "tok", "", "nope", http.StatusForbidden},
		{"patch with header", http.MethodPatch, "tok", "tok", "", http.StatusOK},
		{"delete without token", http.MethodDelete, "tok", "", "", http.StatusForbidden},
		{"put without cookie", http.MethodPut, "", "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := newCSRFHandler(&called, nil)

			var req *http.Request
			if tt.form != "" {
				body := url.Values{CSRFFormField: {tt.form}, "title": {"Buy milk"}}.Encode()
				req = httptest.NewRequest(tt.method, "/todos", strings.NewReader(body))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			} else {
				req = httptest.NewRequest(tt.method, "/api/todos", nil)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if body.Code != "CSRF_FAILED" {
					t.Errorf("code = %q, want CSRF_FAILED", body.Code)
				}
			}
		})
	}
}

func TestCSRFTokenHandler_SetsTokenCookieAndReturnsJSON(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{CookieSecure: true})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	if body["token"] == "" || body["token"] != cookies[0].Value {
		t.Errorf("token = %q, cookie = %q", body["token"], cookies[0].Value)
	}
	if !cookies[0].Secure {
		t.Error("cookie should be Secure")
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["token"] != "existing-token" {
		t.Errorf("token = %q, want existing-token", body["token"])
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("no new cookie expected")
	}
}
