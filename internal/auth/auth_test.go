package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenAuthorizer(t *testing.T) {
	a := NewTokenAuthorizer([]Token{
		{Token: "user-tok", CallerID: "alice", Role: RoleUser},
		{Token: "admin-tok", CallerID: "bob", Role: RolePrivileged},
		{Token: "svc-tok", Role: RoleInternal},
		{Token: "", CallerID: "ignored", Role: RolePrivileged},
		{Token: "odd-tok", CallerID: "carol", Role: "superuser"},
	})

	tests := []struct {
		name    string
		header  string
		want    Caller
		wantErr error
	}{
		{"user", "Bearer user-tok", Caller{ID: "alice", Role: RoleUser}, nil},
		{"privileged", "Bearer admin-tok", Caller{ID: "bob", Role: RolePrivileged}, nil},
		{"internal gets default id", "Bearer svc-tok", Caller{ID: "internal", Role: RoleInternal}, nil},
		{"unknown role downgraded", "Bearer odd-tok", Caller{ID: "carol", Role: RoleUser}, nil},
		{"missing header", "", Caller{}, ErrUnauthorized},
		{"wrong scheme", "Basic admin-tok", Caller{}, ErrUnauthorized},
		{"empty token", "Bearer ", Caller{}, ErrUnauthorized},
		{"unknown token", "Bearer nope", Caller{}, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authenticate(tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDisabled(t *testing.T) {
	c, err := Disabled().Authenticate("")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != LocalCallerID || !c.Privileged() {
		t.Errorf("caller = %+v", c)
	}
}

func TestCallerPolicy(t *testing.T) {
	user := Caller{ID: "alice", Role: RoleUser}
	admin := Caller{ID: "bob", Role: RolePrivileged}
	svc := Caller{ID: "scheduler", Role: RoleInternal}

	if !errors.Is(user.RequirePrivileged(), ErrForbidden) {
		t.Error("user should not be privileged")
	}
	if admin.RequirePrivileged() != nil || svc.RequirePrivileged() != nil {
		t.Error("admin and internal callers should be privileged")
	}
	if user.RequireOwner("alice") != nil {
		t.Error("user should own their resource")
	}
	if !errors.Is(admin.RequireOwner("alice"), ErrForbidden) {
		t.Error("privileged caller should not own another caller's resource")
	}
	if svc.RequireOwner("alice") != nil {
		t.Error("internal caller should own everything")
	}
	if (Caller{}).Owns("") {
		t.Error("anonymous caller should not own an unowned resource")
	}
}

func TestMiddleware(t *testing.T) {
	a := NewTokenAuthorizer([]Token{{Token: "tok", CallerID: "alice", Role: RolePrivileged}})
	var seen Caller
	handler := Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CallerFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/x", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || seen.ID != "alice" {
		t.Errorf("status = %d, caller = %+v", w.Code, seen)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	if _, ok := CallerFrom(context.Background()); ok {
		t.Error("expected no caller in empty context")
	}
}
