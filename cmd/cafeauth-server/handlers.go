package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brewline/cafeauth"
	"github.com/brewline/cafeauth/middleware"
)

const maxBodyBytes = 64 << 10

type server struct {
	engine *cafeauth.Engine
	logger *slog.Logger
}

// routes mounts the /v1 API. Every route runs behind ClientInfo so that the
// lockout sees the caller's address.
func routes(engine *cafeauth.Engine, logger *slog.Logger, trustProxy bool) http.Handler {
	s := &server{engine: engine, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/signup", s.signup)
	mux.HandleFunc("POST /v1/signup/resend", s.signupResend)
	mux.HandleFunc("POST /v1/signup/verify", s.signupVerify)

	mux.HandleFunc("POST /v1/admin/login", s.adminLogin)
	mux.HandleFunc("POST /v1/admin/otp", s.adminOTP)
	mux.HandleFunc("POST /v1/admin/otp/verify", s.adminOTPVerify)
	mux.HandleFunc("POST /v1/login", s.customerLogin)

	mux.HandleFunc("POST /v1/password/reset", s.resetRequest(cafeauth.PrincipalUser))
	mux.HandleFunc("POST /v1/password/reset/confirm", s.resetConfirm(cafeauth.PrincipalUser))
	mux.HandleFunc("POST /v1/admin/password/reset", s.resetRequest(cafeauth.PrincipalAdmin))
	mux.HandleFunc("POST /v1/admin/password/reset/confirm", s.resetConfirm(cafeauth.PrincipalAdmin))

	mux.Handle("GET /v1/me", middleware.Guard(engine)(http.HandlerFunc(s.me)))
	mux.Handle("POST /v1/admin/devices/forget",
		middleware.Guard(engine, cafeauth.CapAdminLogin)(http.HandlerFunc(s.forgetDevice)))
	mux.Handle("GET /v1/admin/lock-status",
		middleware.Guard(engine, cafeauth.CapStaffManage)(http.HandlerFunc(s.lockStatus)))

	return middleware.ClientInfo(trustProxy)(mux)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Remember bool   `json:"remember"`
}

type resetConfirmRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type principalView struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Email       string     `json:"email"`
	Username    string     `json:"username,omitempty"`
	FullName    string     `json:"full_name"`
	Role        string     `json:"role"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type loginView struct {
	Token          string         `json:"token,omitempty"`
	TokenExpiresAt *time.Time     `json:"token_expires_at,omitempty"`
	RequiresOTP    bool           `json:"requires_otp"`
	OTPExpiresAt   *time.Time     `json:"otp_expires_at,omitempty"`
	TrustedDevice  bool           `json:"trusted_device"`
	Principal      *principalView `json:"principal,omitempty"`
}

type challengeView struct {
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *server) signup(w http.ResponseWriter, r *http.Request) {
	var body signupRequest
	if !s.decode(w, r, &body) {
		return
	}
	c, err := s.engine.RequestSignupOTP(r.Context(), cafeauth.SignupRequest{
		Email:    body.Email,
		Username: body.Username,
		FullName: body.FullName,
		Phone:    body.Phone,
		Password: body.Password,
	})
	s.respondChallenge(w, r, c, err)
}

func (s *server) signupResend(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if !s.decode(w, r, &body) {
		return
	}
	c, err := s.engine.ResendSignupOTP(r.Context(), body.Email)
	s.respondChallenge(w, r, c, err)
}

func (s *server) signupVerify(w http.ResponseWriter, r *http.Request) {
	var body codeRequest
	if !s.decode(w, r, &body) {
		return
	}
	p, err := s.engine.VerifySignupOTP(r.Context(), body.Email, body.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewPrincipal(p))
}

func (s *server) adminLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.engine.Login(r.Context(), body.Email, body.Password)
	s.respondLogin(w, r, res, err)
}

func (s *server) adminOTP(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if !s.decode(w, r, &body) {
		return
	}
	c, err := s.engine.RequestAdminOTP(r.Context(), body.Email, body.Password)
	s.respondChallenge(w, r, c, err)
}

func (s *server) adminOTPVerify(w http.ResponseWriter, r *http.Request) {
	var body codeRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.engine.VerifyAdminOTP(r.Context(), body.Email, body.Code, body.Remember)
	s.respondLogin(w, r, res, err)
}

func (s *server) customerLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.engine.LoginCustomer(r.Context(), body.Email, body.Password)
	s.respondLogin(w, r, res, err)
}

func (s *server) resetRequest(t cafeauth.PrincipalType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		if !s.decode(w, r, &body) {
			return
		}
		var (
			c   *cafeauth.OTPChallenge
			err error
		)
		if t == cafeauth.PrincipalAdmin {
			c, err = s.engine.RequestAdminPasswordReset(r.Context(), body.Email)
		} else {
			c, err = s.engine.RequestPasswordReset(r.Context(), body.Email)
		}
		s.respondChallenge(w, r, c, err)
	}
}

func (s *server) resetConfirm(t cafeauth.PrincipalType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body resetConfirmRequest
		if !s.decode(w, r, &body) {
			return
		}
		var err error
		if t == cafeauth.PrincipalAdmin {
			err = s.engine.ResetAdminPassword(r.Context(), body.Email, body.Code, body.NewPassword)
		} else {
			err = s.engine.ResetPassword(r.Context(), body.Email, body.Code, body.NewPassword)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	p, ok := cafeauth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, viewPrincipal(p))
}

// forgetDevice revokes the caller's own trusted-device tokens, including the
// one used for this request.
func (s *server) forgetDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := cafeauth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := s.engine.ForgetDevice(r.Context(), p.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) lockStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	st, err := s.engine.LockStatus(r.Context(), q.Get("email"), q.Get("ip"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := map[string]any{"locked": st.Locked}
	if st.Locked {
		out["type"] = st.Type
		out["until"] = st.Until
	}
	if len(st.Failures) > 0 {
		out["failures"] = st.Failures
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) respondChallenge(w http.ResponseWriter, r *http.Request, c *cafeauth.OTPChallenge, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, challengeView{ExpiresAt: c.ExpiresAt})
}

func (s *server) respondLogin(w http.ResponseWriter, r *http.Request, res *cafeauth.LoginResult, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := loginView{
		Token:         res.Token,
		RequiresOTP:   res.RequiresOTP,
		TrustedDevice: res.TrustedDevice,
		Principal:     viewPrincipal(res.Principal),
	}
	if !res.TokenExpiresAt.IsZero() {
		out.TokenExpiresAt = &res.TokenExpiresAt
	}
	if res.RequiresOTP {
		out.OTPExpiresAt = &res.OTPExpiresAt
		writeJSON(w, http.StatusAccepted, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}

type errorBody struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// statusFor maps the engine's error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cafeauth.ErrValidation),
		errors.Is(err, cafeauth.ErrOTPInvalidOrExpired),
		errors.Is(err, cafeauth.ErrOTPAttemptsExceeded):
		return http.StatusBadRequest
	case errors.Is(err, cafeauth.ErrAuthentication),
		errors.Is(err, cafeauth.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, cafeauth.ErrAccountInactive),
		errors.Is(err, cafeauth.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, cafeauth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cafeauth.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, cafeauth.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, cafeauth.ErrDispatchFailure):
		return http.StatusBadGateway
	case errors.Is(err, cafeauth.ErrUnavailable),
		errors.Is(err, cafeauth.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var verr *cafeauth.ValidationError
	if errors.As(err, &verr) {
		body.Error = cafeauth.ErrValidation.Error()
		body.Field = verr.Field
		body.Reason = verr.Reason
	}
	if locked, ok := cafeauth.IsLocked(err); ok {
		secs := int(locked.Remaining().Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body.Error = cafeauth.ErrLocked.Error()
	}
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "unmapped error", "path", r.URL.Path, "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func viewPrincipal(p *cafeauth.Principal) *principalView {
	if p == nil {
		return nil
	}
	return &principalView{
		ID:          p.ID,
		Type:        string(p.Type),
		Email:       p.Email,
		Username:    p.Username,
		FullName:    p.FullName,
		Role:        string(p.Role),
		LastLoginAt: p.LastLoginAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
