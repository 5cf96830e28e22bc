package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/ticketauth"
	"github.com/MrEthical07/ticketauth/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// envelope is the response shape every endpoint returns. Code is 1 on
// success and 0 on failure.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

type credentialsRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	DisplayName   string `json:"displayName"`
	CaptchaKey    string `json:"captchaKey"`
	CaptchaAnswer string `json:"captchaAnswer"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type sendCodeRequest struct {
	Email         string `json:"email"`
	CaptchaKey    string `json:"captchaKey"`
	CaptchaAnswer string `json:"captchaAnswer"`
}

type callbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    int64     `json:"userId,string"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	NewUser   bool      `json:"newUser"`
}

type registerResponse struct {
	Status string         `json:"status"`
	Login  *loginResponse `json:"login,omitempty"`
}

type remainingResponse struct {
	Seconds int64 `json:"seconds"`
	Active  bool  `json:"active"`
}

type captchaResponse struct {
	Key       string    `json:"key"`
	Image     string    `json:"image"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type wechatURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type principalResponse struct {
	UserID   int64  `json:"userId,string"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Handler exposes the engine over HTTP.
type Handler struct {
	engine *ticketauth.Engine
	logger *zap.Logger
}

func newHandler(engine *ticketauth.Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, logger: logger.Named("http")}
}

// Routes registers the API endpoints. limit wraps the endpoints that
// accept credentials or trigger delivery.
func (h *Handler) Routes(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	limited := func(fn http.HandlerFunc) http.Handler { return limit(fn) }

	mux.Handle("POST /api/auth/user/login", limited(h.userLogin))
	mux.Handle("POST /api/auth/admin/login", limited(h.adminLogin))
	mux.Handle("POST /api/auth/user/register", limited(h.register))
	mux.Handle("POST /api/auth/user/register/verify", limited(h.completeRegistration))
	mux.HandleFunc("POST /api/auth/user/logout", h.logout)
	mux.Handle("POST /api/auth/verification/send", limited(h.sendCode))
	mux.Handle("POST /api/auth/verification/resend", limited(h.resendCode))
	mux.HandleFunc("GET /api/auth/verification/remaining-time/{email}", h.remainingTime)
	mux.Handle("GET /api/captcha", limited(h.captcha))
	mux.HandleFunc("GET /api/auth/wechat/qrcode", h.wechatURL)
	mux.Handle("POST /api/auth/wechat/callback", limited(h.wechatCallback))
	mux.HandleFunc("GET /api/user/me", h.me)
	mux.HandleFunc("GET /healthz", h.health)
}

func (h *Handler) userLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, ticketauth.RoleUser)
}

func (h *Handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, ticketauth.RoleAdmin)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, role string) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := h.engine.LoginAs(r.Context(), req.Email, req.Password, role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, toLoginResponse(result))
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, "email and password are required")
		return
	}

	var (
		outcome ticketauth.LoginOutcome
		err     error
	)
	if req.CaptchaKey != "" {
		outcome, err = h.engine.LoginOrRegisterWithCaptcha(r.Context(), req.Email, req.Password, req.DisplayName, req.CaptchaKey, req.CaptchaAnswer)
	} else {
		outcome, err = h.engine.LoginOrRegister(r.Context(), req.Email, req.Password, req.DisplayName)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := registerResponse{Status: outcome.Kind.String()}
	if outcome.Kind == ticketauth.OutcomeLoggedIn {
		login := toLoginResponse(outcome.Result)
		resp.Login = &login
	}
	writeSuccess(w, resp)
}

func (h *Handler) completeRegistration(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Code == "" {
		writeFailure(w, http.StatusBadRequest, "email and code are required")
		return
	}

	result, err := h.engine.CompleteRegistrationWithCode(r.Context(), req.Email, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, toLoginResponse(result))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Logout(r.Context(), middleware.ExtractToken(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) sendCode(w http.ResponseWriter, r *http.Request) {
	h.deliverCode(w, r, false)
}

func (h *Handler) resendCode(w http.ResponseWriter, r *http.Request) {
	h.deliverCode(w, r, true)
}

func (h *Handler) deliverCode(w http.ResponseWriter, r *http.Request, resend bool) {
	var req sendCodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeFailure(w, http.StatusBadRequest, "email is required")
		return
	}

	var err error
	switch {
	case resend:
		err = h.engine.ResendVerificationCode(r.Context(), req.Email)
	case req.CaptchaKey != "":
		err = h.engine.SendVerificationCodeWithCaptcha(r.Context(), req.Email, req.CaptchaKey, req.CaptchaAnswer)
	default:
		err = h.engine.SendVerificationCode(r.Context(), req.Email)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) remainingTime(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PathValue("email"))
	if email == "" {
		writeFailure(w, http.StatusBadRequest, "email is required")
		return
	}

	remaining, ok, err := h.engine.VerificationCodeRemaining(r.Context(), email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, remainingResponse{Seconds: int64(remaining / time.Second), Active: ok})
}

func (h *Handler) captcha(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.engine.IssueCaptcha(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	image := ""
	if len(challenge.Image) > 0 {
		image = "data:" + challenge.ContentType + ";base64," + base64.StdEncoding.EncodeToString(challenge.Image)
	}
	writeSuccess(w, captchaResponse{Key: challenge.Key, Image: image, ExpiresAt: challenge.ExpiresAt})
}

func (h *Handler) wechatURL(w http.ResponseWriter, r *http.Request) {
	url, state, err := h.engine.FederatedAuthURL(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, wechatURLResponse{URL: url, State: state})
}

func (h *Handler) wechatCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Code == "" || req.State == "" {
		writeFailure(w, http.StatusBadRequest, "code and state are required")
		return
	}

	result, err := h.engine.FederatedLogin(r.Context(), req.State, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, toLoginResponse(result))
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeSuccess(w, principalResponse{
		UserID:   principal.SubjectID,
		Username: principal.Username,
		Role:     principal.Role,
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.RequestIDFromContext(r)),
			zap.Error(err),
		)
	}
	writeFailure(w, status, msg)
}

// statusFor maps engine errors to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ticketauth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, ticketauth.ErrUnauthorized),
		errors.Is(err, ticketauth.ErrTokenMalformed),
		errors.Is(err, ticketauth.ErrTokenExpired),
		errors.Is(err, ticketauth.ErrTokenRevoked):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ticketauth.ErrAccountDisabled):
		return http.StatusForbidden, "account disabled"
	case errors.Is(err, ticketauth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ticketauth.ErrLoginRateLimited):
		return http.StatusTooManyRequests, "too many login attempts"
	case errors.Is(err, ticketauth.ErrRateLimited):
		return http.StatusTooManyRequests, "please wait before requesting another code"
	case errors.Is(err, ticketauth.ErrRetryExceeded):
		return http.StatusTooManyRequests, "verification retries exceeded"
	case errors.Is(err, ticketauth.ErrCodeMismatch):
		return http.StatusBadRequest, "verification code is invalid or expired"
	case errors.Is(err, ticketauth.ErrCaptchaMismatch):
		return http.StatusBadRequest, "captcha is invalid or expired"
	case errors.Is(err, ticketauth.ErrDeliveryFailed):
		return http.StatusBadGateway, "verification code could not be delivered"
	case errors.Is(err, ticketauth.ErrFederationDisabled):
		return http.StatusNotFound, "wechat login is not enabled"
	case errors.Is(err, ticketauth.ErrFederationStateInvalid):
		return http.StatusBadRequest, "wechat login failed, please retry"
	case errors.Is(err, ticketauth.ErrVerificationUnavailable),
		errors.Is(err, ticketauth.ErrRevocationUnavailable),
		errors.Is(err, ticketauth.ErrCaptchaUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func toLoginResponse(result ticketauth.LoginResult) loginResponse {
	return loginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		UserID:    result.SubjectID,
		Username:  result.Username,
		Role:      result.Role,
		NewUser:   result.NewIdentity,
	}
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Code: 1, Msg: "success", Data: data})
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Code: 0, Msg: msg})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
