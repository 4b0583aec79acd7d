package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/grant"
	"github.com/MrEthical07/goRecover/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 16 << 10

// Service is the part of *goRecover.Engine the API calls.
type Service interface {
	RequestOTP(ctx context.Context, id goRecover.Identifier) (goRecover.Dispatch, error)
	VerifyOTPWithGrant(ctx context.Context, id goRecover.Identifier, code string) (goRecover.RecoveryGrant, error)
	CommitNewPasswordWithGrant(ctx context.Context, id goRecover.Identifier, grantID, newPassword string) error
	RequestEmailVerification(ctx context.Context, email string) (goRecover.Dispatch, error)
	ConfirmEmailVerification(ctx context.Context, email, code string) (bool, error)
}

var _ Service = (*goRecover.Engine)(nil)

type Options struct {
	Logger     *zap.Logger
	Metrics    http.Handler
	Health     func(context.Context) error
	TrustProxy bool
	Timeout    time.Duration
}

type Option func(*Options)

func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(o *Options) { o.Metrics = h } }

// WithHealthCheck makes /healthz answer 503 while check fails.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(o *Options) { o.Health = check }
}

// WithTrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
func WithTrustProxy(trust bool) Option { return func(o *Options) { o.TrustProxy = trust } }

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

// API holds the handlers. It is safe for concurrent use.
type API struct {
	svc      Service
	signer   *grant.Signer
	opts     Options
	logger   *zap.Logger
	validate *validator.Validate
}

// New builds an API over svc. signer issues and checks reset grants.
func New(svc Service, signer *grant.Signer, opts ...Option) *API {
	o := Options{Timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &API{
		svc:      svc,
		signer:   signer,
		opts:     o,
		logger:   o.Logger,
		validate: newValidator(),
	}
}

// NewSigner builds the grant signer from the engine configuration.
func NewSigner(cfg goRecover.Config) (*grant.Signer, error) {
	return grant.NewSigner(grant.Config{
		TTL:           cfg.Recovery.GrantTTL,
		SigningMethod: grant.SigningMethod(cfg.Grant.SigningMethod),
		PrivateKey:    cfg.Grant.PrivateKey,
		PublicKey:     cfg.Grant.PublicKey,
		Issuer:        cfg.Grant.Issuer,
		Audience:      cfg.Grant.Audience,
	})
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("recoverymethod", func(fl validator.FieldLevel) bool {
		_, err := goRecover.ParseMethod(fl.Field().String())
		return err == nil
	})
	return v
}

// Router returns the chi router with every route mounted.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	if a.opts.TrustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(middleware.ClientIP)
	r.Use(middleware.WithRequestLogging(a.logger.Named("http")))
	r.Use(chiMiddleware.Recoverer)
	if a.opts.Timeout > 0 {
		r.Use(chiMiddleware.Timeout(a.opts.Timeout))
	}

	r.Get("/healthz", a.health)
	if a.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))

		r.Post("/recovery/otp", a.requestOTP)
		r.Post("/recovery/otp/verify", a.verifyOTP)
		r.With(middleware.Grant(a.signer)).Post("/recovery/password", a.commitPassword)

		r.Post("/verification/email", a.requestVerification)
		r.Post("/verification/email/confirm", a.confirmVerification)
	})

	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if a.opts.Health != nil {
		if err := a.opts.Health(r.Context()); err != nil {
			a.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if !a.decode(w, r, &req) {
		return
	}
	id, ok := a.identifier(w, req.Identifier, req.Method)
	if !ok {
		return
	}

	d, err := a.svc.RequestOTP(r.Context(), id)
	if err != nil {
		a.fail(w, err, id.Method)
		return
	}
	writeJSON(w, http.StatusAccepted, OTPResponse{
		Destination:      d.Destination,
		ExpiresInSeconds: int64(d.ExpiresIn / time.Second),
	})
}

func (a *API) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !a.decode(w, r, &req) {
		return
	}
	id, ok := a.identifier(w, req.Identifier, req.Method)
	if !ok {
		return
	}

	g, err := a.svc.VerifyOTPWithGrant(r.Context(), id, req.Code)
	switch {
	case err == nil:
	case errors.Is(err, goRecover.ErrOtpRejected),
		errors.Is(err, goRecover.ErrOtpIncomplete),
		errors.Is(err, goRecover.ErrRecoveryAttempts):
		writeJSON(w, http.StatusOK, VerifyResponse{Accepted: false})
		return
	default:
		a.fail(w, err, id.Method)
		return
	}

	if a.signer == nil {
		a.fail(w, goRecover.ErrEngineNotReady, id.Method)
		return
	}
	n := goRecover.NormalizeIdentifier(id)
	token, expires, err := a.signer.Issue(n.Value, n.Method.String(), g.GrantID)
	if err != nil {
		a.logger.Error("issue grant", zap.Error(err))
		a.fail(w, err, id.Method)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		Accepted:       true,
		Grant:          token,
		GrantExpiresAt: expires.Unix(),
	})
}

func (a *API) commitPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !a.decode(w, r, &req) {
		return
	}
	id, ok := a.identifier(w, req.Identifier, req.Method)
	if !ok {
		return
	}

	claims, ok := middleware.GrantFromContext(r.Context())
	if !ok {
		if req.Grant == "" || a.signer == nil {
			a.fail(w, goRecover.ErrRecoveryNotVerified, id.Method)
			return
		}
		parsed, err := a.signer.Parse(req.Grant)
		if err != nil {
			a.fail(w, goRecover.ErrRecoveryNotVerified, id.Method)
			return
		}
		claims = parsed
	}

	n := goRecover.NormalizeIdentifier(id)
	if claims.Subject != n.Value || claims.Method != n.Method.String() {
		a.fail(w, goRecover.ErrRecoveryNotVerified, id.Method)
		return
	}

	if err := a.svc.CommitNewPasswordWithGrant(r.Context(), id, claims.ID, req.NewPassword); err != nil {
		a.fail(w, err, id.Method)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) requestVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !a.decode(w, r, &req) {
		return
	}

	d, err := a.svc.RequestEmailVerification(r.Context(), req.Email)
	if err != nil {
		a.fail(w, err, goRecover.MethodEmail)
		return
	}
	writeJSON(w, http.StatusAccepted, OTPResponse{
		Destination:      d.Destination,
		ExpiresInSeconds: int64(d.ExpiresIn / time.Second),
	})
}

func (a *API) confirmVerification(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !a.decode(w, r, &req) {
		return
	}

	ok, err := a.svc.ConfirmEmailVerification(r.Context(), req.Email, req.Code)
	if err != nil {
		a.fail(w, err, goRecover.MethodEmail)
		return
	}
	writeJSON(w, http.StatusOK, ConfirmResponse{Verified: ok})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, defaultMessage(CodeInvalidRequest))
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, defaultMessage(CodeInvalidRequest))
		return false
	}
	return true
}

func (a *API) identifier(w http.ResponseWriter, value, method string) (goRecover.Identifier, bool) {
	m, err := goRecover.ParseMethod(method)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, defaultMessage(CodeInvalidRequest))
		return goRecover.Identifier{}, false
	}
	return goRecover.Identifier{Value: value, Method: m}, true
}

func (a *API) fail(w http.ResponseWriter, err error, method goRecover.Method) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		a.logger.Warn("request failed", zap.String("code", e.code), zap.Error(err))
	}
	msg := defaultMessage(e.code)
	switch e.code {
	case CodeInvalidFormat, CodePasswordTooWeak, CodeDispatchFailed, CodeCommitFailed:
		if m := goRecover.UserMessage(err, method); m != "" {
			msg = m
		}
	}
	writeError(w, e.status, e.code, msg)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
