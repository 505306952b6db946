// Package httpapi exposes the settlement engine over JSON/HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/metrics"
	"github.com/R3E-Network/settlement_layer/internal/app/services/settlement"
	"github.com/R3E-Network/settlement_layer/internal/economy"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
	"github.com/R3E-Network/settlement_layer/internal/httputil"
	"github.com/R3E-Network/settlement_layer/internal/logging"
	"github.com/R3E-Network/settlement_layer/internal/middleware"
)

// Settlement is the coordinator surface served over HTTP.
type Settlement interface {
	Claim(ctx context.Context, wallet string) (settlement.ClaimResult, error)
	OpenPack(ctx context.Context, wallet, packType string, quantity int) (settlement.OpenPackResult, error)
	Recycle(ctx context.Context, wallet, unitID string) (settlement.RecycleResult, error)
	Train(ctx context.Context, wallet, unitID string, levels int) (settlement.TrainResult, error)
	UpgradeProgression(ctx context.Context, wallet string) (settlement.UpgradeResult, error)
	VerifyPayment(ctx context.Context, wallet, txID, referrer string) (settlement.PaymentResult, error)
	Equip(ctx context.Context, wallet string, unitIDs []string) (settlement.EquipResult, error)
	CaptureReferral(ctx context.Context, wallet, code string) (account.Account, error)
	EnsureProfile(ctx context.Context, wallet string) (settlement.Profile, error)
	Attest(ctx context.Context, wallet string) (economy.Attestation, error)
	Balances(ctx context.Context, wallet string) (settlement.BalanceView, error)
	Leaderboard(ctx context.Context, limit int) ([]settlement.LeaderboardRow, error)
	Stats(ctx context.Context) (settlement.EconomyStats, error)
	AuditLedger(ctx context.Context, q ledger.Query) ([]ledger.Entry, error)
	AuditClaims(ctx context.Context, q ledger.Query) ([]ledger.ClaimRecord, error)
	AuditReferrals(ctx context.Context, q ledger.Query) ([]ledger.ReferralEarning, error)
}

var _ Settlement = (*settlement.Service)(nil)

// Options configures the HTTP surface. A nil RateLimiter disables limiting.
type Options struct {
	Log          *logging.Logger
	RateLimiter  *middleware.RateLimiter
	CORSOrigins  []string
	AuditMax     int
	AuditLogPath string
}

type handler struct {
	svc   Settlement
	log   *logging.Logger
	audit *auditLog
}

// NewHandler returns the router with the middleware chain applied. The
// returned closer releases the audit sink.
func NewHandler(svc Settlement, opts Options) (http.Handler, func() error, error) {
	if opts.Log == nil {
		opts.Log = logging.NewDefault("httpapi")
	}
	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	closer := func() error { return nil }
	var auditSinkImpl auditSink
	if sink != nil {
		auditSinkImpl = sink
		closer = sink.Close
	}
	h := &handler{svc: svc, log: opts.Log, audit: newAuditLog(opts.AuditMax, auditSinkImpl)}

	r := mux.NewRouter()
	r.Use(middleware.NewTracingMiddleware(opts.Log).Handler)
	r.Use(middleware.MetricsMiddleware())
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.NewCORSMiddleware(opts.CORSOrigins).Handler)
	}

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Handler)
	}
	api.HandleFunc("/claim", h.audit.record("claim", h.claim)).Methods(http.MethodPost)
	api.HandleFunc("/open-pack", h.audit.record("open_pack", h.openPack)).Methods(http.MethodPost)
	api.HandleFunc("/recycle", h.audit.record("recycle", h.recycle)).Methods(http.MethodPost)
	api.HandleFunc("/train", h.audit.record("train", h.train)).Methods(http.MethodPost)
	api.HandleFunc("/upgrade", h.audit.record("upgrade", h.upgrade)).Methods(http.MethodPost)
	api.HandleFunc("/verify-payment", h.audit.record("verify_payment", h.verifyPayment)).Methods(http.MethodPost)
	api.HandleFunc("/equip", h.audit.record("equip", h.equip)).Methods(http.MethodPost)
	api.HandleFunc("/referral/capture", h.audit.record("capture_referral", h.captureReferral)).Methods(http.MethodPost)
	api.HandleFunc("/profile/ensure", h.audit.record("ensure_profile", h.ensureProfile)).Methods(http.MethodPost)
	api.HandleFunc("/sign-claim", h.signClaim).Methods(http.MethodPost)

	api.HandleFunc("/accounts/{wallet}/balances", h.balances).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard", h.leaderboard).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	api.HandleFunc("/audit/ledger", h.auditLedger).Methods(http.MethodGet)
	api.HandleFunc("/audit/claims", h.auditClaims).Methods(http.MethodGet)
	api.HandleFunc("/audit/referrals", h.auditReferrals).Methods(http.MethodGet)
	api.HandleFunc("/audit/requests", h.auditRequests).Methods(http.MethodGet)

	return r, closer, nil
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type walletRequest struct {
	Wallet string `json:"wallet"`
}

// decode reads the body into dst and notes the wallet for the audit trail.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst interface{ wallet() string }) bool {
	if err := httputil.DecodeJSON(r, dst); err != nil {
		httputil.WriteError(w, r, h.log, err)
		return false
	}
	noteWallet(r, dst.wallet())
	return true
}

func (p *walletRequest) wallet() string { return p.Wallet }

func (h *handler) respond(w http.ResponseWriter, r *http.Request, status int, v interface{}, err error) {
	if err != nil {
		httputil.WriteError(w, r, h.log, err)
		return
	}
	httputil.WriteJSON(w, status, v)
}

func (h *handler) claim(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Claim(r.Context(), req.Wallet)
	h.respond(w, r, http.StatusOK, res, err)
}

type openPackRequest struct {
	walletRequest
	PackType string `json:"pack_type"`
	Quantity int    `json:"quantity"`
}

func (h *handler) openPack(w http.ResponseWriter, r *http.Request) {
	var req openPackRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.OpenPack(r.Context(), req.Wallet, req.PackType, req.Quantity)
	h.respond(w, r, http.StatusOK, res, err)
}

type unitRequest struct {
	walletRequest
	UnitID string `json:"unit_id"`
	Levels int    `json:"levels"`
}

func (h *handler) recycle(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Recycle(r.Context(), req.Wallet, req.UnitID)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *handler) train(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Train(r.Context(), req.Wallet, req.UnitID, req.Levels)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *handler) upgrade(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.UpgradeProgression(r.Context(), req.Wallet)
	h.respond(w, r, http.StatusOK, res, err)
}

type paymentRequest struct {
	walletRequest
	TxID     string `json:"tx_id"`
	Referrer string `json:"referrer"`
}

func (h *handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.VerifyPayment(r.Context(), req.Wallet, req.TxID, req.Referrer)
	status := http.StatusOK
	if err == nil && res.Pending {
		status = http.StatusAccepted
	}
	h.respond(w, r, status, res, err)
}

type equipRequest struct {
	walletRequest
	UnitIDs []string `json:"unit_ids"`
}

func (h *handler) equip(w http.ResponseWriter, r *http.Request) {
	var req equipRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Equip(r.Context(), req.Wallet, req.UnitIDs)
	h.respond(w, r, http.StatusOK, res, err)
}

type referralRequest struct {
	walletRequest
	Code string `json:"code"`
}

func (h *handler) captureReferral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.CaptureReferral(r.Context(), req.Wallet, req.Code)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *handler) ensureProfile(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.EnsureProfile(r.Context(), req.Wallet)
	status := http.StatusOK
	if err == nil && res.Created {
		status = http.StatusCreated
	}
	h.respond(w, r, status, res, err)
}

func (h *handler) signClaim(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Attest(r.Context(), req.Wallet)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *handler) balances(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Balances(r.Context(), mux.Vars(r)["wallet"])
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		httputil.WriteError(w, r, h.log, err)
		return
	}
	res, err := h.svc.Leaderboard(r.Context(), limit)
	h.respond(w, r, http.StatusOK, map[string]interface{}{"leaderboard": res}, err)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Stats(r.Context())
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *handler) auditLedger(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, r, h.log, err)
		return
	}
	res, err := h.svc.AuditLedger(r.Context(), q)
	h.respond(w, r, http.StatusOK, map[string]interface{}{"entries": res}, err)
}

func (h *handler) auditClaims(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, r, h.log, err)
		return
	}
	res, err := h.svc.AuditClaims(r.Context(), q)
	h.respond(w, r, http.StatusOK, map[string]interface{}{"claims": res}, err)
}

func (h *handler) auditReferrals(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, r, h.log, err)
		return
	}
	res, err := h.svc.AuditReferrals(r.Context(), q)
	h.respond(w, r, http.StatusOK, map[string]interface{}{"referrals": res}, err)
}

func (h *handler) auditRequests(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		httputil.WriteError(w, r, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"requests": h.audit.listLimit(limit)})
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, svcerrors.Validation(name + " must be a non-negative integer").WithDetail("field", name)
	}
	return n, nil
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, svcerrors.Validation(name + " must be an RFC3339 timestamp").WithDetail("field", name)
	}
	return t.UTC(), nil
}

// parseQuery reads the account, kind, from, to and limit audit filters.
func parseQuery(r *http.Request) (ledger.Query, error) {
	q := ledger.Query{
		Wallet: r.URL.Query().Get("account"),
		Kind:   ledger.Kind(r.URL.Query().Get("kind")),
	}
	var err error
	if q.From, err = timeParam(r, "from"); err != nil {
		return ledger.Query{}, err
	}
	if q.To, err = timeParam(r, "to"); err != nil {
		return ledger.Query{}, err
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		return ledger.Query{}, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return ledger.Query{}, svcerrors.Validation("from must be before to")
	}
	return q, nil
}
