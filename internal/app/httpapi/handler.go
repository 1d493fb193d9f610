// Package httpapi exposes the oracle layer over REST plus a websocket event
// stream.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	app "github.com/stellar-swipe/oracle-layer/internal/app"
	"github.com/stellar-swipe/oracle-layer/internal/app/auth"
	"github.com/stellar-swipe/oracle-layer/internal/app/cache"
	domaingov "github.com/stellar-swipe/oracle-layer/internal/app/domain/governance"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/metrics"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	tokens  *auth.Manager
	results *cache.ResultCache
	audit   *auditLog
	hub     *eventHub
}

// Config carries the optional pieces of the HTTP surface.
type Config struct {
	// Tokens issues and validates JWTs; nil disables /auth/login and
	// leaves privileged routes to reject every caller.
	Tokens *auth.Manager
	// Results is the Redis read cache for the latest price; nil reads
	// straight from the store.
	Results *cache.ResultCache
	// AuditSinkPath appends audit entries as JSONL when set.
	AuditSinkPath string
	// RequestsPerSecond throttles per-client traffic; zero disables.
	RequestsPerSecond float64
}

// NewHandler returns the assembled REST API.
func NewHandler(application *app.Application, cfg Config) (http.Handler, error) {
	sink, err := newFileAuditSink(cfg.AuditSinkPath)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}

	h := &handler{
		app:     application,
		tokens:  cfg.Tokens,
		results: cfg.Results,
		audit:   newAuditLog(0, sink),
		hub:     newEventHub(application.Bus),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.health)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/auth/login", h.login)
	mux.HandleFunc("/price", h.price)
	mux.HandleFunc("/price/validate", h.validatePrice)
	mux.HandleFunc("/sources", h.sources)
	mux.HandleFunc("/sources/", h.sourceResources)
	mux.HandleFunc("/rounds/current", h.currentRound)
	mux.HandleFunc("/rounds/calculate", h.calculate)
	mux.HandleFunc("/governance/stake", h.stake)
	mux.HandleFunc("/governance/withdraw", h.withdraw)
	mux.HandleFunc("/governance/proposals", h.proposals)
	mux.HandleFunc("/governance/proposals/", h.proposalResources)
	mux.HandleFunc("/admin/pause", h.pause)
	mux.HandleFunc("/admin/audit", h.auditEntries)
	mux.HandleFunc("/ws/events", h.serveEvents)

	var wrapped http.Handler = mux
	wrapped = h.withAudit(wrapped)
	if cfg.RequestsPerSecond > 0 {
		wrapped = withRateLimit(wrapped, cfg.RequestsPerSecond)
	}
	wrapped = withCORS(wrapped)
	wrapped = metrics.InstrumentHandler(wrapped)
	return wrapped, nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap, err := h.app.Monitor.Latest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.tokens == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("authentication is not configured"))
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token, err := h.tokens.Login(payload.Username, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handler) price(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if h.results != nil {
		if res, ok := h.results.Get(r.Context()); ok {
			writeJSON(w, http.StatusOK, priceResponse(res))
			return
		}
	}

	res, err := h.app.Consensus.GetLatest(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if h.results != nil {
		h.results.Store(r.Context(), res)
	}
	writeJSON(w, http.StatusOK, priceResponse(res))
}

func priceResponse(res oracle.Result) map[string]any {
	return map[string]any{
		"price":        res.Price,
		"timestamp":    res.Timestamp,
		"num_sources":  res.NumSources,
		"total_weight": res.TotalWeight,
		"round_id":     res.RoundID,
	}
}

func (h *handler) validatePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ProposedPrice int64 `json:"proposed_price"`
		ToleranceBps  int64 `json:"tolerance_bps"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	verdict, err := h.app.Signals.Validate(r.Context(), payload.ProposedPrice, payload.ToleranceBps)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (h *handler) sources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.app.Registry.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var payload struct {
			SourceID string `json:"source_id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		src, err := h.app.Registry.Register(r.Context(), callerToken(r), payload.SourceID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, src)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) sourceResources(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/sources/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sourceID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			src, err := h.app.Registry.GetReputation(r.Context(), sourceID)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, src)
		case http.MethodDelete:
			if err := h.app.Registry.Remove(r.Context(), callerToken(r), sourceID); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch parts[1] {
	case "reputation":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		src, err := h.app.Registry.GetReputation(r.Context(), sourceID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, src)
	case "reinstate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		src, err := h.app.Registry.Reinstate(r.Context(), callerToken(r), sourceID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, src)
	case "submissions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Price     int64  `json:"price"`
			Signature string `json:"signature"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var signature []byte
		if payload.Signature != "" {
			var err error
			signature, err = base64.StdEncoding.DecodeString(payload.Signature)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("signature must be base64: %w", err))
				return
			}
		}
		if err := h.app.Consensus.Submit(r.Context(), sourceID, payload.Price, signature); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) currentRound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	round, err := h.app.Consensus.CurrentRound(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	paused, err := h.app.Consensus.Paused(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round_id": round, "paused": paused})
}

func (h *handler) calculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireRole(w, r, auth.RoleAdmin) {
		return
	}
	res, err := h.app.Consensus.Calculate(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if h.results != nil {
		h.results.Store(r.Context(), res)
	}
	writeJSON(w, http.StatusOK, priceResponse(res))
}

func (h *handler) stake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Staker string `json:"staker"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := h.app.Governance.Deposit(r.Context(), payload.Staker, payload.Amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staker": payload.Staker, "stake": balance})
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Staker string `json:"staker"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := h.app.Governance.Withdraw(r.Context(), payload.Staker, payload.Amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staker": payload.Staker, "stake": balance})
}

func (h *handler) proposals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.app.Governance.ListProposals(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var payload struct {
			Proposer    string          `json:"proposer"`
			Type        string          `json:"type"`
			Description string          `json:"description"`
			Payload     json.RawMessage `json:"payload"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		proposal, err := h.app.Governance.CreateProposal(r.Context(), payload.Proposer,
			domaingov.ProposalType(payload.Type), payload.Description, payload.Payload)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, proposal)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) proposalResources(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/governance/proposals/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	proposalID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid proposal id %q", parts[0]))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		proposal, err := h.app.Governance.GetProposal(r.Context(), proposalID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, proposal)
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch parts[1] {
	case "votes":
		var payload struct {
			Voter   string `json:"voter"`
			Support bool   `json:"support"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Governance.Vote(r.Context(), proposalID, payload.Voter, payload.Support); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "finalize":
		proposal, err := h.app.Governance.Finalize(r.Context(), proposalID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, proposal)
	case "retry":
		proposal, err := h.app.Governance.Retry(r.Context(), proposalID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, proposal)
	case "cancel":
		var payload struct {
			Caller string `json:"caller"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Governance.Cancel(r.Context(), proposalID, payload.Caller); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireRole(w, r, auth.RoleAdmin) {
		return
	}
	var payload struct {
		Paused bool `json:"paused"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Consensus.SetPaused(r.Context(), payload.Paused); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": payload.Paused})
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireRole(w, r, auth.RoleAdmin) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// statusFor maps domain error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, oracle.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, oracle.ErrAlreadyRegistered),
		errors.Is(err, oracle.ErrBelowMinimumQuorum):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrSourceNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, oracle.ErrSourceSuspended),
		errors.Is(err, oracle.ErrVerificationFailed):
		return http.StatusForbidden
	case errors.Is(err, oracle.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, oracle.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, oracle.ErrSubmissionsPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, domaingov.ErrProposalNotFound):
		return http.StatusNotFound
	case errors.Is(err, domaingov.ErrProposalNotActive),
		errors.Is(err, domaingov.ErrAlreadyVoted),
		errors.Is(err, domaingov.ErrVotingClosed):
		return http.StatusConflict
	case errors.Is(err, domaingov.ErrNoStake),
		errors.Is(err, domaingov.ErrInsufficientStake),
		errors.Is(err, domaingov.ErrInvalidAmount),
		errors.Is(err, domaingov.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
