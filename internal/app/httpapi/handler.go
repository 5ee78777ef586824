// Package httpapi exposes the workflows over REST. Handlers are thin: they
// decode input, pass the authenticated caller identity into a workflow and
// project the typed outcome onto a status code.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/greencycle-id/rewards-core/internal/app/domain/collection"
	exchangedom "github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
	"github.com/greencycle-id/rewards-core/internal/app/domain/ledger"
	"github.com/greencycle-id/rewards-core/internal/app/domain/mission"
	"github.com/greencycle-id/rewards-core/internal/app/metrics"
	depositsvc "github.com/greencycle-id/rewards-core/internal/app/services/deposit"
	exchangesvc "github.com/greencycle-id/rewards-core/internal/app/services/exchange"
	ledgersvc "github.com/greencycle-id/rewards-core/internal/app/services/ledger"
	missionsvc "github.com/greencycle-id/rewards-core/internal/app/services/missions"
	"github.com/greencycle-id/rewards-core/pkg/logger"
)

// idempotencyHeader carries the caller-generated key that guards every
// balance-moving request against double submission.
const idempotencyHeader = "Idempotency-Key"

// Services bundles the workflow dependencies of the REST surface.
type Services struct {
	Ledger   *ledgersvc.Service
	Deposits *depositsvc.Service
	Missions *missionsvc.Service
	Exchange *exchangesvc.Service
}

type handler struct {
	svc Services
	log *logger.Logger
}

// NewHandler returns the router for the rewards API.
func NewHandler(svc Services, auth *Authenticator, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{svc: svc, log: log}

	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(h.health)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(auth.Middleware)
	route := func(path, method string, fn http.HandlerFunc) {
		api.Handle(path, metrics.InstrumentHandler(path, fn)).Methods(method)
	}

	route("/deposits", http.MethodPost, h.createDeposit)
	route("/collections", http.MethodGet, h.listCollections)
	route("/missions/{missionID}/claim", http.MethodPost, h.claimMission)
	route("/missions/{missionID}/progress", http.MethodPost, h.reportProgress)
	route("/missions/completions", http.MethodGet, h.listCompletions)
	route("/exchanges", http.MethodPost, h.createExchange)
	route("/exchanges", http.MethodGet, h.listExchanges)
	route("/exchanges/{id}", http.MethodGet, h.getExchange)
	route("/methods", http.MethodGet, h.listMethods)
	route("/balance", http.MethodGet, h.balance)
	route("/postings", http.MethodGet, h.listPostings)
	route("/reconciliation", http.MethodGet, h.listReconciliation)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createDeposit(w http.ResponseWriter, r *http.Request) {
	var payload collection.ScanRecord
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.svc.Deposits.Deposit(r.Context(), userIDFrom(r.Context()), payload, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) listCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := h.svc.Deposits.Collections(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cols == nil {
		cols = []collection.Collection{}
	}
	writeJSON(w, http.StatusOK, cols)
}

func (h *handler) claimMission(w http.ResponseWriter, r *http.Request) {
	missionID := mux.Vars(r)["missionID"]
	result, err := h.svc.Missions.Claim(r.Context(), userIDFrom(r.Context()), missionID, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) reportProgress(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Increment    int64 `json:"increment"`
		TargetValue  int64 `json:"target_value"`
		RewardPoints int64 `json:"reward_points"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	missionID := mux.Vars(r)["missionID"]
	progress, err := h.svc.Missions.ReportProgress(r.Context(), userIDFrom(r.Context()), missionID,
		payload.Increment, payload.TargetValue, payload.RewardPoints)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *handler) listCompletions(w http.ResponseWriter, r *http.Request) {
	completions, err := h.svc.Missions.Completions(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if completions == nil {
		completions = []mission.Completion{}
	}
	writeJSON(w, http.StatusOK, completions)
}

func (h *handler) createExchange(w http.ResponseWriter, r *http.Request) {
	var payload exchangesvc.Request
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.svc.Exchange.Exchange(r.Context(), userIDFrom(r.Context()), payload, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) listExchanges(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.Exchange.Transactions(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if txs == nil {
		txs = []exchangedom.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handler) getExchange(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.Exchange.Transaction(r.Context(), userIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handler) listMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Exchange.Methods())
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.Ledger.Balance(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) listPostings(w http.ResponseWriter, r *http.Request) {
	postings, err := h.svc.Ledger.Statement(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if postings == nil {
		postings = []ledger.Posting{}
	}
	writeJSON(w, http.StatusOK, postings)
}

func (h *handler) listReconciliation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Ledger.Journal().List())
}

// fail maps a workflow error onto an HTTP status.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case ledger.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, mission.ErrNotCompleted),
		errors.Is(err, mission.ErrCompletionNotFound),
		errors.Is(err, collection.ErrCollectionNotFound),
		errors.Is(err, exchangedom.ErrTransactionNotFound),
		errors.Is(err, ledger.ErrPostingNotFound):
		return http.StatusNotFound
	case errors.Is(err, mission.ErrAlreadyClaimed),
		errors.Is(err, mission.ErrCompletionExists),
		errors.Is(err, collection.ErrCollectionExists),
		errors.Is(err, exchangedom.ErrTransactionExists),
		errors.Is(err, ledger.ErrDuplicateRequest),
		errors.Is(err, ledger.ErrDuplicatePosting),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict
	case ledger.StageOf(err) != "":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, v interface{}) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
