// Package httpapi exposes the settlement engine to relayers over REST.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/evvm-network/settlement_layer/internal/app"
	"github.com/evvm-network/settlement_layer/internal/crypto"
	"github.com/evvm-network/settlement_layer/internal/domain/intent"
	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/engine"
	"github.com/evvm-network/settlement_layer/internal/identity"
	ledgersvc "github.com/evvm-network/settlement_layer/internal/ledger"
	"github.com/evvm-network/settlement_layer/internal/metrics"
	"github.com/evvm-network/settlement_layer/internal/nonce"
)

// handler bundles the HTTP endpoints over the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the settlement REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/payments", h.payments)
	mux.HandleFunc("/payments/batch", h.batch)
	mux.HandleFunc("/payments/disperse", h.disperse)
	mux.HandleFunc("/payments/ca", h.caPay)
	mux.HandleFunc("/accounts/", h.accountResources)
	mux.HandleFunc("/identities", h.identities)
	mux.HandleFunc("/identities/", h.identityByName)
	mux.HandleFunc("/stakers", h.stakers)
	mux.HandleFunc("/contracts", h.contracts)
	mux.HandleFunc("/treasury/deposits", h.treasuryDeposit)
	mux.HandleFunc("/treasury/withdrawals", h.treasuryWithdraw)
	mux.HandleFunc("/rewards", h.rewardsMeta)
	mux.HandleFunc("/rewards/proposal", h.rewardProposal)
	mux.HandleFunc("/rewards/share", h.rewardShare)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

type paymentRequest struct {
	Submitter   string `json:"submitter"`
	Payer       string `json:"payer"`
	Recipient   string `json:"recipient,omitempty"`
	Identity    string `json:"identity,omitempty"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
	PriorityFee int64  `json:"priority_fee"`
	Executor    string `json:"executor,omitempty"`
	Nonce       uint64 `json:"nonce"`
	NonceMode   string `json:"nonce_mode"`
	Signature   string `json:"signature"`
}

func (r paymentRequest) toIntent() (intent.Payment, error) {
	sig, err := crypto.DecodeHex(r.Signature)
	if err != nil {
		return intent.Payment{}, fmt.Errorf("signature: %w", err)
	}
	return intent.Payment{
		Payer:       domain.NormalizeAddress(r.Payer),
		Recipient:   domain.NormalizeAddress(r.Recipient),
		Identity:    strings.TrimSpace(r.Identity),
		Asset:       domain.Asset(r.Asset),
		Amount:      r.Amount,
		PriorityFee: r.PriorityFee,
		Executor:    domain.NormalizeAddress(r.Executor),
		Nonce:       r.Nonce,
		NonceMode:   intent.NonceMode(r.NonceMode),
		Signature:   sig,
	}, nil
}

func (h *handler) payments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload paymentRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := payload.toIntent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := h.app.Engine.Pay(r.Context(), domain.NormalizeAddress(payload.Submitter), p)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *handler) batch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Submitter string           `json:"submitter"`
		Items     []paymentRequest `json:"items"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(payload.Items) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("items are required"))
		return
	}

	items := make([]intent.Payment, len(payload.Items))
	for i, item := range payload.Items {
		p, err := item.toIntent()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("item %d: %w", i, err))
			return
		}
		items[i] = p
	}

	outcomes := h.app.Engine.BatchPay(r.Context(), domain.NormalizeAddress(payload.Submitter), items)
	writeJSON(w, http.StatusOK, outcomes)
}

func (h *handler) disperse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Submitter  string `json:"submitter"`
		Payer      string `json:"payer"`
		Recipients []struct {
			Recipient string `json:"recipient,omitempty"`
			Identity  string `json:"identity,omitempty"`
			Amount    int64  `json:"amount"`
		} `json:"recipients"`
		Asset       string `json:"asset"`
		Total       int64  `json:"total"`
		PriorityFee int64  `json:"priority_fee"`
		Executor    string `json:"executor,omitempty"`
		Nonce       uint64 `json:"nonce"`
		NonceMode   string `json:"nonce_mode"`
		Signature   string `json:"signature"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := crypto.DecodeHex(payload.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("signature: %w", err))
		return
	}

	d := intent.Disperse{
		Payer:       domain.NormalizeAddress(payload.Payer),
		Asset:       domain.Asset(payload.Asset),
		Total:       payload.Total,
		PriorityFee: payload.PriorityFee,
		Executor:    domain.NormalizeAddress(payload.Executor),
		Nonce:       payload.Nonce,
		NonceMode:   intent.NonceMode(payload.NonceMode),
		Signature:   sig,
	}
	for _, rec := range payload.Recipients {
		d.Recipients = append(d.Recipients, intent.DisperseRecipient{
			Recipient: domain.NormalizeAddress(rec.Recipient),
			Identity:  strings.TrimSpace(rec.Identity),
			Amount:    rec.Amount,
		})
	}

	receipt, err := h.app.Engine.DispersePay(r.Context(), domain.NormalizeAddress(payload.Submitter), d)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *handler) caPay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Caller    string `json:"caller"`
		Recipient string `json:"recipient"`
		Asset     string `json:"asset"`
		Amount    int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := h.app.Engine.CAPay(r.Context(),
		domain.NormalizeAddress(payload.Caller),
		domain.NormalizeAddress(payload.Recipient),
		domain.Asset(payload.Asset), payload.Amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// accountResources serves /accounts/{addr}/balances/{asset}, /accounts/{addr}/nonce,
// /accounts/{addr}/nonce/{value}, /accounts/{addr}/staker and /accounts/{addr}/journal.
func (h *handler) accountResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/accounts"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	account := domain.NormalizeAddress(parts[0])

	switch parts[1] {
	case "balances":
		if len(parts) != 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		balance, err := h.app.Ledger.BalanceOf(r.Context(), account, domain.Asset(parts[2]))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"account": account, "asset": parts[2], "balance": balance,
		})

	case "nonce":
		if len(parts) == 2 {
			next, err := h.app.Nonces.NextSync(r.Context(), account)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"account": account, "next_sync_nonce": next})
			return
		}
		value, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("nonce must be numeric: %w", err))
			return
		}
		used, err := h.app.Nonces.AsyncUsed(r.Context(), account, value)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"account": account, "nonce": value, "used": used})

	case "staker":
		staker, err := h.app.Rewards.IsStaker(r.Context(), account)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"account": account, "staker": staker})

	case "journal":
		entries, err := h.app.Ledger.Journal(r.Context(), account, 50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) identities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Name    string `json:"name"`
		Account string `json:"account"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Identity.Register(r.Context(), payload.Name, domain.NormalizeAddress(payload.Account)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": payload.Name, "account": payload.Account})
}

func (h *handler) identityByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/identities"), "/")
	if name == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	account, err := h.app.Identity.ResolveStrict(r.Context(), name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "account": account})
}

func (h *handler) stakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Caller  string `json:"caller"`
		Account string `json:"account"`
		Staker  bool   `json:"staker"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.app.Rewards.SetStakerFlag(r.Context(),
		domain.NormalizeAddress(payload.Caller),
		domain.NormalizeAddress(payload.Account), payload.Staker)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) contracts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Caller   string `json:"caller"`
		Account  string `json:"account"`
		Contract bool   `json:"contract"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.app.Rewards.SetContractFlag(r.Context(),
		domain.NormalizeAddress(payload.Caller),
		domain.NormalizeAddress(payload.Account), payload.Contract)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type treasuryRequest struct {
	Caller    string `json:"caller"`
	Account   string `json:"account"`
	Asset     string `json:"asset"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

func (h *handler) treasuryDeposit(w http.ResponseWriter, r *http.Request) {
	h.treasuryOp(w, r, h.app.Ledger.Deposit)
}

func (h *handler) treasuryWithdraw(w http.ResponseWriter, r *http.Request) {
	h.treasuryOp(w, r, h.app.Ledger.Withdraw)
}

func (h *handler) treasuryOp(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, caller, account domain.Address, asset domain.Asset, amount int64, reference string) error) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload treasuryRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := op(r.Context(),
		domain.NormalizeAddress(payload.Caller),
		domain.NormalizeAddress(payload.Account),
		domain.Asset(payload.Asset), payload.Amount, payload.Reference)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) rewardsMeta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	meta, err := h.app.Rewards.Metadata(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *handler) rewardProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Caller string `json:"caller"`
		Action string `json:"action"`
		Value  int64  `json:"value,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller := domain.NormalizeAddress(payload.Caller)

	var err error
	switch payload.Action {
	case "propose":
		err = h.app.Rewards.ProposeReward(r.Context(), caller, payload.Value)
	case "accept":
		err = h.app.Rewards.AcceptReward(r.Context(), caller)
	case "reject":
		err = h.app.Rewards.RejectReward(r.Context(), caller)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", payload.Action))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rewardShare lets a contract-class service cut its relayer in on a settled
// amount, expressed in basis points of the amount.
func (h *handler) rewardShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Caller    string `json:"caller"`
		Submitter string `json:"submitter"`
		Asset     string `json:"asset"`
		Amount    int64  `json:"amount"`
		ShareBps  int64  `json:"share_bps"`
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err := h.app.Rewards.ServiceShare(r.Context(),
		domain.NormalizeAddress(payload.Caller),
		domain.NormalizeAddress(payload.Submitter),
		domain.Asset(payload.Asset), payload.Amount, payload.ShareBps, payload.Reference)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helpers ---------------------------------------------------------------------

func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrUnknownIdentity):
		return http.StatusNotFound
	case errors.Is(err, ledgersvc.ErrUnauthorizedCaller):
		return http.StatusForbidden
	case errors.Is(err, crypto.ErrInvalidSignature),
		errors.Is(err, nonce.ErrInvalidExecutor):
		return http.StatusUnauthorized
	case errors.Is(err, nonce.ErrNonceOutOfOrder),
		errors.Is(err, nonce.ErrNonceAlreadyUsed),
		errors.Is(err, ledgersvc.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, engine.ErrAssetNotPermitted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(body io.Reader, target interface{}) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
