package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/collateral-lending-ledger/internal/ledger"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/models"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/token"
)

const requestLimit = 1 << 20 // 1 MiB

const (
	AssetCollateral = "collateral"
	AssetLoan       = "loan"
)

// Server exposes the ledger and its two value stores over HTTP.
type Server struct {
	ledger *ledger.Ledger
	assets map[string]*token.Store
	logger *zap.Logger
	router http.Handler
}

func NewServer(l *ledger.Ledger, collateral, loan *token.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger: l,
		assets: map[string]*token.Store{AssetCollateral: collateral, AssetLoan: loan},
		logger: logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/positions/{user}", func(pr chi.Router) {
		pr.Get("/", s.getPosition)
		pr.Get("/entries", s.getUserEntries)
		pr.Post("/collateral", s.depositCollateral)
		pr.Post("/borrow", s.borrow)
		pr.Post("/repay", s.repay)
		pr.Post("/withdraw", s.withdrawCollateral)
	})
	r.Get("/entries", s.getEntries)
	r.Get("/reserve", s.getReserve)

	r.Route("/tokens/{asset}", func(tr chi.Router) {
		tr.Post("/approve", s.approve)
		tr.Post("/mint", s.mint)
		tr.Get("/balances/{account}", s.balance)
	})
	return r
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type positionResponse struct {
	User           string `json:"user"`
	Collateral     string `json:"collateral"`
	Debt           string `json:"debt"`
	Interest       string `json:"interest"`
	TotalOwed      string `json:"total_owed"`
	BorrowLimit    string `json:"borrow_limit"`
	LastInterestAt string `json:"last_interest_at,omitempty"`
}

type entryResponse struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	User           string    `json:"user"`
	Kind           string    `json:"kind"`
	Amount         string    `json:"amount"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Server) depositCollateral(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "user")
	if !ok {
		return
	}
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DepositCollateral(operationContext(r), user, amount); err != nil {
		writeLedgerError(w, err)
		return
	}
	s.writePosition(w, r, user)
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "user")
	if !ok {
		return
	}
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	if err := s.ledger.Borrow(operationContext(r), user, amount); err != nil {
		writeLedgerError(w, err)
		return
	}
	s.writePosition(w, r, user)
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "user")
	if !ok {
		return
	}
	if err := s.ledger.Repay(operationContext(r), user); err != nil {
		writeLedgerError(w, err)
		return
	}
	s.writePosition(w, r, user)
}

func (s *Server) withdrawCollateral(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "user")
	if !ok {
		return
	}
	if err := s.ledger.WithdrawCollateral(operationContext(r), user); err != nil {
		writeLedgerError(w, err)
		return
	}
	s.writePosition(w, r, user)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "user")
	if !ok {
		return
	}
	s.writePosition(w, r, user)
}

func (s *Server) writePosition(w http.ResponseWriter, r *http.Request, user common.Address) {
	summary, err := s.ledger.GetPositionSummary(r.Context(), user)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	resp := positionResponse{
		User:        user.Hex(),
		Collateral:  models.FormatUnits(summary.Collateral),
		Debt:        models.FormatUnits(summary.Debt),
		Interest:    models.FormatUnits(summary.Interest),
		TotalOwed:   models.FormatUnits(summary.TotalOwed),
		BorrowLimit: models.FormatUnits(summary.BorrowLimit),
	}
	if !summary.LastInterestTimestamp.IsZero() {
		resp.LastInterestAt = summary.LastInterestTimestamp.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getUserEntries(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "user")
	if !ok {
		return
	}
	entries, err := s.ledger.GetEntriesByUser(r.Context(), user)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponses(entries))
}

func (s *Server) getEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.GetLedgerEntries(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponses(entries))
}

func (s *Server) getReserve(w http.ResponseWriter, r *http.Request) {
	reserve, err := s.ledger.Reserve(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": s.ledger.Address().Hex(),
		"reserve": models.FormatUnits(reserve),
	})
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	store, ok := s.asset(w, r)
	if !ok {
		return
	}
	var req struct {
		Owner  string `json:"owner"`
		Amount string `json:"amount"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := models.ParseUnits(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := store.Approve(r.Context(), owner, s.ledger.Address(), amount); err != nil {
		writeTokenError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"spender":   s.ledger.Address().Hex(),
		"allowance": models.FormatUnits(amount),
	})
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	store, ok := s.asset(w, r)
	if !ok {
		return
	}
	caller, err := parseAddress(r.Header.Get("X-Caller"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("X-Caller: %w", err))
		return
	}
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := models.ParseUnits(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := store.Mint(r.Context(), caller, to, amount); err != nil {
		writeTokenError(w, err)
		return
	}
	s.logger.Info("minted", zap.String("asset", store.Symbol()), zap.String("to", to.Hex()), zap.String("amount", amount.Dec()))
	s.writeBalance(w, r, store, to)
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	store, ok := s.asset(w, r)
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	s.writeBalance(w, r, store, account)
}

func (s *Server) writeBalance(w http.ResponseWriter, r *http.Request, store *token.Store, account common.Address) {
	bal, err := store.BalanceOf(r.Context(), account)
	if err != nil {
		writeTokenError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":   store.Symbol(),
		"account": account.Hex(),
		"balance": models.FormatUnits(bal),
	})
}

func (s *Server) asset(w http.ResponseWriter, r *http.Request) (*token.Store, bool) {
	name := strings.ToLower(chi.URLParam(r, "asset"))
	store, ok := s.assets[name]
	if !ok || store == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown asset %q", name))
		return nil, false
	}
	return store, true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func toEntryResponses(entries []models.LedgerEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:             e.ID,
			IdempotencyKey: e.IdempotencyKey,
			User:           e.User.Hex(),
			Kind:           string(e.Kind),
			Amount:         models.FormatUnits(e.Amount),
			CreatedAt:      e.CreatedAt,
		})
	}
	return out
}

func pathAddress(w http.ResponseWriter, r *http.Request, param string) (common.Address, bool) {
	addr, err := parseAddress(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return common.Address{}, false
	}
	return addr, true
}

func parseAddress(v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid address %q", v)
	}
	return common.HexToAddress(v), nil
}

// operationContext carries the client's Idempotency-Key header into the ledger
// so a retried POST is answered without being applied twice.
func operationContext(r *http.Request) context.Context {
	return ledger.WithIdempotencyKey(r.Context(), strings.TrimSpace(r.Header.Get("Idempotency-Key")))
}

func decodeAmount(w http.ResponseWriter, r *http.Request) (*uint256.Int, bool) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	amount, err := models.ParseUnits(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return amount, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrAmountOverflow):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrTransferFailed):
		return http.StatusPaymentRequired
	case ledger.IsPrecondition(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrUnauthorizedAccount):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, token.ErrInvalidReceiver), errors.Is(err, token.ErrAmountOverflow):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
