package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"remit/internal/common/logging"
	"remit/internal/identity"
	"remit/internal/transfer/application"
	"remit/internal/transfer/domain"
)

// Handler implements the HTTP surface of the transfer service.
type Handler struct {
	identity  *identity.Service
	transfers *application.TransferService
}

// NewHandler creates a Handler.
func NewHandler(identitySvc *identity.Service, transfers *application.TransferService) *Handler {
	return &Handler{identity: identitySvc, transfers: transfers}
}

// RegisterRoutes registers the API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.Register)
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/logout", h.requireAuth(h.Logout))
	mux.HandleFunc("GET /api/auth/user", h.requireAuth(h.AuthUser))
	mux.HandleFunc("GET /api/balance", h.requireAuth(h.Balance))
	mux.HandleFunc("POST /api/transactions/validate-receiver", h.requireAuth(h.ValidateReceiver))
	mux.HandleFunc("POST /api/transactions", h.requireAuth(h.CreateTransfer))
	mux.HandleFunc("GET /api/transactions", h.requireAuth(h.ListTransactions))
	mux.HandleFunc("GET /api/transactions/stats", h.requireAuth(h.Stats))
	mux.HandleFunc("GET /api/transactions/{uuid}", h.requireAuth(h.GetTransaction))
}

// userJSON is the wire shape of a user.
type userJSON struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Balance        int64  `json:"balance"`
	BalanceDollars string `json:"balance_dollars"`
}

func toUserJSON(u *domain.User) userJSON {
	return userJSON{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Balance:        u.Balance,
		BalanceDollars: domain.FormatDollars(u.Balance),
	}
}

// RegisterRequest is the JSON body for POST /api/auth/register.
type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Password != req.PasswordConfirmation {
		h.writeError(w, http.StatusUnprocessableEntity, "password confirmation does not match", nil)
		return
	}

	user, token, err := h.identity.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful",
		"user":    toUserJSON(user),
		"token":   token,
	})
}

// LoginRequest is the JSON body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	user, token, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    toUserJSON(user),
		"token":   token,
	})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	if err := h.identity.Logout(r.Context(), user.ID, bearerToken(r.Context())); err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

// AuthUser handles GET /api/auth/user.
func (h *Handler) AuthUser(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{"user": toUserJSON(user)})
}

// Balance handles GET /api/balance. It reads the balance fresh rather than
// trusting the row loaded during authentication.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	balance, err := h.transfers.Balance(r.Context(), user.ID)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"balance":         balance,
		"balance_dollars": domain.FormatDollars(balance),
	})
}

// ValidateReceiverRequest is the JSON body for the receiver check endpoint.
type ValidateReceiverRequest struct {
	Email string `json:"email"`
}

// ValidateReceiver handles POST /api/transactions/validate-receiver. The UI
// calls it with debouncing while the sender types. It leaks nothing beyond
// valid yes/no plus name and email when valid.
func (h *Handler) ValidateReceiver(w http.ResponseWriter, r *http.Request) {
	var req ValidateReceiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	caller := CurrentUser(r.Context())
	receiver, err := h.identity.ResolveReceiver(r.Context(), req.Email, caller)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSelfTransfer):
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"status": "error",
				"data":   map[string]any{"valid": false, "message": "You cannot send money to yourself"},
			})
		case errors.Is(err, domain.ErrReceiverNotFound):
			h.writeJSON(w, http.StatusNotFound, map[string]any{
				"status": "error",
				"data":   map[string]any{"valid": false, "message": "No user found with this email"},
			})
		default:
			h.handleDomainError(w, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"valid": true,
			"user":  map[string]any{"name": receiver.Name, "email": receiver.Email},
		},
	})
}

// CreateTransferRequest is the JSON body for POST /api/transactions.
type CreateTransferRequest struct {
	ReceiverEmail string `json:"receiver_email"`
	Amount        int64  `json:"amount"`
}

// CreateTransfer handles POST /api/transactions. The edge resolves the
// receiver, supplies or derives the idempotency key, and invokes the engine;
// it performs no money arithmetic of its own.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	caller := CurrentUser(r.Context())
	receiver, err := h.identity.ResolveReceiver(r.Context(), req.ReceiverEmail, caller)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = domain.DeriveIdempotencyKey(caller.ID, receiver.ID, req.Amount, time.Now().Unix())
	}

	result, err := h.transfers.Transfer(r.Context(), caller.ID, receiver.ID, req.Amount, key, nil)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	message := "Transfer completed successfully"
	if result.Replayed {
		message = "Transfer already processed"
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"status":  "success",
		"message": message,
		"data":    transferResultJSON(result),
	})
}

func transferResultJSON(result *application.TransferResult) map[string]any {
	txn := result.Transaction
	return map[string]any{
		"uuid":             txn.UUID,
		"amount":           txn.Amount,
		"commission":       txn.Commission,
		"total_debited":    txn.TotalDebited(),
		"sender_balance":   result.SenderBalance,
		"receiver_balance": result.ReceiverBalance,
		"created_at":       txn.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func transactionJSON(txn *domain.Transaction) map[string]any {
	return map[string]any{
		"uuid":          txn.UUID,
		"sender_id":     txn.SenderID,
		"receiver_id":   txn.ReceiverID,
		"amount":        txn.Amount,
		"commission":    txn.Commission,
		"total_debited": txn.TotalDebited(),
		"status":        string(txn.Status),
		"created_at":    txn.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ListTransactions handles GET /api/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	caller := CurrentUser(r.Context())
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	direction := domain.ParseDirection(q.Get("direction"))

	result, err := h.transfers.ListTransactions(r.Context(), caller.ID, direction, page, perPage)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(result.Transactions))
	for _, txn := range result.Transactions {
		items = append(items, transactionJSON(txn))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"transactions": items,
			"page":         result.Page,
			"per_page":     result.PerPage,
			"total":        result.Total,
		},
	})
}

// GetTransaction handles GET /api/transactions/{uuid}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	caller := CurrentUser(r.Context())

	txn, err := h.transfers.GetTransaction(r.Context(), caller.ID, r.PathValue("uuid"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   transactionJSON(txn),
	})
}

// Stats handles GET /api/transactions/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	caller := CurrentUser(r.Context())

	stats, err := h.transfers.Stats(r.Context(), caller.ID)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"total_sent":         stats.TotalSent,
			"total_received":     stats.TotalReceived,
			"total_commission":   stats.TotalCommission,
			"sent_count":         stats.SentCount,
			"received_count":     stats.ReceivedCount,
			"total_transactions": stats.SentCount + stats.ReceivedCount,
			"net_balance_change": stats.TotalReceived - stats.TotalSent,
		},
	})
}

// handleDomainError maps domain errors to HTTP responses.
func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, domain.ErrEmailInUse):
		h.writeError(w, http.StatusUnprocessableEntity, "email already in use", nil)
	case errors.Is(err, domain.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnprocessableEntity, "invalid email or password", nil)
	case errors.Is(err, domain.ErrReceiverNotFound):
		h.writeError(w, http.StatusNotFound, "receiver not found", nil)
	case errors.Is(err, domain.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "transaction not found", nil)
	case errors.Is(err, domain.ErrSelfTransfer):
		h.writeError(w, http.StatusBadRequest, "cannot transfer to yourself", nil)
	case errors.Is(err, domain.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, "amount must be a positive integer", nil)
	case errors.Is(err, domain.ErrInvalidIdempotencyKey):
		h.writeError(w, http.StatusBadRequest, "idempotency key must not be empty", nil)
	case errors.Is(err, domain.ErrInsufficientBalance):
		h.writeError(w, http.StatusBadRequest, "insufficient balance to cover amount and commission", nil)
	case errors.Is(err, domain.ErrUserNotFound):
		h.writeError(w, http.StatusBadRequest, "user not found", nil)
	case errors.Is(err, domain.ErrLockContention):
		h.writeError(w, http.StatusServiceUnavailable, "temporary contention, please retry", nil)
	default:
		logging.Error("unhandled error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Status: "error", Message: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	h.writeJSON(w, status, resp)
}
