package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agencyflow/assignment"
	"agencyflow/auth"
	"agencyflow/commission"
	"agencyflow/operation"
	"agencyflow/queue"
	"agencyflow/request"
	"agencyflow/transaction"
	"agencyflow/validation"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ctxKey int

const ctxKeyActor ctxKey = iota

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	VerifyToken(token string) (queue.Actor, error)
}

type typeService interface {
	Create(ctx context.Context, actor queue.Actor, t operation.Type) (operation.Type, error)
	Update(ctx context.Context, actor queue.Actor, t operation.Type) (operation.Type, error)
	Archive(ctx context.Context, actor queue.Actor, id string) (operation.Type, error)
	ListActive(ctx context.Context) ([]operation.Type, error)
}

type txnService interface {
	Submit(ctx context.Context, actor queue.Actor, params transaction.SubmitParams) (transaction.Transaction, error)
	List(ctx context.Context, filters transaction.Filters) ([]transaction.Transaction, int, error)
}

type txnQueueService interface {
	Claim(ctx context.Context, id string, actor queue.Actor) (transaction.Transaction, error)
	Release(ctx context.Context, id string, actor queue.Actor) (transaction.Transaction, error)
	Reassign(ctx context.Context, id string, admin queue.Actor, targetID string) (transaction.Transaction, error)
}

type txnValidationService interface {
	Validate(ctx context.Context, id string, actor queue.Actor) (transaction.Transaction, error)
	Reject(ctx context.Context, id string, actor queue.Actor, reason string) (transaction.Transaction, error)
}

type reqService interface {
	Submit(ctx context.Context, params request.SubmitParams) (request.Request, error)
	List(ctx context.Context, filters request.Filters) ([]request.Request, int, error)
}

type reqQueueService interface {
	Claim(ctx context.Context, id string, actor queue.Actor) (request.Request, error)
	Release(ctx context.Context, id string, actor queue.Actor) (request.Request, error)
	Reassign(ctx context.Context, id string, admin queue.Actor, targetID string) (request.Request, error)
}

type reqValidationService interface {
	Resolve(ctx context.Context, id string, actor queue.Actor, response string) (request.Request, error)
	Close(ctx context.Context, id string, actor queue.Actor, reason request.CloseReason, note string) (request.Request, error)
}

// Server exposes the operator console API.
type Server struct {
	log *zap.Logger

	authService   authService
	typeService   typeService
	txnService    txnService
	txnQueue      txnQueueService
	txnValidation txnValidationService
	reqService    reqService
	reqQueue      reqQueueService
	reqValidation reqValidationService
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/auth/me", s.withAuth(s.handleMe))
	mux.HandleFunc("/api/operation-types", s.withAuth(s.handleOperationTypes))
	mux.HandleFunc("/api/operation-types/", s.withAuth(s.handleOperationTypeDetail))
	mux.HandleFunc("/api/transactions", s.withAuth(s.handleTransactions))
	mux.HandleFunc("/api/transactions/", s.withAuth(s.handleTransactionAction))
	mux.HandleFunc("/api/requests", s.withAuth(s.handleRequests))
	mux.HandleFunc("/api/requests/", s.withAuth(s.handleRequestAction))
	mux.HandleFunc("/api/queue/transactions", s.withAuth(s.handleTransactionQueue))
	mux.HandleFunc("/api/queue/requests", s.withAuth(s.handleRequestQueue))
	return mux
}

// withAuth resolves the bearer token into the acting operator.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actor, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyActor, actor)))
	}
}

func actorFrom(r *http.Request) queue.Actor {
	actor, _ := r.Context().Value(ctxKeyActor).(queue.Actor)
	return actor
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, err := s.authService.GetUserByID(r.Context(), actorFrom(r).ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*user))
}

type operationTypeRequest struct {
	Name           string                `json:"name"`
	ImpactsBalance bool                  `json:"impacts_balance"`
	ProofRequired  bool                  `json:"proof_required"`
	Status         string                `json:"status"`
	Fields         []operation.FormField `json:"fields"`
	Commission     commission.Config     `json:"commission"`
}

func (s *Server) handleOperationTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		types, err := s.typeService.ListActive(r.Context())
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		items := make([]operationTypeResponse, 0, len(types))
		for _, t := range types {
			items = append(items, toOperationTypeResponse(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req operationTypeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := s.typeService.Create(r.Context(), actorFrom(r), operation.Type{
			Name:           req.Name,
			ImpactsBalance: req.ImpactsBalance,
			ProofRequired:  req.ProofRequired,
			Status:         operation.Status(req.Status),
			Fields:         req.Fields,
			Commission:     req.Commission,
		})
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toOperationTypeResponse(created))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleOperationTypeDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/operation-types/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid operation type path")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req operationTypeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := s.typeService.Update(r.Context(), actorFrom(r), operation.Type{
			ID:             id,
			Name:           req.Name,
			ImpactsBalance: req.ImpactsBalance,
			ProofRequired:  req.ProofRequired,
			Status:         operation.Status(req.Status),
			Fields:         req.Fields,
			Commission:     req.Commission,
		})
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOperationTypeResponse(updated))
	case http.MethodDelete:
		archived, err := s.typeService.Archive(r.Context(), actorFrom(r), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOperationTypeResponse(archived))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type submitTransactionRequest struct {
	OpTypeID  string `json:"op_type_id"`
	Principal string `json:"principal"`
	Fees      string `json:"fees"`
	ProofURL  string `json:"proof_url"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filters := transaction.Filters{
			Status:     transaction.Status(r.URL.Query().Get("status")),
			AssignedTo: r.URL.Query().Get("assigned_to"),
			AgentID:    r.URL.Query().Get("agent_id"),
			Page:       queryInt(r, "page"),
			PageSize:   queryInt(r, "page_size"),
		}
		items, total, err := s.txnService.List(r.Context(), filters)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": toTransactionResponses(items),
			"total": total,
		})
	case http.MethodPost:
		var req submitTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		principal, err := decimal.NewFromString(req.Principal)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid principal")
			return
		}
		fees := decimal.Zero
		if req.Fees != "" {
			if fees, err = decimal.NewFromString(req.Fees); err != nil {
				writeError(w, http.StatusBadRequest, "invalid fees")
				return
			}
		}
		actor := actorFrom(r)
		created, err := s.txnService.Submit(r.Context(), actor, transaction.SubmitParams{
			AgentID:   actor.ID,
			OpTypeID:  req.OpTypeID,
			Principal: principal,
			Fees:      fees,
			ProofURL:  req.ProofURL,
		})
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTransactionResponse(created))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTransactionAction routes POST /api/transactions/{id}/{action}.
func (s *Server) handleTransactionAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, action, ok := splitAction(r.URL.Path, "/api/transactions/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid transaction path")
		return
	}
	actor := actorFrom(r)

	var body struct {
		TargetID string `json:"target_id"`
		Reason   string `json:"reason"`
	}
	// claim and validate carry no body
	_ = json.NewDecoder(r.Body).Decode(&body)

	var (
		result transaction.Transaction
		err    error
	)
	switch action {
	case "claim":
		result, err = s.txnQueue.Claim(r.Context(), id, actor)
	case "release":
		result, err = s.txnQueue.Release(r.Context(), id, actor)
	case "reassign":
		result, err = s.txnQueue.Reassign(r.Context(), id, actor, body.TargetID)
	case "validate":
		result, err = s.txnValidation.Validate(r.Context(), id, actor)
	case "reject":
		result, err = s.txnValidation.Reject(r.Context(), id, actor, body.Reason)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(result))
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filters := request.Filters{
			Status:      request.Status(r.URL.Query().Get("status")),
			AssignedTo:  r.URL.Query().Get("assigned_to"),
			RequesterID: r.URL.Query().Get("requester_id"),
			Page:        queryInt(r, "page"),
			PageSize:    queryInt(r, "page_size"),
		}
		items, total, err := s.reqService.List(r.Context(), filters)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": toRequestResponses(items),
			"total": total,
		})
	case http.MethodPost:
		var req struct {
			Type        string `json:"type"`
			Subject     string `json:"subject"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := s.reqService.Submit(r.Context(), request.SubmitParams{
			RequesterID: actorFrom(r).ID,
			Type:        req.Type,
			Subject:     req.Subject,
			Description: req.Description,
		})
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequestResponse(created))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRequestAction routes POST /api/requests/{id}/{action}.
func (s *Server) handleRequestAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, action, ok := splitAction(r.URL.Path, "/api/requests/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request path")
		return
	}
	actor := actorFrom(r)

	var body struct {
		TargetID string `json:"target_id"`
		Response string `json:"response"`
		Reason   string `json:"reason"`
		Note     string `json:"note"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	var (
		result request.Request
		err    error
	)
	switch action {
	case "claim":
		result, err = s.reqQueue.Claim(r.Context(), id, actor)
	case "release":
		result, err = s.reqQueue.Release(r.Context(), id, actor)
	case "reassign":
		result, err = s.reqQueue.Reassign(r.Context(), id, actor, body.TargetID)
	case "resolve":
		result, err = s.reqValidation.Resolve(r.Context(), id, actor, body.Response)
	case "close":
		result, err = s.reqValidation.Close(r.Context(), id, actor, request.CloseReason(body.Reason), body.Note)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(result))
}

// handleTransactionQueue returns the operator-facing partitioned view of open
// transactions.
func (s *Server) handleTransactionQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	open, _, err := s.txnService.List(r.Context(), transaction.Filters{Status: transaction.StatusUnassigned})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	assigned, _, err := s.txnService.List(r.Context(), transaction.Filters{Status: transaction.StatusAssigned})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	view := queue.Partition(append(open, assigned...), actorFrom(r).ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"unassigned":     toTransactionResponses(view.Unassigned),
		"assigned_to_me": toTransactionResponses(view.AssignedToMe),
		"all":            toTransactionResponses(view.All),
	})
}

// handleRequestQueue returns the partitioned view of open support requests.
func (s *Server) handleRequestQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	open, _, err := s.reqService.List(r.Context(), request.Filters{Status: request.StatusUnassigned})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	assigned, _, err := s.reqService.List(r.Context(), request.Filters{Status: request.StatusAssigned})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	view := queue.Partition(append(open, assigned...), actorFrom(r).ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"unassigned":     toRequestResponses(view.Unassigned),
		"assigned_to_me": toRequestResponses(view.AssignedToMe),
		"all":            toRequestResponses(view.All),
	})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transaction.ErrNotFound),
		errors.Is(err, request.ErrNotFound),
		errors.Is(err, operation.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrStaleOwnership),
		errors.Is(err, validation.ErrInvalidTransition),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, assignment.ErrForbidden),
		errors.Is(err, validation.ErrForbidden),
		errors.Is(err, validation.ErrNotOwner),
		errors.Is(err, operation.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInactiveUser):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, validation.ErrMissingReason),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, commission.ErrInvalidConfiguration),
		errors.Is(err, commission.ErrNoMatchingTier),
		errors.Is(err, commission.ErrInvalidAmount),
		errors.Is(err, transaction.ErrProofRequired),
		errors.Is(err, transaction.ErrInvalidAmount),
		errors.Is(err, operation.ErrNotActive):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		if s.log != nil {
			s.log.Error("request failed", zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type userResponse struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	FullName string  `json:"full_name"`
	AgencyID *string `json:"agency_id,omitempty"`
	Role     string  `json:"role"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		AgencyID: u.AgencyID,
		Role:     string(u.Role),
	}
}

type operationTypeResponse struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	ImpactsBalance bool                  `json:"impacts_balance"`
	ProofRequired  bool                  `json:"proof_required"`
	Status         string                `json:"status"`
	Fields         []operation.FormField `json:"fields"`
	Commission     commission.Config     `json:"commission"`
	CreatedAt      string                `json:"created_at"`
}

func toOperationTypeResponse(t operation.Type) operationTypeResponse {
	return operationTypeResponse{
		ID:             t.ID,
		Name:           t.Name,
		ImpactsBalance: t.ImpactsBalance,
		ProofRequired:  t.ProofRequired,
		Status:         string(t.Status),
		Fields:         t.Fields,
		Commission:     t.Commission,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
}

type transactionResponse struct {
	ID              string  `json:"id"`
	AgentID         string  `json:"agent_id"`
	OpTypeID        string  `json:"op_type_id"`
	Principal       string  `json:"principal"`
	Fees            string  `json:"fees"`
	Total           string  `json:"total"`
	Commission      string  `json:"commission"`
	ProofURL        *string `json:"proof_url,omitempty"`
	Status          string  `json:"status"`
	AssignedTo      *string `json:"assigned_to,omitempty"`
	ValidatorID     *string `json:"validator_id,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func toTransactionResponse(t transaction.Transaction) transactionResponse {
	return transactionResponse{
		ID:              t.ID,
		AgentID:         t.AgentID,
		OpTypeID:        t.OpTypeID,
		Principal:       t.Principal.String(),
		Fees:            t.Fees.String(),
		Total:           t.Total.String(),
		Commission:      t.Commission.String(),
		ProofURL:        t.ProofURL,
		Status:          string(t.Status),
		AssignedTo:      t.AssignedTo,
		ValidatorID:     t.ValidatorID,
		RejectionReason: t.RejectionReason,
		CreatedAt:       t.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionResponses(items []transaction.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(items))
	for _, t := range items {
		out = append(out, toTransactionResponse(t))
	}
	return out
}

type requestResponse struct {
	ID           string  `json:"id"`
	RequesterID  string  `json:"requester_id"`
	Type         string  `json:"type"`
	Subject      string  `json:"subject"`
	Description  string  `json:"description"`
	Status       string  `json:"status"`
	AssignedTo   *string `json:"assigned_to,omitempty"`
	ResolvedByID *string `json:"resolved_by_id,omitempty"`
	Response     *string `json:"response,omitempty"`
	CloseReason  *string `json:"close_reason,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func toRequestResponse(r request.Request) requestResponse {
	return requestResponse{
		ID:           r.ID,
		RequesterID:  r.RequesterID,
		Type:         r.Type,
		Subject:      r.Subject,
		Description:  r.Description,
		Status:       string(r.Status),
		AssignedTo:   r.AssignedTo,
		ResolvedByID: r.ResolvedByID,
		Response:     r.Response,
		CloseReason:  r.CloseReason,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
	}
}

func toRequestResponses(items []request.Request) []requestResponse {
	out := make([]requestResponse, 0, len(items))
	for _, r := range items {
		out = append(out, toRequestResponse(r))
	}
	return out
}

// splitAction parses "{prefix}{id}/{action}" paths.
func splitAction(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
