package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tender-gateway/ledger"
	"tender-gateway/models"
	"tender-gateway/service"
)

// maxDocumentBytes caps proposal uploads.
const maxDocumentBytes = 16 << 20

// Tenders is the domain surface the handlers call into.
type Tenders interface {
	Connected(ctx context.Context) bool
	List(ctx context.Context) ([]models.Tender, error)
	Get(ctx context.Context, id uint64) (models.Tender, error)
	Create(ctx context.Context, spec service.CreateTenderSpec) (models.Receipt, error)
	SubmitProposal(ctx context.Context, tenderID uint64, document []byte) (string, models.Receipt, error)
	Proposals(ctx context.Context, tenderID uint64) ([]models.Proposal, error)
	Award(ctx context.Context, tenderID uint64) (models.Receipt, error)
}

// Registry is the identity-store surface used by registration and login.
type Registry interface {
	Register(username, password string, role models.Role) error
	Authenticate(username, password string) (models.Identity, error)
}

// Sessions issues and validates bearer tokens.
type Sessions interface {
	IssueToken(identity models.Identity) (string, error)
	Authorize(token string, requiredRole models.Role) (models.Identity, error)
}

type Server struct {
	tenders  Tenders
	registry Registry
	sessions Sessions
	router   chi.Router
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func NewServer(tenders Tenders, registry Registry, sessions Sessions) *Server {
	s := &Server{
		tenders:  tenders,
		registry: registry,
		sessions: sessions,
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/tenders", s.handleListTenders)
	r.Get("/tenders/{tenderId}", s.handleGetTender)
	r.Post("/identities/register", s.handleRegister)
	r.Post("/token", s.handleToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(""))
		r.Post("/tenders", s.handleCreateTender)
		r.Post("/tenders/{tenderId}/proposal", s.handleSubmitProposal)
		r.Get("/tenders/{tenderId}/proposals", s.handleListProposals)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(models.RoleAdmin))
		r.Post("/tenders/{tenderId}/award", s.handleAwardTender)
	})

	s.router = r
	return s
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "tender gateway running",
		"is_connected": s.tenders.Connected(r.Context()),
	})
}

func (s *Server) handleListTenders(w http.ResponseWriter, r *http.Request) {
	tenders, err := s.tenders.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenders)
}

func (s *Server) handleGetTender(w http.ResponseWriter, r *http.Request) {
	id, ok := tenderID(w, r)
	if !ok {
		return
	}
	tender, err := s.tenders.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tender)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "username and password are required")
		return
	}

	if err := s.registry.Register(req.Username, req.Password, models.RoleBidder); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username": req.Username,
		"status":   "registered",
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid form body")
		return
	}

	identity, err := s.registry.Authenticate(r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	token, err := s.sessions.IssueToken(identity)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleCreateTender(w http.ResponseWriter, r *http.Request) {
	var spec service.CreateTenderSpec
	if err := readJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if spec.ExternalRef == "" || spec.Description == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "external_ref and description are required")
		return
	}

	receipt, err := s.tenders.Create(r.Context(), spec)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "created",
		"tx_hash": receipt.TxHash,
		"block":   receipt.BlockNumber,
	})
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := tenderID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	document, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "failed to read uploaded file")
		return
	}

	digest, receipt, err := s.tenders.SubmitProposal(r.Context(), id, document)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if actor, ok := identityFrom(r.Context()); ok {
		log.Printf("proposal for tender %d recorded on behalf of %s", id, actor.Username)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "proposal recorded",
		"file_hash": digest,
		"tx_hash":   receipt.TxHash,
	})
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	id, ok := tenderID(w, r)
	if !ok {
		return
	}
	proposals, err := s.tenders.Proposals(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handleAwardTender(w http.ResponseWriter, r *http.Request) {
	id, ok := tenderID(w, r)
	if !ok {
		return
	}
	receipt, err := s.tenders.Award(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if actor, ok := identityFrom(r.Context()); ok {
		log.Printf("tender %d awarded by %s", id, actor.Username)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "awarded",
		"tx_hash": receipt.TxHash,
	})
}

func tenderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "tenderId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "tender id must be a positive integer")
		return 0, false
	}
	return id, true
}

// respondError maps the error taxonomy onto HTTP statuses. Raw ledger
// detail stays in the log; the caller only ever sees classified codes.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var validation *service.ValidationError

	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "tender not found")
	case errors.Is(err, service.ErrDuplicateUsername):
		writeError(w, http.StatusBadRequest, "VALIDATION", "username already exists")
	case errors.Is(err, service.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, "AUTHENTICATION", "incorrect username or password")
	case errors.Is(err, service.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "AUTHENTICATION", "invalid or expired token")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "AUTHORIZATION", "insufficient role")
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "VALIDATION", validation.Error())
	case ledger.HasCode(err, ledger.CodeConnectivity):
		log.Printf("ledger connectivity failure: %v", err)
		writeError(w, http.StatusBadGateway, "CONNECTIVITY", "ledger endpoint unreachable")
	case ledger.HasCode(err, ledger.CodeConfirmationTimeout):
		log.Printf("confirmation timeout: %v", err)
		writeError(w, http.StatusGatewayTimeout, "CONFIRMATION_TIMEOUT",
			"transaction outcome unknown, it may still confirm; do not blindly resubmit")
	case ledger.HasCode(err, ledger.CodeReverted), ledger.HasCode(err, ledger.CodeLedgerCall):
		log.Printf("ledger revert: %v", err)
		writeError(w, http.StatusBadRequest, "VALIDATION", revertMessage(err))
	default:
		log.Printf("unclassified error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func revertMessage(err error) string {
	if reason := ledger.RevertReason(err); reason != "" {
		return reason
	}
	return "rejected by the ledger"
}
