// Package mockportal is a stand-in for the EFD-REINF declaration form. It
// serves an HTML form with the production element ids plus a JSON API, and
// files declarations into SQLite, rejecting a second filing for the same
// CPF and period the way the real portal does.
package mockportal

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/efdreinf/reinf-cli/internal/group"
	"github.com/efdreinf/reinf-cli/internal/portal"
)

//go:embed templates/*.html
var templateFS embed.FS

// Server is the mock portal HTTP server.
type Server struct {
	db     *DB
	pages  *template.Template
	router chi.Router
	log    *zap.Logger
}

// New builds the router over db.
func New(db *DB) (*Server, error) {
	pages, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, eris.Wrap(err, "mockportal: parse templates")
	}
	s := &Server{
		db:    db,
		pages: pages,
		log:   zap.L().With(zap.String("component", "mockportal")),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.page("menu.html"))
	r.Get("/formulario", s.page("formulario.html"))
	r.Get("/sucesso_efd", s.page("sucesso.html"))
	r.Post("/submit_efd", s.handleSubmit)
	r.Get("/visualizar_efd", s.handleList)
	r.Get("/detalhes_efd/{id}", s.handleDetail)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/declaracoes", func(r chi.Router) {
		r.Post("/check", s.handleCheck)
		r.Post("/{id}/assinar", s.handleSign)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("mockportal: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := map[string]any{"ID": r.URL.Query().Get("id")}
		if err := s.pages.ExecuteTemplate(w, name, data); err != nil {
			s.log.Error("mockportal: render page", zap.String("template", name), zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req portal.CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, portal.Reply{Messages: []string{"Requisição inválida"}})
		return
	}
	cpf := group.DigitsOnly(req.BeneficiaryCPF)
	if msgs := validateHeader(req.Period, req.EstablishmentCNPJ, cpf); len(msgs) > 0 {
		writeJSON(w, http.StatusOK, portal.Reply{Messages: msgs})
		return
	}
	exists, err := s.db.Exists(r.Context(), req.Period, cpf)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if exists {
		writeJSON(w, http.StatusOK, portal.Reply{Messages: []string{portal.DuplicateMessage}})
		return
	}
	writeJSON(w, http.StatusOK, portal.Reply{OK: true})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	decl, fromForm, err := decodeDeclaration(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, portal.Reply{Messages: []string{"Requisição inválida: " + err.Error()}})
		return
	}
	if msgs := validateDeclaration(decl); len(msgs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, portal.Reply{Messages: msgs})
		return
	}

	exists, err := s.db.Exists(r.Context(), decl.Period, decl.BeneficiaryCPF)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if exists {
		writeJSON(w, http.StatusConflict, portal.Reply{Messages: []string{portal.DuplicateMessage}})
		return
	}

	id, err := s.db.Insert(r.Context(), decl)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.log.Info("mockportal: declaration filed",
		zap.Int64("id", id),
		zap.String("cpf", decl.BeneficiaryCPF),
		zap.String("period", decl.Period),
		zap.Int("dependents", len(decl.Dependents)),
	)

	if fromForm {
		http.Redirect(w, r, "/sucesso_efd?id="+strconv.FormatInt(id, 10), http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusCreated, portal.Reply{OK: true, ID: id, Status: portal.StatusPending})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, portal.Reply{Messages: []string{"Identificador inválido"}})
		return
	}
	var req portal.SignRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, portal.Reply{Messages: []string{"Requisição inválida"}})
			return
		}
	}
	if err := s.db.Sign(r.Context(), id, req.Method); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, portal.Reply{Messages: []string{"Declaração não encontrada"}})
			return
		}
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portal.Reply{OK: true, ID: id, Status: portal.StatusSigned,
		Messages: []string{"Evento enviado com sucesso"}})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	decls, err := s.db.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	if decls == nil {
		decls = []portal.Declaration{}
	}
	writeJSON(w, http.StatusOK, decls)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Identificador inválido"})
		return
	}
	decl, err := s.db.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Declaração não encontrada"})
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewDetail(*decl))
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("mockportal: request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Erro interno"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
