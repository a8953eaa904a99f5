package notes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"example.com/notes-favorites/internal/logger"
	"example.com/notes-favorites/internal/session"
	"example.com/notes-favorites/internal/stringsx"
)

// SessionHeader carries the session id. Requests without it start a new
// session whose id is returned in the same header.
const SessionHeader = "X-Session-ID"

type Handlers struct {
	sessions *session.Registry[*Store]
	audit    Auditor
	log      zerolog.Logger
	now      func() time.Time
}

func NewHandlers(sessions *session.Registry[*Store], audit Auditor, log zerolog.Logger) *Handlers {
	if audit == nil {
		audit = NopAuditor{}
	}
	return &Handlers{sessions: sessions, audit: audit, log: log, now: time.Now}
}

func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": h.sessions.Len()})
	})
	r.Delete("/session", h.closeSession)

	r.Group(func(r chi.Router) {
		r.Use(h.withSession)

		r.Route("/notes", func(r chi.Router) {
			r.Post("/", h.create)
			r.Get("/", h.search)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.get)
				r.Put("/", h.update)
				r.Delete("/", h.delete)
			})
		})

		r.Route("/favorites", func(r chi.Router) {
			r.Get("/", h.favorites)
			r.Put("/{id}", h.addFavorite)
			r.Delete("/{id}", h.removeFavorite)
		})

		r.Get("/audit", h.auditLog)
	})

	return r
}

type ctxKey struct{}

type sessionCtx struct {
	id     string
	handle *session.Handle[*Store]
}

func (h *Handlers) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(SessionHeader))
		if id == "" {
			id = uuid.NewString()
		}
		handle, err := h.sessions.Open(id)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set(SessionHeader, id)
		ctx := context.WithValue(r.Context(), ctxKey{}, sessionCtx{id: id, handle: handle})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) sessionCtx {
	s, _ := r.Context().Value(ctxKey{}).(sessionCtx)
	return s
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	sess := sessionFrom(r)
	var n Note
	err := sess.handle.Do(func(s *Store) error {
		var err error
		n, err = s.Create(req.Title, req.Text, req.Date)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.record(r, sess.id, n.ID, ActionCreate)
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var v noteView
	err := sessionFrom(r).handle.Do(func(s *Store) error {
		n, err := s.Get(id)
		if err != nil {
			return err
		}
		v = noteView{Note: n, Favorite: s.IsFavorite(id)}
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	sess := sessionFrom(r)
	var n Note
	err := sess.handle.Do(func(s *Store) error {
		var err error
		n, err = s.Update(id, req.Title, req.Text, req.Date)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.record(r, sess.id, n.ID, ActionUpdate)
	writeJSON(w, http.StatusOK, n)
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess := sessionFrom(r)
	var existed bool
	err := sess.handle.Do(func(s *Store) error {
		_, err := s.Get(id)
		existed = err == nil
		s.Delete(id)
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if existed {
		h.record(r, sess.id, id, ActionDelete)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	var items []Note
	err := sessionFrom(r).handle.Do(func(s *Store) error {
		items = s.Search(q)
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Debug().Str("query", stringsx.Clip(q, 64)).Int("matches", len(items)).Msg("search")
	writeJSON(w, http.StatusOK, ListResponse{Items: items})
}

func (h *Handlers) favorites(w http.ResponseWriter, r *http.Request) {
	var items []Note
	err := sessionFrom(r).handle.Do(func(s *Store) error {
		items = s.Favorites()
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items})
}

func (h *Handlers) addFavorite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess := sessionFrom(r)
	var already bool
	err := sess.handle.Do(func(s *Store) error {
		already = s.IsFavorite(id)
		return s.AddFavorite(id)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !already {
		h.record(r, sess.id, id, ActionFavorite)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) removeFavorite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess := sessionFrom(r)
	var was bool
	err := sess.handle.Do(func(s *Store) error {
		was = s.IsFavorite(id)
		s.RemoveFavorite(id)
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if was {
		h.record(r, sess.id, id, ActionUnfavorite)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) auditLog(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			limit = v
		}
	}

	items, err := h.audit.Recent(r.Context(), sessionFrom(r).id, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// closeSession drops the session named by the header without opening one.
// Closing an unknown session is not an error.
func (h *Handlers) closeSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.Header.Get(SessionHeader))
	if id != "" && h.sessions.Close(id) {
		h.log.Debug().Str("session_id", id).Msg("session closed")
	}
	w.WriteHeader(http.StatusNoContent)
}

type noteView struct {
	Note
	Favorite bool `json:"favorite"`
}

// record appends to the audit log. Failures are logged, never returned to
// the client: the store mutation has already happened.
func (h *Handlers) record(r *http.Request, sessionID, noteID, action string) {
	e := AuditEvent{SessionID: sessionID, NoteID: noteID, Action: action, At: h.now().UTC()}
	if err := h.audit.Record(r.Context(), e); err != nil {
		h.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("action", action).
			Str("note_id", noteID).
			Msg("audit record failed")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Reason, "field": ve.Field})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, session.ErrClosed):
		writeJSON(w, http.StatusGone, map[string]string{"error": "session closed"})
	default:
		h.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
