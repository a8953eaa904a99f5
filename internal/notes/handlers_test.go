package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/notes-favorites/internal/session"
)

type stubAuditor struct {
	mu       sync.Mutex
	events   []AuditEvent
	recordFn func(context.Context, AuditEvent) error
	recentFn func(context.Context, string, int) ([]AuditEvent, error)
}

func (s *stubAuditor) Record(ctx context.Context, e AuditEvent) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	if s.recordFn != nil {
		return s.recordFn(ctx, e)
	}
	return nil
}

func (s *stubAuditor) Recent(ctx context.Context, sessionID string, limit int) ([]AuditEvent, error) {
	if s.recentFn != nil {
		return s.recentFn(ctx, sessionID, limit)
	}
	return []AuditEvent{}, nil
}

func (s *stubAuditor) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

func newTestAPI(audit Auditor) http.Handler {
	reg := session.NewRegistry(newTestStore, 0)
	return NewHandlers(reg, audit, zerolog.New(io.Discard)).Routes()
}

func do(t *testing.T, h http.Handler, method, path, sessionID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) []Note {
	t.Helper()
	var resp ListResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp.Items
}

func TestHandlers_Health(t *testing.T) {
	h := newTestAPI(nil)
	rr := do(t, h, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Header().Get(SessionHeader))
}

func TestHandlers_Session(t *testing.T) {
	h := newTestAPI(nil)

	t.Run("issued when missing", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/notes", "", "")
		require.Equal(t, http.StatusOK, rr.Code)
		require.NotEmpty(t, rr.Header().Get(SessionHeader))
	})

	t.Run("echoed when given", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/notes", "abc", "")
		require.Equal(t, "abc", rr.Header().Get(SessionHeader))
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		rr := do(t, h, http.MethodPost, "/notes", "one", `{"title":"A","date":"2099-01-01"}`)
		require.Equal(t, http.StatusCreated, rr.Code)

		require.Len(t, decodeList(t, do(t, h, http.MethodGet, "/notes", "one", "")), 1)
		require.Empty(t, decodeList(t, do(t, h, http.MethodGet, "/notes", "two", "")))
	})

	t.Run("closed session starts empty", func(t *testing.T) {
		rr := do(t, h, http.MethodDelete, "/session", "one", "")
		require.Equal(t, http.StatusNoContent, rr.Code)
		require.Empty(t, decodeList(t, do(t, h, http.MethodGet, "/notes", "one", "")))
	})
}

func TestHandlers_CloseSession_DoesNotOpen(t *testing.T) {
	reg := session.NewRegistry(newTestStore, 0)
	h := NewHandlers(reg, nil, zerolog.New(io.Discard)).Routes()

	rr := do(t, h, http.MethodDelete, "/session", "ghost", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, rr.Header().Get(SessionHeader))
	require.Equal(t, 0, reg.Len())

	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/session", "", "").Code)
	require.Equal(t, 0, reg.Len())

	do(t, h, http.MethodGet, "/notes", "live", "")
	require.Equal(t, 1, reg.Len())
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/session", "live", "").Code)
	require.Equal(t, 0, reg.Len())
}

func TestHandlers_StaleHandleAfterClose(t *testing.T) {
	reg := session.NewRegistry(newTestStore, 0)
	hs := NewHandlers(reg, nil, zerolog.New(io.Discard))

	stale, err := reg.Open("s")
	require.NoError(t, err)
	require.True(t, reg.Close("s"))

	serve := func(fn http.HandlerFunc, method, body string) *httptest.ResponseRecorder {
		var rd io.Reader
		if body != "" {
			rd = bytes.NewBufferString(body)
		}
		req := httptest.NewRequest(method, "/", rd)
		ctx := context.WithValue(req.Context(), ctxKey{}, sessionCtx{id: "s", handle: stale})
		rr := httptest.NewRecorder()
		fn(rr, req.WithContext(ctx))
		return rr
	}

	require.Equal(t, http.StatusGone, serve(hs.create, http.MethodPost, `{"title":"A","date":"2099-01-01"}`).Code)
	require.Equal(t, http.StatusGone, serve(hs.search, http.MethodGet, "").Code)
	require.Equal(t, http.StatusGone, serve(hs.favorites, http.MethodGet, "").Code)
	require.Equal(t, http.StatusGone, serve(hs.delete, http.MethodDelete, "").Code)
	require.Equal(t, http.StatusGone, serve(hs.removeFavorite, http.MethodDelete, "").Code)

	// the write never reached a store: a reopened session is empty
	fresh, err := reg.Open("s")
	require.NoError(t, err)
	require.NoError(t, fresh.Do(func(s *Store) error {
		require.Empty(t, s.Notes())
		return nil
	}))
}

func TestHandlers_Create_Validation(t *testing.T) {
	h := newTestAPI(nil)

	rr := do(t, h, http.MethodPost, "/notes/", "s", `{"title":"","text":"x","date":"2099-01-01"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, FieldTitle, body["field"])

	rr = do(t, h, http.MethodPost, "/notes/", "s", `{"title":"T","text":"x","date":""}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, FieldDate, body["field"])

	rr = do(t, h, http.MethodPost, "/notes/", "s", "{")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	require.Empty(t, decodeList(t, do(t, h, http.MethodGet, "/notes", "s", "")))
}

func TestHandlers_CRUD_And_Favorites(t *testing.T) {
	audit := &stubAuditor{}
	h := newTestAPI(audit)
	const sid = "crud"

	rr := do(t, h, http.MethodPost, "/notes", sid, `{"title":"Meeting notes","text":"x","date":"2099-01-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var meeting Note
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&meeting))
	require.NotEmpty(t, meeting.ID)

	rr = do(t, h, http.MethodPost, "/notes", sid, `{"title":"Shopping list","date":"2099-01-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = do(t, h, http.MethodPost, "/notes", sid, `{"title":"MEETING prep","date":"2099-01-02"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var prep Note
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&prep))

	// search
	got := decodeList(t, do(t, h, http.MethodGet, "/notes?q=meeting", sid, ""))
	require.Equal(t, []string{meeting.ID, prep.ID}, ids(got))

	// favorite twice, one entry
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodPut, "/favorites/"+meeting.ID, sid, "").Code)
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodPut, "/favorites/"+meeting.ID, sid, "").Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/favorites/missing", sid, "").Code)

	// update shows through favorites
	rr = do(t, h, http.MethodPut, "/notes/"+meeting.ID, sid, `{"title":"Meeting v2","text":"y","date":"2099-02-01"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	favs := decodeList(t, do(t, h, http.MethodGet, "/favorites", sid, ""))
	require.Len(t, favs, 1)
	require.Equal(t, "Meeting v2", favs[0].Title)

	// get includes favorite flag
	rr = do(t, h, http.MethodGet, "/notes/"+meeting.ID, sid, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var view map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&view))
	require.Equal(t, true, view["favorite"])
	require.Equal(t, "2099-02-01", view["date"])

	// delete reconciles favorites
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/notes/"+meeting.ID, sid, "").Code)
	require.Empty(t, decodeList(t, do(t, h, http.MethodGet, "/favorites", sid, "")))
	require.Len(t, decodeList(t, do(t, h, http.MethodGet, "/notes", sid, "")), 2)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/notes/"+meeting.ID, sid, "").Code)

	// idempotent delete and unfavorite
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/notes/"+meeting.ID, sid, "").Code)
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/favorites/"+prep.ID, sid, "").Code)

	require.Equal(t, []string{
		ActionCreate, ActionCreate, ActionCreate,
		ActionFavorite,
		ActionUpdate,
		ActionDelete,
	}, audit.actions())
}

func TestHandlers_Update_Errors(t *testing.T) {
	h := newTestAPI(nil)
	const sid = "upd"

	rr := do(t, h, http.MethodPost, "/notes", sid, `{"title":"A","date":"2099-01-01"}`)
	var n Note
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&n))

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/notes/"+n.ID, sid, "{").Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/notes/"+n.ID, sid, `{"title":" ","date":"2099-01-01"}`).Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/notes/missing", sid, `{"title":"T","date":"2099-01-01"}`).Code)
}

func TestHandlers_AuditFailureDoesNotFailRequest(t *testing.T) {
	audit := &stubAuditor{
		recordFn: func(context.Context, AuditEvent) error { return errors.New("db down") },
	}
	h := newTestAPI(audit)

	rr := do(t, h, http.MethodPost, "/notes", "s", `{"title":"A","date":"2099-01-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Len(t, decodeList(t, do(t, h, http.MethodGet, "/notes", "s", "")), 1)
}

func TestHandlers_AuditLog(t *testing.T) {
	at := time.Unix(5, 0).UTC()
	audit := &stubAuditor{
		recentFn: func(_ context.Context, sessionID string, limit int) ([]AuditEvent, error) {
			require.Equal(t, "s", sessionID)
			require.Equal(t, 5, limit)
			return []AuditEvent{{SessionID: sessionID, NoteID: "n1", Action: ActionCreate, At: at}}, nil
		},
	}
	h := newTestAPI(audit)

	rr := do(t, h, http.MethodGet, "/audit?limit=5", "s", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Items []AuditEvent `json:"items"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Items, 1)
	require.Equal(t, ActionCreate, resp.Items[0].Action)

	failing := newTestAPI(&stubAuditor{
		recentFn: func(context.Context, string, int) ([]AuditEvent, error) { return nil, errors.New("boom") },
	})
	require.Equal(t, http.StatusInternalServerError, do(t, failing, http.MethodGet, "/audit", "s", "").Code)
}
