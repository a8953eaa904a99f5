package notes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"example.com/notes-favorites/internal/stringsx"
)

const maxIDAttempts = 16

// Store owns the notes of one session and the set of favorited note ids.
//
// Favorites hold ids only and are joined against the notes slice on read,
// so an edited note is never shown with stale content. Every method that
// removes a note drops its favorite entry before returning.
//
// A Store is not safe for concurrent use; callers serialize access.
type Store struct {
	notes     []Note
	favorites []string
	favorite  map[string]struct{}

	now      func() time.Time
	newID    func() string
	validate *validator.Validate
}

type Option func(*Store)

// WithClock sets the source of "today" used by date validation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the generator of note ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		favorite: make(map[string]struct{}),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.validate = newValidator(s.today)
	return s
}

// Create validates the input and appends a new note.
func (s *Store) Create(title, text, date string) (Note, error) {
	d, err := s.check(NoteRequest{Title: title, Text: text, Date: date})
	if err != nil {
		return Note{}, err
	}

	id, err := s.freshID()
	if err != nil {
		return Note{}, err
	}

	n := Note{ID: id, Title: title, Text: text, Date: d}
	s.notes = append(s.notes, n)
	return n, nil
}

// Update replaces title, text and date of the note in place.
// Position and favorite status are kept.
func (s *Store) Update(id, title, text, date string) (Note, error) {
	d, err := s.check(NoteRequest{Title: title, Text: text, Date: date})
	if err != nil {
		return Note{}, err
	}

	i := s.indexOf(id)
	if i < 0 {
		return Note{}, &NotFoundError{ID: id}
	}

	s.notes[i].Title = title
	s.notes[i].Text = text
	s.notes[i].Date = d
	return s.notes[i], nil
}

// Delete removes the note and its favorite entry. Unknown ids are ignored.
func (s *Store) Delete(id string) {
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.notes = append(s.notes[:i], s.notes[i+1:]...)
	s.reconcileFavorites()
}

func (s *Store) Get(id string) (Note, error) {
	i := s.indexOf(id)
	if i < 0 {
		return Note{}, &NotFoundError{ID: id}
	}
	return s.notes[i], nil
}

// AddFavorite marks the note as favorite. Adding twice keeps one entry.
func (s *Store) AddFavorite(id string) error {
	if s.indexOf(id) < 0 {
		return &NotFoundError{ID: id}
	}
	if _, ok := s.favorite[id]; ok {
		return nil
	}
	s.favorite[id] = struct{}{}
	s.favorites = append(s.favorites, id)
	return nil
}

// RemoveFavorite unmarks the note. Ids that are not favorites are ignored.
func (s *Store) RemoveFavorite(id string) {
	if _, ok := s.favorite[id]; !ok {
		return
	}
	delete(s.favorite, id)
	for i, fid := range s.favorites {
		if fid == id {
			s.favorites = append(s.favorites[:i], s.favorites[i+1:]...)
			break
		}
	}
}

func (s *Store) IsFavorite(id string) bool {
	_, ok := s.favorite[id]
	return ok
}

// Search returns notes whose title contains query, ignoring case,
// in insertion order. An empty query matches every note.
func (s *Store) Search(query string) []Note {
	out := make([]Note, 0, len(s.notes))
	for _, n := range s.notes {
		if stringsx.ContainsFold(n.Title, query) {
			out = append(out, n)
		}
	}
	return out
}

// Favorites returns the favorited notes in the order they were favorited,
// each with its current content.
func (s *Store) Favorites() []Note {
	out := make([]Note, 0, len(s.favorites))
	for _, id := range s.favorites {
		if i := s.indexOf(id); i >= 0 {
			out = append(out, s.notes[i])
		}
	}
	return out
}

// Notes returns a copy of all notes in insertion order.
func (s *Store) Notes() []Note {
	out := make([]Note, len(s.notes))
	copy(out, s.notes)
	return out
}

func (s *Store) Len() int { return len(s.notes) }

// today is the current UTC calendar date; notes may not be dated earlier.
func (s *Store) today() Date {
	return DateOf(s.now().UTC())
}

func (s *Store) freshID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.newID()
		if id != "" && s.indexOf(id) < 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate note id: no unique id after %d attempts", maxIDAttempts)
}

// reconcileFavorites drops favorite ids that no longer name a note.
// It never touches the notes slice.
func (s *Store) reconcileFavorites() {
	live := make(map[string]struct{}, len(s.notes))
	for _, n := range s.notes {
		live[n.ID] = struct{}{}
	}
	kept := s.favorites[:0]
	for _, id := range s.favorites {
		if _, ok := live[id]; ok {
			kept = append(kept, id)
			continue
		}
		delete(s.favorite, id)
	}
	s.favorites = kept
}

func (s *Store) indexOf(id string) int {
	for i := range s.notes {
		if s.notes[i].ID == id {
			return i
		}
	}
	return -1
}
