package notes

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire and display format of a note date.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day or location.
// The zero Date means "not set".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses s in DateLayout. An empty s yields the zero Date.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type Note struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Date  Date   `json:"date"`
}

// NoteRequest is the body of create and update calls.
// Date stays a string so the store can report a malformed date as a
// field validation error. Fields are validated in declaration order.
type NoteRequest struct {
	Title string `json:"title" validate:"notblank,max=200"`
	Text  string `json:"text" validate:"max=10000"`
	Date  string `json:"date" validate:"required,datetime=2006-01-02,notpast"`
}

type ListResponse struct {
	Items []Note `json:"items"`
}
