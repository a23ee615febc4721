package types

import "errors"

type Mode string

const (
	ModeBulk  Mode = "bulk"
	ModeMerge Mode = "merge"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Kind classifies a failure so callers can tell validation problems from
// ingestion, per-row and transport failures without parsing messages.
type Kind string

const (
	KindValidation Kind = "validation"
	KindIngestion  Kind = "ingestion"
	KindRow        Kind = "row"
	KindTransport  Kind = "transport"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrIngestion  = errors.New("ingestion failed")
	ErrRowFailed  = errors.New("row failed")
	ErrTransport  = errors.New("transport failed")
)

// KindOf reports the failure kind wrapped by err, or "" when err carries none.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrIngestion):
		return KindIngestion
	case errors.Is(err, ErrRowFailed):
		return KindRow
	case errors.Is(err, ErrTransport):
		return KindTransport
	}
	return ""
}

type AddressSet struct {
	UniqueEmails   []string
	TotalFound     int
	DuplicateCount int
}

// Row holds one spreadsheet line. Keys keep column order; every value is a
// string, blank cells included as "".
type Row struct {
	keys   []string
	values map[string]string
}

// NewRow builds a Row from alternating key/value pairs.
func NewRow(pairs ...string) Row {
	r := Row{values: make(map[string]string, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

func (r *Row) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r Row) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r Row) Len() int {
	return len(r.keys)
}

type Table struct {
	SourceFile string
	Columns    []string
	Rows       []Row
}

// CommonFields are operator-supplied fallbacks for tags with no matching column.
type CommonFields struct {
	Email    string
	Company  string
	Contact  string
	Project  string
	URL      string
	Date1    string
	Date2    string
	Reserve1 string
	Reserve2 string
	Reserve3 string
	Reserve4 string
}

type TagResolution struct {
	Text       string
	Unresolved []string
}

// Draft is the request handed to the draft-creation collaborator. Exactly one
// of To and Bcc is populated.
type Draft struct {
	To      string
	Bcc     []string
	Subject string
	Body    string
}

type Progress struct {
	Current int
	Total   int
	Status  Status
	Line    string
}

type Failure struct {
	Row     int
	Address string
	Kind    Kind
	Err     error
}

type RunLog struct {
	ID         string
	Mode       Mode
	Lines      []string
	Current    int
	Total      int
	Status     Status
	Succeeded  int
	Failed     int
	Failures   []Failure
	Unresolved []string
}

func (l *RunLog) Progress() Progress {
	p := Progress{Current: l.Current, Total: l.Total, Status: l.Status}
	if n := len(l.Lines); n > 0 {
		p.Line = l.Lines[n-1]
	}
	return p
}
