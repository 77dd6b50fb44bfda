// Package normalize turns uploaded record lists into canonical vote records.
// Validation is all-or-nothing: one bad record rejects the whole batch.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dharsanguruparan/VoteDrop/internal/model"
)

var (
	// ErrMalformed is returned when the upload cannot be parsed at all.
	ErrMalformed = errors.New("upload is not parseable")
	// ErrEmptyOrNotAList is returned when the upload is not a non-empty list.
	ErrEmptyOrNotAList = errors.New("upload must contain a non-empty list of vote records")
	// ErrInvalidRecord is returned when any record is incomplete or carries
	// an unknown category.
	ErrInvalidRecord = errors.New("upload contains incomplete records or invalid categories")
)

// InvalidRecordError pinpoints the first record that failed validation.
type InvalidRecordError struct {
	Index int
	Field string
	Err   error
}

func (e *InvalidRecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record #%d: %v", e.Index+1, e.Err)
	}
	return fmt.Sprintf("record #%d: field %s: %v", e.Index+1, e.Field, e.Err)
}

func (e *InvalidRecordError) Unwrap() []error {
	return []error{ErrInvalidRecord, e.Err}
}

// RawRecord is one upload entry before normalization. Pointer fields tell
// "absent" apart from "present but empty".
type RawRecord struct {
	DNI       *string `json:"DNI" validate:"required,min=1"`
	Categoria *string `json:"categoria" validate:"required,min=1,categoria"`
	Partido   *string `json:"partido" validate:"required,min=1"`
	Region    *string `json:"region" validate:"required,min=1"`
	Mesa      *Mesa   `json:"mesa"`
	Candidato *string `json:"candidato"`
}

// Mesa is a polling table number. Exporters write it as 12 or 12.0, both
// are accepted; fractions and quoted strings are not.
type Mesa int

var errBadMesa = errors.New("mesa must be a whole number")

// ParseMesa reads a table number written as an integer or an integral float.
func ParseMesa(s string) (Mesa, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, errBadMesa
	}
	return Mesa(f), nil
}

func (m *Mesa) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	n, err := ParseMesa(strconv.FormatFloat(f, 'f', -1, 64))
	if err != nil {
		return err
	}
	*m = n
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON key names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	_ = v.RegisterValidation("categoria", func(fl validator.FieldLevel) bool {
		_, ok := model.ParseCategoria(fl.Field().String())
		return ok
	})
	return v
}

// Validate checks a single raw record.
func Validate(index int, r RawRecord) error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &InvalidRecordError{Index: index, Field: fe.Field(), Err: fmt.Errorf("failed %q check", fe.Tag())}
	}
	return &InvalidRecordError{Index: index, Err: err}
}

// Normalize validates every record and maps the batch to VoteRecords. It has
// no side effects. DNIs are only trimmed here; their length is the
// verifier's concern.
func Normalize(raw []RawRecord) ([]model.VoteRecord, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyOrNotAList
	}
	for i, r := range raw {
		if err := Validate(i, r); err != nil {
			return nil, err
		}
	}
	out := make([]model.VoteRecord, 0, len(raw))
	for _, r := range raw {
		out = append(out, normalizeRecord(r))
	}
	return out, nil
}

func normalizeRecord(r RawRecord) model.VoteRecord {
	categoria, _ := model.ParseCategoria(*r.Categoria)
	partido := strings.ToUpper(strings.TrimSpace(*r.Partido))
	rec := model.VoteRecord{
		DNI:       strings.TrimSpace(*r.DNI),
		Categoria: categoria,
		Partido:   partido,
		Region:    strings.TrimSpace(*r.Region),
		Mesa:      model.MesaSentinel,
	}
	if r.Mesa != nil && *r.Mesa != 0 {
		rec.Mesa = int(*r.Mesa)
	}
	switch {
	case r.Candidato != nil && *r.Candidato != "":
		rec.Candidato = *r.Candidato
	case categoria == model.CategoriaPresidencial:
		rec.Candidato = "N/A"
	default:
		rec.Candidato = "Lista " + partido
	}
	return rec
}
