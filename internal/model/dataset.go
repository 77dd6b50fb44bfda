// Package model contains the struct definitions shared across packages: vote
// records, uploaded datasets and the issues verification attaches to them.
package model

import (
	"strings"
	"time"
)

// Categoria names the election race a vote belongs to. Declaring it via
// "type X string" keeps plain strings from being passed where a category is
// expected.
type Categoria string

const (
	CategoriaPresidencial Categoria = "presidencial"
	CategoriaCongreso     Categoria = "congreso"
	CategoriaParlamento   Categoria = "parlamento"
)

// Categorias lists the recognized races in ballot order.
var Categorias = []Categoria{CategoriaPresidencial, CategoriaCongreso, CategoriaParlamento}

// ParseCategoria lowercases s and reports whether it names a known race.
// Surrounding whitespace is not trimmed: " congreso" is rejected.
func ParseCategoria(s string) (Categoria, bool) {
	c := Categoria(strings.ToLower(s))
	for _, known := range Categorias {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// MesaSentinel is the polling-station id stored when an upload omits one.
const MesaSentinel = 99999

// VoteRecord is one ballot entry. The JSON keys match the upload format so a
// normalized record round-trips through the persisted collections unchanged.
type VoteRecord struct {
	DNI       string    `json:"DNI"`
	Categoria Categoria `json:"categoria"`
	Partido   string    `json:"partido"`
	Region    string    `json:"region"`
	Mesa      int       `json:"mesa"`
	Candidato string    `json:"candidato"`
}

// AppliedVote is a VoteRecord that made it into the official pool. The source
// dataset id is kept so applied votes can be traced back to their upload.
type AppliedVote struct {
	VoteRecord
	SourceDatasetID string    `json:"sourceDatasetId,omitempty"`
	AppliedAt       time.Time `json:"appliedAt"`
}

// DatasetStatus describes the verification lifecycle of an upload.
type DatasetStatus string

const (
	StatusPending  DatasetStatus = "pending"
	StatusVerified DatasetStatus = "verified"
	StatusError    DatasetStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s DatasetStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusError:
		return true
	}
	return false
}

// DatasetType is fixed to results uploads for now.
type DatasetType string

const DatasetTypeResultados DatasetType = "resultados"

// IssueLevel separates findings that block application from cosmetic ones.
type IssueLevel string

const (
	LevelWarning IssueLevel = "WARNING"
	LevelError   IssueLevel = "ERROR"
)

// DataIssue is a single verification finding. Record is the zero-based index
// of the offending entry in the dataset's RawData.
type DataIssue struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Level       IssueLevel `json:"level"`
	Record      int        `json:"record"`
}

// PendingDataset is one uploaded batch awaiting verification or application.
// Version is bumped by the stores on every update and lets backends detect a
// concurrent writer.
type PendingDataset struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Type       DatasetType   `json:"type"`
	Records    int           `json:"records"`
	UploadDate time.Time     `json:"uploadDate"`
	Status     DatasetStatus `json:"status"`
	RawData    []VoteRecord  `json:"rawData"`
	Issues     []DataIssue   `json:"issues,omitempty"`
	Version    int64         `json:"version"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (d PendingDataset) Clone() PendingDataset {
	out := d
	if d.RawData != nil {
		out.RawData = append([]VoteRecord(nil), d.RawData...)
	}
	if d.Issues != nil {
		out.Issues = append([]DataIssue(nil), d.Issues...)
	}
	return out
}

// CountIssues returns how many issues of the given level the dataset carries.
func (d PendingDataset) CountIssues(level IssueLevel) int {
	n := 0
	for _, issue := range d.Issues {
		if issue.Level == level {
			n++
		}
	}
	return n
}
