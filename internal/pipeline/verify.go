package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dharsanguruparan/VoteDrop/internal/model"
)

// Issue types reported by verification.
const (
	IssueInvalidDNI  = "DNI Inválido"
	IssueInvalidVote = "Voto No Válido"
)

// DNILength is the only property of a DNI verification checks.
const DNILength = 8

var nonValidPartidos = map[string]bool{"nulo": true, "error": true, "blanco": true}

// FindIssues scans records in order. A DNI whose length is not DNILength is
// an ERROR; a blank, null or spoiled vote is a WARNING. Each record yields at
// most one issue of each kind.
func FindIssues(datasetID string, records []model.VoteRecord) []model.DataIssue {
	var issues []model.DataIssue
	for i, r := range records {
		if !ValidDNI(r.DNI) {
			issues = append(issues, model.DataIssue{
				ID:          fmt.Sprintf("issue-%s-%d-dni", datasetID, i),
				Type:        IssueInvalidDNI,
				Description: fmt.Sprintf("Registro #%d: El DNI '%s' no tiene %d dígitos.", i+1, r.DNI, DNILength),
				Level:       model.LevelError,
				Record:      i,
			})
		}
		if nonValidPartidos[strings.ToLower(r.Partido)] {
			issues = append(issues, model.DataIssue{
				ID:          fmt.Sprintf("issue-%s-%d-invalid", datasetID, i),
				Type:        IssueInvalidVote,
				Description: fmt.Sprintf("Registro #%d: Voto a %s (Blanco/Nulo).", i+1, r.Partido),
				Level:       model.LevelWarning,
				Record:      i,
			})
		}
	}
	return issues
}

// ValidDNI checks length only; "1234567a" passes.
func ValidDNI(dni string) bool {
	return utf8.RuneCountInString(dni) == DNILength
}

// Classify maps a set of issues to the status verification moves to.
func Classify(issues []model.DataIssue) model.DatasetStatus {
	for _, issue := range issues {
		if issue.Level == model.LevelError {
			return model.StatusError
		}
	}
	return model.StatusVerified
}
