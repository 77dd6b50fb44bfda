// Package results summarizes the applied votes pool for the dashboards.
package results

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dharsanguruparan/VoteDrop/internal/model"
)

// PartyCount is one row of a category's results table.
type PartyCount struct {
	Partido string          `json:"partido"`
	Votes   int             `json:"votes"`
	Share   decimal.Decimal `json:"share"`
}

// CategorySummary aggregates one race.
type CategorySummary struct {
	Categoria model.Categoria `json:"categoria"`
	Total     int             `json:"total"`
	// NonValid counts blank, null and spoiled votes; they are also listed in
	// Parties so shares add up to 100.
	NonValid int          `json:"nonValid"`
	Parties  []PartyCount `json:"parties"`
}

// Summary is the tally across every race.
type Summary struct {
	Total      int               `json:"total"`
	Categories []CategorySummary `json:"categories"`
}

var hundred = decimal.NewFromInt(100)

var nonValid = map[string]bool{"NULO": true, "BLANCO": true, "ERROR": true}

// Tally counts votes per party within each category. Parties are ordered by
// votes descending, then name. Shares are percentages rounded to two places.
func Tally(votes []model.AppliedVote) Summary {
	counts := make(map[model.Categoria]map[string]int)
	for _, v := range votes {
		byParty, ok := counts[v.Categoria]
		if !ok {
			byParty = make(map[string]int)
			counts[v.Categoria] = byParty
		}
		byParty[v.Partido]++
	}
	summary := Summary{Total: len(votes)}
	for _, cat := range model.Categorias {
		byParty := counts[cat]
		cs := CategorySummary{Categoria: cat, Parties: []PartyCount{}}
		for partido, n := range byParty {
			cs.Total += n
			if nonValid[strings.ToUpper(partido)] {
				cs.NonValid += n
			}
			cs.Parties = append(cs.Parties, PartyCount{Partido: partido, Votes: n})
		}
		sort.Slice(cs.Parties, func(i, j int) bool {
			a, b := cs.Parties[i], cs.Parties[j]
			if a.Votes != b.Votes {
				return a.Votes > b.Votes
			}
			return a.Partido < b.Partido
		})
		total := decimal.NewFromInt(int64(cs.Total))
		for i := range cs.Parties {
			if cs.Total == 0 {
				continue
			}
			cs.Parties[i].Share = decimal.NewFromInt(int64(cs.Parties[i].Votes)).
				Mul(hundred).
				DivRound(total, 2)
		}
		summary.Categories = append(summary.Categories, cs)
	}
	return summary
}

// Leader returns the party with most valid votes in a category, if any.
// Blank, null and spoiled votes never lead.
func (s Summary) Leader(cat model.Categoria) (PartyCount, bool) {
	for _, cs := range s.Categories {
		if cs.Categoria != cat {
			continue
		}
		for _, pc := range cs.Parties {
			if !nonValid[pc.Partido] {
				return pc, true
			}
		}
	}
	return PartyCount{}, false
}
