package ingest

import "strings"

// Column is a canonical BillingRecord column.
type Column string

const (
	ColFacture             Column = "facture"
	ColIDRamq              Column = "idRamq"
	ColPatient             Column = "patient"
	ColDoctorInfo          Column = "doctorInfo"
	ColDateService         Column = "dateService"
	ColDebut               Column = "debut"
	ColFin                 Column = "fin"
	ColLieuPratique        Column = "lieuPratique"
	ColSecteurActivite     Column = "secteurActivite"
	ColDiagnostic          Column = "diagnostic"
	ColCode                Column = "code"
	ColUnites              Column = "unites"
	ColElementContexte     Column = "elementContexte"
	ColMontantPreliminaire Column = "montantPreliminaire"
	ColMontantPaye         Column = "montantPaye"
)

// headerSynonyms maps a normalized (lowercased, accent-stripped, space-
// collapsed) header string to its canonical column. Quebec exports mix
// French and English headers across clinic software vendors; this table
// is the single place new synonyms get added.
var headerSynonyms = map[string]Column{
	"facture":               ColFacture,
	"no facture":            ColFacture,
	"numero facture":        ColFacture,
	"invoice":               ColFacture,
	"id ramq":               ColIDRamq,
	"idramq":                ColIDRamq,
	"numero ramq":           ColIDRamq,
	"ramq id":               ColIDRamq,
	"patient":               ColPatient,
	"nom patient":           ColPatient,
	"patient name":          ColPatient,
	"medecin":               ColDoctorInfo,
	"docteur":               ColDoctorInfo,
	"doctor":                ColDoctorInfo,
	"doctor info":           ColDoctorInfo,
	"info medecin":          ColDoctorInfo,
	"date de service":       ColDateService,
	"date service":          ColDateService,
	"service date":          ColDateService,
	"date":                  ColDateService,
	"debut":                 ColDebut,
	"heure debut":           ColDebut,
	"start":                 ColDebut,
	"start time":            ColDebut,
	"fin":                   ColFin,
	"heure fin":             ColFin,
	"end":                   ColFin,
	"end time":              ColFin,
	"lieu pratique":         ColLieuPratique,
	"lieu de pratique":      ColLieuPratique,
	"etablissement":         ColLieuPratique,
	"practice location":     ColLieuPratique,
	"secteur activite":      ColSecteurActivite,
	"secteur d activite":    ColSecteurActivite,
	"activity sector":       ColSecteurActivite,
	"diagnostic":            ColDiagnostic,
	"diagnosis":             ColDiagnostic,
	"code":                  ColCode,
	"code facturation":      ColCode,
	"billing code":          ColCode,
	"unites":                ColUnites,
	"unites facturees":      ColUnites,
	"units":                 ColUnites,
	"element de contexte":   ColElementContexte,
	"element contexte":      ColElementContexte,
	"contexte":              ColElementContexte,
	"context element":       ColElementContexte,
	"montant preliminaire":  ColMontantPreliminaire,
	"montant prelim":        ColMontantPreliminaire,
	"preliminary amount":    ColMontantPreliminaire,
	"montant paye":          ColMontantPaye,
	"montant paye rama":     ColMontantPaye,
	"paid amount":           ColMontantPaye,
	"amount paid":           ColMontantPaye,
}

// normalizeHeader lowercases, strips accents, and collapses internal
// punctuation/whitespace so vendor header variations map onto the same
// synonym-table key.
func normalizeHeader(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = stripAccents(s)
	replacer := strings.NewReplacer("'", " ", "-", " ", "_", " ", ".", " ", ":", " ")
	s = replacer.Replace(s)
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

var accentTable = map[rune]rune{
	'à': 'a', 'â': 'a', 'ä': 'a', 'á': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'î': 'i', 'ï': 'i',
	'ô': 'o', 'ö': 'o',
	'ù': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c',
}

func stripAccents(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if repl, ok := accentTable[r]; ok {
			out = append(out, repl)
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}

// ResolveHeaders maps raw CSV header cells to canonical columns. Headers
// with no known synonym are returned in unknown, preserved verbatim so
// their values can be captured into BillingRecord.CustomFields.
func ResolveHeaders(rawHeaders []string) (columnIndex map[Column]int, unknown map[string]int) {
	columnIndex = map[Column]int{}
	unknown = map[string]int{}
	for i, raw := range rawHeaders {
		norm := normalizeHeader(raw)
		if col, ok := headerSynonyms[norm]; ok {
			columnIndex[col] = i
		} else {
			unknown[raw] = i
		}
	}
	return columnIndex, unknown
}
