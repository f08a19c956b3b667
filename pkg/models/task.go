package models

import "fmt"

// Task represents one unit of work observed on the portal's task list.
//
// The JSON field names mirror the portal's own column names so a scraped
// batch can be fed to the engine without renaming. ID and
// LastNotifiedTimestamp are system attributes: ID is derived once from
// scraped fields and must be treated as opaque; LastNotifiedTimestamp is
// set by the reconciler at first notification and preserved on every
// subsequent observation.
type Task struct {
	ID                    string   `json:"id"`
	Numero                string   `json:"numero"`
	Titulo                string   `json:"titulo"`
	Link                  string   `json:"link,omitempty"`
	DataEnvio             string   `json:"dataEnvio,omitempty"`
	Posicao               string   `json:"posicao,omitempty"`
	Solicitante           string   `json:"solicitante,omitempty"`
	Unidade               string   `json:"unidade,omitempty"`
	Descricao             string   `json:"descricao,omitempty"`
	Enderecos             []string `json:"enderecos,omitempty"`
	LastNotifiedTimestamp int64    `json:"lastNotifiedTimestamp,omitempty"`
}

// TaskID derives the stable task identity from the two scraped fields
// that together are unique on the portal. Re-scrapes of the same task
// always produce the same id.
func TaskID(numero, dataEnvio string) string {
	return fmt.Sprintf("%s-%s", numero, dataEnvio)
}

// WithID returns a copy of t with its ID derived from Numero and
// DataEnvio if the scraper did not set one.
func (t Task) WithID() Task {
	if t.ID == "" {
		t.ID = TaskID(t.Numero, t.DataEnvio)
	}
	return t
}
