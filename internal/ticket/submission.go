package ticket

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Type: анонимное или нет.
type Type string

const (
	TypeAnonymous    Type = "anonymous"
	TypeNonAnonymous Type = "non_anonymous"
)

func (t Type) Anonymous() bool { return t == TypeAnonymous }

func (t Type) Label() string {
	if t.Anonymous() {
		return "Анонимное"
	}
	return "Не анонимное"
}

// DefaultBranch подставляется, если у организации нет филиалов.
const DefaultBranch = "default"

// Selection: выбор юзера по шагам визарда.
type Selection struct {
	TicketType       Type   `json:"ticket_type,omitempty"`
	AuthorEmail      string `json:"author_email,omitempty"`
	OrganizationKey  string `json:"organization_key,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
	Branch           string `json:"branch,omitempty"`
	Classification   string `json:"classification,omitempty"`
}

type Submission struct {
	UserID      int64
	Selection   Selection
	Description string
	Files       []Attachment
	Manifest    Manifest
}

// Manifest: описание обращения в формате issue.json.
type Manifest struct {
	User           string         `json:"user"`
	Type           Type           `json:"type"`
	Company        string         `json:"company"`
	Filial         string         `json:"filial"`
	Classification string         `json:"classification"`
	Text           string         `json:"text"`
	Files          []ManifestFile `json:"files"`
}

type ManifestFile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (m Manifest) JSON() ([]byte, error) {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return raw, nil
}

func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Extension без точки, в нижнем регистре.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
