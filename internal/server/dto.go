package server

import (
	"docfish/internal/domain"
	"docfish/internal/engine"
)

// Request payloads

type CreateCollectionRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private,omitempty"`
}

type SetPrivacyRequest struct {
	Private bool `json:"private"`
}

type SetContributorsRequest struct {
	UserIDs []string `json:"user_ids"`
}

type UpdateTaskRequest struct {
	Active      *bool   `json:"active,omitempty"`
	Instruction *string `json:"instruction,omitempty"`
}

type CreateLabelRequest struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

type LinkLabelRequest struct {
	LabelID string `json:"label_id"`
}

type CreateEntityRequest struct {
	UID          string `json:"uid"`
	MetadataJSON string `json:"metadata_json,omitempty"`
}

type LinkEntityRequest struct {
	EntityID string `json:"entity_id"`
}

type CreateTargetRequest struct {
	UID          string `json:"uid"`
	Kind         string `json:"kind" enum:"image,text"`
	Source       string `json:"source,omitempty" enum:"file,link"`
	Location     string `json:"location"`
	MetadataJSON string `json:"metadata_json,omitempty"`
}

type FlagTargetRequest struct {
	Active bool `json:"active"`
}

type NextRequest struct {
	Task   string `json:"task" enum:"annotation,describe,markup"`
	Kind   string `json:"kind" enum:"image,text"`
	TeamID string `json:"team_id,omitempty"`
	// Pair returns the target after the current one as well; team callers always get it.
	Pair bool   `json:"pair,omitempty"`
	Skip string `json:"skip,omitempty"`
}

type SelectionRequest struct {
	Name            string `json:"name"`
	Label           string `json:"label"`
	CoordinatesJSON string `json:"coordinates_json,omitempty"`
}

type ApplyRequest struct {
	TeamID     string             `json:"team_id,omitempty"`
	Selections []SelectionRequest `json:"selections"`
}

type MarkupRequest struct {
	TeamID string              `json:"team_id,omitempty"`
	Image  *domain.ImageMarkup `json:"image,omitempty"`
	Text   *domain.TextMarkup  `json:"text,omitempty"`
}

type DescriptionRequest struct {
	TeamID string `json:"team_id,omitempty"`
	Body   string `json:"body"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type NextResponse struct {
	Current   *domain.Target `json:"current,omitempty"`
	Next      *domain.Target `json:"next,omitempty"`
	Exhausted bool           `json:"exhausted"`
}

type ApplyResponse struct {
	Items []domain.AnnotationRecord `json:"items"`
}

type ClearResponse struct {
	Cleared bool `json:"cleared"`
}

type VocabularyResponse struct {
	Labels     []domain.Label      `json:"labels"`
	Vocabulary map[string][]string `json:"vocabulary"`
}

type PermissionsResponse struct {
	CollectionID string          `json:"collection_id"`
	Permissions  map[string]bool `json:"permissions"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items}
}

type paginatedEvents struct {
	Items []domain.Event `json:"items"`
}

func nextResponse(a domain.Assignment) NextResponse {
	return NextResponse{Current: a.Current, Next: a.Next, Exhausted: a.Current == nil}
}

func selections(in []SelectionRequest) []engine.Selection {
	out := make([]engine.Selection, 0, len(in))
	for _, s := range in {
		out = append(out, engine.Selection{Name: s.Name, Label: s.Label, CoordinatesJSON: s.CoordinatesJSON})
	}
	return out
}
