package domain

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Institution string `json:"institution,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Team struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	OwnerID   string   `json:"owner_id"`
	Members   []string `json:"members,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type APIToken struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Collection struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	OwnerID      string   `json:"owner_id"`
	Private      bool     `json:"private"`
	Contributors []string `json:"contributors"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

// TaskConfig is the stored per-collection switch for one task type.
type TaskConfig struct {
	Type        TaskType `json:"type"`
	Active      bool     `json:"active"`
	Instruction string   `json:"instruction,omitempty"`
	Title       string   `json:"title"`
}

// TaskStatus pairs the stored config with what the collection can actually serve.
type TaskStatus struct {
	TaskConfig
	Effective bool `json:"effective"`
	Targets   int  `json:"targets"`
}

type TaskBoard struct {
	CollectionID string       `json:"collection_id"`
	Tasks        []TaskStatus `json:"tasks"`
	CanEdit      bool         `json:"can_edit"`
	CanDelete    bool         `json:"can_delete"`
}

type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

type Entity struct {
	ID           string `json:"id"`
	UID          string `json:"uid"`
	MetadataJSON string `json:"metadata_json,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Target struct {
	ID           string       `json:"id"`
	UID          string       `json:"uid"`
	Kind         TargetKind   `json:"kind" enum:"image,text"`
	EntityID     string       `json:"entity_id"`
	Source       TargetSource `json:"source" enum:"file,link"`
	Location     string       `json:"location"`
	Active       bool         `json:"active"`
	MetadataJSON string       `json:"metadata_json,omitempty"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
}

type AnnotationRecord struct {
	ID              string `json:"id"`
	Scope           Scope  `json:"scope"`
	CreatedBy       string `json:"created_by"`
	TargetID        string `json:"target_id"`
	CollectionID    string `json:"collection_id"`
	LabelID         string `json:"label_id"`
	Name            string `json:"name"`
	Label           string `json:"label"`
	CoordinatesJSON string `json:"coordinates_json,omitempty"`
	CreatedAt       string `json:"created_at" format:"date-time"`
	UpdatedAt       string `json:"updated_at" format:"date-time"`
}

type MarkupRecord struct {
	ID           string       `json:"id"`
	Scope        Scope        `json:"scope"`
	CreatedBy    string       `json:"created_by"`
	TargetID     string       `json:"target_id"`
	CollectionID string       `json:"collection_id"`
	Kind         TargetKind   `json:"kind" enum:"image,text"`
	Image        *ImageMarkup `json:"image,omitempty"`
	Text         *TextMarkup  `json:"text,omitempty"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
	UpdatedAt    string       `json:"updated_at" format:"date-time"`
}

type DescriptionRecord struct {
	ID           string `json:"id"`
	Scope        Scope  `json:"scope"`
	CreatedBy    string `json:"created_by"`
	TargetID     string `json:"target_id"`
	CollectionID string `json:"collection_id"`
	Body         string `json:"body"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// Summary is the per-name view of a target: the scope's own labels and how
// many scopes in the collection recorded each name.
type Summary struct {
	Labels map[string]string `json:"labels"`
	Counts map[string]int    `json:"counts"`
}

// Assignment is a selector result. Either side may be nil once candidates run out.
type Assignment struct {
	Current *Target `json:"current,omitempty"`
	Next    *Target `json:"next,omitempty"`
}

type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type"`
	CollectionID string `json:"collection_id,omitempty"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id,omitempty"`
	ActorID      string `json:"actor_id"`
	Payload      string `json:"payload_json"`
}
