package domain

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type TargetKind string

const (
	TargetImage TargetKind = "image"
	TargetText  TargetKind = "text"
)

var TargetKinds = []TargetKind{TargetImage, TargetText}

func ParseTargetKind(s string) (TargetKind, error) {
	switch k := TargetKind(strings.ToLower(strings.TrimSpace(s))); k {
	case TargetImage, TargetText:
		return k, nil
	}
	return "", errors.Wrapf(ErrBadParameter, "unknown target kind %q", s)
}

type TargetSource string

const (
	SourceFile TargetSource = "file"
	SourceLink TargetSource = "link"
)

func ParseTargetSource(s string) (TargetSource, error) {
	switch src := TargetSource(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceFile, SourceLink:
		return src, nil
	case "":
		return SourceFile, nil
	}
	return "", errors.Wrapf(ErrBadParameter, "unknown target source %q", s)
}

// TaskKind is the kind of work produced for a target; each kind has its own store.
type TaskKind string

const (
	TaskAnnotation TaskKind = "annotation"
	TaskDescribe   TaskKind = "describe"
	TaskMarkup     TaskKind = "markup"
)

func ParseTaskKind(s string) (TaskKind, error) {
	switch k := TaskKind(strings.ToLower(strings.TrimSpace(s))); k {
	case TaskAnnotation, TaskDescribe, TaskMarkup:
		return k, nil
	case "annotate":
		return TaskAnnotation, nil
	}
	return "", errors.Wrapf(ErrBadParameter, "unknown task kind %q", s)
}

// TaskType names a task over a target kind, e.g. image_annotation.
type TaskType string

func NewTaskType(target TargetKind, task TaskKind) TaskType {
	return TaskType(string(target) + "_" + string(task))
}

// TaskTypes lists every task type in display order.
var TaskTypes = []TaskType{
	NewTaskType(TargetText, TaskAnnotation),
	NewTaskType(TargetText, TaskDescribe),
	NewTaskType(TargetText, TaskMarkup),
	NewTaskType(TargetImage, TaskAnnotation),
	NewTaskType(TargetImage, TaskDescribe),
	NewTaskType(TargetImage, TaskMarkup),
}

func ParseTaskType(s string) (TaskType, error) {
	target, task, ok := strings.Cut(strings.TrimSpace(s), "_")
	if !ok {
		return "", errors.Wrapf(ErrBadParameter, "unknown task type %q", s)
	}
	tk, err := ParseTargetKind(target)
	if err != nil {
		return "", err
	}
	kk, err := ParseTaskKind(task)
	if err != nil {
		return "", err
	}
	return NewTaskType(tk, kk), nil
}

func (t TaskType) Target() TargetKind {
	target, _, _ := strings.Cut(string(t), "_")
	return TargetKind(target)
}

func (t TaskType) Task() TaskKind {
	_, task, _ := strings.Cut(string(t), "_")
	return TaskKind(task)
}

// NeedsVocabulary reports whether the task type can only run with labels.
func (t TaskType) NeedsVocabulary() bool {
	return t.Task() == TaskAnnotation
}

type ScopeKind string

const (
	ScopeUser ScopeKind = "user"
	ScopeTeam ScopeKind = "team"
)

// Scope is the owner key of every record: a user, or a team acting as one.
type Scope struct {
	Kind ScopeKind `json:"kind" enum:"user,team"`
	ID   string    `json:"id"`
}

func (s Scope) String() string {
	return string(s.Kind) + ":" + s.ID
}

// ParseScope reads the "user:<id>" or "team:<id>" form. Blank input gives nil.
func ParseScope(raw string) (*Scope, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	kind, id, ok := strings.Cut(raw, ":")
	if !ok || id == "" {
		return nil, errors.Wrapf(ErrBadParameter, "invalid scope %q", raw)
	}
	switch k := ScopeKind(kind); k {
	case ScopeUser, ScopeTeam:
		return &Scope{Kind: k, ID: id}, nil
	}
	return nil, errors.Wrapf(ErrBadParameter, "invalid scope kind %q", kind)
}

// Actor is the acting user, optionally working on behalf of a team.
type Actor struct {
	UserID string `json:"user_id"`
	TeamID string `json:"team_id,omitempty"`
}

func Individual(userID string) Actor {
	return Actor{UserID: userID}
}

func TeamActor(userID, teamID string) Actor {
	return Actor{UserID: userID, TeamID: teamID}
}

func (a Actor) IsTeam() bool {
	return a.TeamID != ""
}

func (a Actor) Scope() Scope {
	if a.IsTeam() {
		return Scope{Kind: ScopeTeam, ID: a.TeamID}
	}
	return Scope{Kind: ScopeUser, ID: a.UserID}
}

// ImageMarkup addresses blobs by path only.
type ImageMarkup struct {
	OverlayPath   string `json:"overlay_path,omitempty"`
	BasePath      string `json:"base_path,omitempty"`
	TransformJSON string `json:"transform_json,omitempty"`
}

type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

const DefaultDelimiter = `\w`

type TextMarkup struct {
	Delimiter string `json:"delimiter,omitempty"`
	Text      string `json:"text,omitempty"`
	Spans     []Span `json:"spans"`
}

// MarkupPayload carries exactly one of Image or Text.
type MarkupPayload struct {
	Image *ImageMarkup `json:"image,omitempty"`
	Text  *TextMarkup  `json:"text,omitempty"`
}

func (p MarkupPayload) Kind() (TargetKind, error) {
	switch {
	case p.Image != nil && p.Text != nil:
		return "", errors.Wrap(ErrBadParameter, "markup payload must be image or text, not both")
	case p.Image != nil:
		return TargetImage, nil
	case p.Text != nil:
		return TargetText, nil
	}
	return "", errors.Wrap(ErrBadParameter, "markup payload is empty")
}
