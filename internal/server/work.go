package server

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/danielgtaylor/huma/v2"

	"docfish/internal/domain"
	"docfish/internal/engine"
)

type targetPath struct {
	CollectionID string `path:"collection_id"`
	TargetID     string `path:"target_id"`
	TeamID       string `query:"team_id"`
}

type recordQuery struct {
	CollectionID string `path:"collection_id"`
	TargetID     string `query:"target_id"`
	Scope        string `query:"scope" doc:"user:<id> or team:<id>"`
}

func registerSelector(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "next-target",
		Method:      http.MethodPost,
		Path:        "/collections/{collection_id}/next",
		Summary:     "Assign the next target without a record from the caller's scope",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CollectionID string      `path:"collection_id"`
		Body         NextRequest `json:"body"`
	}) (*struct {
		Body NextResponse `json:"body"`
	}, error) {
		actor, err := actorFor(ctx, e, input.Body.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		req := engine.SelectRequest{
			Actor:        actor,
			CollectionID: input.CollectionID,
			Task:         domain.TaskKind(input.Body.Task),
			Kind:         domain.TargetKind(input.Body.Kind),
			Skip:         input.Body.Skip,
		}
		var resp NextResponse
		if actor.IsTeam() || input.Body.Pair {
			a, err := e.SelectPair(ctx, req)
			if err != nil {
				return nil, handleError(err)
			}
			resp = nextResponse(a)
		} else {
			t, err := e.SelectNext(ctx, req)
			if err != nil {
				return nil, handleError(err)
			}
			resp = nextResponse(domain.Assignment{Current: t})
		}
		return &struct {
			Body NextResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAnnotations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "apply-annotations",
		Method:      http.MethodPost,
		Path:        "/collections/{collection_id}/targets/{target_id}/annotations",
		Summary:     "Record labels for a target",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CollectionID string       `path:"collection_id"`
		TargetID     string       `path:"target_id"`
		Body         ApplyRequest `json:"body"`
	}) (*struct {
		Body ApplyResponse `json:"body"`
	}, error) {
		actor, err := actorFor(ctx, e, input.Body.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		if len(input.Body.Selections) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "selections are required", nil)
		}
		recs, err := e.ApplyMany(ctx, actor, input.CollectionID, input.TargetID, selections(input.Body.Selections))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplyResponse `json:"body"`
		}{Body: ApplyResponse{Items: recs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "summarize-annotations",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/targets/{target_id}/annotations",
		Summary:     "Caller's labels and per-name counts for a target",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *targetPath) (*struct {
		Body domain.Summary `json:"body"`
	}, error) {
		actor, err := actorFor(ctx, e, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		sum, err := e.Summarize(ctx, actor, input.CollectionID, input.TargetID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Summary `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-annotations",
		Method:      http.MethodDelete,
		Path:        "/collections/{collection_id}/targets/{target_id}/annotations",
		Summary:     "Remove the caller's annotations for a target",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *targetPath) (*struct {
		Body ClearResponse `json:"body"`
	}, error) {
		actor, err := actorFor(ctx, e, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		ok, err := e.Clear(ctx, actor, input.CollectionID, input.TargetID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClearResponse `json:"body"`
		}{Body: ClearResponse{Cleared: ok}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-annotations",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/annotations",
		Summary:     "List annotation records",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *recordQuery) (*struct {
		Body listResponse[domain.AnnotationRecord] `json:"body"`
	}, error) {
		scope, err := domain.ParseScope(input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListAnnotations(ctx, viewerID(ctx), input.CollectionID, input.TargetID, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.AnnotationRecord] `json:"body"`
		}{Body: newList(items)}, nil
	})
}

func registerStores(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "put-markup",
		Method:      http.MethodPut,
		Path:        "/collections/{collection_id}/targets/{target_id}/markup",
		Summary:     "Save the caller's markup for a target",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string        `path:"collection_id"`
		TargetID     string        `path:"target_id"`
		Body         MarkupRequest `json:"body"`
	}) (*struct {
		Body domain.MarkupRecord `json:"body"`
	}, error) {
		actor, err := actorFor(ctx, e, input.Body.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := e.UpsertMarkup(ctx, actor, input.CollectionID, input.TargetID, domain.MarkupPayload{
			Image: input.Body.Image,
			Text:  input.Body.Text,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MarkupRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-markup",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/targets/{target_id}/markup",
		Summary:     "The caller's markup for a target",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *targetPath) (*struct {
		Body domain.MarkupRecord `json:"body"`
	}, error) {
		actor, err := actorFor(ctx, e, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := e.GetMarkup(ctx, actor, input.CollectionID, input.TargetID)
		if err != nil {
			return nil, handleError(err)
		}
		if rec == nil {
			return nil, handleError(errors.Wrapf(domain.ErrNotFound, "markup for target %s", input.TargetID))
		}
		return &struct {
			Body domain.MarkupRecord `json:"body"`
		}{Body: *rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-description",
		Method:      http.MethodPut,
		Path:        "/collections/{collection_id}/targets/{target_id}/description",
		Summary:     "Save the caller's description for a target",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string             `path:"collection_id"`
		TargetID     string             `path:"target_id"`
		Body         DescriptionRequest `json:"body"`
	}) (*struct {
		Body domain.DescriptionRecord `json:"body"`
	}, error) {
		actor, err := actorFor(ctx, e, input.Body.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := e.UpsertDescription(ctx, actor, input.CollectionID, input.TargetID, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DescriptionRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-description",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/targets/{target_id}/description",
		Summary:     "The caller's description for a target",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *targetPath) (*struct {
		Body domain.DescriptionRecord `json:"body"`
	}, error) {
		actor, err := actorFor(ctx, e, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := e.GetDescription(ctx, actor, input.CollectionID, input.TargetID)
		if err != nil {
			return nil, handleError(err)
		}
		if rec == nil {
			return nil, handleError(errors.Wrapf(domain.ErrNotFound, "description for target %s", input.TargetID))
		}
		return &struct {
			Body domain.DescriptionRecord `json:"body"`
		}{Body: *rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-markups",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/markups",
		Summary:     "List markup records",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *recordQuery) (*struct {
		Body listResponse[domain.MarkupRecord] `json:"body"`
	}, error) {
		scope, err := domain.ParseScope(input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListMarkups(ctx, viewerID(ctx), input.CollectionID, input.TargetID, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.MarkupRecord] `json:"body"`
		}{Body: newList(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-descriptions",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/descriptions",
		Summary:     "List description records",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *recordQuery) (*struct {
		Body listResponse[domain.DescriptionRecord] `json:"body"`
	}, error) {
		scope, err := domain.ParseScope(input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListDescriptions(ctx, viewerID(ctx), input.CollectionID, input.TargetID, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.DescriptionRecord] `json:"body"`
		}{Body: newList(items)}, nil
	})
}
