package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"docfish/internal/domain"
	"docfish/internal/engine"
)

type collectionPath struct {
	CollectionID string `path:"collection_id"`
}

func registerCollections(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-collection",
		Method:        http.MethodPost,
		Path:          "/collections",
		Summary:       "Create collection",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCollectionRequest `json:"body"`
	}) (*struct {
		Body domain.Collection `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCollection(ctx, userID, engine.CollectionOptions{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Private:     input.Body.Private,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Collection `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-collections",
		Method:      http.MethodGet,
		Path:        "/collections",
		Summary:     "List visible collections",
	}, func(ctx context.Context, input *struct {
		OwnerID string `query:"owner_id"`
	}) (*struct {
		Body listResponse[domain.Collection] `json:"body"`
	}, error) {
		items, err := e.ListCollections(ctx, viewerID(ctx), input.OwnerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Collection] `json:"body"`
		}{Body: newList(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-collection",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}",
		Summary:     "Get collection",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *collectionPath) (*struct {
		Body domain.Collection `json:"body"`
	}, error) {
		c, err := e.GetCollection(ctx, viewerID(ctx), input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Collection `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-collection",
		Method:      http.MethodDelete,
		Path:        "/collections/{collection_id}",
		Summary:     "Delete collection and all its records",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *collectionPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteCollection(ctx, userID, input.CollectionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-collection-privacy",
		Method:      http.MethodPut,
		Path:        "/collections/{collection_id}/privacy",
		Summary:     "Make a collection private or public",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string            `path:"collection_id"`
		Body         SetPrivacyRequest `json:"body"`
	}) (*struct {
		Body domain.Collection `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SetPrivacy(ctx, userID, input.CollectionID, input.Body.Private)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Collection `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-contributors",
		Method:      http.MethodPut,
		Path:        "/collections/{collection_id}/contributors",
		Summary:     "Replace the contributor list",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string                 `path:"collection_id"`
		Body         SetContributorsRequest `json:"body"`
	}) (*struct {
		Body domain.Collection `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SetContributors(ctx, userID, input.CollectionID, input.Body.UserIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Collection `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-permissions",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/permissions",
		Summary:     "What the caller may do with a collection",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		TeamID       string `query:"team_id"`
	}) (*struct {
		Body PermissionsResponse `json:"body"`
	}, error) {
		actor := domain.Individual(viewerID(ctx))
		if input.TeamID != "" {
			var err error
			if actor, err = actorFor(ctx, e, input.TeamID); err != nil {
				return nil, handleError(err)
			}
		}
		perms, err := e.Permissions(ctx, actor, input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PermissionsResponse `json:"body"`
		}{Body: PermissionsResponse{CollectionID: input.CollectionID, Permissions: perms}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-permission-index",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/permission-index",
		Summary:     "Stored grants per user",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *collectionPath) (*struct {
		Body map[string][]string `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		idx, err := e.PermissionIndex(ctx, userID, input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string][]string `json:"body"`
		}{Body: idx}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task-board",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/tasks",
		Summary:     "Task types with their effective status",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *collectionPath) (*struct {
		Body domain.TaskBoard `json:"body"`
	}, error) {
		board, err := e.TaskBoard(ctx, viewerID(ctx), input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskBoard `json:"body"`
		}{Body: board}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/collections/{collection_id}/tasks/{task_type}",
		Summary:     "Activate, deactivate or reword a task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string            `path:"collection_id"`
		TaskType     string            `path:"task_type"`
		Body         UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.TaskStatus `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tt, err := domain.ParseTaskType(input.TaskType)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Active == nil && input.Body.Instruction == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "active or instruction is required", nil)
		}
		var status domain.TaskStatus
		if input.Body.Instruction != nil {
			if status, err = e.SetTaskInstruction(ctx, userID, input.CollectionID, tt, *input.Body.Instruction); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Active != nil {
			if status, err = e.SetTaskActive(ctx, userID, input.CollectionID, tt, *input.Body.Active); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body domain.TaskStatus `json:"body"`
		}{Body: status}, nil
	})
}

func registerLabels(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-label",
		Method:        http.MethodPost,
		Path:          "/labels",
		Summary:       "Create a catalog label",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateLabelRequest `json:"body"`
	}) (*struct {
		Body domain.Label `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		l, err := e.CreateLabel(ctx, input.Body.Name, input.Body.Label)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Label `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-labels",
		Method:      http.MethodGet,
		Path:        "/labels",
		Summary:     "List the label catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body listResponse[domain.Label] `json:"body"`
	}, error) {
		items, err := e.ListLabels(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Label] `json:"body"`
		}{Body: newList(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-vocabulary",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/labels",
		Summary:     "Collection vocabulary",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *collectionPath) (*struct {
		Body VocabularyResponse `json:"body"`
	}, error) {
		labels, err := e.CollectionLabels(ctx, viewerID(ctx), input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		vocab, err := e.Vocabulary(ctx, viewerID(ctx), input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		if labels == nil {
			labels = []domain.Label{}
		}
		return &struct {
			Body VocabularyResponse `json:"body"`
		}{Body: VocabularyResponse{Labels: labels, Vocabulary: vocab}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-collection-label",
		Method:      http.MethodPost,
		Path:        "/collections/{collection_id}/labels",
		Summary:     "Add a catalog label to the vocabulary",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string           `path:"collection_id"`
		Body         LinkLabelRequest `json:"body"`
	}) (*struct {
		Body domain.Label `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.AddLabel(ctx, userID, input.CollectionID, input.Body.LabelID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Label `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-collection-label",
		Method:      http.MethodDelete,
		Path:        "/collections/{collection_id}/labels/{label_id}",
		Summary:     "Remove a label from the vocabulary",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		LabelID      string `path:"label_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveLabel(ctx, userID, input.CollectionID, input.LabelID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEntities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-entity",
		Method:        http.MethodPost,
		Path:          "/entities",
		Summary:       "Register an entity",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateEntityRequest `json:"body"`
	}) (*struct {
		Body domain.Entity `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ent, err := e.CreateEntity(ctx, userID, input.Body.UID, input.Body.MetadataJSON)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Entity `json:"body"`
		}{Body: ent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-target",
		Method:        http.MethodPost,
		Path:          "/entities/{entity_id}/targets",
		Summary:       "Attach an image or text to an entity",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		EntityID string              `path:"entity_id"`
		Body     CreateTargetRequest `json:"body"`
	}) (*struct {
		Body domain.Target `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AddTarget(ctx, userID, engine.TargetOptions{
			EntityID:     input.EntityID,
			UID:          input.Body.UID,
			Kind:         domain.TargetKind(input.Body.Kind),
			Source:       domain.TargetSource(input.Body.Source),
			Location:     input.Body.Location,
			MetadataJSON: input.Body.MetadataJSON,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Target `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-collection-entities",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/entities",
		Summary:     "List entities in a collection",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *collectionPath) (*struct {
		Body listResponse[domain.Entity] `json:"body"`
	}, error) {
		items, err := e.ListEntities(ctx, viewerID(ctx), input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Entity] `json:"body"`
		}{Body: newList(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-collection-entity",
		Method:      http.MethodPost,
		Path:        "/collections/{collection_id}/entities",
		Summary:     "Include an entity and its targets in a collection",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string            `path:"collection_id"`
		Body         LinkEntityRequest `json:"body"`
	}) (*struct {
		Body domain.Entity `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ent, err := e.AddEntity(ctx, userID, input.CollectionID, input.Body.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Entity `json:"body"`
		}{Body: ent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-collection-targets",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/targets",
		Summary:     "List targets in a collection",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		Kind         string `query:"kind" enum:"image,text"`
	}) (*struct {
		Body listResponse[domain.Target] `json:"body"`
	}, error) {
		items, err := e.ListTargets(ctx, viewerID(ctx), input.CollectionID, domain.TargetKind(input.Kind))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Target] `json:"body"`
		}{Body: newList(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "flag-target",
		Method:      http.MethodPut,
		Path:        "/collections/{collection_id}/targets/{target_id}/active",
		Summary:     "Offer or withhold a target",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string            `path:"collection_id"`
		TargetID     string            `path:"target_id"`
		Body         FlagTargetRequest `json:"body"`
	}) (*struct {
		Body domain.Target `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.FlagTarget(ctx, userID, input.CollectionID, input.TargetID, input.Body.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Target `json:"body"`
		}{Body: t}, nil
	})
}
