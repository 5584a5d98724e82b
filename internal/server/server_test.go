package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docfish/internal/app"
	"docfish/internal/domain"
	"docfish/internal/engine"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client

	OwnerKey, AliceKey, BobKey string
	Owner, Alice, Bob          domain.User
	Team                       domain.Team
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ws, err := app.OpenWorkspace(t.TempDir())
	require.NoError(t, err, "open workspace")
	registry := prometheus.NewRegistry()
	e, err := ws.Engine(nil, registry)
	require.NoError(t, err, "engine")

	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret, DevLogin: true}})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		ws.Close()
	})

	ts := &testServer{URL: "http://" + ln.Addr().String() + "/v1", Engine: e, client: &http.Client{}}
	ctx := context.Background()
	ts.Owner, ts.OwnerKey = mustUserWithToken(t, e, "owner", "stanford")
	ts.Alice, ts.AliceKey = mustUserWithToken(t, e, "alice", "mit")
	ts.Bob, ts.BobKey = mustUserWithToken(t, e, "bob", "")
	ts.Team, err = e.CreateTeam(ctx, ts.Alice.ID, "radiology")
	require.NoError(t, err)
	_, err = e.AddTeamMember(ctx, ts.Alice.ID, ts.Team.ID, ts.Bob.ID)
	require.NoError(t, err)
	return ts
}

func mustUserWithToken(t *testing.T, e engine.Engine, name, institution string) (domain.User, string) {
	t.Helper()
	u, err := e.CreateUser(context.Background(), name, institution)
	require.NoError(t, err)
	plain, _, err := e.CreateAPIToken(context.Background(), u.ID, "test")
	require.NoError(t, err)
	return u, plain
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err, "marshal body")
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err, "new request")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err, "do request")
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err, "read body")
	return res, data
}

// call sends an authenticated request and decodes the response into out when given.
func (s *testServer) call(t *testing.T, key, method, route string, body any, wantStatus int, out any) []byte {
	t.Helper()
	var headers map[string]string
	if key != "" {
		headers = map[string]string{"X-Api-Key": key}
	}
	res, data := doJSON(t, s.client, method, s.URL+route, body, headers)
	require.Equal(t, wantStatus, res.StatusCode, "%s %s: %s", method, route, string(data))
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
	return data
}

func errorCode(t *testing.T, data []byte) (string, map[string]any) {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code, env.Error.Details
}

// seedCollection builds collection x over the API: two image targets, the
// vocabulary {finding:normal, finding:abnormal} and image annotation switched on.
func (s *testServer) seedCollection(t *testing.T, private bool) (i1, i2 domain.Target) {
	t.Helper()
	var c domain.Collection
	s.call(t, s.OwnerKey, http.MethodPost, "/collections", CreateCollectionRequest{ID: "x", Name: "Collection X", Private: private}, http.StatusCreated, &c)
	require.Equal(t, s.Owner.ID, c.OwnerID)

	var ent domain.Entity
	s.call(t, s.OwnerKey, http.MethodPost, "/entities", CreateEntityRequest{UID: "case-1"}, http.StatusCreated, &ent)
	s.call(t, s.OwnerKey, http.MethodPost, "/collections/x/entities", LinkEntityRequest{EntityID: ent.ID}, http.StatusOK, nil)
	s.call(t, s.OwnerKey, http.MethodPost, "/entities/"+ent.ID+"/targets", CreateTargetRequest{UID: "i1", Kind: "image", Location: "data/i1.png"}, http.StatusCreated, &i1)
	s.call(t, s.OwnerKey, http.MethodPost, "/entities/"+ent.ID+"/targets", CreateTargetRequest{UID: "i2", Kind: "image", Location: "data/i2.png"}, http.StatusCreated, &i2)

	for _, label := range []string{"normal", "abnormal"} {
		var l domain.Label
		s.call(t, s.OwnerKey, http.MethodPost, "/labels", CreateLabelRequest{Name: "finding", Label: label}, http.StatusCreated, &l)
		s.call(t, s.OwnerKey, http.MethodPost, "/collections/x/labels", LinkLabelRequest{LabelID: l.ID}, http.StatusOK, nil)
	}
	active := true
	var status domain.TaskStatus
	s.call(t, s.OwnerKey, http.MethodPatch, "/collections/x/tasks/image_annotation", UpdateTaskRequest{Active: &active}, http.StatusOK, &status)
	require.True(t, status.Effective)
	return i1, i2
}

func nextImage(teamID string) NextRequest {
	return NextRequest{Task: "annotation", Kind: "image", TeamID: teamID}
}

func TestHealthAndAnonymousAccess(t *testing.T) {
	s := newTestServer(t)
	s.call(t, "", http.MethodGet, "/health", nil, http.StatusOK, nil)

	s.seedCollection(t, false)
	var list listResponse[domain.Collection]
	s.call(t, "", http.MethodGet, "/collections", nil, http.StatusOK, &list)
	require.Len(t, list.Items, 1)

	var targets listResponse[domain.Target]
	s.call(t, "", http.MethodGet, "/collections/x/targets", nil, http.StatusOK, &targets)
	assert.Len(t, targets.Items, 2)

	data := s.call(t, "", http.MethodPost, "/collections/x/next", nextImage(""), http.StatusUnauthorized, nil)
	code, _ := errorCode(t, data)
	assert.Equal(t, "unauthorized", code)

	res, _ := doJSON(t, s.client, http.MethodGet, s.URL+"/collections", nil, map[string]string{"X-Api-Key": "dft_bogus"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestAnnotationRoundTrip(t *testing.T) {
	s := newTestServer(t)
	i1, i2 := s.seedCollection(t, false)

	var next NextResponse
	s.call(t, s.AliceKey, http.MethodPost, "/collections/x/next", nextImage(""), http.StatusOK, &next)
	require.NotNil(t, next.Current)
	assert.Equal(t, i1.ID, next.Current.ID)
	assert.Nil(t, next.Next)

	var applied ApplyResponse
	s.call(t, s.AliceKey, http.MethodPost, "/collections/x/targets/"+i1.ID+"/annotations", ApplyRequest{
		Selections: []SelectionRequest{{Name: "finding", Label: "abnormal"}},
	}, http.StatusOK, &applied)
	require.Len(t, applied.Items, 1)
	assert.Equal(t, domain.Scope{Kind: domain.ScopeUser, ID: s.Alice.ID}, applied.Items[0].Scope)

	s.call(t, s.AliceKey, http.MethodPost, "/collections/x/next", nextImage(""), http.StatusOK, &next)
	require.NotNil(t, next.Current)
	assert.Equal(t, i2.ID, next.Current.ID)

	s.call(t, s.BobKey, http.MethodPost, "/collections/x/targets/"+i1.ID+"/annotations", ApplyRequest{
		Selections: []SelectionRequest{{Name: "finding", Label: "normal"}},
	}, http.StatusOK, nil)

	var sum domain.Summary
	s.call(t, s.AliceKey, http.MethodGet, "/collections/x/targets/"+i1.ID+"/annotations", nil, http.StatusOK, &sum)
	assert.Equal(t, map[string]string{"finding": "abnormal"}, sum.Labels)
	assert.Equal(t, map[string]int{"finding": 2}, sum.Counts)

	var cleared ClearResponse
	s.call(t, s.AliceKey, http.MethodDelete, "/collections/x/targets/"+i1.ID+"/annotations", nil, http.StatusOK, &cleared)
	assert.True(t, cleared.Cleared)

	s.call(t, s.AliceKey, http.MethodPost, "/collections/x/next", nextImage(""), http.StatusOK, &next)
	require.NotNil(t, next.Current)
	assert.Equal(t, i1.ID, next.Current.ID, "cleared target is offered again")

	var records listResponse[domain.AnnotationRecord]
	s.call(t, "", http.MethodGet, "/collections/x/annotations?target_id="+i1.ID, nil, http.StatusOK, &records)
	require.Len(t, records.Items, 1)
	assert.Equal(t, s.Bob.ID, records.Items[0].CreatedBy)
}

func TestApplyRejections(t *testing.T) {
	s := newTestServer(t)
	i1, _ := s.seedCollection(t, false)
	route := "/collections/x/targets/" + i1.ID + "/annotations"

	data := s.call(t, s.AliceKey, http.MethodPost, route, ApplyRequest{
		Selections: []SelectionRequest{{Name: "finding", Label: "unknown"}},
	}, http.StatusUnprocessableEntity, nil)
	code, _ := errorCode(t, data)
	assert.Equal(t, "invalid_label", code)

	data = s.call(t, s.AliceKey, http.MethodPost, "/collections/x/targets/missing/annotations", ApplyRequest{
		Selections: []SelectionRequest{{Name: "finding", Label: "normal"}},
	}, http.StatusNotFound, nil)
	code, _ = errorCode(t, data)
	assert.Equal(t, "not_found", code)

	s.call(t, s.AliceKey, http.MethodPost, route, ApplyRequest{}, http.StatusBadRequest, nil)

	var sum domain.Summary
	s.call(t, s.AliceKey, http.MethodGet, route, nil, http.StatusOK, &sum)
	assert.Empty(t, sum.Labels)
}

func TestPrivateCollectionForbidden(t *testing.T) {
	s := newTestServer(t)
	s.seedCollection(t, true)

	data := s.call(t, s.BobKey, http.MethodGet, "/collections/x", nil, http.StatusForbidden, nil)
	code, details := errorCode(t, data)
	assert.Equal(t, "forbidden", code)
	assert.Equal(t, "view", details["permission"])

	data = s.call(t, s.BobKey, http.MethodPost, "/collections/x/next", nextImage(""), http.StatusForbidden, nil)
	_, details = errorCode(t, data)
	assert.Equal(t, "annotate", details["permission"])

	s.call(t, "", http.MethodGet, "/collections/x/targets", nil, http.StatusForbidden, nil)

	var c domain.Collection
	s.call(t, s.OwnerKey, http.MethodPut, "/collections/x/contributors", SetContributorsRequest{UserIDs: []string{s.Bob.ID}}, http.StatusOK, &c)
	assert.Equal(t, []string{s.Bob.ID}, c.Contributors)

	var next NextResponse
	s.call(t, s.BobKey, http.MethodPost, "/collections/x/next", nextImage(""), http.StatusOK, &next)
	assert.NotNil(t, next.Current)

	var perms PermissionsResponse
	s.call(t, s.BobKey, http.MethodGet, "/collections/x/permissions", nil, http.StatusOK, &perms)
	assert.True(t, perms.Permissions["edit"])
	assert.False(t, perms.Permissions["delete"])
}

func TestTeamSelectionReturnsPair(t *testing.T) {
	s := newTestServer(t)
	i1, i2 := s.seedCollection(t, false)

	var alice, bob NextResponse
	s.call(t, s.AliceKey, http.MethodPost, "/collections/x/next", nextImage(s.Team.ID), http.StatusOK, &alice)
	s.call(t, s.BobKey, http.MethodPost, "/collections/x/next", nextImage("radiology"), http.StatusOK, &bob)
	require.NotNil(t, alice.Current)
	require.NotNil(t, alice.Next)
	assert.Equal(t, i1.ID, alice.Current.ID)
	assert.Equal(t, i2.ID, alice.Next.ID)
	assert.Equal(t, alice, bob)

	s.call(t, s.BobKey, http.MethodPost, "/collections/x/targets/"+i1.ID+"/annotations", ApplyRequest{
		TeamID:     s.Team.ID,
		Selections: []SelectionRequest{{Name: "finding", Label: "normal"}},
	}, http.StatusOK, nil)

	var sum domain.Summary
	s.call(t, s.AliceKey, http.MethodGet, "/collections/x/targets/"+i1.ID+"/annotations?team_id="+s.Team.ID, nil, http.StatusOK, &sum)
	assert.Equal(t, "normal", sum.Labels["finding"])

	s.call(t, s.OwnerKey, http.MethodPost, "/collections/x/next", nextImage(s.Team.ID), http.StatusForbidden, nil)
}

func TestInactiveTaskConflict(t *testing.T) {
	s := newTestServer(t)
	s.seedCollection(t, false)

	data := s.call(t, s.AliceKey, http.MethodPost, "/collections/x/next", NextRequest{Task: "annotation", Kind: "text"}, http.StatusConflict, nil)
	code, _ := errorCode(t, data)
	assert.Equal(t, "task_inactive", code)

	var board domain.TaskBoard
	s.call(t, "", http.MethodGet, "/collections/x/tasks", nil, http.StatusOK, &board)
	assert.Len(t, board.Tasks, len(domain.TaskTypes))
	assert.False(t, board.CanEdit)
}

func TestMarkupAndDescription(t *testing.T) {
	s := newTestServer(t)
	i1, _ := s.seedCollection(t, false)
	base := "/collections/x/targets/" + i1.ID

	s.call(t, s.AliceKey, http.MethodGet, base+"/markup", nil, http.StatusNotFound, nil)

	var rec domain.MarkupRecord
	s.call(t, s.AliceKey, http.MethodPut, base+"/markup", MarkupRequest{
		Image: &domain.ImageMarkup{OverlayPath: "overlays/i1.png", BasePath: "bases/i1.png"},
	}, http.StatusOK, &rec)
	require.NotNil(t, rec.Image)
	assert.Equal(t, "overlays/i1.png", rec.Image.OverlayPath)

	s.call(t, s.BobKey, http.MethodPut, base+"/markup", MarkupRequest{
		Image: &domain.ImageMarkup{OverlayPath: "overlays/i1-bob.png"},
	}, http.StatusOK, &rec)
	assert.Equal(t, "bases/i1.png", rec.Image.BasePath, "base path is shared across scopes")

	s.call(t, s.AliceKey, http.MethodPut, base+"/markup", MarkupRequest{
		Text: &domain.TextMarkup{Spans: []domain.Span{{Start: 0, End: 3}}},
	}, http.StatusBadRequest, nil)

	var desc domain.DescriptionRecord
	s.call(t, s.AliceKey, http.MethodPut, base+"/description", DescriptionRequest{Body: "clear lungs"}, http.StatusOK, &desc)
	assert.Equal(t, "clear lungs", desc.Body)
	s.call(t, s.AliceKey, http.MethodGet, base+"/description", nil, http.StatusOK, &desc)
	assert.Equal(t, "clear lungs", desc.Body)

	var descs listResponse[domain.DescriptionRecord]
	s.call(t, s.OwnerKey, http.MethodGet, "/collections/x/descriptions?scope=user:"+s.Alice.ID, nil, http.StatusOK, &descs)
	assert.Len(t, descs.Items, 1)
	s.call(t, s.OwnerKey, http.MethodGet, "/collections/x/descriptions?scope=group:1", nil, http.StatusBadRequest, nil)
}

func TestDevLoginAndMe(t *testing.T) {
	s := newTestServer(t)

	var login DevLoginResponse
	s.call(t, "", http.MethodPost, "/auth/dev/login", DevLoginRequest{UserID: "alice"}, http.StatusOK, &login)
	require.NotEmpty(t, login.Token)

	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me struct {
		User  domain.User   `json:"user"`
		Teams []domain.Team `json:"teams"`
	}
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, s.Alice.ID, me.User.ID)
	require.Len(t, me.Teams, 1)
	assert.Equal(t, "radiology", me.Teams[0].Name)

	res, _ = doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	i1, _ := s.seedCollection(t, false)
	s.call(t, s.AliceKey, http.MethodPost, "/collections/x/targets/"+i1.ID+"/annotations", ApplyRequest{
		Selections: []SelectionRequest{{Name: "finding", Label: "normal"}},
	}, http.StatusOK, nil)

	root := s.URL[:len(s.URL)-len("/v1")]
	res, data := doJSON(t, s.client, http.MethodGet, root+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `docfish_ledger_writes_total{outcome="written",scope_kind="user"} 1`)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "apply-annotations")
}

func TestEventsNeedEditPermission(t *testing.T) {
	s := newTestServer(t)
	i1, _ := s.seedCollection(t, false)
	s.call(t, s.AliceKey, http.MethodPost, "/collections/x/targets/"+i1.ID+"/annotations", ApplyRequest{
		Selections: []SelectionRequest{{Name: "finding", Label: "abnormal"}},
	}, http.StatusOK, nil)

	var page paginatedEvents
	s.call(t, s.OwnerKey, http.MethodGet, "/collections/x/events?type=annotation.applied", nil, http.StatusOK, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, s.Alice.ID, page.Items[0].ActorID)
	assert.Equal(t, i1.ID, page.Items[0].EntityID)

	s.call(t, s.OwnerKey, http.MethodGet, "/collections/x/events?limit=2", nil, http.StatusOK, &page)
	assert.Len(t, page.Items, 2)

	data := s.call(t, s.AliceKey, http.MethodGet, "/collections/x/events", nil, http.StatusForbidden, nil)
	code, details := errorCode(t, data)
	assert.Equal(t, "forbidden", code)
	assert.Equal(t, "edit", details["permission"])
	s.call(t, "", http.MethodGet, "/collections/x/events", nil, http.StatusForbidden, nil)
}
