package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docfish/internal/config"
	"docfish/internal/db"
	"docfish/internal/domain"
	"docfish/internal/engine"
	"docfish/internal/metrics"
	"docfish/internal/migrate"
	"docfish/internal/repo"
)

var imageAnnotation = domain.NewTaskType(domain.TargetImage, domain.TaskAnnotation)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context

	Owner, Alice, Bob domain.User
	Team              domain.Team
	Collection        domain.Collection
	Entity            domain.Entity
	I1, I2            domain.Target
	Normal, Abnormal  domain.Label
}

// newTestEnv builds collection X: two image targets and the vocabulary
// {finding:normal, finding:abnormal}, with image annotation switched on.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")

	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	env := testEnv{Engine: eng, Ctx: context.Background()}
	ctx := env.Ctx

	env.Owner = mustUser(t, eng, "owner", "stanford")
	env.Alice = mustUser(t, eng, "alice", "")
	env.Bob = mustUser(t, eng, "bob", "")
	env.Team, err = eng.CreateTeam(ctx, env.Alice.ID, "radiology")
	require.NoError(t, err)
	_, err = eng.AddTeamMember(ctx, env.Alice.ID, env.Team.ID, env.Bob.ID)
	require.NoError(t, err)

	env.Collection, err = eng.CreateCollection(ctx, env.Owner.ID, engine.CollectionOptions{ID: "x", Name: "Collection X"})
	require.NoError(t, err)
	env.Entity, err = eng.CreateEntity(ctx, env.Owner.ID, "case-1", `{"age":42}`)
	require.NoError(t, err)
	_, err = eng.AddEntity(ctx, env.Owner.ID, env.Collection.ID, env.Entity.ID)
	require.NoError(t, err)
	env.I1 = mustTarget(t, eng, env.Owner.ID, env.Entity.ID, "i1", domain.TargetImage)
	env.I2 = mustTarget(t, eng, env.Owner.ID, env.Entity.ID, "i2", domain.TargetImage)

	env.Normal = mustVocabulary(t, eng, env.Owner.ID, env.Collection.ID, "finding", "normal")
	env.Abnormal = mustVocabulary(t, eng, env.Owner.ID, env.Collection.ID, "finding", "abnormal")
	_, err = eng.SetTaskActive(ctx, env.Owner.ID, env.Collection.ID, imageAnnotation, true)
	require.NoError(t, err)
	return env
}

func mustUser(t *testing.T, eng engine.Engine, name, institution string) domain.User {
	t.Helper()
	u, err := eng.CreateUser(context.Background(), name, institution)
	require.NoError(t, err)
	return u
}

func mustTarget(t *testing.T, eng engine.Engine, actorID, entityID, uid string, kind domain.TargetKind) domain.Target {
	t.Helper()
	tg, err := eng.AddTarget(context.Background(), actorID, engine.TargetOptions{
		EntityID: entityID,
		UID:      uid,
		Kind:     kind,
		Location: "data/" + uid,
	})
	require.NoError(t, err)
	return tg
}

func mustVocabulary(t *testing.T, eng engine.Engine, actorID, collectionID, name, label string) domain.Label {
	t.Helper()
	l, err := eng.CreateLabel(context.Background(), name, label)
	require.NoError(t, err)
	_, err = eng.AddLabel(context.Background(), actorID, collectionID, l.ID)
	require.NoError(t, err)
	return l
}

func (env testEnv) annotate(user domain.User) engine.SelectRequest {
	return engine.SelectRequest{Actor: domain.Individual(user.ID), CollectionID: env.Collection.ID, Task: domain.TaskAnnotation, Kind: domain.TargetImage}
}

func (env testEnv) countAnnotations(t *testing.T, scope domain.Scope, targetID string) int {
	t.Helper()
	recs, err := env.Engine.Repo.ListAnnotations(env.Ctx, nil, repo.RecordFilter{TargetID: targetID, Scope: &scope})
	require.NoError(t, err)
	return len(recs)
}

func TestIndividualAnnotationScenario(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	u := domain.Individual(env.Owner.ID)

	_, err := eng.Apply(ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "abnormal"})
	require.NoError(t, err)
	assert.Equal(t, 1, env.countAnnotations(t, u.Scope(), env.I1.ID))

	rec, err := eng.Apply(ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	require.NoError(t, err)
	assert.Equal(t, "normal", rec.Label)
	assert.Equal(t, 1, env.countAnnotations(t, u.Scope(), env.I1.ID))

	next, err := eng.SelectNext(ctx, env.annotate(env.Owner))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, env.I2.ID, next.ID)

	_, err = eng.Apply(ctx, u, env.Collection.ID, env.I2.ID, engine.Selection{Name: "finding", Label: "normal"})
	require.NoError(t, err)
	next, err = eng.SelectNext(ctx, env.annotate(env.Owner))
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestTeamPairScenario(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	asTeam := func(u domain.User) engine.SelectRequest {
		req := env.annotate(u)
		req.Actor = domain.TeamActor(u.ID, env.Team.ID)
		return req
	}

	for _, u := range []domain.User{env.Alice, env.Bob} {
		pair, err := eng.SelectPair(ctx, asTeam(u))
		require.NoError(t, err)
		require.NotNil(t, pair.Current)
		require.NotNil(t, pair.Next)
		assert.Equal(t, env.I1.ID, pair.Current.ID, u.Username)
		assert.Equal(t, env.I2.ID, pair.Next.ID, u.Username)
	}

	_, err := eng.Apply(ctx, domain.TeamActor(env.Alice.ID, env.Team.ID), env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	require.NoError(t, err)

	for _, u := range []domain.User{env.Alice, env.Bob} {
		pair, err := eng.SelectPair(ctx, asTeam(u))
		require.NoError(t, err)
		require.NotNil(t, pair.Current)
		assert.Equal(t, env.I2.ID, pair.Current.ID, u.Username)
		assert.Nil(t, pair.Next)
	}

	// Bob never answered personally, but the team scope covers I1 for him too.
	skipped, err := eng.SelectPair(ctx, func() engine.SelectRequest { r := asTeam(env.Bob); r.Skip = env.I2.ID; return r }())
	require.NoError(t, err)
	assert.Nil(t, skipped.Current)

	// Individually Bob still has both targets ahead of him.
	own, err := eng.SelectPair(ctx, env.annotate(env.Bob))
	require.NoError(t, err)
	require.NotNil(t, own.Current)
	assert.Equal(t, env.I1.ID, own.Current.ID)
}

func TestTeamConvergenceIsStable(t *testing.T) {
	env := newTestEnv(t)
	req := env.annotate(env.Alice)
	req.Actor = domain.TeamActor(env.Alice.ID, env.Team.ID)
	first, err := env.Engine.SelectPair(env.Ctx, req)
	require.NoError(t, err)
	second, err := env.Engine.SelectPair(env.Ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Current.ID, second.Current.ID)
	assert.Equal(t, first.Next.ID, second.Next.ID)
}

func TestApplySameLabelIsNoop(t *testing.T) {
	env := newTestEnv(t)
	u := domain.Individual(env.Alice.ID)
	first, err := env.Engine.Apply(env.Ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	require.NoError(t, err)

	env.Engine.Now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }
	second, err := env.Engine.Apply(env.Ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, env.countAnnotations(t, u.Scope(), env.I1.ID))

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 0, env.Collection.ID, "annotation.applied")
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestApplyUpdatesCoordinates(t *testing.T) {
	env := newTestEnv(t)
	u := domain.Individual(env.Alice.ID)
	_, err := env.Engine.Apply(env.Ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	require.NoError(t, err)
	rec, err := env.Engine.Apply(env.Ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal", CoordinatesJSON: `[[1,2],[3,4]]`})
	require.NoError(t, err)
	assert.Equal(t, `[[1,2],[3,4]]`, rec.CoordinatesJSON)

	_, err = env.Engine.Apply(env.Ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal", CoordinatesJSON: `[[1,2]`})
	assert.True(t, errors.Is(err, domain.ErrBadParameter))
}

func TestScopeIsolation(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	alone := domain.Individual(env.Alice.ID)
	team := domain.TeamActor(env.Alice.ID, env.Team.ID)

	_, err := eng.Apply(ctx, alone, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "abnormal"})
	require.NoError(t, err)
	_, err = eng.Apply(ctx, team, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	require.NoError(t, err)

	teamScope := team.Scope()
	recs, err := eng.ListAnnotations(ctx, env.Owner.ID, env.Collection.ID, env.I1.ID, &teamScope)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "normal", recs[0].Label)
	assert.Equal(t, domain.ScopeTeam, recs[0].Scope.Kind)

	sum, err := eng.Summarize(ctx, alone, env.Collection.ID, env.I1.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"finding": "abnormal"}, sum.Labels)
	assert.Equal(t, map[string]int{"finding": 2}, sum.Counts)

	sum, err = eng.Summarize(ctx, domain.TeamActor(env.Bob.ID, env.Team.ID), env.Collection.ID, env.I1.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"finding": "normal"}, sum.Labels)

	ok, err := eng.Clear(ctx, team, env.Collection.ID, env.I1.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, env.countAnnotations(t, team.Scope(), env.I1.ID))
	assert.Equal(t, 1, env.countAnnotations(t, alone.Scope(), env.I1.ID))
}

func TestApplyValidatesBeforeWriting(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	u := domain.Individual(env.Alice.ID)
	_, err := eng.Apply(ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	require.NoError(t, err)

	other, err := eng.CreateLabel(ctx, "finding", "unclear")
	require.NoError(t, err)
	_, err = eng.Apply(ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: other.Name, Label: other.Label})
	assert.True(t, errors.Is(err, domain.ErrInvalidLabel), "got %v", err)
	_, err = eng.Apply(ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "size", Label: "large"})
	assert.True(t, errors.Is(err, domain.ErrInvalidLabel), "got %v", err)

	// Second selection is invalid, so the first must not supersede anything.
	_, err = eng.ApplyMany(ctx, u, env.Collection.ID, env.I1.ID, []engine.Selection{
		{Name: "finding", Label: "abnormal"},
		{Name: "size", Label: "large"},
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidLabel))
	sum, err := eng.Summarize(ctx, u, env.Collection.ID, env.I1.ID)
	require.NoError(t, err)
	assert.Equal(t, "normal", sum.Labels["finding"])

	stray := mustTarget(t, eng, env.Owner.ID, mustEntity(t, env, "case-2").ID, "i3", domain.TargetImage)
	_, err = eng.Apply(ctx, u, env.Collection.ID, stray.ID, engine.Selection{Name: "finding", Label: "normal"})
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

	_, err = eng.Apply(ctx, u, "missing", env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func mustEntity(t *testing.T, env testEnv, uid string) domain.Entity {
	t.Helper()
	ent, err := env.Engine.CreateEntity(env.Ctx, env.Owner.ID, uid, "")
	require.NoError(t, err)
	return ent
}

func TestPermissionGateBlocksMutations(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	_, err := eng.SetPrivacy(ctx, env.Owner.ID, env.Collection.ID, true)
	require.NoError(t, err)

	stranger := domain.Individual(env.Bob.ID)
	_, err = eng.Apply(ctx, stranger, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied), "got %v", err)
	_, err = eng.SelectNext(ctx, env.annotate(env.Bob))
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	_, err = eng.Clear(ctx, stranger, env.Collection.ID, env.I1.ID)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	// Owner acting for a team they do not belong to.
	_, err = eng.Apply(ctx, domain.TeamActor(env.Owner.ID, env.Team.ID), env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	_, err = eng.SetPrivacy(ctx, env.Alice.ID, env.Collection.ID, false)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	carol := mustUser(t, eng, "carol", "stanford")
	_, err = eng.Apply(ctx, domain.Individual(carol.ID), env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	assert.NoError(t, err, "same institution as the owner")
}

func TestClearReopensTarget(t *testing.T) {
	env := newTestEnv(t)
	u := domain.Individual(env.Alice.ID)
	for _, tg := range []domain.Target{env.I1, env.I2} {
		_, err := env.Engine.Apply(env.Ctx, u, env.Collection.ID, tg.ID, engine.Selection{Name: "finding", Label: "normal"})
		require.NoError(t, err)
	}
	ok, err := env.Engine.Clear(env.Ctx, u, env.Collection.ID, env.I2.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	next, err := env.Engine.SelectNext(env.Ctx, env.annotate(env.Alice))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, env.I2.ID, next.ID)

	ok, err = env.Engine.Clear(env.Ctx, u, env.Collection.ID, env.I2.ID)
	require.NoError(t, err)
	assert.True(t, ok, "clearing nothing still succeeds")
}

func TestClearStorageFailureReportsFalse(t *testing.T) {
	env := newTestEnv(t)
	registry := prometheus.NewRegistry()
	m, err := metrics.NewEngineMetrics(registry)
	require.NoError(t, err)
	eng := env.Engine
	eng.Metrics = m

	u := domain.Individual(env.Alice.ID)
	_, err = eng.Apply(env.Ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	require.NoError(t, err)
	_, err = eng.DB.ExecContext(env.Ctx, `CREATE TRIGGER keep_annotations BEFORE DELETE ON annotations BEGIN SELECT RAISE(ABORT, 'annotations are read-only'); END`)
	require.NoError(t, err)

	ok, err := eng.Clear(env.Ctx, u, env.Collection.ID, env.I1.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, env.countAnnotations(t, u.Scope(), env.I1.ID))

	assert.Equal(t, 1.0, counterValue(t, registry, "docfish_ledger_clears_total", map[string]string{"result": "failed", "scope_kind": "user"}))
	assert.Zero(t, counterValue(t, registry, "docfish_ledger_clears_total", map[string]string{"result": "ok", "scope_kind": "user"}))

	_, err = eng.Clear(env.Ctx, domain.Individual(env.Alice.ID), env.Collection.ID, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "lookup failures stay errors")
}

// counterValue reads one labelled counter from the registry, 0 when absent.
func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	samples:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue samples
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// Records belong to the target: work done through one collection is visible
// and counted in every collection that shares the entity.
func TestSharedEntityRecordsFollowTheTarget(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx

	y, err := eng.CreateCollection(ctx, env.Owner.ID, engine.CollectionOptions{ID: "y", Name: "Collection Y"})
	require.NoError(t, err)
	_, err = eng.AddEntity(ctx, env.Owner.ID, y.ID, env.Entity.ID)
	require.NoError(t, err)
	mustVocabulary(t, eng, env.Owner.ID, y.ID, "finding", "normal")

	alice := domain.Individual(env.Alice.ID)
	_, err = eng.Apply(ctx, alice, y.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	require.NoError(t, err)

	sum, err := eng.Summarize(ctx, alice, env.Collection.ID, env.I1.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"finding": "normal"}, sum.Labels)
	assert.Equal(t, map[string]int{"finding": 1}, sum.Counts)

	next, err := eng.SelectNext(ctx, env.annotate(env.Alice))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, env.I2.ID, next.ID)

	recs, err := eng.ListAnnotations(ctx, "", env.Collection.ID, env.I1.ID, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, y.ID, recs[0].CollectionID)

	_, err = eng.Apply(ctx, domain.Individual(env.Bob.ID), env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "abnormal"})
	require.NoError(t, err)
	sum, err = eng.Summarize(ctx, alice, y.ID, env.I1.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"finding": 2}, sum.Counts)

	require.NoError(t, eng.DeleteCollection(ctx, env.Owner.ID, y.ID))
	recs, err = eng.ListAnnotations(ctx, "", env.Collection.ID, env.I1.ID, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2, "deleting a collection keeps records on targets other collections still hold")
	for _, r := range recs {
		if r.Scope.ID == env.Alice.ID {
			assert.Empty(t, r.CollectionID)
		}
	}
}

func TestConcurrentApplyKeepsOneRecord(t *testing.T) {
	env := newTestEnv(t)
	u := domain.Individual(env.Alice.ID)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		label := "normal"
		if i%2 == 1 {
			label = "abnormal"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.Engine.Apply(env.Ctx, u, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: label})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, env.countAnnotations(t, u.Scope(), env.I1.ID), 1)
}

func TestSelectorRequiresEffectiveTask(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx

	req := env.annotate(env.Alice)
	req.Kind = domain.TargetText
	_, err := eng.SelectNext(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrTaskInactive), "no text targets yet")

	_, err = eng.SetTaskActive(ctx, env.Owner.ID, env.Collection.ID, imageAnnotation, false)
	require.NoError(t, err)
	_, err = eng.SelectNext(ctx, env.annotate(env.Alice))
	assert.True(t, errors.Is(err, domain.ErrTaskInactive))
	assert.True(t, errors.Is(err, domain.ErrBadParameter))
}

func TestTaskConfigValidatedOnWrite(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	c, err := eng.CreateCollection(ctx, env.Owner.ID, engine.CollectionOptions{Name: "empty"})
	require.NoError(t, err)

	board, err := eng.TaskBoard(ctx, env.Owner.ID, c.ID)
	require.NoError(t, err)
	require.Len(t, board.Tasks, len(domain.TaskTypes))
	for _, task := range board.Tasks {
		assert.Equal(t, !task.Type.NeedsVocabulary(), task.Active, task.Type)
		assert.False(t, task.Effective, "no targets in %s", task.Type)
	}
	assert.True(t, board.CanEdit)
	assert.True(t, board.CanDelete)

	_, err = eng.SetTaskActive(ctx, env.Owner.ID, c.ID, imageAnnotation, true)
	assert.True(t, errors.Is(err, domain.ErrBadParameter))

	status, err := eng.SetTaskInstruction(ctx, env.Owner.ID, c.ID, imageAnnotation, "  Look closely  ")
	require.NoError(t, err)
	assert.Equal(t, "Look closely", status.Instruction)

	// Dropping the whole vocabulary of X switches its annotation task off.
	require.NoError(t, eng.RemoveLabel(ctx, env.Owner.ID, env.Collection.ID, env.Normal.ID))
	require.NoError(t, eng.RemoveLabel(ctx, env.Owner.ID, env.Collection.ID, env.Abnormal.ID))
	board, err = eng.TaskBoard(ctx, env.Alice.ID, env.Collection.ID)
	require.NoError(t, err)
	for _, task := range board.Tasks {
		if task.Type == imageAnnotation {
			assert.False(t, task.Active)
		}
	}
	assert.False(t, board.CanEdit)

	err = eng.RemoveLabel(ctx, env.Owner.ID, env.Collection.ID, env.Normal.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSetContributorsUpdatesPermissionIndex(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx

	c, err := eng.SetContributors(ctx, env.Owner.ID, env.Collection.ID, []string{env.Alice.ID, env.Bob.ID, env.Owner.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{env.Alice.ID, env.Bob.ID}, c.Contributors)

	idx, err := eng.PermissionIndex(ctx, env.Owner.ID, env.Collection.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{repo.PermEditCollection, repo.PermDeleteCollection}, idx[env.Owner.ID])
	assert.Equal(t, []string{repo.PermEditCollection}, idx[env.Alice.ID])

	c, err = eng.SetContributors(ctx, env.Owner.ID, env.Collection.ID, []string{env.Bob.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{env.Bob.ID}, c.Contributors)
	idx, err = eng.PermissionIndex(ctx, env.Bob.ID, env.Collection.ID)
	require.NoError(t, err)
	assert.NotContains(t, idx, env.Alice.ID)

	_, err = eng.SetContributors(ctx, env.Owner.ID, env.Collection.ID, []string{"ghost"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = eng.SetContributors(ctx, env.Bob.ID, env.Collection.ID, nil)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied), "contributors cannot manage contributors")
}

func TestMarkupStore(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	txt := mustTarget(t, eng, env.Owner.ID, env.Entity.ID, "t1", domain.TargetText)
	alice, bob := domain.Individual(env.Alice.ID), domain.Individual(env.Bob.ID)

	_, err := eng.UpsertMarkup(ctx, alice, env.Collection.ID, txt.ID, domain.MarkupPayload{Image: &domain.ImageMarkup{OverlayPath: "o.png"}})
	assert.True(t, errors.Is(err, domain.ErrBadParameter), "image payload on a text target")
	_, err = eng.UpsertMarkup(ctx, alice, env.Collection.ID, txt.ID, domain.MarkupPayload{})
	assert.True(t, errors.Is(err, domain.ErrBadParameter))

	m, err := eng.UpsertMarkup(ctx, alice, env.Collection.ID, txt.ID, domain.MarkupPayload{Text: &domain.TextMarkup{Text: "a b", Spans: []domain.Span{{Start: 0, End: 1}}}})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultDelimiter, m.Text.Delimiter)

	m2, err := eng.UpsertMarkup(ctx, alice, env.Collection.ID, txt.ID, domain.MarkupPayload{Text: &domain.TextMarkup{Text: "a b", Spans: []domain.Span{{Start: 2, End: 3}}}})
	require.NoError(t, err)
	assert.Equal(t, m.ID, m2.ID, "replaced in place")
	assert.Equal(t, []domain.Span{{Start: 2, End: 3}}, m2.Text.Spans)

	_, err = eng.UpsertMarkup(ctx, alice, env.Collection.ID, env.I1.ID, domain.MarkupPayload{Image: &domain.ImageMarkup{OverlayPath: "a.png", BasePath: "base.png"}})
	require.NoError(t, err)
	bm, err := eng.UpsertMarkup(ctx, bob, env.Collection.ID, env.I1.ID, domain.MarkupPayload{Image: &domain.ImageMarkup{OverlayPath: "b.png"}})
	require.NoError(t, err)
	assert.Equal(t, "base.png", bm.Image.BasePath)

	got, err := eng.GetMarkup(ctx, bob, env.Collection.ID, txt.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = eng.GetMarkup(ctx, alice, env.Collection.ID, env.I1.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a.png", got.Image.OverlayPath)

	_, err = eng.SetTaskActive(ctx, env.Owner.ID, env.Collection.ID, domain.NewTaskType(domain.TargetImage, domain.TaskMarkup), true)
	require.NoError(t, err)
	req := env.annotate(env.Alice)
	req.Task = domain.TaskMarkup
	next, err := eng.SelectNext(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, env.I2.ID, next.ID)
}

func TestDescriptionStore(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	team := domain.TeamActor(env.Bob.ID, env.Team.ID)

	d, err := eng.UpsertDescription(ctx, team, env.Collection.ID, env.I2.ID, "first")
	require.NoError(t, err)
	d2, err := eng.UpsertDescription(ctx, domain.TeamActor(env.Alice.ID, env.Team.ID), env.Collection.ID, env.I2.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, d.ID, d2.ID)
	assert.Equal(t, "second", d2.Body)
	assert.Equal(t, env.Alice.ID, d2.CreatedBy)

	got, err := eng.GetDescription(ctx, domain.Individual(env.Bob.ID), env.Collection.ID, env.I2.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "individual scope is separate from the team")

	req := env.annotate(env.Bob)
	req.Actor = team
	req.Task = domain.TaskDescribe
	next, err := eng.SelectNext(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, env.I1.ID, next.ID)
}

func TestShuffledOrderIsDeterministicAndComplete(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	cfg := config.Default()
	cfg.Selector.Order = config.OrderShuffled
	cfg.Selector.Seed = "fixed"
	eng.Config = cfg

	for i := 3; i <= 6; i++ {
		mustTarget(t, eng, env.Owner.ID, env.Entity.ID, "img-"+string(rune('0'+i)), domain.TargetImage)
	}
	req := env.annotate(env.Alice)
	a, err := eng.SelectPair(ctx, req)
	require.NoError(t, err)
	b, err := eng.SelectPair(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, a.Current.ID, b.Current.ID)
	assert.Equal(t, a.Next.ID, b.Next.ID)

	seen := map[string]bool{}
	for {
		next, err := eng.SelectNext(ctx, req)
		require.NoError(t, err)
		if next == nil {
			break
		}
		require.False(t, seen[next.ID], "target %s offered twice", next.ID)
		seen[next.ID] = true
		_, err = eng.Apply(ctx, req.Actor, env.Collection.ID, next.ID, engine.Selection{Name: "finding", Label: "normal"})
		require.NoError(t, err)
	}
	assert.Len(t, seen, 6)
}

func TestFlaggedTargetsLeaveTheQueue(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	_, err := eng.FlagTarget(ctx, env.Owner.ID, env.Collection.ID, env.I1.ID, false)
	require.NoError(t, err)

	next, err := eng.SelectNext(ctx, env.annotate(env.Alice))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, env.I2.ID, next.ID)

	public, err := eng.ListTargets(ctx, "", env.Collection.ID, domain.TargetImage)
	require.NoError(t, err)
	require.Len(t, public, 1)
	all, err := eng.ListTargets(ctx, env.Owner.ID, env.Collection.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = eng.Apply(ctx, domain.Individual(env.Alice.ID), env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	assert.True(t, errors.Is(err, domain.ErrBadParameter))
}

func TestAnonymousViewerSeesPublicOnly(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	hidden, err := eng.CreateCollection(ctx, env.Owner.ID, engine.CollectionOptions{Name: "hidden", Private: true})
	require.NoError(t, err)

	list, err := eng.ListCollections(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, env.Collection.ID, list[0].ID)

	_, err = eng.GetCollection(ctx, "", hidden.ID)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	_, err = eng.GetCollection(ctx, env.Owner.ID, hidden.ID)
	assert.NoError(t, err)

	_, err = eng.Apply(ctx, domain.Actor{}, env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
}

func TestTeamMembership(t *testing.T) {
	env := newTestEnv(t)
	eng, ctx := env.Engine, env.Ctx
	_, err := eng.AddTeamMember(ctx, env.Bob.ID, env.Team.ID, env.Owner.ID)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	team, err := eng.RemoveTeamMember(ctx, env.Bob.ID, env.Team.ID, env.Bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{env.Alice.ID}, team.Members)

	_, err = eng.RemoveTeamMember(ctx, env.Alice.ID, env.Team.ID, env.Alice.ID)
	assert.True(t, errors.Is(err, domain.ErrBadParameter))

	_, err = eng.Apply(ctx, domain.TeamActor(env.Bob.ID, env.Team.ID), env.Collection.ID, env.I1.ID, engine.Selection{Name: "finding", Label: "normal"})
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
}

func TestAPITokenRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	plain, tok, err := env.Engine.CreateAPIToken(env.Ctx, env.Alice.ID, "laptop")
	require.NoError(t, err)
	assert.NotEmpty(t, plain)
	stored, err := env.Engine.Repo.GetAPITokenByHash(env.Ctx, repo.HashToken(plain))
	require.NoError(t, err)
	assert.Equal(t, tok.ID, stored.ID)
	assert.Equal(t, env.Alice.ID, stored.UserID)
}
