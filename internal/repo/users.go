package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"docfish/internal/domain"
)

const userColumns = `id, username, COALESCE(institution,''), created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Institution, &u.CreatedAt)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id, username, institution, created_at) VALUES (?,?,?,?)`,
		u.ID, u.Username, nullable(u.Institution), u.CreatedAt)
	return conflict(err, "username %s already taken", u.Username)
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	u, err := scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	return u, notFound(err, "user %s", id)
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username))
	return u, notFound(err, "user %s", username)
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	b := queryBuilder().Select(userColumns).From("users").OrderBy("username")
	return selectAll(ctx, r.DB, b, func(rows *sql.Rows) (domain.User, error) { return scanUser(rows) })
}

// CountUsers returns how many of ids exist.
func (r Repo) CountUsers(ctx context.Context, tx *sql.Tx, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := queryBuilder().Select("COUNT(*)").From("users").Where(squirrel.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	err = r.q(tx).QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO teams(id, name, owner_id, created_at) VALUES (?,?,?,?)`,
		t.ID, t.Name, t.OwnerID, t.CreatedAt)
	return conflict(err, "team %s already exists", t.Name)
}

func (r Repo) GetTeam(ctx context.Context, tx *sql.Tx, id string) (domain.Team, error) {
	var t domain.Team
	err := r.q(tx).QueryRowContext(ctx, `SELECT id, name, owner_id, created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt)
	if err != nil {
		return t, notFound(err, "team %s", id)
	}
	t.Members, err = r.TeamMembers(ctx, tx, id)
	return t, err
}

func (r Repo) ListTeams(ctx context.Context, memberID string) ([]domain.Team, error) {
	b := queryBuilder().Select("t.id", "t.name", "t.owner_id", "t.created_at").From("teams t").OrderBy("t.name")
	if memberID != "" {
		b = b.Join("team_members m ON m.team_id = t.id").Where(squirrel.Eq{"m.user_id": memberID})
	}
	return selectAll(ctx, r.DB, b, func(rows *sql.Rows) (domain.Team, error) {
		var t domain.Team
		err := rows.Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt)
		return t, err
	})
}

func (r Repo) TeamMembers(ctx context.Context, tx *sql.Tx, teamID string) ([]string, error) {
	return scanStrings(ctx, r.q(tx), `SELECT user_id FROM team_members WHERE team_id=? ORDER BY joined_at, user_id`, teamID)
}

func (r Repo) AddTeamMember(ctx context.Context, tx *sql.Tx, teamID, userID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO team_members(team_id, user_id, joined_at) VALUES (?,?,?)`, teamID, userID, now)
	return err
}

func (r Repo) RemoveTeamMember(ctx context.Context, tx *sql.Tx, teamID, userID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM team_members WHERE team_id=? AND user_id=?`, teamID, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) IsTeamMember(ctx context.Context, tx *sql.Tx, teamID, userID string) (bool, error) {
	return exists(ctx, r.q(tx), `SELECT 1 FROM team_members WHERE team_id=? AND user_id=? LIMIT 1`, teamID, userID)
}

func (r Repo) GetTeamByName(ctx context.Context, name string) (domain.Team, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM teams WHERE name=?`, name).Scan(&id)
	if err != nil {
		return domain.Team{}, notFound(err, "team %s", name)
	}
	return r.GetTeam(ctx, nil, id)
}
