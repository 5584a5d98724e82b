package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"docfish/internal/domain"
	"docfish/internal/engine"
)

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userCreateCmd())
	usr.AddCommand(userListCmd())
	return usr
}

func userCreateCmd() *cobra.Command {
	var institution string
	cmd := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, args[0], institution)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&institution, "institution", "", "affiliation; users of the owner's institution see private collections")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(users))
				for _, u := range users {
					rows = append(rows, table.Row{u.ID, u.Username, u.Institution})
				}
				return printRows(users, table.Row{"ID", "Username", "Institution"}, rows)
			})
		},
	}
}

func teamCmd() *cobra.Command {
	tm := &cobra.Command{Use: "team", Short: "Manage teams", Long: "A team shares one scope: one record per target, whichever member writes it."}
	tm.AddCommand(teamCreateCmd())
	tm.AddCommand(teamListCmd())
	tm.AddCommand(teamMemberCmd("add"))
	tm.AddCommand(teamMemberCmd("remove"))
	return tm
}

func teamCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Create a team owned by --as",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.CreateTeam(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func teamListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List teams of --as, or all teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				memberID, err := viewer(ctx, e)
				if err != nil {
					return err
				}
				teams, err := e.Repo.ListTeams(ctx, memberID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(teams))
				for _, t := range teams {
					rows = append(rows, table.Row{t.ID, t.Name, t.OwnerID})
				}
				return printRows(teams, table.Row{"ID", "Name", "Owner"}, rows)
			})
		},
	}
}

func teamMemberCmd(op string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " TEAM USER",
		Short: strings.ToUpper(op[:1]) + op[1:] + " a team member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				team, err := resolveTeam(ctx, e, args[0])
				if err != nil {
					return err
				}
				member, err := e.ResolveUser(ctx, args[1])
				if err != nil {
					return err
				}
				var t domain.Team
				if op == "add" {
					t, err = e.AddTeamMember(ctx, actorID, team.ID, member.ID)
				} else {
					t, err = e.RemoveTeamMember(ctx, actorID, team.ID, member.ID)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

// resolveTeam accepts a team id or name.
func resolveTeam(ctx context.Context, e engine.Engine, ref string) (domain.Team, error) {
	t, err := e.Repo.GetTeam(ctx, nil, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return e.Repo.GetTeamByName(ctx, ref)
	}
	return t, err
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Manage API tokens of --as"}
	tok.AddCommand(tokenCreateCmd())
	tok.AddCommand(tokenListCmd())
	tok.AddCommand(tokenRevokeCmd())
	return tok
}

func tokenCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API token; it is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				plain, tok, err := e.CreateAPIToken(ctx, userID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": tok.ID, "name": tok.Name, "token": plain})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "token label")
	return cmd
}

func tokenListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				toks, err := e.Repo.ListAPITokens(ctx, userID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(toks))
				for _, t := range toks {
					rows = append(rows, table.Row{t.ID, t.Name, t.CreatedAt})
				}
				return printRows(toks, table.Row{"ID", "Name", "Created"}, rows)
			})
		},
	}
}

func tokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				if err := e.Repo.DeleteAPIToken(ctx, userID, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}
