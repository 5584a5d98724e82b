package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docfish/internal/domain"
	"docfish/internal/engine"
)

func collectionCmd() *cobra.Command {
	col := &cobra.Command{Use: "collection", Short: "Manage collections"}
	col.AddCommand(collectionCreateCmd())
	col.AddCommand(collectionListCmd())
	col.AddCommand(collectionShowCmd())
	col.AddCommand(collectionPrivacyCmd())
	col.AddCommand(collectionContributorsCmd())
	col.AddCommand(collectionTasksCmd())
	col.AddCommand(collectionTaskCmd())
	col.AddCommand(collectionPermissionsCmd())
	col.AddCommand(collectionDeleteCmd())
	return col
}

func collectionCreateCmd() *cobra.Command {
	var opts engine.CollectionOptions
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a collection owned by --as",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				opts.Name = args[0]
				c, err := e.CreateCollection(ctx, userID, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "collection id (generated when empty)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().BoolVar(&opts.Private, "private", false, "restrict to owner, contributors and the owner's institution")
	return cmd
}

func collectionListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List collections visible to --as",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				viewerID, err := viewer(ctx, e)
				if err != nil {
					return err
				}
				if owner != "" {
					u, err := e.ResolveUser(ctx, owner)
					if err != nil {
						return err
					}
					owner = u.ID
				}
				items, err := e.ListCollections(ctx, viewerID, owner)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, c := range items {
					rows = append(rows, table.Row{c.ID, c.Name, c.OwnerID, yesNo(c.Private), len(c.Contributors)})
				}
				return printRows(items, table.Row{"ID", "Name", "Owner", "Private", "Contributors"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only collections of this owner")
	return cmd
}

func collectionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				viewerID, err := viewer(ctx, e)
				if err != nil {
					return err
				}
				c, err := e.GetCollection(ctx, viewerID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func collectionPrivacyCmd() *cobra.Command {
	var public bool
	cmd := &cobra.Command{
		Use:   "privacy ID",
		Short: "Make a collection private (default) or --public",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				c, err := e.SetPrivacy(ctx, userID, args[0], !public)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().BoolVar(&public, "public", false, "make the collection public")
	return cmd
}

func collectionContributorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contributors ID [USER...]",
		Short: "Replace the contributor list; no users clears it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				ids := make([]string, 0, len(args)-1)
				for _, ref := range args[1:] {
					u, err := e.ResolveUser(ctx, ref)
					if err != nil {
						return err
					}
					ids = append(ids, u.ID)
				}
				c, err := e.SetContributors(ctx, userID, args[0], ids)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func collectionTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks ID",
		Short: "Show task types and whether each can be served",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				viewerID, err := viewer(ctx, e)
				if err != nil {
					return err
				}
				board, err := e.TaskBoard(ctx, viewerID, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(board.Tasks))
				for _, t := range board.Tasks {
					rows = append(rows, table.Row{t.Type, t.Title, yesNo(t.Active), yesNo(t.Effective), t.Targets})
				}
				return printRows(board, table.Row{"Type", "Title", "Active", "Effective", "Targets"}, rows)
			})
		},
	}
}

func collectionTaskCmd() *cobra.Command {
	var active bool
	var instruction string
	cmd := &cobra.Command{
		Use:   "task ID TYPE",
		Short: "Switch a task type on or off, or set its instruction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			activeSet := cmd.Flags().Changed("active")
			instructionSet := cmd.Flags().Changed("instruction")
			if !activeSet && !instructionSet {
				return fmt.Errorf("--active or --instruction required")
			}
			tt, err := domain.ParseTaskType(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				var status domain.TaskStatus
				if instructionSet {
					if status, err = e.SetTaskInstruction(ctx, userID, args[0], tt, instruction); err != nil {
						return err
					}
				}
				if activeSet {
					if status, err = e.SetTaskActive(ctx, userID, args[0], tt, active); err != nil {
						return err
					}
				}
				return printJSONOrTable(status)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "activate (or --active=false to deactivate)")
	cmd.Flags().StringVar(&instruction, "instruction", "", "instruction shown to annotators")
	return cmd
}

func collectionPermissionsCmd() *cobra.Command {
	var index bool
	cmd := &cobra.Command{
		Use:   "permissions ID",
		Short: "What --as (and --team) may do, or the stored grant index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if index {
					userID, err := actingUser(ctx, e)
					if err != nil {
						return err
					}
					idx, err := e.PermissionIndex(ctx, userID, args[0])
					if err != nil {
						return err
					}
					rows := make([]table.Row, 0, len(idx))
					for perm, users := range idx {
						rows = append(rows, table.Row{perm, strings.Join(users, ",")})
					}
					sort.Slice(rows, func(i, j int) bool { return rows[i][0].(string) < rows[j][0].(string) })
					return printRows(idx, table.Row{"Permission", "Users"}, rows)
				}
				var actor domain.Actor
				if strings.TrimSpace(viper.GetString("as")) != "" {
					a, err := actingAs(ctx, e)
					if err != nil {
						return err
					}
					actor = a
				}
				perms, err := e.Permissions(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(perms)
			})
		},
	}
	cmd.Flags().BoolVar(&index, "index", false, "show stored grants (requires edit)")
	return cmd
}

func collectionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a collection and every record in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				if err := e.DeleteCollection(ctx, userID, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func labelCmd() *cobra.Command {
	lbl := &cobra.Command{Use: "label", Short: "Manage the label catalog and collection vocabularies"}
	lbl.AddCommand(&cobra.Command{
		Use:   "create NAME LABEL",
		Short: "Add a name:label pair to the catalog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CreateLabel(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	})
	lbl.AddCommand(&cobra.Command{
		Use:   "list [COLLECTION]",
		Short: "List the catalog, or a collection's vocabulary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var labels []domain.Label
				var err error
				if len(args) == 1 {
					viewerID, verr := viewer(ctx, e)
					if verr != nil {
						return verr
					}
					labels, err = e.CollectionLabels(ctx, viewerID, args[0])
				} else {
					labels, err = e.ListLabels(ctx)
				}
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(labels))
				for _, l := range labels {
					rows = append(rows, table.Row{l.ID, l.Name, l.Label})
				}
				return printRows(labels, table.Row{"ID", "Name", "Label"}, rows)
			})
		},
	})
	lbl.AddCommand(&cobra.Command{
		Use:   "add COLLECTION LABEL_ID",
		Short: "Add a catalog label to a collection's vocabulary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				l, err := e.AddLabel(ctx, userID, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	})
	lbl.AddCommand(&cobra.Command{
		Use:   "remove COLLECTION LABEL_ID",
		Short: "Remove a label from a collection's vocabulary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				if err := e.RemoveLabel(ctx, userID, args[0], args[1]); err != nil {
					return err
				}
				fmt.Println("removed", args[1])
				return nil
			})
		},
	})
	return lbl
}

func entityCmd() *cobra.Command {
	ent := &cobra.Command{Use: "entity", Short: "Manage entities"}
	var metadata string
	create := &cobra.Command{
		Use:   "create UID",
		Short: "Register an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				x, err := e.CreateEntity(ctx, userID, args[0], metadata)
				if err != nil {
					return err
				}
				return printJSONOrTable(x)
			})
		},
	}
	create.Flags().StringVar(&metadata, "metadata", "", "metadata as a JSON document")
	ent.AddCommand(create)
	ent.AddCommand(&cobra.Command{
		Use:   "add COLLECTION ENTITY_ID",
		Short: "Include an entity and its targets in a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				x, err := e.AddEntity(ctx, userID, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(x)
			})
		},
	})
	ent.AddCommand(&cobra.Command{
		Use:   "list COLLECTION",
		Short: "List the entities of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				viewerID, err := viewer(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.ListEntities(ctx, viewerID, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, x := range items {
					rows = append(rows, table.Row{x.ID, x.UID, x.CreatedAt})
				}
				return printRows(items, table.Row{"ID", "UID", "Created"}, rows)
			})
		},
	})
	return ent
}

func targetCmd() *cobra.Command {
	tgt := &cobra.Command{Use: "target", Short: "Manage targets (images and texts)"}

	var opts engine.TargetOptions
	var kind, source string
	add := &cobra.Command{
		Use:   "add ENTITY_ID UID LOCATION",
		Short: "Attach an image or text to an entity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				opts.EntityID, opts.UID, opts.Location = args[0], args[1], args[2]
				opts.Kind, opts.Source = domain.TargetKind(kind), domain.TargetSource(source)
				t, err := e.AddTarget(ctx, userID, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	add.Flags().StringVar(&kind, "kind", "image", "image or text")
	add.Flags().StringVar(&source, "source", "file", "file or link")
	add.Flags().StringVar(&opts.MetadataJSON, "metadata", "", "metadata as a JSON document")
	tgt.AddCommand(add)

	var listKind string
	list := &cobra.Command{
		Use:   "list COLLECTION",
		Short: "List the targets of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				viewerID, err := viewer(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.ListTargets(ctx, viewerID, args[0], domain.TargetKind(listKind))
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.UID, t.Kind, t.Location, yesNo(t.Active)})
				}
				return printRows(items, table.Row{"ID", "UID", "Kind", "Location", "Active"}, rows)
			})
		},
	}
	list.Flags().StringVar(&listKind, "kind", "", "only image or text targets")
	tgt.AddCommand(list)

	var active bool
	flag := &cobra.Command{
		Use:   "flag COLLECTION TARGET_ID",
		Short: "Withhold a target from work, or --active to offer it again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.FlagTarget(ctx, userID, args[0], args[1], active)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	flag.Flags().BoolVar(&active, "active", false, "offer the target again")
	tgt.AddCommand(flag)
	return tgt
}
