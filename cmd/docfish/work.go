package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docfish/internal/domain"
	"docfish/internal/engine"
)

func nextCmd() *cobra.Command {
	var task, kind, skip string
	var pair bool
	cmd := &cobra.Command{
		Use:   "next COLLECTION",
		Short: "Get the next target --as (or --team) has no record for",
		Long:  "Team members asking before anyone submits see the same target; the next one is shown so work can continue.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actingAs(ctx, e)
				if err != nil {
					return err
				}
				req := engine.SelectRequest{
					Actor:        actor,
					CollectionID: args[0],
					Task:         domain.TaskKind(task),
					Kind:         domain.TargetKind(kind),
					Skip:         skip,
				}
				var a domain.Assignment
				if pair || actor.IsTeam() {
					if a, err = e.SelectPair(ctx, req); err != nil {
						return err
					}
				} else if a.Current, err = e.SelectNext(ctx, req); err != nil {
					return err
				}
				if a.Current == nil && !viper.GetBool("json") {
					fmt.Println("nothing left to do")
					return nil
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&task, "task", "annotation", "annotation, describe or markup")
	cmd.Flags().StringVar(&kind, "kind", "image", "image or text")
	cmd.Flags().StringVar(&skip, "skip", "", "target id to pass over")
	cmd.Flags().BoolVar(&pair, "pair", false, "also show the target after the current one")
	return cmd
}

func annotateCmd() *cobra.Command {
	ann := &cobra.Command{Use: "annotate", Short: "Record, clear and summarize labels"}

	var coords []string
	apply := &cobra.Command{
		Use:   "apply COLLECTION TARGET_ID NAME=LABEL...",
		Short: "Record labels for a target",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sels, err := parseSelections(args[2:], coords)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actingAs(ctx, e)
				if err != nil {
					return err
				}
				recs, err := e.ApplyMany(ctx, actor, args[0], args[1], sels)
				if err != nil {
					return err
				}
				return printRecords(recs)
			})
		},
	}
	apply.Flags().StringArrayVar(&coords, "coords", nil, "NAME=JSON coordinates for a selection; repeatable")
	ann.AddCommand(apply)

	ann.AddCommand(&cobra.Command{
		Use:   "clear COLLECTION TARGET_ID",
		Short: "Remove your labels for a target so it is offered again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actingAs(ctx, e)
				if err != nil {
					return err
				}
				ok, err := e.Clear(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"cleared": ok})
			})
		},
	})

	ann.AddCommand(&cobra.Command{
		Use:   "summary COLLECTION TARGET_ID",
		Short: "Your labels and how many scopes recorded each name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actingAs(ctx, e)
				if err != nil {
					return err
				}
				sum, err := e.Summarize(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				names := make([]string, 0, len(sum.Counts))
				for name := range sum.Counts {
					names = append(names, name)
				}
				for name := range sum.Labels {
					if _, ok := sum.Counts[name]; !ok {
						names = append(names, name)
					}
				}
				sort.Strings(names)
				rows := make([]table.Row, 0, len(names))
				for _, name := range names {
					rows = append(rows, table.Row{name, sum.Labels[name], sum.Counts[name]})
				}
				return printRows(sum, table.Row{"Name", "Your label", "Scopes"}, rows)
			})
		},
	})

	ann.AddCommand(recordListCmd("annotation records", func(ctx context.Context, e engine.Engine, viewerID, cid, target string, sc *domain.Scope) error {
		recs, err := e.ListAnnotations(ctx, viewerID, cid, target, sc)
		if err != nil {
			return err
		}
		return printRecords(recs)
	}))
	return ann
}

func markupCmd() *cobra.Command {
	mk := &cobra.Command{Use: "markup", Short: "Save and show markup"}

	var img domain.ImageMarkup
	var txt domain.TextMarkup
	var spans []string
	set := &cobra.Command{
		Use:   "set COLLECTION TARGET_ID",
		Short: "Save your markup: --overlay for images, --span for texts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload domain.MarkupPayload
			if cmd.Flags().Changed("overlay") || cmd.Flags().Changed("base") {
				payload.Image = &img
			}
			if len(spans) > 0 || cmd.Flags().Changed("text") {
				parsed, err := parseSpans(spans)
				if err != nil {
					return err
				}
				txt.Spans = parsed
				payload.Text = &txt
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actingAs(ctx, e)
				if err != nil {
					return err
				}
				rec, err := e.UpsertMarkup(ctx, actor, args[0], args[1], payload)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	set.Flags().StringVar(&img.OverlayPath, "overlay", "", "overlay image path")
	set.Flags().StringVar(&img.BasePath, "base", "", "base image path (reused from earlier markup when empty)")
	set.Flags().StringVar(&img.TransformJSON, "transform", "", "overlay transform as JSON")
	set.Flags().StringVar(&txt.Text, "text", "", "marked text")
	set.Flags().StringVar(&txt.Delimiter, "delimiter", "", "token delimiter pattern (default \\w)")
	set.Flags().StringArrayVar(&spans, "span", nil, "START:END character span; repeatable")
	mk.AddCommand(set)

	mk.AddCommand(&cobra.Command{
		Use:   "show COLLECTION TARGET_ID",
		Short: "Show your markup for a target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actingAs(ctx, e)
				if err != nil {
					return err
				}
				rec, err := e.GetMarkup(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	})

	mk.AddCommand(recordListCmd("markups", func(ctx context.Context, e engine.Engine, viewerID, cid, target string, sc *domain.Scope) error {
		recs, err := e.ListMarkups(ctx, viewerID, cid, target, sc)
		if err != nil {
			return err
		}
		rows := make([]table.Row, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, table.Row{r.TargetID, r.Scope.String(), r.Kind, r.UpdatedAt})
		}
		return printRows(recs, table.Row{"Target", "Scope", "Kind", "Updated"}, rows)
	}))
	return mk
}

func describeCmd() *cobra.Command {
	desc := &cobra.Command{Use: "describe", Short: "Save and show descriptions"}
	desc.AddCommand(&cobra.Command{
		Use:   "set COLLECTION TARGET_ID TEXT",
		Short: "Save your description of a target",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actingAs(ctx, e)
				if err != nil {
					return err
				}
				rec, err := e.UpsertDescription(ctx, actor, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	})
	desc.AddCommand(&cobra.Command{
		Use:   "show COLLECTION TARGET_ID",
		Short: "Show your description of a target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actingAs(ctx, e)
				if err != nil {
					return err
				}
				rec, err := e.GetDescription(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	})

	desc.AddCommand(recordListCmd("descriptions", func(ctx context.Context, e engine.Engine, viewerID, cid, target string, sc *domain.Scope) error {
		recs, err := e.ListDescriptions(ctx, viewerID, cid, target, sc)
		if err != nil {
			return err
		}
		rows := make([]table.Row, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, table.Row{r.TargetID, r.Scope.String(), r.Body, r.UpdatedAt})
		}
		return printRows(recs, table.Row{"Target", "Scope", "Description", "Updated"}, rows)
	}))
	return desc
}

type recordLister func(ctx context.Context, e engine.Engine, viewerID, collectionID, targetID string, scope *domain.Scope) error

// recordListCmd builds a "list COLLECTION" command with --target and --scope filters.
func recordListCmd(what string, list recordLister) *cobra.Command {
	var target, scope string
	cmd := &cobra.Command{
		Use:   "list COLLECTION",
		Short: "List " + what,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := domain.ParseScope(scope)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				viewerID, err := viewer(ctx, e)
				if err != nil {
					return err
				}
				return list(ctx, e, viewerID, args[0], target, sc)
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "only this target")
	cmd.Flags().StringVar(&scope, "scope", "", "only this owner, as user:<id> or team:<id>")
	return cmd
}

func printRecords(recs []domain.AnnotationRecord) error {
	rows := make([]table.Row, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, table.Row{r.TargetID, r.Scope.String(), r.Name, r.Label, r.UpdatedAt})
	}
	return printRows(recs, table.Row{"Target", "Scope", "Name", "Label", "Updated"}, rows)
}

// parseSelections reads NAME=LABEL pairs; coords holds NAME=JSON entries.
func parseSelections(pairs, coords []string) ([]engine.Selection, error) {
	byName := make(map[string]string, len(coords))
	for _, c := range coords {
		name, doc, ok := strings.Cut(c, "=")
		if !ok {
			return nil, fmt.Errorf("--coords %q: want NAME=JSON", c)
		}
		byName[name] = doc
	}
	sels := make([]engine.Selection, 0, len(pairs))
	for _, p := range pairs {
		name, label, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("selection %q: want NAME=LABEL", p)
		}
		sels = append(sels, engine.Selection{Name: name, Label: label, CoordinatesJSON: byName[name]})
	}
	return sels, nil
}

func parseSpans(raw []string) ([]domain.Span, error) {
	out := make([]domain.Span, 0, len(raw))
	for _, r := range raw {
		a, b, ok := strings.Cut(r, ":")
		if !ok {
			return nil, fmt.Errorf("span %q: want START:END", r)
		}
		start, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("span %q: %w", r, err)
		}
		end, err := strconv.Atoi(b)
		if err != nil {
			return nil, fmt.Errorf("span %q: %w", r, err)
		}
		if start < 0 || end < start {
			return nil, fmt.Errorf("span %q: want 0 <= START <= END", r)
		}
		out = append(out, domain.Span{Start: start, End: end})
	}
	return out, nil
}
