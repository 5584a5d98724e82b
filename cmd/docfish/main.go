package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docfish/internal/app"
	"docfish/internal/domain"
	"docfish/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "docfish",
	Short: "docfish annotation engine",
	Long: `docfish hands out images and texts for labelling, markup and description
and keeps one record per user or team for every piece of work.
- Collection: a set of entities and their targets, with an owner, contributors and a privacy flag.
- Vocabulary: the labels a collection accepts, as name:label pairs.
- Task: a kind of work on a kind of target, e.g. image_annotation; switched per collection.
- Scope: who owns a record. Use --as for yourself, add --team to work for a team.
- Event log: diary of changes, view with 'docfish log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DOCFISH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "acting user (id or username)")
	rootCmd.PersistentFlags().String("team", "", "act for a team (id or name)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json (default from config)")
	for _, name := range []string{"workspace", "json", "as", "team", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(collectionCmd())
	rootCmd.AddCommand(labelCmd())
	rootCmd.AddCommand(entityCmd())
	rootCmd.AddCommand(targetCmd())
	rootCmd.AddCommand(nextCmd())
	rootCmd.AddCommand(annotateCmd())
	rootCmd.AddCommand(markupCmd())
	rootCmd.AddCommand(describeCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	ws, err := app.OpenWorkspace(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	logger, err := app.NewLogger(os.Stderr, ws.Config, viper.GetString("log-format"))
	if err != nil {
		return err
	}
	e, err := ws.Engine(logger, nil)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

// actingAs resolves --as and --team.
func actingAs(ctx context.Context, e engine.Engine) (domain.Actor, error) {
	return app.ResolveActor(ctx, e.Repo, viper.GetString("as"), viper.GetString("team"))
}

// actingUser resolves --as and ignores --team.
func actingUser(ctx context.Context, e engine.Engine) (string, error) {
	a, err := app.ResolveActor(ctx, e.Repo, viper.GetString("as"), "")
	return a.UserID, err
}

// viewer resolves --as when given; reads work anonymously otherwise.
func viewer(ctx context.Context, e engine.Engine) (string, error) {
	if strings.TrimSpace(viper.GetString("as")) == "" {
		return "", nil
	}
	return actingUser(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRows renders a table, or v as JSON under --json.
func printRows(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
