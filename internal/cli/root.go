// Package cli provides the omnictl command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/gozhiyuan/omnimemory-sub000/internal/blob"
	"github.com/gozhiyuan/omnimemory-sub000/internal/config"
	"github.com/gozhiyuan/omnimemory-sub000/internal/db"
	"github.com/gozhiyuan/omnimemory-sub000/internal/embedding"
	"github.com/gozhiyuan/omnimemory-sub000/internal/job"
	"github.com/gozhiyuan/omnimemory-sub000/internal/service"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and db client
	cfg      config.Config
	dbClient *db.Client

	// Lazy-initialized embedding-backed index
	embedder *embedding.Embedder
	memIndex vector.Index
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "omnictl",
	Short: "Operate the OmniMemory ingestion pipeline",
	Long: `Omnictl operates an OmniMemory deployment: it ingests captured media,
inspects items and the episodes they clustered into, triggers rollups and
reconcile sweeps, and administers the background task queue.

Processing itself runs in the omnid daemon; most omnictl commands either
read state or enqueue work for it.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		// Connect to database
		ctx := context.Background()
		dbCfg := db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}

		dbClient, err = db.NewClient(ctx, dbCfg, nil)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		// Initialize schema
		if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Close database connection
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
	},
}

// getIndex lazily builds the embedding-backed vector index. Commands that
// only read rows never pay for embedder construction.
func getIndex() (vector.Index, error) {
	if memIndex == nil {
		var err error
		embedder, err = embedding.NewEmbedder(cfg, nil)
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		memIndex = vector.NewSurrealIndex(dbClient, embedder, nil)
	}
	return memIndex, nil
}

// newQueue creates the task queue over the shared db client.
func newQueue() *job.Queue {
	return job.NewQueue(dbClient, cfg.TaskMaxAttempts)
}

// newBlobStore opens the configured filesystem blob store.
func newBlobStore() (blob.Store, error) {
	return blob.NewFS(cfg.BlobDir)
}

// browseService creates the read/admin service. Pass withIndex for commands
// that reindex records (edits).
func browseService(withIndex bool) (*service.BrowseService, error) {
	var idx vector.Index
	if withIndex {
		var err error
		idx, err = getIndex()
		if err != nil {
			return nil, err
		}
	}
	return service.NewBrowseService(dbClient, newQueue(), idx, nil), nil
}

// userOrDefault falls back to the configured default user.
func userOrDefault(user string) string {
	if user != "" {
		return user
	}
	return cfg.DefaultUser
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the omnictl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("omnictl %s\n", Version)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(episodesCmd)
	rootCmd.AddCommand(rollupsCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}
