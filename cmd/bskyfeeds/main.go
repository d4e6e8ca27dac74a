// Package main provides the bskyfeeds CLI entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aokiyuu/bskyfeeds/internal/bluesky"
	"github.com/aokiyuu/bskyfeeds/internal/config"
	"github.com/aokiyuu/bskyfeeds/internal/feed"
	"github.com/aokiyuu/bskyfeeds/internal/server"
	"github.com/aokiyuu/bskyfeeds/internal/session"
)

var version = "0.1.0"

// feedDef ties a feed's published record to its assembler.
type feedDef struct {
	rkey        string
	displayName string
	description string
	assemble    func(a *feed.Assembler) server.FeedFunc
}

var feedDefs = []feedDef{
	{
		rkey:        "oneyearago",
		displayName: "One Year Ago",
		description: "Your own posts from this day one year ago.",
		assemble:    func(a *feed.Assembler) server.FeedFunc { return a.Anniversary },
	},
	{
		rkey:        "todo",
		displayName: "TODO",
		description: "Your open TODO posts. Reply DONE to a post to clear it.",
		assemble:    func(a *feed.Assembler) server.FeedFunc { return a.OpenTodos },
	},
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command for the bskyfeeds CLI.
func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:     "bskyfeeds",
		Short:   "Serve algorithmic Bluesky feeds",
		Long:    "Bskyfeeds serves algorithmic feed skeletons for the Bluesky feed generator protocol.",
		Version: version,
	}

	rootCmd.SetVersionTemplate("bskyfeeds version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to a .env file to load")

	rootCmd.AddCommand(newServeCmd(&envFile))
	rootCmd.AddCommand(newPublishCmd(&envFile))
	rootCmd.AddCommand(newUnpublishCmd(&envFile))

	return rootCmd
}

// newServeCmd creates the serve subcommand.
func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the feed generator HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

			authClient := bluesky.NewClient(bluesky.WithPDSURL(cfg.PDSURL))
			sess := session.New(authClient, cfg.Handle, cfg.Password, session.WithLogger(log))
			apiClient := bluesky.NewClient(
				bluesky.WithAppViewURL(cfg.AppViewURL),
				bluesky.WithPDSURL(cfg.PDSURL),
				bluesky.WithTokenSource(sess),
			)

			assembler := feed.NewAssembler(apiClient,
				feed.WithAssemblerPageDelay(cfg.PageDelay),
				feed.WithAssemblerLogger(log),
			)

			feeds := make(map[string]server.FeedFunc, len(feedDefs))
			for _, def := range feedDefs {
				feeds[def.rkey] = def.assemble(assembler)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Non-fatal: a failed login here is retried on first use.
			_ = sess.Start(ctx)

			srv := server.New(cfg.Hostname, sess.DID, feeds, server.WithLogger(log))
			httpServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Port),
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("feed generator listening", "addr", httpServer.Addr, "hostname", cfg.Hostname)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
}

// newPublishCmd creates the publish subcommand.
func newPublishCmd(envFile *string) *cobra.Command {
	var only string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the feed generator records to the service account's repo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachFeed(cmd, *envFile, only, func(ctx context.Context, client *bluesky.Client, repoDID, serviceDID string, def feedDef) error {
				record := bluesky.FeedGeneratorRecord{
					Type:        bluesky.GeneratorCollection,
					DID:         serviceDID,
					DisplayName: def.displayName,
					Description: def.description,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if err := client.PutRecord(ctx, repoDID, bluesky.GeneratorCollection, def.rkey, record); err != nil {
					return fmt.Errorf("publish %s: %w", def.rkey, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published at://%s/%s/%s\n", repoDID, bluesky.GeneratorCollection, def.rkey)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&only, "feed", "f", "", "Publish a single feed by record key")

	return cmd
}

// newUnpublishCmd creates the unpublish subcommand.
func newUnpublishCmd(envFile *string) *cobra.Command {
	var only string

	cmd := &cobra.Command{
		Use:   "unpublish",
		Short: "Remove the feed generator records from the service account's repo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachFeed(cmd, *envFile, only, func(ctx context.Context, client *bluesky.Client, repoDID, serviceDID string, def feedDef) error {
				if err := client.DeleteRecord(ctx, repoDID, bluesky.GeneratorCollection, def.rkey); err != nil {
					return fmt.Errorf("unpublish %s: %w", def.rkey, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed at://%s/%s/%s\n", repoDID, bluesky.GeneratorCollection, def.rkey)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&only, "feed", "f", "", "Unpublish a single feed by record key")

	return cmd
}

// forEachFeed logs in with the configured service account and applies fn
// to each selected feed definition.
func forEachFeed(cmd *cobra.Command, envFile, only string, fn func(ctx context.Context, client *bluesky.Client, repoDID, serviceDID string, def feedDef) error) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx := cmd.Context()
	authClient := bluesky.NewClient(bluesky.WithPDSURL(cfg.PDSURL))
	sess, err := authClient.CreateSession(ctx, cfg.Handle, cfg.Password)
	if err != nil {
		return fmt.Errorf("login as %s: %w", cfg.Handle, err)
	}

	client := bluesky.NewClient(
		bluesky.WithPDSURL(cfg.PDSURL),
		bluesky.WithTokenSource(bluesky.StaticToken(sess.AccessJwt)),
	)

	selected := make([]feedDef, 0, len(feedDefs))
	for _, def := range feedDefs {
		if only == "" || def.rkey == only {
			selected = append(selected, def)
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("unknown feed %q", only)
	}

	for _, def := range selected {
		if err := fn(ctx, client, sess.DID, cfg.ServiceDID(), def); err != nil {
			return err
		}
	}
	return nil
}
