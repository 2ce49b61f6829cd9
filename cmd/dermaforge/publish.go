package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lamim/dermaforge/internal/checkpoint"
	"github.com/lamim/dermaforge/internal/hfhub"
	"github.com/lamim/dermaforge/internal/writer"
	"github.com/lamim/dermaforge/pkg/models"
	"github.com/spf13/cobra"
)

var (
	publishRepoID  string
	publishPrivate bool
	publishConfig  bool
)

func newPublishCmd() *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the best checkpoint to Hugging Face Hub",
		Long: `Upload the BEST checkpoint, a generated model card and (optionally) the
configuration to a Hugging Face model repository. Requires HUGGING_FACE_TOKEN.`,
		RunE: runPublish,
	}
	publishCmd.Flags().StringVar(&publishRepoID, "repo-id", "", "Hugging Face repository ID (overrides publish.repo_id)")
	publishCmd.Flags().BoolVar(&publishPrivate, "private", false, "Create the repository as private (overrides publish.private)")
	publishCmd.Flags().BoolVar(&publishConfig, "include-config", true, "Upload the configuration file as dermaforge.toml")
	return publishCmd
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	logger := writer.NewLogger(logLevel())

	repoID := cfg.Publish.RepoID
	if publishRepoID != "" {
		repoID = publishRepoID
	}
	if repoID == "" {
		return fmt.Errorf("--repo-id must be specified when publish.repo_id is not set")
	}
	if err := hfhub.ValidateRepoID(repoID); err != nil {
		return err
	}
	if secrets.HuggingFaceToken == "" {
		return fmt.Errorf("HUGGING_FACE_TOKEN environment variable must be set for uploads")
	}
	private := cfg.Publish.Private
	if cmd.Flags().Changed("private") {
		private = publishPrivate
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := checkpoint.Open(cfg.Checkpoint, secrets, logger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	best, err := store.Read(ctx, models.SlotBest)
	if err != nil {
		return fmt.Errorf("failed to read best checkpoint: %w", err)
	}
	if best == nil {
		return fmt.Errorf("no best checkpoint at %s, train a model first", store.Location(models.SlotBest))
	}
	data, err := checkpoint.Encode(best)
	if err != nil {
		return fmt.Errorf("failed to encode best checkpoint: %w", err)
	}

	tmpl := hfhub.DefaultCardTemplate
	if cfg.Publish.CardTemplate != "" {
		raw, err := os.ReadFile(cfg.Publish.CardTemplate)
		if err != nil {
			return fmt.Errorf("failed to read card template: %w", err)
		}
		tmpl = string(raw)
	}
	card, err := hfhub.RenderCard(tmpl, hfhub.CardData(repoID, cfg.Checkpoint.BestName, best))
	if err != nil {
		return fmt.Errorf("failed to render model card: %w", err)
	}

	var extra []hfhub.File
	if publishConfig {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		extra = append(extra, hfhub.File{Path: "dermaforge.toml", Data: raw})
	}

	publisher := hfhub.NewPublisher(secrets.HuggingFaceToken, cfg.Publish.Endpoint, logger)
	url, err := publisher.Publish(ctx, hfhub.Upload{
		RepoID:  repoID,
		Branch:  cfg.Publish.Branch,
		Private: private,
		Message: fmt.Sprintf("Upload best checkpoint (epoch %d)", best.Epoch),
		Files:   hfhub.ModelFiles(cfg.Checkpoint.BestName, data, card, extra...),
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	logger.Info("Published best checkpoint",
		"repo_id", repoID,
		"epoch", best.Epoch,
		"run_id", best.RunID,
		"url", url)
	return nil
}
