package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lamim/dermaforge/internal/checkpoint"
	"github.com/lamim/dermaforge/internal/writer"
	"github.com/lamim/dermaforge/pkg/models"
	"github.com/spf13/cobra"
)

func newCheckpointCmd() *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoints",
		Long:  "Inspect and prune the LAST and BEST checkpoint slots",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show the status of both slots",
		RunE:  listCheckpoints,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <last|best>",
		Short: "Inspect a checkpoint slot",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectCheckpoint,
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove the LAST checkpoint",
		Long:  "Remove LAST so the next train warm-starts from BEST instead of resuming",
		RunE:  pruneCheckpoint,
	}

	checkpointCmd.AddCommand(listCmd)
	checkpointCmd.AddCommand(inspectCmd)
	checkpointCmd.AddCommand(pruneCmd)
	return checkpointCmd
}

func openStore() (*checkpoint.Store, error) {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := checkpoint.Open(cfg.Checkpoint, secrets, writer.NewLogger(slog.LevelWarn))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return store, nil
}

func formatLoss(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.4f", *v)
}

// listCheckpoints shows both slots; a corrupt slot is reported, not fatal
func listCheckpoints(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	fmt.Printf("%-6s %-10s %-7s %-10s %-9s %s\n", "SLOT", "STATUS", "EPOCH", "PHASE", "VAL_LOSS", "LOCATION")
	fmt.Println(strings.Repeat("-", 80))

	for _, slot := range []models.Slot{models.SlotLast, models.SlotBest} {
		cp, err := store.Read(context.Background(), slot)
		status := "present"
		switch {
		case errors.Is(err, checkpoint.ErrCorruptCheckpoint):
			status = "corrupt"
		case err != nil:
			return fmt.Errorf("failed to read %s: %w", slot, err)
		case cp == nil:
			status = "absent"
		}

		s := checkpoint.Summarize(slot, store.Location(slot), cp)
		epoch, phase := "-", "-"
		if s.Present {
			epoch = fmt.Sprintf("%d", s.Epoch)
			phase = string(s.Phase)
		}
		fmt.Printf("%-6s %-10s %-7s %-10s %-9s %s\n", slot, status, epoch, phase, formatLoss(s.ValLoss), s.Location)
	}
	return nil
}

// inspectCheckpoint prints the metadata of one slot
func inspectCheckpoint(cmd *cobra.Command, args []string) error {
	slot, err := models.ParseSlot(args[0])
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}

	cp, err := store.Read(context.Background(), slot)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if cp == nil {
		fmt.Printf("No %s checkpoint at %s\n", slot, store.Location(slot))
		return nil
	}

	s := checkpoint.Summarize(slot, store.Location(slot), cp)
	fmt.Printf("Checkpoint Information for: %s\n", slot)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Location:            %s\n", s.Location)
	fmt.Printf("Run ID:              %s\n", s.RunID)
	fmt.Printf("Saved At:            %s\n", cp.SavedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Epoch:               %d\n", s.Epoch)
	fmt.Printf("Training Phase:      %s\n", s.Phase)
	fmt.Printf("Validation Loss:     %s\n", formatLoss(s.ValLoss))
	fmt.Println()

	fmt.Println("State:")
	fmt.Printf("  Model:             %d bytes\n", len(cp.ModelState))
	fmt.Printf("  Optimizer:         %s\n", presentStr(s.HasOptim))
	fmt.Printf("  Scheduler:         %s\n", presentStr(s.HasSched))
	fmt.Printf("  Loss Scaler:       %s\n", presentStr(s.HasScaler))
	if es := cp.EarlyStopping; es != nil {
		fmt.Printf("  Early Stopping:    best %s, stale %d\n", formatLoss(es.BestLoss), es.StaleCount)
	}
	fmt.Println()

	if hp := cp.Hyperparameters; hp != nil {
		fmt.Println("Hyperparameters:")
		fmt.Printf("  Arch:              %s\n", hp.Arch)
		fmt.Printf("  Image Size:        %d\n", hp.ImageSize)
		fmt.Printf("  Hidden Dim:        %d\n", hp.HiddenDim)
		fmt.Printf("  Embedding Dim:     %d\n", hp.EmbeddingDim)
		fmt.Println()
	}

	fmt.Printf("Classes (%d):\n", s.NumClasses)
	indices := make([]int, 0, len(cp.ClassIndexMap))
	for idx := range cp.ClassIndexMap {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	for _, idx := range indices {
		fmt.Printf("  %3d  %s\n", idx, cp.ClassIndexMap[idx])
	}
	return nil
}

func pruneCheckpoint(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.Remove(context.Background(), models.SlotLast); err != nil {
		return fmt.Errorf("failed to remove last checkpoint: %w", err)
	}
	fmt.Printf("Removed %s\n", store.Location(models.SlotLast))
	return nil
}

// showHistory prints the epoch history of a run directory
func showHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	name := args[0]
	if err := writer.ValidateRunName(cfg.Output.Dir, name); err != nil {
		return fmt.Errorf("invalid run directory: %w", err)
	}

	records, err := writer.ReadHistory(filepath.Join(cfg.Output.Dir, name, writer.HistoryFilename))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No epochs recorded.")
		return nil
	}

	fmt.Printf("%-6s %-9s %-10s %-10s %-8s %-8s %-10s %s\n",
		"EPOCH", "PHASE", "TRAIN_LOSS", "VAL_LOSS", "VAL_ACC", "F1", "LR", "BEST")
	fmt.Println(strings.Repeat("-", 80))
	for _, r := range records {
		best := ""
		if r.Improved {
			best = "*"
		}
		fmt.Printf("%-6d %-9s %-10.4f %-10.4f %-8.4f %-8.4f %-10.2e %s\n",
			r.Epoch, r.Phase, r.TrainLoss, r.ValLoss, r.ValAccuracy, r.F1, r.LearningRate, best)
	}
	return nil
}

func presentStr(present bool) string {
	if present {
		return "present"
	}
	return "absent"
}
