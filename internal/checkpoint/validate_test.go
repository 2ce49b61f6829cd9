package checkpoint

import (
	"errors"
	"testing"

	"github.com/lamim/dermaforge/pkg/models"
)

func TestValidateCheckpoint(t *testing.T) {
	classes := map[int]string{0: "melanoma", 1: "nevus", 2: "keratosis"}
	hp := &models.Hyperparameters{Arch: "mlp_b1", NumClasses: 3, EmbeddingDim: 256, HiddenDim: 512, ImageSize: 16}

	tests := []struct {
		name    string
		mutate  func(cp *models.Checkpoint)
		wantErr bool
	}{
		{name: "matching", mutate: func(cp *models.Checkpoint) {}},
		{name: "no hparams recorded", mutate: func(cp *models.Checkpoint) { cp.Hyperparameters = nil }},
		{name: "different class count", mutate: func(cp *models.Checkpoint) {
			cp.ClassIndexMap = map[int]string{0: "melanoma", 1: "nevus"}
		}, wantErr: true},
		{name: "renamed class", mutate: func(cp *models.Checkpoint) { cp.ClassIndexMap[2] = "other" }, wantErr: true},
		{name: "different arch", mutate: func(cp *models.Checkpoint) { cp.Hyperparameters.Arch = "mlp_b2" }, wantErr: true},
		{name: "different embedding", mutate: func(cp *models.Checkpoint) { cp.Hyperparameters.EmbeddingDim = 128 }, wantErr: true},
		{name: "different image size", mutate: func(cp *models.Checkpoint) { cp.Hyperparameters.ImageSize = 32 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := fullCheckpoint()
			tt.mutate(cp)
			err := ValidateCheckpoint(cp, classes, hp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateCheckpoint() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrClassMapMismatch) {
				t.Errorf("error %v does not match ErrClassMapMismatch", err)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(models.SlotBest, "/tmp/best", nil)
	if s.Present {
		t.Error("nil checkpoint must summarize as absent")
	}

	s = Summarize(models.SlotLast, "/tmp/last", fullCheckpoint())
	if !s.Present || s.Epoch != 7 || s.Phase != models.PhaseFinetune || s.NumClasses != 3 {
		t.Errorf("unexpected summary %+v", s)
	}
	if !s.HasOptim || !s.HasSched || !s.HasScaler {
		t.Errorf("expected all optional states present: %+v", s)
	}
}
