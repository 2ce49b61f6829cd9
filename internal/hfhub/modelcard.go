package hfhub

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"text/template"
	"time"

	"github.com/lamim/dermaforge/pkg/models"
)

// DefaultCardTemplate renders the README.md of a published model
const DefaultCardTemplate = `---
library_name: dermaforge
pipeline_tag: image-classification
tags:
- image-classification
- skin-lesion
---

# {{.ModelName}}

Skin-lesion image classifier trained with dermaforge in two phases (frozen
backbone, then full fine-tuning). This is the checkpoint with the lowest
validation loss of its run.

| Field | Value |
|---|---|
| Architecture | {{.Arch}} |
| Epoch | {{.Epoch}} |
| Validation loss | {{.ValLoss}} |
| Input size | {{.ImageSize}}x{{.ImageSize}} RGB |
| Run | {{.RunID}} |
| Saved | {{.SavedAt}} |

## Classes

| Index | Label |
|---|---|
{{range .Classes}}| {{.Index}} | {{.Label}} |
{{end}}
## Files

- ` + "`{{.CheckpointFile}}`" + `: checkpoint (model_state, idx_to_class, hparams)
`

// forbiddenDirectives are rejected in user-supplied card templates
var forbiddenDirectives = []string{"{{call", "{{define", "{{template", "{{block"}

// CardClass is one row of the class table
type CardClass struct {
	Index int
	Label string
}

// CardData returns the template fields describing cp
func CardData(repoID, checkpointFile string, cp *models.Checkpoint) map[string]any {
	_, name, _ := strings.Cut(repoID, "/")

	indices := make([]int, 0, len(cp.ClassIndexMap))
	for idx := range cp.ClassIndexMap {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	classes := make([]CardClass, 0, len(indices))
	for _, idx := range indices {
		classes = append(classes, CardClass{Index: idx, Label: cp.ClassIndexMap[idx]})
	}

	arch, imageSize := "unknown", 0
	if hp := cp.Hyperparameters; hp != nil {
		arch, imageSize = hp.Arch, hp.ImageSize
	}
	valLoss := "n/a"
	if cp.ValLoss != nil {
		valLoss = fmt.Sprintf("%.4f", *cp.ValLoss)
	}

	return map[string]any{
		"ModelName":      name,
		"RepoID":         repoID,
		"Arch":           arch,
		"Epoch":          cp.Epoch,
		"ValLoss":        valLoss,
		"ImageSize":      imageSize,
		"RunID":          cp.RunID,
		"SavedAt":        cp.SavedAt.UTC().Format(time.RFC3339),
		"Phase":          string(cp.TrainingPhase),
		"Classes":        classes,
		"CheckpointFile": checkpointFile,
	}
}

// RenderCard renders a model card template. Missing keys are errors.
func RenderCard(tmpl string, data map[string]any) (string, error) {
	for _, directive := range forbiddenDirectives {
		if strings.Contains(tmpl, directive) {
			return "", fmt.Errorf("template contains forbidden directive: %s", directive)
		}
	}

	t, err := template.New("card").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// ModelFiles assembles the files of one publish: the encoded checkpoint,
// its model card and the LFS attributes. extra files are appended as given.
func ModelFiles(checkpointFile string, checkpointData []byte, card string, extra ...File) []File {
	files := []File{
		{Path: ".gitattributes", Data: []byte(gitattributes)},
		{Path: "README.md", Data: []byte(card)},
		{Path: checkpointFile, Data: checkpointData},
	}
	return append(files, extra...)
}
