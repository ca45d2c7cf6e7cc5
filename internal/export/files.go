package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/abhisek/bktrace/internal/training"
)

// Files writes bkt_params.json and mastery_scores.json into Dir.
type Files struct {
	Dir string
}

func (f *Files) Name() string { return "files" }

func (f *Files) Export(ctx context.Context, a *training.Artifacts) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	params, err := NewParamsFile(a)
	if err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(f.Dir, ParamsFileName), params); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeJSON(filepath.Join(f.Dir, MasteryFileName), NewMasteryFile(a))
}

// writeJSON writes v to a temp file and renames it into place so readers
// never see a partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
