package store

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"qms/window-queue/internal/models"

	"gopkg.in/yaml.v3"
)

// Seed is the directory data a store starts with.
type Seed struct {
	Branches   []models.Branch        `yaml:"branches"`
	Windows    []models.ServiceWindow `yaml:"windows"`
	Categories []models.Category      `yaml:"categories"`
}

func LoadSeedFile(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	if err := CheckWindowPrefixes(seed.Windows); err != nil {
		return Seed{}, fmt.Errorf("seed %s: %w", path, err)
	}
	return seed, nil
}

// CheckWindowPrefixes rejects two live windows of one branch that would mint
// the same ticket numbers.
func CheckWindowPrefixes(windows []models.ServiceWindow) error {
	sorted := slices.Clone(windows)
	slices.SortFunc(sorted, func(a, b models.ServiceWindow) int {
		return strings.Compare(a.WindowID, b.WindowID)
	})
	owners := make(map[string]string)
	for _, window := range sorted {
		if !window.Live() {
			continue
		}
		prefix := window.TicketPrefix()
		key := window.BranchID + "\x00" + prefix
		if owner, ok := owners[key]; ok && owner != window.WindowID {
			return fmt.Errorf("%w: windows %s and %s in branch %s both use %q", ErrPrefixCollision, owner, window.WindowID, window.BranchID, prefix)
		}
		owners[key] = window.WindowID
	}
	return nil
}
