package account

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"DiceSentinel/internal/model"
)

// Load reads the account collection from a JSON file.
// A missing file or a file that cannot be parsed yields an empty collection.
// Nameless entries and duplicate names are dropped, first one wins.
func Load(filePath string) []model.Account {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[WARN] read accounts %s: %v", filePath, err)
		}
		return []model.Account{}
	}
	if len(data) == 0 {
		return []model.Account{}
	}
	var raw []model.Account
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("[WARN] decode accounts %s: %v", filePath, err)
		return []model.Account{}
	}

	accounts := make([]model.Account, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, a := range raw {
		if a.Name == "" {
			log.Printf("[WARN] skipping account without name in %s", filePath)
			continue
		}
		if seen[a.Name] {
			log.Printf("[WARN] skipping duplicate account %q in %s", a.Name, filePath)
			continue
		}
		seen[a.Name] = true
		accounts = append(accounts, a)
	}
	return accounts
}

// Save writes the whole account collection to a JSON file, creating the
// parent directory first.
func Save(filePath string, accounts []model.Account) error {
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create accounts dir: %w", err)
		}
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	data, err := json.MarshalIndent(accounts, "", "    ")
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("write accounts: %w", err)
	}
	return nil
}
