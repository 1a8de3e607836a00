package wallets

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RosterEntry is one curated wallet with its reputation score.
type RosterEntry struct {
	Address string
	Score   float64
}

// LoadRoster reads the curated wallet CSV. The file has a header row and
// columns Wallet (a bare address or an explorer URL ending in the address)
// and score. Rows with an empty address are skipped.
func LoadRoster(path string) ([]RosterEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wallets: open roster: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("wallets: parse roster: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("wallets: roster %s is empty", path)
	}

	header := records[0]
	walletCol, scoreCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "wallet":
			walletCol = i
		case "score":
			scoreCol = i
		}
	}
	if walletCol < 0 {
		return nil, fmt.Errorf("wallets: roster %s has no Wallet column", path)
	}

	var entries []RosterEntry
	for _, row := range records[1:] {
		if walletCol >= len(row) {
			continue
		}
		addr := addressFromCell(row[walletCol])
		if addr == "" {
			continue
		}

		score := 0.0
		if scoreCol >= 0 && scoreCol < len(row) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(row[scoreCol]), 64); err == nil {
				score = v
			}
		}
		entries = append(entries, RosterEntry{Address: addr, Score: score})
	}

	// Highest-reputation wallets first.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })

	log.Info().Int("wallets", len(entries)).Str("path", path).Msg("wallets: roster loaded")
	return entries, nil
}

// addressFromCell strips an explorer URL prefix, keeping the trailing address.
func addressFromCell(cell string) string {
	cell = strings.TrimSpace(cell)
	if i := strings.LastIndex(cell, "/"); i >= 0 {
		cell = cell[i+1:]
	}
	return strings.TrimSpace(cell)
}

// LoadRosterInto loads the roster file and registers every entry.
func LoadRosterInto(path string, registry *Registry) (int, error) {
	entries, err := LoadRoster(path)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		registry.Add(e.Address, e.Score)
	}
	return len(entries), nil
}
