// Package catalog loads sign reference data: the `code | name | meaning`
// text file and the detector's class-name table.
package catalog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/kdimtricp/signassist/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultMeaning is used for detector classes that have no catalog entry.
const DefaultMeaning = "Nhấn để xem chi tiết."

// Store is the write side of the sign repository.
type Store interface {
	Upsert(ctx context.Context, sign models.SignInfo) error
}

// ParseSignFile reads `code | display name | meaning` lines. Blank lines,
// comments and lines with fewer than three fields are skipped. Later lines
// win on duplicate codes.
func ParseSignFile(r io.Reader) ([]models.SignInfo, error) {
	index := make(map[string]int)
	var signs []models.SignInfo

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 3 {
			slog.Debug("skipping catalog line", "line", lineNo)
			continue
		}

		sign := models.SignInfo{
			Code:    strings.TrimSpace(parts[0]),
			Name:    strings.TrimSpace(parts[1]),
			Meaning: strings.TrimSpace(parts[2]),
		}
		if sign.Code == "" {
			continue
		}

		if i, ok := index[sign.Code]; ok {
			signs[i] = sign
			continue
		}
		index[sign.Code] = len(signs)
		signs = append(signs, sign)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sign file: %w", err)
	}
	return signs, nil
}

// LoadSignFile is ParseSignFile on a path.
func LoadSignFile(path string) ([]models.SignInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sign file: %w", err)
	}
	defer f.Close()
	return ParseSignFile(f)
}

type dataFile struct {
	Names yaml.Node `yaml:"names"`
}

// ParseClassNames decodes the `names` field of a YOLO data.yaml. Both the
// list form and the index-keyed map form are accepted.
func ParseClassNames(data []byte) (map[int]string, error) {
	var df dataFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("failed to parse class names: %w", err)
	}

	names := make(map[int]string)
	switch df.Names.Kind {
	case 0:
		return names, nil
	case yaml.SequenceNode:
		var list []string
		if err := df.Names.Decode(&list); err != nil {
			return nil, fmt.Errorf("failed to decode names list: %w", err)
		}
		for i, n := range list {
			names[i] = n
		}
	case yaml.MappingNode:
		var raw map[string]string
		if err := df.Names.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode names map: %w", err)
		}
		for k, v := range raw {
			id, err := strconv.Atoi(strings.TrimSpace(k))
			if err != nil {
				return nil, fmt.Errorf("invalid class id %q: %w", k, err)
			}
			names[id] = v
		}
	default:
		return nil, fmt.Errorf("names must be a list or a map")
	}
	return names, nil
}

func LoadClassNames(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read class names: %w", err)
	}
	return ParseClassNames(data)
}

// ImportResult summarises a catalog import.
type ImportResult struct {
	Entries  int
	Defaults int
}

// Import upserts every entry, then adds a default row for each class code
// that has no entry.
func Import(ctx context.Context, store Store, entries []models.SignInfo, classNames map[int]string) (ImportResult, error) {
	var res ImportResult
	known := make(map[string]bool, len(entries))

	for _, e := range entries {
		if err := store.Upsert(ctx, e); err != nil {
			return res, err
		}
		known[e.Code] = true
		res.Entries++
	}

	ids := make([]int, 0, len(classNames))
	for id := range classNames {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		code := classNames[id]
		if code == "" || known[code] {
			continue
		}
		if err := store.Upsert(ctx, models.SignInfo{Code: code, Name: code, Meaning: DefaultMeaning}); err != nil {
			return res, err
		}
		known[code] = true
		res.Defaults++
	}

	slog.Info("catalog imported", "entries", res.Entries, "defaults", res.Defaults)
	return res, nil
}
