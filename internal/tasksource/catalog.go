package tasksource

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// UnknownGame is the display name of tasks missing from the catalog.
const UnknownGame = "Unknown Game"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Catalog maps task ids to game display names.
type Catalog map[string]string

// Name returns the display name for id.
func (c Catalog) Name(id string) string {
	return c.NameOr(id, "")
}

// NameOr looks id up and falls back to fallback, then to UnknownGame.
func (c Catalog) NameOr(id, fallback string) string {
	if name, ok := c[id]; ok && strings.TrimSpace(name) != "" {
		return name
	}
	if strings.TrimSpace(fallback) != "" {
		return strings.TrimSpace(fallback)
	}
	return UnknownGame
}

// LoadCatalog reads a CSV file with "id" and "name" columns. The file may be
// UTF-8 (with or without BOM) or GB18030, as exported by Chinese Windows
// spreadsheet tools.
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes catalog content; see LoadCatalog.
func ParseCatalog(raw []byte) (Catalog, error) {
	text, err := decodeCatalogText(raw)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	idCol, nameCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "id":
			idCol = i
		case "name":
			nameCol = i
		}
	}
	if idCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("catalog header must contain id and name columns, got %v", header)
	}

	catalog := Catalog{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog row: %w", err)
		}
		if idCol >= len(record) || nameCol >= len(record) {
			continue
		}
		id := strings.TrimSpace(record[idCol])
		if id == "" {
			continue
		}
		catalog[id] = strings.TrimSpace(record[nameCol])
	}
	return catalog, nil
}

func decodeCatalogText(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("catalog is neither UTF-8 nor GB18030: %w", err)
	}
	return string(decoded), nil
}
