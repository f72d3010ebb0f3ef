package tasksource

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
)

// DefaultFilter keeps failed tasks whose info mentions a missing mappings
// file and projects them to {id, name, info}.
const DefaultFilter = `(if type == "array" then .[] else (.tasks // .data // [])[] end)
| select(((.info // "") | ascii_downcase) as $i | ($i | contains("us_map")) or ($i | contains("usmap")))
| {id: (.id | tostring), name: (.name // ""), info: (.info // "")}`

var filterCache sync.Map

func compileFilter(filter string) (*gojq.Code, error) {
	if strings.TrimSpace(filter) == "" {
		filter = DefaultFilter
	}
	if code, ok := filterCache.Load(filter); ok {
		cached, ok := code.(*gojq.Code)
		if !ok {
			return nil, fmt.Errorf("invalid cached jq code for filter %q", filter)
		}
		return cached, nil
	}

	parsed, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid task filter: %w", err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to compile task filter: %w", err)
	}

	filterCache.Store(filter, code)
	return code, nil
}

// item is one projected filter result.
type item struct {
	ID   string
	Name string
	Info string
}

func runFilter(code *gojq.Code, payload any) ([]item, error) {
	iter := code.Run(payload)
	var items []item
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("task filter failed: %w", err)
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("task filter must yield objects, got %T", v)
		}
		id := scalarString(obj["id"])
		if id == "" {
			continue
		}
		items = append(items, item{
			ID:   id,
			Name: scalarString(obj["name"]),
			Info: scalarString(obj["info"]),
		})
	}
	return items, nil
}

func scalarString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		if value == math.Trunc(value) && math.Abs(value) < 1<<53 {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	default:
		return fmt.Sprint(value)
	}
}
