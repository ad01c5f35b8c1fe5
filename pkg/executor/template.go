package executor

import (
	"encoding/json"
	"fmt"
	"os"
)

// renderTemplate substitutes ${key} placeholders with values from data.
// Non-string values are rendered as JSON. Unknown keys render empty.
func renderTemplate(template string, data map[string]any) string {
	return os.Expand(template, func(key string) string {
		value, ok := data[key]
		if !ok {
			return ""
		}
		switch v := value.(type) {
		case string:
			return v
		case nil:
			return ""
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Sprintf("%v", v)
			}
			return string(encoded)
		}
	})
}
