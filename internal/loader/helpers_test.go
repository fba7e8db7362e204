package loader

import (
	"encoding/json"
	"strings"
)

// jsonEscape returns s escaped for embedding inside a JSON string literal.
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return strings.Trim(string(b), `"`)
}
