// internal/service/template_service.go
package service

import (
	"fmt"
	"strings"

	"github.com/unclebandit/clinicreach-backend/internal/model"
)

func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		if v == "" {
			v = "<unknown>"
		}
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// TemplateData flattens a recipient plus the enrollment context into
// the placeholder map. Nested context values get dotted keys, so a
// template can say {appointment.start}.
func TemplateData(rec *model.Recipient, ctx map[string]any) map[string]string {
	data := map[string]string{
		"first_name": rec.FirstName,
		"last_name":  rec.LastName,
		"location":   rec.Location,
		"phone":      rec.Phone,
		"email":      rec.Email,
	}
	for k, v := range rec.Attrs {
		data[k] = v
	}
	flattenContext("", ctx, data)
	return data
}

func flattenContext(prefix string, ctx map[string]any, out map[string]string) {
	for k, v := range ctx {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenContext(key, val, out)
		case string:
			out[key] = val
		case float64, bool, int:
			out[key] = fmt.Sprintf("%v", val)
		}
	}
}
