// Package broadcast sends one templated text to many recipients through a
// WhatsApp session.
package broadcast

import "strings"

// RenderTemplate replaces {key} placeholders with values from data.
// Unknown placeholders are left untouched.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}
