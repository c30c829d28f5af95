package utils

import (
	"fmt"
	"net/url"
)

// UrlQuery encodes s for use as a URL query value.
func UrlQuery(s string) string { return url.QueryEscape(s) }

// Str renders a JSON-decoded value as a string, nil as empty.
func Str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
