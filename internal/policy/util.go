package policy

import "strings"

func trimmedEmpty(value string) bool {
	return strings.TrimSpace(value) == ""
}
