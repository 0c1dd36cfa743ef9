package paramstore

import (
	"context"
	"fmt"
	"strings"
)

// Static serves parameters from memory. It stands in for SSM when the
// service runs outside AWS.
type Static map[string]string

func (s Static) GetParameter(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("paramstore: parameter %q not found", name)
	}
	return v, nil
}

var (
	_ Getter = (*Client)(nil)
	_ Getter = Static(nil)
)
