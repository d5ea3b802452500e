package extinction

import (
	"fmt"
	"sort"
	"strings"
)

var registry = map[string]Law{
	"ccm89":      CCM89{},
	"o94":        O94{},
	"calzetti00": Calzetti00{},
}

// Lookup returns the law registered under name (case-insensitive).
func Lookup(name string) (Law, error) {
	law, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownLaw, name, strings.Join(Names(), ", "))
	}

	return law, nil
}

// Names returns the registered law names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
