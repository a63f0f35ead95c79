package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

func PoolObjectKey(split string) (string, error) {
	if err := validatePathComponent(split, "split"); err != nil {
		return "", err
	}
	return path.Join("pool", split, "examples.parquet"), nil
}

func DatasetObjectKey(prefix, name string) (string, error) {
	if err := validatePathComponent(name, "dataset file"); err != nil {
		return "", err
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name, nil
	}
	for _, part := range strings.Split(prefix, "/") {
		if err := validatePathComponent(part, "dataset prefix"); err != nil {
			return "", err
		}
	}
	return path.Join(prefix, name), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
