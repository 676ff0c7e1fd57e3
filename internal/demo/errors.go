package demo

import "github.com/pkg/errors"

func errNotFound(kind string, id uint64) error {
	return errors.Errorf("demo: %s %d not found", kind, id)
}
