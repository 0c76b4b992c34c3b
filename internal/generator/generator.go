package generator

import (
	"strings"

	"github.com/google/uuid"
)

// Generator is an interface that defines a method to generate a new value of type T.
// This can be used to generate unique identifiers, lazily iterate, etc.
type Generator[T any] interface {
	Next() (T, error)
}

// UUIDV4Generator is a generator that produces UUIDv4 strings.
// It implements the Generator interface.
type UUIDV4Generator struct{}

func (g *UUIDV4Generator) Next() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var _ Generator[string] = &UUIDV4Generator{}

// OutputPathGenerator names outputs as <Dir>/<id><Ext>. Dir may be a local
// directory or an s3:// prefix.
type OutputPathGenerator struct {
	Dir string
	Ext string
	IDs Generator[string]
}

func (g *OutputPathGenerator) Next() (string, error) {
	ids := g.IDs
	if ids == nil {
		ids = &UUIDV4Generator{}
	}
	id, err := ids.Next()
	if err != nil {
		return "", err
	}
	name := id + g.Ext
	if g.Dir == "" {
		return name, nil
	}
	return strings.TrimSuffix(g.Dir, "/") + "/" + name, nil
}

var _ Generator[string] = &OutputPathGenerator{}
