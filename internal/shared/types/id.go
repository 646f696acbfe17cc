package types

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies a session or a report run. It holds a canonical UUID.
type ID string

// NewID returns a random (v4) ID.
func NewID() ID {
	return ID(uuid.New().String())
}

// ParseID accepts any UUID spelling and returns its canonical form.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid ID %q: %w", s, err)
	}
	return ID(u.String()), nil
}

func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == ""
}

// Value stores an unset ID as NULL.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return string(id), nil
}

// Scan reads an ID from a text or UUID column.
func (id *ID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*id = ""
	case string:
		*id = ID(v)
	case []byte:
		*id = ID(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ID", value)
	}
	return nil
}
