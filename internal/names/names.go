// Package names is a small sample domain storing person names.
package names

import (
	"errors"
	"strings"

	"github.com/maruel/minum/internal/database"
)

var errNameRequired = errors.New("name is required")

// PersonName is one stored name.
type PersonName struct {
	Index    int64
	FullName string
}

// GetIndex implements database.Record.
func (p *PersonName) GetIndex() int64 { return p.Index }

// SetIndex implements database.Record.
func (p *PersonName) SetIndex(index int64) { p.Index = index }

// Serialize implements database.Record.
func (p *PersonName) Serialize() string {
	return database.Serialize(p.Index, p.FullName)
}

// Clone implements database.Record.
func (p *PersonName) Clone() *PersonName {
	c := *p
	return &c
}

// Deserialize is the database.Deserializer for PersonName.
func Deserialize(text string) (*PersonName, error) {
	d := database.NewDecoder(text, 2)
	p := &PersonName{Index: d.Int64(), FullName: d.String()}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// Service manages the names collection.
type Service struct {
	db *database.DB[*PersonName]
}

// NewService returns a Service over db.
func NewService(db *database.DB[*PersonName]) *Service {
	return &Service{db: db}
}

// List returns every name sorted by index.
func (s *Service) List() ([]*PersonName, error) {
	return s.db.Values()
}

// Get returns the name stored under index.
func (s *Service) Get(index int64) (*PersonName, error) {
	p, ok, err := s.db.Get(index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &database.NotFoundError{Index: index}
	}
	return p, nil
}

// Add stores a new name and returns it with its assigned index.
func (s *Service) Add(fullName string) (*PersonName, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, errNameRequired
	}
	p := &PersonName{FullName: fullName}
	if err := s.db.Write(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Rename replaces the name stored under index.
func (s *Service) Rename(index int64, fullName string) (*PersonName, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, errNameRequired
	}
	p := &PersonName{Index: index, FullName: fullName}
	if err := s.db.Update(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Remove deletes the name stored under index.
func (s *Service) Remove(index int64) error {
	return s.db.DeleteIndex(index)
}
