package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/loreweave/loreweave/pkg/model"
)

const (
	prefixInstance = "Instance:"
	prefixPerson   = "Person:"
)

// UpsertInstance creates or updates an instance by its actor URL with
// last-write-wins semantics. The id of an existing record is kept so
// re-fetching a remote actor never changes identity.
func (s *Store) UpsertInstance(inst model.Instance) (model.Instance, error) {
	existing, err := s.GetInstance(inst.ActorURL)
	switch {
	case err == nil:
		inst.ID = existing.ID
		if inst.PrivateKeyPem == "" {
			inst.PrivateKeyPem = existing.PrivateKeyPem
		}
	case errors.Is(err, ErrNotFound):
		if inst.ID == uuid.Nil {
			inst.ID = uuid.New()
		}
	default:
		return model.Instance{}, err
	}

	if err := s.put(actorKey(prefixInstance, inst.ActorURL), inst); err != nil {
		return model.Instance{}, err
	}
	return inst, nil
}

func (s *Store) GetInstance(actorURL string) (model.Instance, error) {
	var inst model.Instance
	if err := s.get(actorKey(prefixInstance, actorURL), &inst); err != nil {
		return model.Instance{}, err
	}
	return inst, nil
}

func (s *Store) ListInstances() ([]model.Instance, error) {
	items, err := s.kv.GetItemsWithPrefix([]byte(prefixInstance))
	if err != nil {
		return nil, err
	}

	instances := make([]model.Instance, 0, len(items))
	for _, item := range items {
		var inst model.Instance
		if err := decode(item[1], &inst); err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// LocalInstance returns the one instance marked local.
func (s *Store) LocalInstance() (model.Instance, error) {
	instances, err := s.ListInstances()
	if err != nil {
		return model.Instance{}, err
	}
	for _, inst := range instances {
		if inst.Local {
			return inst, nil
		}
	}
	return model.Instance{}, ErrNotFound
}

// UpsertPerson mirrors UpsertInstance for persons.
func (s *Store) UpsertPerson(p model.Person) (model.Person, error) {
	existing, err := s.GetPerson(p.ActorURL)
	switch {
	case err == nil:
		p.ID = existing.ID
		if p.PrivateKeyPem == "" {
			p.PrivateKeyPem = existing.PrivateKeyPem
		}
	case errors.Is(err, ErrNotFound):
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
	default:
		return model.Person{}, err
	}

	if err := s.put(actorKey(prefixPerson, p.ActorURL), p); err != nil {
		return model.Person{}, err
	}
	return p, nil
}

func (s *Store) GetPerson(actorURL string) (model.Person, error) {
	var p model.Person
	if err := s.get(actorKey(prefixPerson, actorURL), &p); err != nil {
		return model.Person{}, err
	}
	return p, nil
}

func (s *Store) ListPersons() ([]model.Person, error) {
	items, err := s.kv.GetItemsWithPrefix([]byte(prefixPerson))
	if err != nil {
		return nil, err
	}

	persons := make([]model.Person, 0, len(items))
	for _, item := range items {
		var p model.Person
		if err := decode(item[1], &p); err != nil {
			return nil, err
		}
		persons = append(persons, p)
	}
	return persons, nil
}
