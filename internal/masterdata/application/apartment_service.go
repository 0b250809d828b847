package application

import (
	"context"

	"github.com/cockroachdb/errors"

	"residence-cloud/internal/apperr"
	masterdata "residence-cloud/internal/masterdata/domain"
)

// ApartmentService manages the apartment registry.
type ApartmentService struct {
	repo masterdata.ApartmentRepository
}

// NewApartmentService constructs an apartment service.
func NewApartmentService(repo masterdata.ApartmentRepository) (*ApartmentService, error) {
	if repo == nil {
		return nil, errors.New("apartment service: nil repository")
	}
	return &ApartmentService{repo: repo}, nil
}

// Upsert validates and saves an apartment.
func (s *ApartmentService) Upsert(ctx context.Context, apt *masterdata.Apartment) error {
	if apt == nil {
		return apperr.Validation("apartment service: nil apartment")
	}
	if err := apt.Validate(); err != nil {
		return err
	}
	return errors.Wrap(s.repo.Save(ctx, apt), "save apartment")
}

// Get returns the apartment or a not found error.
func (s *ApartmentService) Get(ctx context.Context, id string) (*masterdata.Apartment, error) {
	id, err := masterdata.NormalizeApartmentID(id)
	if err != nil {
		return nil, err
	}
	apt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load apartment")
	}
	if apt == nil {
		return nil, apperr.NotFound("apartment %s not found", id)
	}
	return apt, nil
}

// List returns apartments matching filter.
func (s *ApartmentService) List(ctx context.Context, filter masterdata.ListFilter) ([]masterdata.Apartment, error) {
	list, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list apartments")
	}
	return list, nil
}

// Delete removes an apartment.
func (s *ApartmentService) Delete(ctx context.Context, id string) error {
	id, err := masterdata.NormalizeApartmentID(id)
	if err != nil {
		return err
	}
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return errors.Wrap(err, "delete apartment")
	}
	if !found {
		return apperr.NotFound("apartment %s not found", id)
	}
	return nil
}
