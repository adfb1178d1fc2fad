package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edutech-rw/asset-api/internal/models"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
)

type schoolRepository interface {
	List(ctx context.Context, filter models.SchoolFilter) ([]models.School, int, error)
	FindByID(ctx context.Context, id string) (*models.School, error)
	ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error)
	Create(ctx context.Context, school *models.School) error
	Update(ctx context.Context, school *models.School) error
	Delete(ctx context.Context, id string) (bool, error)
}

// CreateSchoolRequest holds payload for registering schools.
type CreateSchoolRequest struct {
	Name         string `json:"name" validate:"required"`
	Code         string `json:"code" validate:"required"`
	District     string `json:"district" validate:"required"`
	Sector       string `json:"sector"`
	ContactEmail string `json:"contact_email" validate:"required,email"`
	ContactPhone string `json:"contact_phone"`
}

// UpdateSchoolRequest holds payload for updating schools.
type UpdateSchoolRequest struct {
	Name         string `json:"name" validate:"required"`
	Code         string `json:"code" validate:"required"`
	District     string `json:"district" validate:"required"`
	Sector       string `json:"sector"`
	ContactEmail string `json:"contact_email" validate:"required,email"`
	ContactPhone string `json:"contact_phone"`
}

// SchoolService handles the school registry use-cases.
type SchoolService struct {
	repo      schoolRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSchoolService constructs the school service.
func NewSchoolService(repo schoolRepository, validate *validator.Validate, logger *zap.Logger) *SchoolService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchoolService{repo: repo, validator: validate, logger: logger}
}

// List returns schools and pagination metadata.
func (s *SchoolService) List(ctx context.Context, filter models.SchoolFilter) ([]models.School, *models.Pagination, error) {
	schools, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schools")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return schools, pagination, nil
}

// Get returns one school.
func (s *SchoolService) Get(ctx context.Context, id string) (*models.School, error) {
	school, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}
	return school, nil
}

// Create registers a new school.
func (s *SchoolService) Create(ctx context.Context, req CreateSchoolRequest) (*models.School, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school payload")
	}
	exists, err := s.repo.ExistsByCode(ctx, req.Code, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate school code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "school code already used")
	}
	school := &models.School{
		Name:         req.Name,
		Code:         req.Code,
		District:     req.District,
		Sector:       req.Sector,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
	}
	if err := s.repo.Create(ctx, school); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create school")
	}
	return school, nil
}

// Update modifies an existing school.
func (s *SchoolService) Update(ctx context.Context, id string, req UpdateSchoolRequest) (*models.School, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school payload")
	}
	school, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByCode(ctx, req.Code, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate school code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "school code already used")
	}
	school.Name = req.Name
	school.Code = req.Code
	school.District = req.District
	school.Sector = req.Sector
	school.ContactEmail = req.ContactEmail
	school.ContactPhone = req.ContactPhone
	if err := s.repo.Update(ctx, school); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update school")
	}
	return school, nil
}

// Delete removes a school from the registry.
func (s *SchoolService) Delete(ctx context.Context, id string) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete school")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, "school not found")
	}
	return nil
}
