package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edutech-rw/asset-api/internal/models"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
)

type deviceRepository interface {
	List(ctx context.Context, filter models.DeviceFilter) ([]models.Device, int, error)
	FindByID(ctx context.Context, id string) (*models.Device, error)
	ExistsBySerial(ctx context.Context, serial string, excludeID string) (bool, error)
	NextNameTagSequence(ctx context.Context, prefix string) (int64, error)
	Create(ctx context.Context, device *models.Device) error
	Update(ctx context.Context, device *models.Device) error
	Delete(ctx context.Context, id string) (bool, error)
}

// CreateDeviceRequest holds payload for registering devices.
type CreateDeviceRequest struct {
	SerialNumber   string                 `json:"serial_number" validate:"required"`
	Category       models.DeviceCategory  `json:"category" validate:"required,oneof=LAPTOP DESKTOP PROJECTOR"`
	Model          string                 `json:"model" validate:"required"`
	Condition      models.DeviceCondition `json:"condition" validate:"omitempty,oneof=NEW GOOD FAIR POOR BROKEN"`
	SchoolID       *string                `json:"school_id"`
	PurchaseDate   *time.Time             `json:"purchase_date"`
	PurchaseCost   *float64               `json:"purchase_cost" validate:"omitempty,gte=0"`
	WarrantyExpiry *time.Time             `json:"warranty_expiry"`
}

// UpdateDeviceRequest patches device fields. A changed school or category
// triggers name-tag regeneration.
type UpdateDeviceRequest struct {
	SerialNumber   *string                 `json:"serial_number" validate:"omitempty,min=1"`
	Category       *models.DeviceCategory  `json:"category" validate:"omitempty,oneof=LAPTOP DESKTOP PROJECTOR"`
	Model          *string                 `json:"model" validate:"omitempty,min=1"`
	Status         *models.DeviceStatus    `json:"status" validate:"omitempty,oneof=ACTIVE MAINTENANCE OFFLINE RETIRED"`
	Condition      *models.DeviceCondition `json:"condition" validate:"omitempty,oneof=NEW GOOD FAIR POOR BROKEN"`
	SchoolID       *string                 `json:"school_id"`
	Unassign       bool                    `json:"unassign"`
	PurchaseDate   *time.Time              `json:"purchase_date"`
	PurchaseCost   *float64                `json:"purchase_cost" validate:"omitempty,gte=0"`
	WarrantyExpiry *time.Time              `json:"warranty_expiry"`
	LastSeenAt     *time.Time              `json:"last_seen_at"`
}

// DeviceService handles the device registry use-cases.
type DeviceService struct {
	repo      deviceRepository
	schools   schoolFinder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDeviceService constructs the device service.
func NewDeviceService(repo deviceRepository, schools schoolFinder, validate *validator.Validate, logger *zap.Logger) *DeviceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceService{repo: repo, schools: schools, validator: validate, logger: logger}
}

// categoryPrefixes maps categories to their tag segment.
var categoryPrefixes = map[models.DeviceCategory]string{
	models.CategoryLaptop:    "LPT",
	models.CategoryDesktop:   "DSK",
	models.CategoryProjector: "PRJ",
}

// districtPrefix derives the tag segment from a school district name.
// Multi-word districts take one initial per word; single-word districts
// contract to the leading letter plus the next two consonants, so
// "Gasabo" yields "GSB".
func districtPrefix(district string) string {
	words := strings.Fields(district)
	if len(words) >= 2 {
		var b strings.Builder
		for i, w := range words {
			if i >= 3 {
				break
			}
			r, _ := utf8.DecodeRuneInString(w)
			b.WriteRune(unicode.ToUpper(r))
		}
		return b.String()
	}
	d := strings.ToUpper(district)
	d = strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r
		}
		return -1
	}, d)
	if len(d) > 3 {
		// Keep the leading letter and the next two consonants.
		out := d[:1]
		for i := 1; i < len(d) && len(out) < 3; i++ {
			switch d[i] {
			case 'A', 'E', 'I', 'O', 'U':
			default:
				out += string(d[i])
			}
		}
		d = out
	}
	if d == "" {
		d = "DEFAULT"
	}
	return d
}

// tagPrefix computes the name-tag prefix for a device. Unassigned devices use
// the DEFAULT district segment.
func (s *DeviceService) tagPrefix(ctx context.Context, category models.DeviceCategory, schoolID *string) (string, error) {
	district := "DEFAULT"
	if schoolID != nil && *schoolID != "" {
		school, err := s.schools.FindByID(ctx, *schoolID)
		if err != nil {
			if err == sql.ErrNoRows {
				return "", appErrors.Clone(appErrors.ErrNotFound, "school not found")
			}
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
		}
		district = districtPrefix(school.District)
	}
	cat, ok := categoryPrefixes[category]
	if !ok {
		cat = "DEV"
	}
	return fmt.Sprintf("RTB/%s/%s", cat, district), nil
}

// generateNameTag claims the next sequence for the prefix and renders the tag.
func (s *DeviceService) generateNameTag(ctx context.Context, category models.DeviceCategory, schoolID *string) (string, error) {
	prefix, err := s.tagPrefix(ctx, category, schoolID)
	if err != nil {
		return "", err
	}
	seq, err := s.repo.NextNameTagSequence(ctx, prefix)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate name tag")
	}
	return fmt.Sprintf("%s/%03d", prefix, seq), nil
}

// List returns devices and pagination metadata.
func (s *DeviceService) List(ctx context.Context, filter models.DeviceFilter) ([]models.Device, *models.Pagination, error) {
	devices, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list devices")
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
	return devices, pagination, nil
}

// Get returns one device.
func (s *DeviceService) Get(ctx context.Context, id string) (*models.Device, error) {
	device, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device")
	}
	return device, nil
}

// Create registers a device and assigns its generated name tag.
func (s *DeviceService) Create(ctx context.Context, req CreateDeviceRequest) (*models.Device, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid device payload")
	}
	exists, err := s.repo.ExistsBySerial(ctx, req.SerialNumber, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate serial number")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "serial number already registered")
	}

	nameTag, err := s.generateNameTag(ctx, req.Category, req.SchoolID)
	if err != nil {
		return nil, err
	}

	condition := req.Condition
	if condition == "" {
		condition = models.ConditionNew
	}
	device := &models.Device{
		SerialNumber:   req.SerialNumber,
		NameTag:        nameTag,
		Category:       req.Category,
		Model:          req.Model,
		Status:         models.DeviceStatusActive,
		Condition:      condition,
		SchoolID:       req.SchoolID,
		PurchaseDate:   req.PurchaseDate,
		PurchaseCost:   req.PurchaseCost,
		WarrantyExpiry: req.WarrantyExpiry,
	}
	if err := s.repo.Create(ctx, device); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create device")
	}
	return device, nil
}

// Update modifies a device. Moving it to another school or changing its
// category regenerates the name tag under the new prefix.
func (s *DeviceService) Update(ctx context.Context, id string, req UpdateDeviceRequest) (*models.Device, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid device payload")
	}
	device, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.SerialNumber != nil && *req.SerialNumber != device.SerialNumber {
		exists, err := s.repo.ExistsBySerial(ctx, *req.SerialNumber, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate serial number")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "serial number already registered")
		}
		device.SerialNumber = *req.SerialNumber
	}

	retag := false
	if req.Category != nil && *req.Category != device.Category {
		device.Category = *req.Category
		retag = true
	}
	switch {
	case req.Unassign:
		if device.SchoolID != nil {
			retag = true
		}
		device.SchoolID = nil
	case req.SchoolID != nil:
		if device.SchoolID == nil || *device.SchoolID != *req.SchoolID {
			retag = true
		}
		device.SchoolID = req.SchoolID
	}

	if req.Model != nil {
		device.Model = *req.Model
	}
	if req.Status != nil {
		device.Status = *req.Status
	}
	if req.Condition != nil {
		device.Condition = *req.Condition
	}
	if req.PurchaseDate != nil {
		device.PurchaseDate = req.PurchaseDate
	}
	if req.PurchaseCost != nil {
		device.PurchaseCost = req.PurchaseCost
	}
	if req.WarrantyExpiry != nil {
		device.WarrantyExpiry = req.WarrantyExpiry
	}
	if req.LastSeenAt != nil {
		device.LastSeenAt = req.LastSeenAt
	}

	if retag {
		nameTag, err := s.generateNameTag(ctx, device.Category, device.SchoolID)
		if err != nil {
			return nil, err
		}
		device.NameTag = nameTag
	}

	if err := s.repo.Update(ctx, device); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update device")
	}
	return device, nil
}

// Delete removes a device from the registry.
func (s *DeviceService) Delete(ctx context.Context, id string) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete device")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, "device not found")
	}
	return nil
}
