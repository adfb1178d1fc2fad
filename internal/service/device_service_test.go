package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edutech-rw/asset-api/internal/models"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
)

type mockDeviceRepo struct {
	devices   map[string]models.Device
	serials   map[string]string
	sequences map[string]int64
	nextID    int
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{
		devices:   make(map[string]models.Device),
		serials:   make(map[string]string),
		sequences: make(map[string]int64),
	}
}

func (m *mockDeviceRepo) List(ctx context.Context, filter models.DeviceFilter) ([]models.Device, int, error) {
	out := make([]models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, len(out), nil
}

func (m *mockDeviceRepo) FindByID(ctx context.Context, id string) (*models.Device, error) {
	device, ok := m.devices[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := device
	return &copied, nil
}

func (m *mockDeviceRepo) ExistsBySerial(ctx context.Context, serial string, excludeID string) (bool, error) {
	if id, ok := m.serials[serial]; ok {
		if excludeID == "" || id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDeviceRepo) NextNameTagSequence(ctx context.Context, prefix string) (int64, error) {
	m.sequences[prefix]++
	return m.sequences[prefix], nil
}

func (m *mockDeviceRepo) Create(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		m.nextID++
		device.ID = fmt.Sprintf("dev-%d", m.nextID)
	}
	m.devices[device.ID] = *device
	m.serials[device.SerialNumber] = device.ID
	return nil
}

func (m *mockDeviceRepo) Update(ctx context.Context, device *models.Device) error {
	m.devices[device.ID] = *device
	m.serials[device.SerialNumber] = device.ID
	return nil
}

func (m *mockDeviceRepo) Delete(ctx context.Context, id string) (bool, error) {
	if _, ok := m.devices[id]; !ok {
		return false, nil
	}
	delete(m.devices, id)
	return true, nil
}

func newTestDeviceService(repo *mockDeviceRepo, schools *mockSchoolFinder) *DeviceService {
	return NewDeviceService(repo, schools, validator.New(), zap.NewNop())
}

func TestDeviceCreateGeneratesNameTag(t *testing.T) {
	repo := newMockDeviceRepo()
	svc := newTestDeviceService(repo, seedSchools("school-1"))

	schoolID := "school-1"
	device, err := svc.Create(context.Background(), CreateDeviceRequest{
		SerialNumber: "SN-001",
		Category:     models.CategoryLaptop,
		Model:        "ThinkPad T14",
		SchoolID:     &schoolID,
	})
	require.NoError(t, err)
	assert.Equal(t, "RTB/LPT/GSB/001", device.NameTag)
	assert.Equal(t, models.DeviceStatusActive, device.Status)
	assert.Equal(t, models.ConditionNew, device.Condition)

	second, err := svc.Create(context.Background(), CreateDeviceRequest{
		SerialNumber: "SN-002",
		Category:     models.CategoryLaptop,
		Model:        "ThinkPad T14",
		SchoolID:     &schoolID,
	})
	require.NoError(t, err)
	assert.Equal(t, "RTB/LPT/GSB/002", second.NameTag, "sequence advances per (category, district)")
}

func TestDeviceCreateUnassignedUsesDefaultSegment(t *testing.T) {
	repo := newMockDeviceRepo()
	svc := newTestDeviceService(repo, seedSchools())

	device, err := svc.Create(context.Background(), CreateDeviceRequest{
		SerialNumber: "SN-010",
		Category:     models.CategoryProjector,
		Model:        "Epson EB-X05",
	})
	require.NoError(t, err)
	assert.Equal(t, "RTB/PRJ/DEFAULT/001", device.NameTag)
}

func TestDeviceCreateDuplicateSerial(t *testing.T) {
	repo := newMockDeviceRepo()
	svc := newTestDeviceService(repo, seedSchools())

	_, err := svc.Create(context.Background(), CreateDeviceRequest{
		SerialNumber: "SN-020", Category: models.CategoryDesktop, Model: "OptiPlex",
	})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateDeviceRequest{
		SerialNumber: "SN-020", Category: models.CategoryDesktop, Model: "OptiPlex",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestDeviceUpdateRegeneratesTagOnSchoolChange(t *testing.T) {
	repo := newMockDeviceRepo()
	schools := seedSchools("school-1")
	schools.schools["school-2"] = models.School{ID: "school-2", Name: "GS Huye", District: "Huye", ContactEmail: "huye@school.rw"}
	svc := newTestDeviceService(repo, schools)

	schoolID := "school-1"
	device, err := svc.Create(context.Background(), CreateDeviceRequest{
		SerialNumber: "SN-030", Category: models.CategoryLaptop, Model: "Latitude", SchoolID: &schoolID,
	})
	require.NoError(t, err)
	original := device.NameTag

	other := "school-2"
	updated, err := svc.Update(context.Background(), device.ID, UpdateDeviceRequest{SchoolID: &other})
	require.NoError(t, err)
	assert.NotEqual(t, original, updated.NameTag)
	assert.Equal(t, "RTB/LPT/HY/001", updated.NameTag)

	model := "Latitude 5440"
	same, err := svc.Update(context.Background(), device.ID, UpdateDeviceRequest{Model: &model})
	require.NoError(t, err)
	assert.Equal(t, updated.NameTag, same.NameTag, "no retag without school or category change")
}

func TestDeviceUpdateRegeneratesTagOnCategoryChange(t *testing.T) {
	repo := newMockDeviceRepo()
	svc := newTestDeviceService(repo, seedSchools("school-1"))

	schoolID := "school-1"
	device, err := svc.Create(context.Background(), CreateDeviceRequest{
		SerialNumber: "SN-040", Category: models.CategoryLaptop, Model: "Latitude", SchoolID: &schoolID,
	})
	require.NoError(t, err)

	desktop := models.CategoryDesktop
	updated, err := svc.Update(context.Background(), device.ID, UpdateDeviceRequest{Category: &desktop})
	require.NoError(t, err)
	assert.Equal(t, "RTB/DSK/GSB/001", updated.NameTag)
}

func TestDistrictPrefix(t *testing.T) {
	assert.Equal(t, "GSB", districtPrefix("Gasabo"))
	assert.Equal(t, "NYR", districtPrefix("Nyarugenge"))
	assert.Equal(t, "HY", districtPrefix("Huye"))
	assert.Equal(t, "NK", districtPrefix("Northern Kayonza"))
	assert.Equal(t, "DEFAULT", districtPrefix(""))
}

func TestDistrictPrefixMultiByteInitial(t *testing.T) {
	got := districtPrefix("École Sud")
	assert.True(t, utf8.ValidString(got), "prefix must be valid UTF-8, got %q", got)
	assert.Equal(t, "ÉS", got)
}
