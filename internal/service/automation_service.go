package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/pkg/config"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
)

type automationDeviceRepository interface {
	MaintenanceDue(ctx context.Context, cutoff time.Time) ([]models.Device, error)
	WarrantyExpiring(ctx context.Context, from, until time.Time) ([]models.Device, error)
	UnseenSince(ctx context.Context, cutoff time.Time) ([]models.Device, error)
	ListAged(ctx context.Context) ([]models.Device, error)
	UpdateStatus(ctx context.Context, id string, status models.DeviceStatus) error
	UpdateCondition(ctx context.Context, id string, condition models.DeviceCondition) error
}

type deviceNotifier interface {
	DeviceAlert(ctx context.Context, device *models.Device, school *models.School, subject, message string)
}

// AutomationService runs the periodic fleet checks. Rules live in memory;
// each rule wraps one fixed routine with its own cadence.
type AutomationService struct {
	devices  automationDeviceRepository
	schools  schoolFinder
	notifier deviceNotifier
	logger   *zap.Logger
	cfg      config.AutomationConfig
	now      func() time.Time

	mu    sync.Mutex
	rules []models.AutomationRule
}

// NewAutomationService constructs the automation service with the default
// rule set.
func NewAutomationService(devices automationDeviceRepository, schools schoolFinder, notifier deviceNotifier, cfg config.AutomationConfig, logger *zap.Logger) *AutomationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AutomationService{
		devices:  devices,
		schools:  schools,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.rules = []models.AutomationRule{
		{ID: uuid.NewString(), Name: "Maintenance reminder", Routine: models.RoutineMaintenanceReminder, Enabled: true, Interval: 24 * time.Hour},
		{ID: uuid.NewString(), Name: "Warranty expiry alert", Routine: models.RoutineWarrantyAlert, Enabled: true, Interval: 24 * time.Hour},
		{ID: uuid.NewString(), Name: "Offline detection", Routine: models.RoutineOfflineDetection, Enabled: true, Interval: time.Hour},
		{ID: uuid.NewString(), Name: "Aging condition update", Routine: models.RoutineAgingUpdate, Enabled: true, Interval: 7 * 24 * time.Hour},
	}
	return s
}

// Rules returns a snapshot of the configured rules.
func (s *AutomationService) Rules() []models.AutomationRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AutomationRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// SetEnabled toggles one rule by id.
func (s *AutomationService) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].Enabled = enabled
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrNotFound, "automation rule not found")
}

// RunDue executes every enabled rule whose interval has elapsed.
func (s *AutomationService) RunDue(ctx context.Context) []models.AutomationRunResult {
	now := s.now()

	s.mu.Lock()
	var due []models.AutomationRule
	for i := range s.rules {
		rule := &s.rules[i]
		if !rule.Enabled {
			continue
		}
		if rule.LastRunAt != nil && now.Sub(*rule.LastRunAt) < rule.Interval {
			continue
		}
		ranAt := now
		rule.LastRunAt = &ranAt
		due = append(due, *rule)
	}
	s.mu.Unlock()

	var results []models.AutomationRunResult
	for _, rule := range due {
		result := s.runRule(ctx, rule, now)
		if result.Error != "" {
			s.logger.Sugar().Errorw("automation rule failed",
				"rule", rule.Name, "routine", rule.Routine, "error", result.Error)
		} else {
			s.logger.Sugar().Infow("automation rule executed",
				"rule", rule.Name, "routine", rule.Routine,
				"matched", result.MatchedDevices, "updated", result.UpdatedDevices)
		}
		results = append(results, result)
	}
	return results
}

// RunRoutine executes one named routine immediately, regardless of cadence.
func (s *AutomationService) RunRoutine(ctx context.Context, routine models.AutomationRoutine) (*models.AutomationRunResult, error) {
	s.mu.Lock()
	var found *models.AutomationRule
	for i := range s.rules {
		if s.rules[i].Routine == routine {
			now := s.now()
			s.rules[i].LastRunAt = &now
			rule := s.rules[i]
			found = &rule
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "automation routine not found")
	}
	result := s.runRule(ctx, *found, s.now())
	return &result, nil
}

func (s *AutomationService) runRule(ctx context.Context, rule models.AutomationRule, now time.Time) models.AutomationRunResult {
	result := models.AutomationRunResult{
		RuleID:          rule.ID,
		Routine:         rule.Routine,
		NotificationsOK: true,
		RanAt:           now,
	}

	var err error
	switch rule.Routine {
	case models.RoutineMaintenanceReminder:
		err = s.maintenanceReminder(ctx, now, &result)
	case models.RoutineWarrantyAlert:
		err = s.warrantyAlert(ctx, now, &result)
	case models.RoutineOfflineDetection:
		err = s.offlineDetection(ctx, now, &result)
	case models.RoutineAgingUpdate:
		err = s.agingUpdate(ctx, now, &result)
	default:
		err = fmt.Errorf("unknown routine %s", rule.Routine)
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func (s *AutomationService) alertSchool(ctx context.Context, device *models.Device, subject, message string) {
	if s.notifier == nil || device.SchoolID == nil {
		return
	}
	school, err := s.schools.FindByID(ctx, *device.SchoolID)
	if err != nil {
		s.logger.Sugar().Warnw("failed to load school for device alert",
			"device_id", device.ID, "school_id", *device.SchoolID, "error", err)
		return
	}
	s.notifier.DeviceAlert(ctx, device, school, subject, message)
}

func (s *AutomationService) maintenanceReminder(ctx context.Context, now time.Time, result *models.AutomationRunResult) error {
	cutoff := now.AddDate(0, 0, -s.cfg.MaintenanceDueDays)
	devices, err := s.devices.MaintenanceDue(ctx, cutoff)
	if err != nil {
		return err
	}
	result.MatchedDevices = len(devices)
	for i := range devices {
		s.alertSchool(ctx, &devices[i], "Device maintenance due",
			fmt.Sprintf("This device has not been serviced in the last %d days. Please raise a maintenance request.", s.cfg.MaintenanceDueDays))
	}
	return nil
}

func (s *AutomationService) warrantyAlert(ctx context.Context, now time.Time, result *models.AutomationRunResult) error {
	until := now.AddDate(0, 0, s.cfg.WarrantyAlertDays)
	devices, err := s.devices.WarrantyExpiring(ctx, now, until)
	if err != nil {
		return err
	}
	result.MatchedDevices = len(devices)
	for i := range devices {
		s.alertSchool(ctx, &devices[i], "Device warranty expiring",
			fmt.Sprintf("The warranty on this device expires within %d days.", s.cfg.WarrantyAlertDays))
	}
	return nil
}

func (s *AutomationService) offlineDetection(ctx context.Context, now time.Time, result *models.AutomationRunResult) error {
	cutoff := now.AddDate(0, 0, -s.cfg.OfflineAfterDays)
	devices, err := s.devices.UnseenSince(ctx, cutoff)
	if err != nil {
		return err
	}
	result.MatchedDevices = len(devices)
	for i := range devices {
		device := &devices[i]
		if err := s.devices.UpdateStatus(ctx, device.ID, models.DeviceStatusOffline); err != nil {
			return err
		}
		result.UpdatedDevices++
		s.alertSchool(ctx, device, "Device marked offline",
			fmt.Sprintf("This device has not reported in %d days and was marked OFFLINE.", s.cfg.OfflineAfterDays))
	}
	return nil
}

// agingConditionFor downgrades condition by whole years since purchase.
func agingConditionFor(ageYears float64) models.DeviceCondition {
	switch {
	case ageYears < 1:
		return models.ConditionNew
	case ageYears < 3:
		return models.ConditionGood
	case ageYears < 5:
		return models.ConditionFair
	default:
		return models.ConditionPoor
	}
}

func (s *AutomationService) agingUpdate(ctx context.Context, now time.Time, result *models.AutomationRunResult) error {
	devices, err := s.devices.ListAged(ctx)
	if err != nil {
		return err
	}
	result.MatchedDevices = len(devices)
	for i := range devices {
		device := &devices[i]
		if device.PurchaseDate == nil || device.Condition == models.ConditionBroken {
			continue
		}
		ageYears := now.Sub(*device.PurchaseDate).Hours() / (24 * 365.25)
		target := agingConditionFor(ageYears)
		if target == device.Condition {
			continue
		}
		// Aging only ever downgrades.
		if conditionRank(target) <= conditionRank(device.Condition) {
			continue
		}
		if err := s.devices.UpdateCondition(ctx, device.ID, target); err != nil {
			return err
		}
		result.UpdatedDevices++
	}
	return nil
}

func conditionRank(c models.DeviceCondition) int {
	switch c {
	case models.ConditionNew:
		return 0
	case models.ConditionGood:
		return 1
	case models.ConditionFair:
		return 2
	case models.ConditionPoor:
		return 3
	case models.ConditionBroken:
		return 4
	default:
		return 0
	}
}
