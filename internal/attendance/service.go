package attendance

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status of an attendance record.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// CheckInMorning is the default check-in type and the one the auto-absent
// sweep looks for.
const CheckInMorning = "morning"

// Record is one student's attendance state for a calendar day (and check-in
// type, when multiple check-ins are enabled).
type Record struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	ClassID     string    `json:"class_id"`
	Status      Status    `json:"status"`
	Confidence  *float64  `json:"confidence_score,omitempty"`
	CheckInType string    `json:"check_in_type"`
	MarkedAt    time.Time `json:"marked_at"`
}

// Student is the slice of the directory this engine needs.
type Student struct {
	ID       string
	FullName string
	ClassID  string
}

// Class is the slice of the directory this engine needs.
type Class struct {
	ID             string
	Name           string
	OrganizationID string
}

// Directory looks up students and classes. Lookups return nil, nil when the
// entity does not exist.
type Directory interface {
	StudentByID(ctx context.Context, id string) (*Student, error)
	StudentsByClass(ctx context.Context, classID string) ([]Student, error)
	ClassByID(ctx context.Context, id string) (*Class, error)
	ClassIDs(ctx context.Context) ([]string, error)
}

// SettingsStore loads per-organization attendance settings; nil, nil when
// the organization has none configured.
type SettingsStore interface {
	SettingsByOrg(ctx context.Context, orgID string) (*Settings, error)
}

// RecordStore persists attendance records. Insert must be atomic against the
// per-(student, class, day, check-in type) uniqueness key: when a concurrent
// writer got there first it returns nil, nil instead of a duplicate row.
type RecordStore interface {
	// RecordForDay returns the record for the student/class on the day of
	// the given timestamp. An empty checkInType matches any type.
	RecordForDay(ctx context.Context, studentID, classID string, day time.Time, checkInType string) (*Record, error)
	Insert(ctx context.Context, rec Record) (*Record, error)
	Update(ctx context.Context, rec Record) error
	// OnDay lists records for a day, optionally restricted to classes.
	OnDay(ctx context.Context, day time.Time, classIDs []string) ([]Record, error)
}

// Summary is the per-class attendance roll-up for one day. Late students
// count as in attendance.
type Summary struct {
	TotalStudents   int       `json:"total_students"`
	PresentStudents int       `json:"present_students"`
	AttendanceRate  float64   `json:"attendance_rate"`
	Date            time.Time `json:"date"`
}

// Service decides attendance status and owns the record lifecycle.
type Service struct {
	dir      Directory
	settings SettingsStore
	records  RecordStore
	log      *zap.Logger
	now      func() time.Time
}

// NewService builds the status engine over its collaborators.
func NewService(dir Directory, settings SettingsStore, records RecordStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		dir:      dir,
		settings: settings,
		records:  records,
		log:      log,
		now:      time.Now,
	}
}

// WithNow overrides the clock source.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// EffectiveSettings resolves the owning organization's settings for a class,
// falling back to the defaults when the class, organization, or settings row
// is missing.
func (s *Service) EffectiveSettings(ctx context.Context, classID string) (Effective, error) {
	class, err := s.dir.ClassByID(ctx, classID)
	if err != nil {
		return Effective{}, fmt.Errorf("load class: %w", err)
	}
	if class == nil || class.OrganizationID == "" {
		return Defaults(), nil
	}
	cfg, err := s.settings.SettingsByOrg(ctx, class.OrganizationID)
	if err != nil {
		return Effective{}, fmt.Errorf("load settings: %w", err)
	}
	return cfg.Effective(), nil
}

// DetermineStatus classifies a check-in time against the start and late
// cutoff clocks. Boundaries are inclusive toward the earlier bucket; the
// auto-absent clock plays no part here.
func DetermineStatus(now time.Time, eff Effective) Status {
	t := ClockOf(now)
	if t <= eff.SchoolStart {
		return StatusPresent
	}
	if t <= eff.LateCutoff {
		return StatusLate
	}
	return StatusAbsent
}

// Mark records a check-in for a student. A sweep-created absent record is
// updated in place when the new status is not absent; any other existing
// record for the day rejects with ErrAlreadyMarked. When late arrivals are
// disallowed, any check-in after the start clock is rejected regardless of
// the status it would have produced.
func (s *Service) Mark(ctx context.Context, studentID, classID string, confidence *float64, checkInType string) (*Record, error) {
	if checkInType == "" {
		checkInType = CheckInMorning
	}

	eff, err := s.EffectiveSettings(ctx, classID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	status := DetermineStatus(now, eff)

	if !eff.AllowLateArrivals && ClockOf(now) > eff.SchoolStart {
		return nil, ErrLateArrivalsDisabled
	}

	student, err := s.dir.StudentByID(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}
	if student == nil {
		return nil, ErrStudentNotFound
	}
	if student.ClassID != classID {
		return nil, ErrClassMismatch
	}

	// With multiple check-ins enabled the day key includes the type;
	// otherwise one check-in per day, whatever its type.
	scope := ""
	if eff.MultipleCheckins {
		scope = checkInType
	}
	existing, err := s.records.RecordForDay(ctx, studentID, classID, now, scope)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if existing != nil {
		if existing.Status == StatusAbsent && status != StatusAbsent {
			existing.Status = status
			existing.MarkedAt = now
			existing.Confidence = confidence
			existing.CheckInType = checkInType
			if err := s.records.Update(ctx, *existing); err != nil {
				return nil, fmt.Errorf("update record: %w", err)
			}
			s.log.Info("attendance updated from absent",
				zap.String("student_id", studentID),
				zap.String("class_id", classID),
				zap.String("status", string(status)))
			return existing, nil
		}
		return nil, ErrAlreadyMarked
	}

	rec := Record{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		ClassID:     classID,
		Status:      status,
		Confidence:  confidence,
		CheckInType: checkInType,
		MarkedAt:    now,
	}
	inserted, err := s.records.Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	if inserted == nil {
		// A concurrent check-in won the insert race.
		return nil, ErrAlreadyMarked
	}
	s.log.Info("attendance marked",
		zap.String("student_id", studentID),
		zap.String("class_id", classID),
		zap.String("status", string(status)),
		zap.String("check_in_type", checkInType))
	return inserted, nil
}

// SweepAutoAbsent marks students without a morning record as absent for
// every class whose auto-absent clock has passed. It returns the number of
// records created and is idempotent: reruns and concurrent sweeps skip
// students already covered.
func (s *Service) SweepAutoAbsent(ctx context.Context, classIDs []string) (int, error) {
	now := s.now()
	created := 0
	for _, classID := range classIDs {
		eff, err := s.EffectiveSettings(ctx, classID)
		if err != nil {
			return created, err
		}
		if ClockOf(now) < eff.AutoAbsent {
			continue
		}
		students, err := s.dir.StudentsByClass(ctx, classID)
		if err != nil {
			return created, fmt.Errorf("list students: %w", err)
		}
		for _, student := range students {
			existing, err := s.records.RecordForDay(ctx, student.ID, classID, now, CheckInMorning)
			if err != nil {
				return created, fmt.Errorf("load record: %w", err)
			}
			if existing != nil {
				continue
			}
			rec := Record{
				ID:          uuid.NewString(),
				StudentID:   student.ID,
				ClassID:     classID,
				Status:      StatusAbsent,
				CheckInType: CheckInMorning,
				MarkedAt:    now,
			}
			inserted, err := s.records.Insert(ctx, rec)
			if err != nil {
				return created, fmt.Errorf("insert absent record: %w", err)
			}
			if inserted != nil {
				created++
			}
		}
	}
	if created > 0 {
		s.log.Info("auto-absent sweep", zap.Int("created", created), zap.Strings("class_ids", classIDs))
	}
	return created, nil
}

// SweepAll runs the auto-absent sweep over every known class.
func (s *Service) SweepAll(ctx context.Context) (int, error) {
	classIDs, err := s.dir.ClassIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list classes: %w", err)
	}
	return s.SweepAutoAbsent(ctx, classIDs)
}

// Today lists today's records, optionally restricted to classes. Reads do
// not trigger the sweep; that runs on its own schedule.
func (s *Service) Today(ctx context.Context, classIDs []string) ([]Record, error) {
	return s.records.OnDay(ctx, s.now(), classIDs)
}

// ByDate lists records for an arbitrary day.
func (s *Service) ByDate(ctx context.Context, day time.Time, classIDs []string) ([]Record, error) {
	return s.records.OnDay(ctx, day, classIDs)
}

// Summarize rolls up one class's attendance for a day (today when day is
// zero). Present and late both count as in attendance; a class with no
// students reports a zero rate.
func (s *Service) Summarize(ctx context.Context, classID string, day time.Time) (Summary, error) {
	if day.IsZero() {
		day = s.now()
	}
	students, err := s.dir.StudentsByClass(ctx, classID)
	if err != nil {
		return Summary{}, fmt.Errorf("list students: %w", err)
	}
	records, err := s.records.OnDay(ctx, day, []string{classID})
	if err != nil {
		return Summary{}, fmt.Errorf("list records: %w", err)
	}

	present := 0
	for _, rec := range records {
		if rec.Status == StatusPresent || rec.Status == StatusLate {
			present++
		}
	}
	rate := 0.0
	if len(students) > 0 {
		rate = math.Round(float64(present)/float64(len(students))*100*100) / 100
	}
	return Summary{
		TotalStudents:   len(students),
		PresentStudents: present,
		AttendanceRate:  rate,
		Date:            day,
	}, nil
}
