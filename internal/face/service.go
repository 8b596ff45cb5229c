package face

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"rollcall/internal/attendance"
)

// Extractor turns a captured image into an embedding vector. Any failure to
// produce a vector comes back as an error carrying the extractor's message.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
}

// Enrollment is one identity's active embedding.
type Enrollment struct {
	StudentID string
	Vector    []float32
}

// EmbeddingStore persists enrolled embeddings, at most one per identity.
// Upsert replaces any prior enrollment for the student.
type EmbeddingStore interface {
	Upsert(ctx context.Context, studentID string, vec []float32) error
	All(ctx context.Context) ([]Enrollment, error)
	ByClasses(ctx context.Context, classIDs []string) ([]Enrollment, error)
}

// VerifyResult reports a verification attempt.
type VerifyResult struct {
	Matched     bool               `json:"matched"`
	StudentID   string             `json:"student_id,omitempty"`
	StudentName string             `json:"student_name,omitempty"`
	Similarity  float64            `json:"similarity"`
	Threshold   float64            `json:"threshold"`
	Message     string             `json:"message"`
	Record      *attendance.Record `json:"record,omitempty"`
	// MarkOutcome carries the attendance engine's verdict when auto-marking
	// was requested but did not produce a record (already marked, late
	// arrivals disabled, ...). Verification itself still succeeded.
	MarkOutcome string `json:"mark_outcome,omitempty"`
}

// Service owns face enrollment and verification over the matcher.
type Service struct {
	extractor  Extractor
	store      EmbeddingStore
	matcher    *Matcher
	dir        attendance.Directory
	attendance *attendance.Service
	log        *zap.Logger
}

// NewService wires the face pipeline together.
func NewService(extractor Extractor, store EmbeddingStore, matcher *Matcher, dir attendance.Directory, att *attendance.Service, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		extractor:  extractor,
		store:      store,
		matcher:    matcher,
		dir:        dir,
		attendance: att,
		log:        log,
	}
}

// Enroll registers a face embedding for a student, replacing any prior one.
// The probe is first matched against every other identity's enrollment; a
// hit there is ErrDuplicateFace naming the colliding student.
func (s *Service) Enroll(ctx context.Context, studentID string, image []byte) error {
	student, err := s.dir.StudentByID(ctx, studentID)
	if err != nil {
		return fmt.Errorf("load student: %w", err)
	}
	if student == nil {
		return attendance.ErrStudentNotFound
	}

	probe, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExtractionFailed, err)
	}

	enrollments, err := s.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load enrollments: %w", err)
	}
	var candidates []Candidate
	for _, e := range enrollments {
		if e.StudentID == studentID {
			continue
		}
		candidates = append(candidates, Candidate{Identity: e.StudentID, Vector: e.Vector})
	}
	if len(candidates) > 0 {
		best, err := s.matcher.FindBestMatch(probe, candidates)
		if err != nil {
			return err
		}
		if best.OK {
			name := best.Identity
			if other, err := s.dir.StudentByID(ctx, best.Identity); err == nil && other != nil {
				name = other.FullName
			}
			return fmt.Errorf("%w: %s (similarity %.2f)", ErrDuplicateFace, name, best.Similarity)
		}
	}

	if err := s.store.Upsert(ctx, studentID, probe); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	s.log.Info("face enrolled", zap.String("student_id", studentID), zap.Int("dim", len(probe)))
	return nil
}

// Verify matches a captured image against enrolled embeddings, restricted to
// the given classes when any are provided. On a match with autoMark set, the
// attendance engine records the check-in with the match similarity carried as
// the confidence percentage; engine rejections are reported in MarkOutcome,
// not as errors.
func (s *Service) Verify(ctx context.Context, image []byte, classIDs []string, autoMark bool, checkInType string) (VerifyResult, error) {
	res := VerifyResult{Threshold: s.matcher.Threshold}

	probe, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return res, fmt.Errorf("%w: %s", ErrExtractionFailed, err)
	}

	var enrollments []Enrollment
	if len(classIDs) > 0 {
		enrollments, err = s.store.ByClasses(ctx, classIDs)
	} else {
		enrollments, err = s.store.All(ctx)
	}
	if err != nil {
		return res, fmt.Errorf("load enrollments: %w", err)
	}

	candidates := make([]Candidate, 0, len(enrollments))
	for _, e := range enrollments {
		candidates = append(candidates, Candidate{Identity: e.StudentID, Vector: e.Vector})
	}
	best, err := s.matcher.FindBestMatch(probe, candidates)
	if err != nil {
		return res, err
	}
	res.Similarity = best.Similarity

	if !best.OK {
		res.Message = fmt.Sprintf("face not recognized (confidence: %.0f%%, required: %.0f%%)",
			best.Similarity*100, s.matcher.Threshold*100)
		return res, nil
	}

	res.Matched = true
	res.StudentID = best.Identity
	res.Message = "face recognized"
	student, err := s.dir.StudentByID(ctx, best.Identity)
	if err != nil {
		return res, fmt.Errorf("load student: %w", err)
	}
	if student != nil {
		res.StudentName = student.FullName
		res.Message = "face recognized: " + student.FullName
	}

	if autoMark && student != nil {
		confidence := best.Similarity * 100
		rec, err := s.attendance.Mark(ctx, student.ID, student.ClassID, &confidence, checkInType)
		switch {
		case err == nil:
			res.Record = rec
		case isDomainMarkError(err):
			res.MarkOutcome = err.Error()
			s.log.Info("auto-mark rejected",
				zap.String("student_id", student.ID),
				zap.String("reason", err.Error()))
		default:
			return res, err
		}
	}
	return res, nil
}

func isDomainMarkError(err error) bool {
	return errors.Is(err, attendance.ErrAlreadyMarked) ||
		errors.Is(err, attendance.ErrLateArrivalsDisabled) ||
		errors.Is(err, attendance.ErrClassMismatch) ||
		errors.Is(err, attendance.ErrStudentNotFound)
}
