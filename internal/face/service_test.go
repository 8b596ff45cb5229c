package face

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rollcall/internal/attendance"
)

type fakeExtractor struct {
	vec []float32
	err error
}

func (f *fakeExtractor) Extract(context.Context, []byte) ([]float32, error) {
	return f.vec, f.err
}

type fakeEmbStore struct {
	enrollments map[string][]float32
	classOf     map[string]string
}

func newFakeEmbStore() *fakeEmbStore {
	return &fakeEmbStore{enrollments: map[string][]float32{}, classOf: map[string]string{}}
}

func (f *fakeEmbStore) Upsert(_ context.Context, studentID string, vec []float32) error {
	f.enrollments[studentID] = vec
	return nil
}

func (f *fakeEmbStore) All(context.Context) ([]Enrollment, error) {
	var out []Enrollment
	for id, vec := range f.enrollments {
		out = append(out, Enrollment{StudentID: id, Vector: vec})
	}
	return out, nil
}

func (f *fakeEmbStore) ByClasses(_ context.Context, classIDs []string) ([]Enrollment, error) {
	var out []Enrollment
	for id, vec := range f.enrollments {
		for _, cls := range classIDs {
			if f.classOf[id] == cls {
				out = append(out, Enrollment{StudentID: id, Vector: vec})
			}
		}
	}
	return out, nil
}

// fakeBackend implements the attendance collaborator interfaces.
type fakeBackend struct {
	students map[string]attendance.Student
	records  map[string]*attendance.Record
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		students: map[string]attendance.Student{},
		records:  map[string]*attendance.Record{},
	}
}

func (b *fakeBackend) StudentByID(_ context.Context, id string) (*attendance.Student, error) {
	if st, ok := b.students[id]; ok {
		return &st, nil
	}
	return nil, nil
}

func (b *fakeBackend) StudentsByClass(_ context.Context, classID string) ([]attendance.Student, error) {
	var out []attendance.Student
	for _, st := range b.students {
		if st.ClassID == classID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (b *fakeBackend) ClassByID(_ context.Context, id string) (*attendance.Class, error) {
	return &attendance.Class{ID: id, OrganizationID: "org1"}, nil
}

func (b *fakeBackend) ClassIDs(context.Context) ([]string, error) { return []string{"c1"}, nil }

func (b *fakeBackend) SettingsByOrg(context.Context, string) (*attendance.Settings, error) {
	return nil, nil // defaults: late arrivals allowed
}

func (b *fakeBackend) RecordForDay(_ context.Context, studentID, classID string, _ time.Time, checkInType string) (*attendance.Record, error) {
	for _, rec := range b.records {
		if rec.StudentID != studentID || rec.ClassID != classID {
			continue
		}
		if checkInType != "" && rec.CheckInType != checkInType {
			continue
		}
		return rec, nil
	}
	return nil, nil
}

func (b *fakeBackend) Insert(_ context.Context, rec attendance.Record) (*attendance.Record, error) {
	stored := rec
	b.records[rec.ID] = &stored
	out := stored
	return &out, nil
}

func (b *fakeBackend) Update(_ context.Context, rec attendance.Record) error {
	stored := rec
	b.records[rec.ID] = &stored
	return nil
}

func (b *fakeBackend) OnDay(context.Context, time.Time, []string) ([]attendance.Record, error) {
	return nil, nil
}

func newFaceFixture(t *testing.T, probe []float32) (*Service, *fakeEmbStore, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	backend.students["s1"] = attendance.Student{ID: "s1", FullName: "Ada Quinn", ClassID: "c1"}

	att := attendance.NewService(backend, backend, backend, zap.NewNop()).
		WithNow(func() time.Time { return time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC) })

	embStore := newFakeEmbStore()
	svc := NewService(&fakeExtractor{vec: probe}, embStore, NewMatcher(0.6), backend, att, zap.NewNop())
	return svc, embStore, backend
}

func TestVerifyNoEnrollments(t *testing.T) {
	svc, _, _ := newFaceFixture(t, []float32{1, 0, 0})
	_, err := svc.Verify(context.Background(), []byte("img"), nil, false, "")
	assert.ErrorIs(t, err, ErrNoEnrollments)
}

func TestVerifyBelowThreshold(t *testing.T) {
	svc, embStore, _ := newFaceFixture(t, []float32{1, 0, 0})
	embStore.enrollments["s1"] = []float32{0, 1, 0}

	res, err := svc.Verify(context.Background(), []byte("img"), nil, false, "")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Contains(t, res.Message, "not recognized")
	assert.Contains(t, res.Message, "required: 60%")
}

func TestVerifyMatchAutoMarks(t *testing.T) {
	svc, embStore, backend := newFaceFixture(t, []float32{1, 0, 0})
	embStore.enrollments["s1"] = []float32{1, 0, 0}

	res, err := svc.Verify(context.Background(), []byte("img"), nil, true, "morning")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "s1", res.StudentID)
	assert.Equal(t, "Ada Quinn", res.StudentName)
	require.NotNil(t, res.Record)
	assert.Equal(t, attendance.StatusLate, res.Record.Status) // 08:05 is past 08:00
	require.NotNil(t, res.Record.Confidence)
	assert.InDelta(t, 100.0, *res.Record.Confidence, 0.01)
	assert.Len(t, backend.records, 1)
}

func TestVerifyAutoMarkAlreadyMarked(t *testing.T) {
	svc, embStore, _ := newFaceFixture(t, []float32{1, 0, 0})
	embStore.enrollments["s1"] = []float32{1, 0, 0}

	_, err := svc.Verify(context.Background(), []byte("img"), nil, true, "morning")
	require.NoError(t, err)

	// Second capture the same day: verification succeeds, marking reports
	// the rejection instead of failing the call.
	res, err := svc.Verify(context.Background(), []byte("img"), nil, true, "morning")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Nil(t, res.Record)
	assert.Contains(t, res.MarkOutcome, "already marked")
}

func TestVerifyRestrictsToClasses(t *testing.T) {
	svc, embStore, backend := newFaceFixture(t, []float32{1, 0, 0})
	backend.students["s2"] = attendance.Student{ID: "s2", FullName: "Ben Okafor", ClassID: "c2"}
	embStore.enrollments["s2"] = []float32{1, 0, 0}
	embStore.classOf["s2"] = "c2"

	// Only c1 is searched; s2's enrollment is out of scope.
	_, err := svc.Verify(context.Background(), []byte("img"), []string{"c1"}, false, "")
	assert.ErrorIs(t, err, ErrNoEnrollments)
}

func TestVerifyExtractionFailure(t *testing.T) {
	svc, _, _ := newFaceFixture(t, nil)
	svc.extractor = &fakeExtractor{err: errors.New("no face detected in image")}

	_, err := svc.Verify(context.Background(), []byte("img"), nil, false, "")
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Contains(t, err.Error(), "no face detected")
}

func TestEnrollStudentNotFound(t *testing.T) {
	svc, _, _ := newFaceFixture(t, []float32{1, 0, 0})
	err := svc.Enroll(context.Background(), "ghost", []byte("img"))
	assert.ErrorIs(t, err, attendance.ErrStudentNotFound)
}

func TestEnrollRejectsDuplicateFace(t *testing.T) {
	svc, embStore, backend := newFaceFixture(t, []float32{1, 0, 0})
	backend.students["s2"] = attendance.Student{ID: "s2", FullName: "Ben Okafor", ClassID: "c1"}
	embStore.enrollments["s2"] = []float32{1, 0, 0}

	err := svc.Enroll(context.Background(), "s1", []byte("img"))
	assert.ErrorIs(t, err, ErrDuplicateFace)
	assert.Contains(t, err.Error(), "Ben Okafor")
}

func TestEnrollReplacesOwnEmbedding(t *testing.T) {
	svc, embStore, _ := newFaceFixture(t, []float32{1, 0, 0})
	embStore.enrollments["s1"] = []float32{1, 0, 0}

	// Re-registration matches only the student's own prior embedding, which
	// is excluded from the duplicate check, so the upsert replaces it.
	require.NoError(t, svc.Enroll(context.Background(), "s1", []byte("img")))
	assert.Len(t, embStore.enrollments, 1)
}

func TestEnrollExtractionFailure(t *testing.T) {
	svc, _, _ := newFaceFixture(t, nil)
	svc.extractor = &fakeExtractor{err: errors.New("image format not supported")}

	err := svc.Enroll(context.Background(), "s1", []byte("img"))
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Contains(t, err.Error(), "image format not supported")
}
