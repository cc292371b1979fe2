package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"attendanceportal/internal/model"
	"attendanceportal/internal/notification"
	"attendanceportal/internal/queue"
	"attendanceportal/internal/session"
	"attendanceportal/internal/store"
)

var (
	teacher  = session.Context{UserID: "t1", Name: "Ada", Role: model.RoleTeacher}
	stranger = session.Context{UserID: "t2", Name: "Grace", Role: model.RoleTeacher}
	student  = session.Context{UserID: "s1", Name: "Sam", Role: model.RoleStudent}
	pending  = session.Context{UserID: "s2", Name: "Kim", Role: model.RoleStudent}
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type recordingQueue struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (q *recordingQueue) Publish(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return nil
}

type fixture struct {
	svc   *Service
	notes *notification.Service
	store *store.Store
	clock *clock
	queue *recordingQueue
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := store.New(store.NewMemory())
	require.NoError(t, st.Repo().SaveCourses(ctx, []model.Course{{
		ID:                 "c1",
		TeacherID:          "t1",
		Name:               "Algorithms",
		Subject:            "CS",
		EnrollmentCode:     "K3F9QZ",
		EnrolledStudentIDs: []string{"s1"},
		PendingStudentIDs:  []string{"s2"},
	}}))
	require.NoError(t, st.Repo().SaveUsers(ctx, []model.User{
		{ID: "t1", Name: "Ada", Role: model.RoleTeacher},
		{ID: "s1", Name: "Sam", Role: model.RoleStudent},
	}))
	notes := notification.NewService(st, nil, zap.NewNop())
	q := &recordingQueue{}
	svc := NewService(st, notes, q, Settings{SessionDuration: 10 * time.Minute, LateGrace: 5 * time.Minute, GeofenceRadiusM: 150}, zap.NewNop())
	c := &clock{t: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
	svc.now = c.now
	return fixture{svc: svc, notes: notes, store: st, clock: c, queue: q}
}

func ptr(f float64) *float64 { return &f }

func TestOpenAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)
	assert.True(t, opened.IsActive)
	assert.Len(t, opened.Code, 6)
	assert.Equal(t, f.clock.t, opened.StartTime)
	assert.Equal(t, f.clock.t.Add(10*time.Minute), opened.EndTime)

	_, err = f.svc.Open(ctx, teacher, "c1", OpenInput{})
	assert.ErrorIs(t, err, ErrSessionActive)

	inbox, err := f.notes.List(ctx, student)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "Attendance Open", inbox[0].Title)

	f.clock.t = f.clock.t.Add(3 * time.Minute)
	closed, err := f.svc.Close(ctx, teacher, opened.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsActive)
	assert.Equal(t, f.clock.t, closed.EndTime)
	assert.False(t, closed.EndTime.Before(closed.StartTime))

	_, err = f.svc.Close(ctx, teacher, opened.ID)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCloseClampsEndTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(-time.Hour)
	closed, err := f.svc.Close(ctx, teacher, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, opened.StartTime, closed.EndTime)
}

func TestCloseAfterDeadlineKeepsScheduledEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(2 * time.Hour)
	closed, err := f.svc.Close(ctx, teacher, opened.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsActive)
	assert.Equal(t, opened.EndTime, closed.EndTime)

	sessions, err := f.store.Repo().Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, opened.EndTime, sessions[0].EndTime)
}

func TestExpiredSessionReadsAsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(12 * time.Minute)
	active, err := f.svc.Active(ctx, student, "c1")
	require.NoError(t, err, "still inside the late grace")
	assert.True(t, active.IsActive)

	f.clock.t = f.clock.t.Add(2 * time.Hour)
	_, err = f.svc.Active(ctx, student, "c1")
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: opened.Code})
	assert.ErrorIs(t, err, ErrSessionExpired)

	list, err := f.svc.ListSessions(ctx, teacher, "c1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsActive)
	assert.Equal(t, opened.EndTime, list[0].EndTime)

	got, err := f.svc.Session(ctx, teacher, opened.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, opened.Code, got.Code)
}

func TestOpenPermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Open(ctx, student, "c1", OpenInput{})
	assert.ErrorIs(t, err, model.ErrForbidden)
	_, err = f.svc.Open(ctx, stranger, "c1", OpenInput{})
	assert.ErrorIs(t, err, model.ErrForbidden)
	_, err = f.svc.Open(ctx, teacher, "missing", OpenInput{})
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.svc.Open(ctx, teacher, "c1", OpenInput{Latitude: ptr(1)})
	assert.True(t, model.IsValidation(err))
}

func TestOpenInputBounds(t *testing.T) {
	tests := []struct {
		name  string
		in    OpenInput
		field string
	}{
		{name: "over a day", in: OpenInput{Duration: MaxSessionDuration + time.Minute}, field: "duration"},
		{name: "negative", in: OpenInput{Duration: -time.Minute}, field: "duration"},
		{name: "latitude out of range", in: OpenInput{Latitude: ptr(91), Longitude: ptr(10)}, field: "latitude"},
		{name: "longitude out of range", in: OpenInput{Latitude: ptr(10), Longitude: ptr(-181)}, field: "longitude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Open(context.Background(), teacher, "c1", tt.in)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}

	f := newFixture(t)
	opened, err := f.svc.Open(context.Background(), teacher, "c1", OpenInput{Duration: MaxSessionDuration})
	require.NoError(t, err)
	assert.Equal(t, MaxSessionDuration, opened.EndTime.Sub(opened.StartTime))
}

func TestOpenReplacesExpiredSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(time.Hour)
	second, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)

	sessions, err := f.svc.ListSessions(ctx, teacher, "c1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, first.ID, sessions[1].ID)
	assert.False(t, sessions[1].IsActive)
}

func TestCheckIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(time.Minute)
	rec, err := f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: " " + opened.Code + " "})
	require.NoError(t, err)
	assert.Equal(t, opened.ID, rec.SessionID)
	assert.Equal(t, "c1", rec.CourseID)
	assert.Equal(t, "s1", rec.StudentID)
	assert.False(t, rec.IsProxyFlagged)
	assert.Empty(t, f.queue.msgs)

	_, err = f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: opened.Code})
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	records, err := f.svc.Records(ctx, teacher, opened.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCheckInRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: "ABCDEF"})
	assert.ErrorIs(t, err, ErrSessionClosed)

	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)

	_, err = f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: "WRONG1"})
	assert.ErrorIs(t, err, ErrInvalidSessionCode)
	_, err = f.svc.CheckIn(ctx, student, "c1", CheckInInput{})
	assert.True(t, model.IsValidation(err))
	_, err = f.svc.CheckIn(ctx, pending, "c1", CheckInInput{Code: opened.Code})
	assert.ErrorIs(t, err, ErrNotEnrolled)
	_, err = f.svc.CheckIn(ctx, teacher, "c1", CheckInInput{Code: opened.Code})
	assert.ErrorIs(t, err, model.ErrForbidden)
	_, err = f.svc.CheckIn(ctx, student, "nope", CheckInInput{Code: opened.Code})
	assert.ErrorIs(t, err, model.ErrNotFound)

	f.clock.t = f.clock.t.Add(16 * time.Minute)
	_, err = f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: opened.Code})
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = f.svc.Close(ctx, teacher, opened.ID)
	require.NoError(t, err)
	_, err = f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: opened.Code})
	assert.ErrorIs(t, err, ErrSessionClosed)

	records, err := f.store.Repo().Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCheckInLateIsFlagged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(12 * time.Minute)
	rec, err := f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: opened.Code})
	require.NoError(t, err)
	assert.True(t, rec.IsProxyFlagged)
	assert.Equal(t, ReasonLate, rec.ProxyReason)

	inbox, err := f.notes.List(ctx, teacher)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotifyWarning, inbox[0].Type)
}

func TestCheckInGeofence(t *testing.T) {
	tests := []struct {
		name       string
		lat, lon   *float64
		wantReason string
	}{
		{name: "inside", lat: ptr(52.52), lon: ptr(13.405), wantReason: ""},
		{name: "missing", wantReason: ReasonMissingLocation},
		{name: "far away", lat: ptr(48.8566), lon: ptr(2.3522), wantReason: ReasonOutsideGeofence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{Latitude: ptr(52.5201), Longitude: ptr(13.4051)})
			require.NoError(t, err)

			rec, err := f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: opened.Code, Latitude: tt.lat, Longitude: tt.lon})
			require.NoError(t, err)
			assert.Equal(t, tt.wantReason != "", rec.IsProxyFlagged)
			assert.Equal(t, tt.wantReason, rec.ProxyReason)
		})
	}
}

func TestCheckInWithSelfieQueuesVerification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)

	rec, err := f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: opened.Code, SelfieURL: "https://img/s1.jpg"})
	require.NoError(t, err)
	require.Len(t, f.queue.msgs, 1)
	job, err := queue.DecodeCheckIn(f.queue.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, rec.ID, job.RecordID)
	assert.Equal(t, "s1", job.StudentID)
	assert.Equal(t, "https://img/s1.jpg", job.SelfieURL)
}

func TestStudentsNeverSeeCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)

	active, err := f.svc.Active(ctx, student, "c1")
	require.NoError(t, err)
	assert.Equal(t, opened.ID, active.ID)
	assert.Empty(t, active.Code)

	list, err := f.svc.ListSessions(ctx, student, "c1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Code)

	active, err = f.svc.Active(ctx, teacher, "c1")
	require.NoError(t, err)
	assert.Equal(t, opened.Code, active.Code)

	_, err = f.svc.Active(ctx, pending, "c1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.svc.Session(ctx, student, opened.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestManualProxyAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, teacher, opened.ID)
	require.NoError(t, err)

	_, err = f.svc.MarkManual(ctx, teacher, opened.ID, "s2")
	assert.ErrorIs(t, err, ErrNotEnrolled)
	_, err = f.svc.MarkManual(ctx, stranger, opened.ID, "s1")
	assert.ErrorIs(t, err, model.ErrForbidden)

	rec, err := f.svc.MarkManual(ctx, teacher, opened.ID, "s1")
	require.NoError(t, err)
	assert.True(t, rec.IsManual)
	_, err = f.svc.MarkManual(ctx, teacher, opened.ID, "s1")
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	flagged, err := f.svc.SetProxyFlag(ctx, teacher, rec.ID, true)
	require.NoError(t, err)
	assert.True(t, flagged.IsProxyFlagged)
	assert.Equal(t, ReasonTeacher, flagged.ProxyReason)

	cleared, err := f.svc.SetProxyFlag(ctx, teacher, rec.ID, false)
	require.NoError(t, err)
	assert.False(t, cleared.IsProxyFlagged)
	assert.Empty(t, cleared.ProxyReason)

	own, err := f.svc.Records(ctx, student, opened.ID)
	require.NoError(t, err)
	assert.Len(t, own, 1)

	assert.ErrorIs(t, f.svc.DeleteRecord(ctx, stranger, rec.ID), model.ErrForbidden)
	require.NoError(t, f.svc.DeleteRecord(ctx, teacher, rec.ID))
	assert.ErrorIs(t, f.svc.DeleteRecord(ctx, teacher, rec.ID), model.ErrNotFound)
}

func TestFlagProxy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
	require.NoError(t, err)
	rec, err := f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: opened.Code})
	require.NoError(t, err)

	require.NoError(t, f.svc.FlagProxy(ctx, rec.ID, ReasonFaceMismatch))
	require.NoError(t, f.svc.FlagProxy(ctx, rec.ID, ReasonLate))

	records, err := f.svc.Records(ctx, teacher, opened.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsProxyFlagged)
	assert.Equal(t, ReasonFaceMismatch, records[0].ProxyReason)

	inbox, err := f.notes.List(ctx, teacher)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Contains(t, inbox[0].Message, "Sam")

	assert.ErrorIs(t, f.svc.FlagProxy(ctx, "missing", ReasonLate), model.ErrNotFound)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 4; i++ {
		opened, err := f.svc.Open(ctx, teacher, "c1", OpenInput{})
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = f.svc.CheckIn(ctx, student, "c1", CheckInInput{Code: opened.Code})
			require.NoError(t, err)
		}
		_, err = f.svc.Close(ctx, teacher, opened.ID)
		require.NoError(t, err)
		f.clock.t = f.clock.t.Add(time.Hour)
	}

	sum, err := f.svc.Summary(ctx, teacher, "c1")
	require.NoError(t, err)
	assert.Equal(t, 4, sum.TotalSessions)
	require.Len(t, sum.Students, 1)
	assert.Equal(t, "Sam", sum.Students[0].Name)
	assert.Equal(t, 2, sum.Students[0].Attended)
	assert.InDelta(t, 50.0, sum.Students[0].Percentage, 0.001)

	_, err = f.svc.Summary(ctx, student, "c1")
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestDistanceMeters(t *testing.T) {
	assert.InDelta(t, 0, DistanceMeters(10, 10, 10, 10), 1e-6)
	// Berlin to Paris is roughly 878 km.
	assert.InDelta(t, 878000, DistanceMeters(52.52, 13.405, 48.8566, 2.3522), 5000)
}

func TestChainReportsFirstReason(t *testing.T) {
	always := func(reason string) Detector {
		return DetectorFunc(func(model.AttendanceSession, model.AttendanceRecord) string { return reason })
	}
	c := Chain{always(""), always("a"), always("b")}
	assert.Equal(t, "a", c.Inspect(model.AttendanceSession{}, model.AttendanceRecord{}))
	assert.Equal(t, "", Chain{}.Inspect(model.AttendanceSession{}, model.AttendanceRecord{}))
}
