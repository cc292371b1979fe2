package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendanceportal/internal/model"
)

func backends(t *testing.T) map[string]Repository {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	lite, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	return map[string]Repository{
		"memory": NewMemory(),
		"redis":  NewRedisRepository(client, "portal:"),
		"sqlite": NewSQLiteRepository(lite),
	}
}

func TestRepositoryEmptyCollections(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			users, err := repo.Users(ctx)
			require.NoError(t, err)
			assert.NotNil(t, users)
			assert.Empty(t, users)

			courses, err := repo.Courses(ctx)
			require.NoError(t, err)
			assert.Empty(t, courses)

			u, err := repo.AuthUser(ctx)
			require.NoError(t, err)
			assert.Nil(t, u)
		})
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	lat, lng := 33.99, 71.48

	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			users := []model.User{{ID: "t1", Name: "Ada", Email: "ada@school.test", Role: model.RoleTeacher, CreatedAt: now}}
			require.NoError(t, repo.SaveUsers(ctx, users))

			courses := []model.Course{{ID: "c1", TeacherID: "t1", Name: "Algorithms", EnrollmentCode: "K3F9QZ"}}
			require.NoError(t, repo.SaveCourses(ctx, courses))

			sessions := []model.AttendanceSession{{ID: "s1", CourseID: "c1", Code: "ABC123", StartTime: now, EndTime: now.Add(time.Hour), IsActive: true, Latitude: &lat, Longitude: &lng}}
			require.NoError(t, repo.SaveSessions(ctx, sessions))

			records := []model.AttendanceRecord{{ID: "r1", SessionID: "s1", CourseID: "c1", StudentID: "st1", Timestamp: now}}
			require.NoError(t, repo.SaveRecords(ctx, records))

			lectures := []model.LectureContent{{ID: "l1", CourseID: "c1", Title: "Intro", Type: model.ContentNote, Data: "hello", CreatedAt: now}}
			require.NoError(t, repo.SaveLectures(ctx, lectures))

			notes := []model.Notification{{ID: "n1", UserID: "t1", Title: "Hi", Type: model.NotifyInfo, Timestamp: now}}
			require.NoError(t, repo.SaveNotifications(ctx, notes))

			gotUsers, err := repo.Users(ctx)
			require.NoError(t, err)
			assert.Equal(t, users, gotUsers)

			gotCourses, err := repo.Courses(ctx)
			require.NoError(t, err)
			require.Len(t, gotCourses, 1)
			assert.Equal(t, "K3F9QZ", gotCourses[0].EnrollmentCode)
			assert.Equal(t, []string{}, gotCourses[0].EnrolledStudentIDs)
			assert.Equal(t, []string{}, gotCourses[0].PendingStudentIDs)

			gotSessions, err := repo.Sessions(ctx)
			require.NoError(t, err)
			require.Len(t, gotSessions, 1)
			assert.True(t, gotSessions[0].StartTime.Equal(now))
			assert.InDelta(t, lat, *gotSessions[0].Latitude, 1e-9)

			gotRecords, err := repo.Records(ctx)
			require.NoError(t, err)
			assert.Len(t, gotRecords, 1)

			gotLectures, err := repo.Lectures(ctx)
			require.NoError(t, err)
			assert.Equal(t, "Intro", gotLectures[0].Title)

			gotNotes, err := repo.Notifications(ctx)
			require.NoError(t, err)
			assert.Equal(t, "n1", gotNotes[0].ID)
		})
	}
}

func TestRepositoryAuthPointer(t *testing.T) {
	ctx := context.Background()
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			u := model.User{ID: "u1", Name: "Safi", Role: model.RoleStudent}
			require.NoError(t, repo.SetAuthUser(ctx, &u))

			got, err := repo.AuthUser(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "u1", got.ID)

			require.NoError(t, repo.SetAuthUser(ctx, nil))
			got, err = repo.AuthUser(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestMemoryIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	users := []model.User{{ID: "1", Name: "before"}}
	require.NoError(t, repo.SaveUsers(ctx, users))

	users[0].Name = "mutated"
	got, err := repo.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, "before", got[0].Name)
}

func TestRedisUsesPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := NewRedisRepository(client, "portal:")
	require.NoError(t, repo.SaveCourses(context.Background(), []model.Course{{ID: "c1"}}))

	assert.True(t, mr.Exists("portal:courses"))
	assert.False(t, mr.Exists("courses"))
}

func TestRedisHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(mr.Addr())
	defer r.Close()

	assert.True(t, r.Healthy(context.Background()))
	var nilRedis *Redis
	assert.False(t, nilRedis.Healthy(context.Background()))
}

func TestStoreUpdateSerializes(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(func(r Repository) error {
				users, err := r.Users(ctx)
				if err != nil {
					return err
				}
				users = append(users, model.User{ID: "x"})
				return r.SaveUsers(ctx, users)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	users, err := s.Repo().Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 50)
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, mem.Healthy(ctx))
	assert.NoError(t, mem.Close())

	mr := miniredis.RunT(t)
	opened, err := Open(ctx, Options{Backend: BackendRedis, RedisAddr: mr.Addr(), RedisKeyPrefix: "p:"})
	require.NoError(t, err)
	require.NotNil(t, opened.Redis)
	require.NoError(t, opened.Repo.SaveUsers(ctx, []model.User{{ID: "u1"}}))
	assert.True(t, mr.Exists("p:users"))
	assert.True(t, opened.Healthy(ctx))
	require.NoError(t, opened.Close())

	lite, err := Open(ctx, Options{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "data", "portal.db")})
	require.NoError(t, err)
	require.NoError(t, lite.Repo.SaveUsers(ctx, []model.User{{ID: "u1"}}))
	users, err := lite.Repo.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	require.NoError(t, lite.Close())

	_, err = Open(ctx, Options{Backend: "mongo"})
	assert.ErrorContains(t, err, "unknown store backend")
}
