package attendance

import (
	"context"

	"attendanceportal/internal/model"
	"attendanceportal/internal/store"
)

// snapshot holds the collections one attendance operation reads.
type snapshot struct {
	courses  []model.Course
	sessions []model.AttendanceSession
	records  []model.AttendanceRecord
}

func load(ctx context.Context, r store.Repository) (snapshot, error) {
	var (
		snap snapshot
		err  error
	)
	if snap.courses, err = r.Courses(ctx); err != nil {
		return snap, err
	}
	if snap.sessions, err = r.Sessions(ctx); err != nil {
		return snap, err
	}
	if snap.records, err = r.Records(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s snapshot) course(id string) (model.Course, bool) {
	for _, c := range s.courses {
		if c.ID == id {
			return c, true
		}
	}
	return model.Course{}, false
}

func (s snapshot) sessionIndex(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s snapshot) recordIndex(id string) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

// activeIndex returns the index of the course's active session.
func (s snapshot) activeIndex(courseID string) int {
	for i := range s.sessions {
		if s.sessions[i].CourseID == courseID && s.sessions[i].IsActive {
			return i
		}
	}
	return -1
}

func (s snapshot) checkedIn(sessionID, studentID string) bool {
	for _, r := range s.records {
		if r.SessionID == sessionID && r.StudentID == studentID {
			return true
		}
	}
	return false
}

func (s snapshot) courseSessions(courseID string) []model.AttendanceSession {
	out := make([]model.AttendanceSession, 0)
	for _, v := range s.sessions {
		if v.CourseID == courseID {
			out = append(out, v)
		}
	}
	return out
}
