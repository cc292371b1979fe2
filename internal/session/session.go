// Package session carries the authenticated caller through service calls.
package session

import "attendanceportal/internal/model"

// Context identifies who is acting. Handlers build one per request from the
// bearer token and pass it to services explicitly.
type Context struct {
	UserID string
	Name   string
	Role   model.Role
}

// IsTeacher reports whether the caller acts as a teacher.
func (c Context) IsTeacher() bool { return c.Role == model.RoleTeacher }

// IsStudent reports whether the caller acts as a student.
func (c Context) IsStudent() bool { return c.Role == model.RoleStudent }

// Valid reports whether the context names a user with a known role.
func (c Context) Valid() bool { return c.UserID != "" && c.Role.Valid() }

// For builds a context for u.
func For(u model.User) Context {
	return Context{UserID: u.ID, Name: u.Name, Role: u.Role}
}
