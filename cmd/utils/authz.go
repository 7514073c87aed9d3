package utils

import (
	"github.com/adjei-dev/drivetrack-server/cmd/models"
)

// Authorization rules for the scheduling and evaluation surfaces. All role
// decisions go through here instead of ad hoc comparisons at call sites.

func (c Caller) IsAdmin() bool {
	return c.Role == models.RoleAdmin
}

func (c Caller) IsInstructor() bool {
	return c.Role == models.RoleInstructor
}

// CanActForInstructor reports whether the caller may manage availability or
// session forms belonging to the given instructor: the instructor themselves,
// or an admin of the same school.
func (c Caller) CanActForInstructor(instructor *models.User) bool {
	if instructor == nil {
		return false
	}
	if c.UserID == instructor.ID && c.Role == models.RoleInstructor {
		return true
	}
	return c.IsAdmin() && c.SchoolID == instructor.SchoolID
}

// OwnsForm reports whether the caller is the instructor the file (and thus
// the session form) belongs to.
func (c Caller) OwnsForm(file *models.File) bool {
	return file != nil && file.InstructorID != nil && *file.InstructorID == c.UserID && c.Role == models.RoleInstructor
}

// CanAccessFile reports whether the caller may book against or read the given
// enrollment file: its student, its instructor, or staff of the same school.
func (c Caller) CanAccessFile(file *models.File) bool {
	if file == nil {
		return false
	}
	switch c.Role {
	case models.RoleStudent:
		return file.StudentID == c.UserID
	case models.RoleInstructor:
		return file.InstructorID != nil && *file.InstructorID == c.UserID
	case models.RoleAdmin:
		return file.SchoolID == c.SchoolID
	}
	return false
}

// CanReadStudent reports whether the caller may browse a student's session
// history: the student themselves or school staff.
func (c Caller) CanReadStudent(studentID uint, student *models.User) bool {
	if c.UserID == studentID {
		return true
	}
	if student == nil {
		return false
	}
	return (c.IsAdmin() || c.IsInstructor()) && c.SchoolID == student.SchoolID
}
