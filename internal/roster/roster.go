package roster

import (
	"context"
	"database/sql"
	"errors"
)

// Class is the read-only view of a class this core consumes. Enrollment and
// class CRUD live elsewhere; nothing here mutates them.
type Class struct {
	ID              string `json:"id"`
	ClassName       string `json:"className"`
	Section         string `json:"section"`
	Subject         string `json:"subject"`
	CourseCode      string `json:"courseCode"`
	AssignedFaculty string `json:"assignedFaculty"`
}

// Student is one roster entry: the identity pair used to authorize a join.
type Student struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	RegistrationNumber string `json:"registrationNumber"`
}

// Repository reads class and enrollment data from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetClass returns a class by id, or nil when absent.
func (r *Repository) GetClass(ctx context.Context, classID string) (*Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, class_name, section, subject, course_code, assigned_faculty
		FROM classes WHERE id = $1
	`, classID)
	var c Class
	if err := row.Scan(&c.ID, &c.ClassName, &c.Section, &c.Subject, &c.CourseCode, &c.AssignedFaculty); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// EnrolledStudents returns the roster for a class ordered by registration number.
func (r *Repository) EnrolledStudents(ctx context.Context, classID string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.registration_number
		FROM class_enrollments e
		JOIN users u ON u.id = e.student_id
		WHERE e.class_id = $1
		ORDER BY u.registration_number
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.RegistrationNumber); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// IsFacultyAssigned reports whether the faculty member is assigned to the class.
func (r *Repository) IsFacultyAssigned(ctx context.Context, classID, facultyID string) (bool, error) {
	var assigned bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1 AND assigned_faculty = $2)
	`, classID, facultyID).Scan(&assigned)
	return assigned, err
}
