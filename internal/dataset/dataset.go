package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/modelminds/gradeboard/internal/errors"
)

// FeatureCount is the number of numeric features consumed by the model.
const FeatureCount = 7

// Required columns of the source dataset, in file order.
var requiredColumns = []string{
	"Student_ID",
	"First_Name",
	"Email_ID",
	"Gender",
	"Department",
	"Midterm_Score",
	"Assignments_Avg",
	"Quizzes_Avg",
	"Project_Score",
	"Attendance",
	"Study_Hours_per_Week",
	"Sleep_Hours",
	"Final_Score",
}

// FeatureNames lists the seven model features in the fixed order the
// model consumes them.
var FeatureNames = [FeatureCount]string{
	"Midterm_Score",
	"Assignments_Avg",
	"Quizzes_Avg",
	"Project_Score",
	"Attendance",
	"Study_Hours_per_Week",
	"Sleep_Hours",
}

// StudentRecord is one row of the source dataset or one self-reported
// entry. Identity fields are optional on self-report and never
// synthesized.
type StudentRecord struct {
	StudentID  string `json:"student_id"`
	FirstName  string `json:"first_name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Gender     string `json:"gender"`
	Department string `json:"department"`

	Midterm     float64 `json:"midterm_score" validate:"gte=0,lte=100"`
	Assignments float64 `json:"assignments_avg" validate:"gte=0,lte=100"`
	Quizzes     float64 `json:"quizzes_avg" validate:"gte=0,lte=100"`
	Project     float64 `json:"project_score" validate:"gte=0,lte=100"`
	Attendance  float64 `json:"attendance" validate:"gte=0,lte=100"`
	StudyHours  float64 `json:"study_hours_per_week" validate:"gte=0"`
	SleepHours  float64 `json:"sleep_hours" validate:"gte=0"`

	// FinalScore is the actual score for loaded rows. Predicted scores
	// may extrapolate outside [0,100]; no bound is enforced.
	FinalScore float64 `json:"final_score"`
}

// Features returns the seven numeric features in model order.
func (r StudentRecord) Features() [FeatureCount]float64 {
	return [FeatureCount]float64{
		r.Midterm,
		r.Assignments,
		r.Quizzes,
		r.Project,
		r.Attendance,
		r.StudyHours,
		r.SleepHours,
	}
}

// FeatureByName returns the named feature value. The second return is
// false for unknown names.
func (r StudentRecord) FeatureByName(name string) (float64, bool) {
	switch name {
	case "Midterm_Score":
		return r.Midterm, true
	case "Assignments_Avg":
		return r.Assignments, true
	case "Quizzes_Avg":
		return r.Quizzes, true
	case "Project_Score":
		return r.Project, true
	case "Attendance":
		return r.Attendance, true
	case "Study_Hours_per_Week":
		return r.StudyHours, true
	case "Sleep_Hours":
		return r.SleepHours, true
	}
	return 0, false
}

var validate = validator.New()

// Validate checks numeric ranges and identity fields on a self-reported
// record. Returns a field-level validation error on breach.
func (r StudentRecord) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.NewValidationError("invalid student record", nil)
	}

	details := make(map[string]string, len(invalid))
	for _, fe := range invalid {
		details[fe.Field()] = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return apperrors.NewValidationError("invalid student record", details)
}

// Load reads the fixed-schema dataset from path. Each call produces a
// freshly parsed sequence.
func Load(path string) ([]StudentRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewDataUnavailableError(
			fmt.Sprintf("source dataset %q is not available", path), err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads student records from CSV data with the required column set.
func Parse(r io.Reader) ([]StudentRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.NewDataUnavailableError("source dataset is empty or unreadable", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.NewDataUnavailableError(
			fmt.Sprintf("source dataset is missing required columns: %s", strings.Join(missing, ", ")), nil)
	}

	var records []StudentRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewDataUnavailableError(
				fmt.Sprintf("source dataset is malformed at line %d", line), err)
		}

		rec, err := parseRow(row, cols, line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

func parseRow(row []string, cols map[string]int, line int) (StudentRecord, error) {
	rec := StudentRecord{
		StudentID:  row[cols["Student_ID"]],
		FirstName:  row[cols["First_Name"]],
		Email:      row[cols["Email_ID"]],
		Gender:     row[cols["Gender"]],
		Department: row[cols["Department"]],
	}

	numeric := []struct {
		name string
		dst  *float64
	}{
		{"Midterm_Score", &rec.Midterm},
		{"Assignments_Avg", &rec.Assignments},
		{"Quizzes_Avg", &rec.Quizzes},
		{"Project_Score", &rec.Project},
		{"Attendance", &rec.Attendance},
		{"Study_Hours_per_Week", &rec.StudyHours},
		{"Sleep_Hours", &rec.SleepHours},
		{"Final_Score", &rec.FinalScore},
	}

	for _, col := range numeric {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[cols[col.name]]), 64)
		if err != nil {
			return StudentRecord{}, apperrors.NewDataUnavailableError(
				fmt.Sprintf("source dataset has a non-numeric %s at line %d", col.name, line), err)
		}
		*col.dst = v
	}

	return rec, nil
}

// FindByID returns the first record with the given student ID.
func FindByID(records []StudentRecord, studentID string) (StudentRecord, bool) {
	for _, rec := range records {
		if rec.StudentID == studentID {
			return rec, true
		}
	}
	return StudentRecord{}, false
}
