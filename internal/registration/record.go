package registration

import "time"

// Category is the registration track a driver is onboarding into.
// The zero value means the category could not be determined yet.
type Category string

const (
	CategoryUnknown   Category = ""
	CategoryTAC       Category = "TAC"
	CategoryAggregate Category = "Aggregate"
)

// ParseCategory maps free-form operator input ("tac", "Agregado", ...) to a Category.
func ParseCategory(s string) Category {
	switch normalizeWord(s) {
	case "tac":
		return CategoryTAC
	case "aggregate", "agregado":
		return CategoryAggregate
	default:
		return CategoryUnknown
	}
}

// Status labels a persisted row.
type Status string

const (
	StatusComplete   Status = "Complete"
	StatusInProgress Status = "InProgress"
)

// Field names one column of a registration. The values double as the
// workbook header labels.
type Field string

const (
	FieldName            Field = "Name"
	FieldNationalID      Field = "NationalID"
	FieldPhone           Field = "Phone"
	FieldCity            Field = "City"
	FieldCategory        Field = "Category"
	FieldLicensePlate    Field = "LicensePlate"
	FieldCourseCompleted Field = "CourseCompleted"
	FieldRegisteredAt    Field = "RegisteredAt"
	FieldStatus          Field = "Status"
)

// Fields lists the extracted fields in column order.
var Fields = []Field{
	FieldName,
	FieldNationalID,
	FieldPhone,
	FieldCity,
	FieldCategory,
	FieldLicensePlate,
	FieldCourseCompleted,
}

// Columns is the full row layout written to the workbook.
var Columns = append(append([]Field{}, Fields...), FieldRegisteredAt, FieldStatus)

var requiredFields = map[Category][]Field{
	CategoryTAC:       {FieldName, FieldNationalID, FieldPhone, FieldCity, FieldCourseCompleted},
	CategoryAggregate: {FieldName, FieldNationalID, FieldPhone, FieldCity, FieldLicensePlate},
}

// Record is one driver registration, possibly still partial.
type Record struct {
	Name            string    `json:"name"`
	NationalID      string    `json:"national_id"`
	Phone           string    `json:"phone"`
	City            string    `json:"city"`
	Category        Category  `json:"category"`
	LicensePlate    string    `json:"license_plate"`
	CourseCompleted string    `json:"course_completed"`
	RegisteredAt    time.Time `json:"registered_at,omitzero"`
	Status          Status    `json:"status,omitempty"`
}

// Get returns the textual value of an extracted field.
func (r Record) Get(f Field) string {
	switch f {
	case FieldName:
		return r.Name
	case FieldNationalID:
		return r.NationalID
	case FieldPhone:
		return r.Phone
	case FieldCity:
		return r.City
	case FieldCategory:
		return string(r.Category)
	case FieldLicensePlate:
		return r.LicensePlate
	case FieldCourseCompleted:
		return r.CourseCompleted
	case FieldStatus:
		return string(r.Status)
	}
	return ""
}

// Set assigns the textual value of an extracted field. Unknown fields are ignored.
func (r *Record) Set(f Field, v string) {
	switch f {
	case FieldName:
		r.Name = v
	case FieldNationalID:
		r.NationalID = v
	case FieldPhone:
		r.Phone = v
	case FieldCity:
		r.City = v
	case FieldCategory:
		r.Category = Category(v)
	case FieldLicensePlate:
		r.LicensePlate = v
	case FieldCourseCompleted:
		r.CourseCompleted = v
	case FieldStatus:
		r.Status = Status(v)
	}
}

// Merge returns r with every non-empty extracted field of update copied over.
// Empty values in update never blank out what r already knows.
func (r Record) Merge(update Record) Record {
	for _, f := range Fields {
		if v := update.Get(f); v != "" {
			r.Set(f, v)
		}
	}
	return r
}

// IsComplete reports whether every field required by the record's category is filled.
// A record without a category is never complete.
func (r Record) IsComplete() bool {
	required, ok := requiredFields[r.Category]
	if !ok {
		return false
	}
	for _, f := range required {
		if r.Get(f) == "" {
			return false
		}
	}
	return true
}

// Missing lists the required fields that are still empty. When the category is
// unknown only FieldCategory is reported, since the rest depends on it.
func (r Record) Missing() []Field {
	required, ok := requiredFields[r.Category]
	if !ok {
		return []Field{FieldCategory}
	}
	var missing []Field
	for _, f := range required {
		if r.Get(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}
