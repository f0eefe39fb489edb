package main

import (
	"time"

	"driver_intake/internal/extract"
	"driver_intake/internal/intake"
	"driver_intake/internal/registration"
	"driver_intake/internal/report"
)

// Request/Response structures

type MessageRequest struct {
	Text   string `json:"text" form:"text"`
	Sender string `json:"sender" form:"sender"`
}

type RegistrationRequest struct {
	Name            string `json:"name"`
	NationalID      string `json:"national_id"`
	Phone           string `json:"phone"`
	City            string `json:"city"`
	Category        string `json:"category"`
	LicensePlate    string `json:"license_plate"`
	CourseCompleted string `json:"course_completed"`
}

// Record converts the request into a registration. The category accepts the
// Portuguese names as well.
func (r RegistrationRequest) Record() registration.Record {
	return registration.Record{
		Name:            r.Name,
		NationalID:      r.NationalID,
		Phone:           r.Phone,
		City:            r.City,
		Category:        registration.ParseCategory(r.Category),
		LicensePlate:    r.LicensePlate,
		CourseCompleted: r.CourseCompleted,
	}
}

// ResultResponse is an intake result plus the text to send back to the driver.
type ResultResponse struct {
	intake.Result
	Prompt string `json:"prompt,omitempty"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Prompt string `json:"prompt,omitempty"`
}

type ConversationsResponse struct {
	Count         int                   `json:"count"`
	Conversations []registration.Record `json:"conversations"`
}

type ReportRequest struct {
	// Date is dd/mm/yyyy; empty means today.
	Date string `json:"date" form:"date" query:"date"`
}

type ReportResponse struct {
	Path    string         `json:"path"`
	Summary report.Summary `json:"summary"`
	Text    string         `json:"text"`
}

type ReloadResponse struct {
	Message    string    `json:"message"`
	Categories int       `json:"categories"`
	Milestones int       `json:"milestones"`
	ReloadedAt time.Time `json:"reloaded_at"`
}

type RulesResponse struct {
	LoadedAt   time.Time              `json:"loaded_at"`
	ConfigPath string                 `json:"config_path"`
	Categories []extract.CategoryRule `json:"categories"`
}
