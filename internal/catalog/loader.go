package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/kailas-cloud/coursedex/internal/domain/course"
)

// courseDTO mirrors one record of the registry snapshot JSON.
type courseDTO struct {
	Title          string            `json:"Title"`
	OfferingName   string            `json:"OfferingName"`
	SectionName    string            `json:"SectionName"`
	Department     string            `json:"Department"`
	SchoolName     string            `json:"SchoolName"`
	Level          string            `json:"Level"`
	Instructors    string            `json:"InstructorsFullName"`
	Credits        string            `json:"Credits"`
	Status         string            `json:"Status"`
	SeatsAvailable string            `json:"SeatsAvailable"`
	Meetings       string            `json:"Meetings"`
	Areas          string            `json:"Areas"`
	Description    string            `json:"Description"`
	Prerequisites  []prerequisiteDTO `json:"Prerequisites"`
}

type prerequisiteDTO struct {
	Description string `json:"Description"`
}

// Load reads a course snapshot file and builds the immutable store.
// The store version is derived from the file contents, so two processes
// loading the same snapshot agree on the version string.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var dtos []courseDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if len(dtos) == 0 {
		return nil, fmt.Errorf("snapshot %s contains no courses", path)
	}

	courses := make([]course.Course, 0, len(dtos))
	for _, dto := range dtos {
		if dto.OfferingName == "" {
			continue
		}
		courses = append(courses, dto.toDomain())
	}
	if len(courses) == 0 {
		return nil, fmt.Errorf("snapshot %s contains no usable courses", path)
	}

	h := sha256.Sum256(data)
	return newStore(courses, hex.EncodeToString(h[:6])), nil
}

func (d courseDTO) toDomain() course.Course {
	prereqs := make([]course.Prerequisite, 0, len(d.Prerequisites))
	for _, p := range d.Prerequisites {
		if p.Description != "" {
			prereqs = append(prereqs, course.Prerequisite{Description: p.Description})
		}
	}

	return course.Course{
		Offering:      d.OfferingName,
		Section:       d.SectionName,
		Title:         d.Title,
		Description:   d.Description,
		Department:    d.Department,
		School:        d.SchoolName,
		Level:         d.Level,
		Instructors:   d.Instructors,
		Credits:       d.Credits,
		Status:        d.Status,
		Seats:         d.SeatsAvailable,
		Meetings:      d.Meetings,
		Areas:         d.Areas,
		Prerequisites: prereqs,
	}
}
