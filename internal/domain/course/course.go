// Package course defines the immutable course record shared by the catalog
// store and both retrieval indexes.
package course

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Filterable field names accepted by categorical filters.
const (
	FieldSchool     = "school"
	FieldDepartment = "department"
	FieldLevel      = "level"
)

// Prerequisite is one prerequisite clause attached to a course.
type Prerequisite struct {
	Description string
}

// Course is a single catalog record. Records are created in bulk at catalog
// load time and never mutated afterwards; a full reload replaces the set.
type Course struct {
	Offering      string // e.g. "EN.601.220"
	Section       string // e.g. "01"
	Title         string
	Description   string
	Department    string
	School        string
	Level         string
	Instructors   string
	Credits       string
	Status        string
	Seats         string
	Meetings      string
	Areas         string
	Prerequisites []Prerequisite
}

// ID returns the unique course identifier: offering code plus section.
func (c *Course) ID() string {
	return c.Offering + "-" + c.Section
}

// FieldValue returns the value of a filterable field. The second return is
// false for unknown field names.
func (c *Course) FieldValue(field string) (string, bool) {
	switch field {
	case FieldSchool:
		return c.School, true
	case FieldDepartment:
		return c.Department, true
	case FieldLevel:
		return c.Level, true
	default:
		return "", false
	}
}

// SearchText concatenates the fields searched by the lexical index. The title
// is repeated titleWeight times so title matches dominate ties.
func (c *Course) SearchText(titleWeight int) string {
	if titleWeight < 1 {
		titleWeight = 1
	}

	fields := make([]string, 0, titleWeight+4+len(c.Prerequisites))
	for i := 0; i < titleWeight; i++ {
		fields = append(fields, c.Title)
	}
	fields = append(fields, c.Description, c.Department+" "+c.Offering, c.Instructors)
	if c.Areas != "" && c.Areas != "None" {
		fields = append(fields, c.Areas)
	}
	for _, p := range c.Prerequisites {
		if p.Description != "" {
			fields = append(fields, p.Description)
		}
	}

	nonEmpty := fields[:0]
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// EmbedText builds the labeled text representation sent to the embedding
// service. Vectors are keyed by a hash of this text, so any change here
// invalidates the whole vector cache.
func (c *Course) EmbedText() string {
	parts := make([]string, 0, 7)
	parts = append(parts, "Title: "+c.Title)
	parts = append(parts, "Course: "+c.Offering+" - "+c.Department)
	if c.Description != "" {
		parts = append(parts, "Description: "+c.Description)
	}
	if c.Areas != "" && c.Areas != "None" {
		parts = append(parts, "Areas: "+c.Areas)
	}
	if c.Level != "" {
		parts = append(parts, "Level: "+c.Level)
	}
	if c.Instructors != "" {
		parts = append(parts, "Instructors: "+c.Instructors)
	}
	if prereqs := c.prereqText(); prereqs != "" {
		parts = append(parts, "Prerequisites: "+prereqs)
	}
	return strings.Join(parts, "\n")
}

// ContentHash returns the hex sha256 of EmbedText. The vector cache keys
// entries by (ID, ContentHash) so a changed course is re-vectorized instead
// of served a stale vector.
func (c *Course) ContentHash() string {
	h := sha256.Sum256([]byte(c.EmbedText()))
	return hex.EncodeToString(h[:])
}

func (c *Course) prereqText() string {
	texts := make([]string, 0, len(c.Prerequisites))
	for _, p := range c.Prerequisites {
		if p.Description != "" {
			texts = append(texts, p.Description)
		}
	}
	return strings.Join(texts, " ")
}
