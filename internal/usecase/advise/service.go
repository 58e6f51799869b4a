// Package advise streams LLM advising answers grounded in retrieved courses.
package advise

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/coursedex/internal/domain/rec"
)

const systemPrompt = `You are an academic advisor for university course registration.
Ground every answer in the course list provided with the question.
Recommend only courses from that list, cite them by course code and title,
and mention prerequisites or seat availability when they matter.
If the list contains nothing relevant, say so instead of inventing courses.`

// Service answers advising questions using retrieval-grounded prompts.
type Service struct {
	recommender Recommender
	chat        ChatStreamer
	logger      *zap.Logger
}

// New creates an advising service.
func New(recommender Recommender, chat ChatStreamer, logger *zap.Logger) *Service {
	return &Service{recommender: recommender, chat: chat, logger: logger}
}

// Advise retrieves courses for the query, then streams an LLM answer built on
// them. onCourses fires once with the ranked grounding list before any answer
// chunk; onDelta receives answer chunks in order.
func (s *Service) Advise(
	ctx context.Context, req *rec.Request,
	onCourses func(recs []rec.Recommendation) error,
	onDelta func(delta string) error,
) error {
	recs, err := s.recommender.Recommend(ctx, req)
	if err != nil {
		return fmt.Errorf("retrieve courses: %w", err)
	}

	if onCourses != nil {
		if err := onCourses(recs); err != nil {
			return fmt.Errorf("deliver courses: %w", err)
		}
	}

	prompt := buildPrompt(req.Query(), recs)

	s.logger.Debug("Starting advising stream",
		zap.Int("courses", len(recs)),
		zap.Int("prompt_len", len(prompt)),
	)

	if err := s.chat.StreamChat(ctx, systemPrompt, prompt, onDelta); err != nil {
		return fmt.Errorf("advising stream: %w", err)
	}
	return nil
}

// buildPrompt renders the retrieved courses and the student question into a
// single user message.
func buildPrompt(query string, recs []rec.Recommendation) string {
	var b strings.Builder

	b.WriteString("Candidate courses:\n")
	if len(recs) == 0 {
		b.WriteString("(none matched the query)\n")
	}
	for i := range recs {
		c := recs[i].Course()
		fmt.Fprintf(&b, "%d. %s %s — %s\n", i+1, c.Offering, c.Section, c.Title)
		if c.Description != "" {
			fmt.Fprintf(&b, "   Description: %s\n", c.Description)
		}
		if c.Level != "" {
			fmt.Fprintf(&b, "   Level: %s\n", c.Level)
		}
		if c.Instructors != "" {
			fmt.Fprintf(&b, "   Instructors: %s\n", c.Instructors)
		}
		if c.Seats != "" {
			fmt.Fprintf(&b, "   Seats: %s\n", c.Seats)
		}
		for _, p := range c.Prerequisites {
			if p.Description != "" {
				fmt.Fprintf(&b, "   Prerequisite: %s\n", p.Description)
			}
		}
	}

	b.WriteString("\nStudent question: ")
	b.WriteString(query)
	return b.String()
}
