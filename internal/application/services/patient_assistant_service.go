package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
	"github.com/smartqrhealth/backend/internal/domain/repositories"
	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

// ErrAssistantUnavailable is returned when no model is configured.
var ErrAssistantUnavailable = apperrors.NewUnavailableError("assistant is not configured")

const (
	assistantReportLimit  = 5
	assistantHistoryLimit = 6
	assistantDisclaimer   = "⚠️ This is not medical advice. For serious concerns, please consult your doctor."
)

// ChatMessage is one prior turn of the assistant conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AssistantReply is the assistant's answer
type AssistantReply struct {
	Reply string `json:"reply"`
}

// PatientAssistantService answers a patient's questions from their own records
type PatientAssistantService struct {
	patients repositories.PatientRepository
	reports  repositories.ReportRepository
	ai       providers.AIModelProvider
	model    string
}

// NewPatientAssistantService creates a new assistant service
func NewPatientAssistantService(
	patients repositories.PatientRepository,
	reports repositories.ReportRepository,
	ai providers.AIModelProvider,
	model string,
) *PatientAssistantService {
	return &PatientAssistantService{patients: patients, reports: reports, ai: ai, model: model}
}

type assistantProfile struct {
	Name              string   `json:"name"`
	Age               int      `json:"age"`
	Gender            string   `json:"gender"`
	BloodGroup        string   `json:"bloodGroup"`
	Allergies         []string `json:"allergies"`
	MedicalConditions []string `json:"medicalConditions"`
	Medications       []string `json:"medications"`
	RiskLevel         string   `json:"riskLevel"`
}

type assistantReport struct {
	Type      string    `json:"type"`
	Date      time.Time `json:"date"`
	Summary   string    `json:"summary"`
	RiskLevel string    `json:"riskLevel"`
}

type assistantContext struct {
	Profile           assistantProfile  `json:"profile"`
	AISummary         string            `json:"aiSummary"`
	AIRiskLevel       string            `json:"aiRiskLevel"`
	AILifestyleAdvice []string          `json:"aiLifestyleAdvice"`
	RecentReports     []assistantReport `json:"recentReports"`
}

// Reply answers message using the patient's profile, AI summary and recent reports.
func (s *PatientAssistantService) Reply(ctx context.Context, patientID, message string, history []ChatMessage) (*AssistantReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.NewValidationError("message is required")
	}
	if s.ai == nil {
		return nil, ErrAssistantUnavailable
	}

	patient, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	reports, err := s.reports.ListRecentByPatient(ctx, patientID, assistantReportLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	systemPrompt, err := buildAssistantPrompt(patient, reports)
	if err != nil {
		return nil, err
	}

	messages := []providers.AIMessage{{Role: providers.AIRoleSystem, Content: systemPrompt}}
	messages = append(messages, trimHistory(history)...)
	messages = append(messages, providers.AIMessage{Role: providers.AIRoleUser, Content: message})

	reply, err := s.ai.Complete(ctx, providers.AICompletionRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, apperrors.NewExternalError("failed to process chat message", err)
	}
	return &AssistantReply{Reply: strings.TrimSpace(reply)}, nil
}

// trimHistory keeps the last user and assistant turns.
func trimHistory(history []ChatMessage) []providers.AIMessage {
	out := make([]providers.AIMessage, 0, len(history))
	for _, m := range history {
		role := providers.AIMessageRole(strings.ToLower(strings.TrimSpace(m.Role)))
		if role != providers.AIRoleUser && role != providers.AIRoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, providers.AIMessage{Role: role, Content: m.Content})
	}
	if len(out) > assistantHistoryLimit {
		out = out[len(out)-assistantHistoryLimit:]
	}
	return out
}

func buildAssistantPrompt(patient *entities.Patient, reports []*entities.Report) (string, error) {
	pc := assistantContext{
		Profile: assistantProfile{
			Name:              patient.FullName,
			Age:               patient.Age,
			Gender:            patient.Gender,
			BloodGroup:        patient.BloodGroup,
			Allergies:         nonNilStrings(patient.Allergies),
			MedicalConditions: nonNilStrings(patient.MedicalConditions),
			Medications:       nonNilStrings(patient.Medications),
			RiskLevel:         string(patient.RiskLevel),
		},
		AISummary:         "No AI summary available yet",
		AIRiskLevel:       "Unknown",
		AILifestyleAdvice: nonNilStrings(patient.AI.AILifestyleAdvice),
		RecentReports:     make([]assistantReport, 0, len(reports)),
	}
	if patient.AI.AISummary != nil && *patient.AI.AISummary != "" {
		pc.AISummary = *patient.AI.AISummary
	}
	if patient.AI.AIRiskLevel != "" {
		pc.AIRiskLevel = string(patient.AI.AIRiskLevel)
	}
	for _, r := range reports {
		rep := assistantReport{
			Type:      r.ReportType,
			Date:      r.ReportDate,
			Summary:   "No summary available",
			RiskLevel: "Unknown",
		}
		if rep.Type == "" {
			rep.Type = r.AICategory
		}
		if r.AISummary != "" {
			rep.Summary = r.AISummary
		}
		if r.RiskLevel != "" {
			rep.RiskLevel = string(r.RiskLevel)
		}
		pc.RecentReports = append(pc.RecentReports, rep)
	}

	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode patient context: %w", err)
	}

	return fmt.Sprintf(`You are a helpful health assistant for %s. Answer questions based ONLY on their medical data provided below.

PATIENT DATA:
%s

RULES:
1. Use ONLY this patient's data - never make up or assume information
2. If information is missing, say "This information is not available in your records"
3. Use simple, friendly, supportive language
4. Be concise but helpful
5. Always end responses with: "%s"
6. If asked about symptoms or new issues not in the data, recommend seeing a doctor
7. Be encouraging about positive health behaviors`, patient.FullName, data, assistantDisclaimer), nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
