package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
)

const reportSchemaPrompt = `You are a medical report analysis AI. Analyze the medical report and extract:
1) reportType (CBC, Lipid, Thyroid, KFT, LFT, Sugar, etc.)
2) parameters: array of { name, value, unit, normalRange, status (LOW/NORMAL/HIGH) }
3) summary: 3-5 sentence patient-friendly summary
4) riskLevel: Low | Medium | High
5) lifestyleAdvice: array of 4-6 actionable recommendations

Return STRICT JSON only:
{
  "reportType": "...",
  "parameters": [{"name": "...", "value": 0, "unit": "mg/dL", "normalRange": "70-110", "status": "HIGH"}],
  "summary": "...",
  "riskLevel": "Low",
  "lifestyleAdvice": ["...", "..."]
}`

// AnalysisUnavailable explains why no analysis could be produced
type AnalysisUnavailable struct {
	Reason string `json:"reason"`
}

// ReportAnalysisOutcome holds exactly one of Analysis or Unavailable.
type ReportAnalysisOutcome struct {
	Analysis    *entities.ReportAnalysis
	Unavailable *AnalysisUnavailable
}

// Available reports whether the outcome carries an analysis
func (o ReportAnalysisOutcome) Available() bool {
	return o.Analysis != nil
}

func analyzed(a *entities.ReportAnalysis) ReportAnalysisOutcome {
	return ReportAnalysisOutcome{Analysis: a}
}

func unavailable(format string, args ...interface{}) ReportAnalysisOutcome {
	return ReportAnalysisOutcome{Unavailable: &AnalysisUnavailable{Reason: fmt.Sprintf(format, args...)}}
}

// ReportAnalyzerConfig holds model settings for single report analysis
type ReportAnalyzerConfig struct {
	Model          string
	VisionModel    string
	Temperature    float32
	MaxTokens      int
	MaxReportChars int
}

// ReportAnalyzer analyzes a single uploaded report file
type ReportAnalyzer struct {
	ai        providers.AIModelProvider
	extractor providers.TextExtractor
	cfg       ReportAnalyzerConfig
}

// NewReportAnalyzer creates a new report analyzer
func NewReportAnalyzer(ai providers.AIModelProvider, extractor providers.TextExtractor, cfg ReportAnalyzerConfig) *ReportAnalyzer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.MaxReportChars <= 0 {
		cfg.MaxReportChars = defaultMaxReportChars
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	return &ReportAnalyzer{ai: ai, extractor: extractor, cfg: cfg}
}

type rawReportAnalysis struct {
	ReportType      string         `json:"reportType"`
	Parameters      []rawParameter `json:"parameters"`
	Summary         string         `json:"summary"`
	RiskLevel       string         `json:"riskLevel"`
	LifestyleAdvice []string       `json:"lifestyleAdvice"`
}

// AnalyzeReport analyzes a PDF or image report. It never returns an error;
// anything short of a valid analysis is reported as Unavailable.
func (a *ReportAnalyzer) AnalyzeReport(ctx context.Context, file entities.ReportFile) ReportAnalysisOutcome {
	if a.ai == nil {
		return unavailable("ai model provider not configured")
	}

	var (
		content string
		err     error
	)
	switch {
	case file.IsPDF():
		content, err = a.analyzePDF(ctx, file)
	case file.IsImage():
		content, err = a.analyzeImage(ctx, file)
	default:
		return unavailable("unsupported report type %q", file.MimeType)
	}
	if err != nil {
		log.Warn().Err(err).Str("file", file.Name).Msg("Report analysis call failed")
		return unavailable("analysis failed: %v", err)
	}

	analysis, err := parseReportAnalysis(content)
	if err != nil {
		log.Warn().Err(err).Str("file", file.Name).Msg("Report analysis response rejected")
		return unavailable("invalid analysis response: %v", err)
	}
	return analyzed(analysis)
}

func (a *ReportAnalyzer) analyzePDF(ctx context.Context, file entities.ReportFile) (string, error) {
	if a.extractor != nil && len(file.Data) > 0 {
		text, err := a.extractor.ExtractText(ctx, file.Data)
		if err != nil {
			log.Warn().Err(err).Str("file", file.Name).Msg("PDF text extraction failed, sending document instead")
		} else if strings.TrimSpace(text) != "" {
			return a.complete(ctx, a.cfg.Model, providers.AIMessage{
				Role: providers.AIRoleUser,
				Content: "Analyze this medical report text and provide the analysis in the exact JSON format specified.\n\nREPORT TEXT:\n" +
					truncateRunes(text, a.cfg.MaxReportChars),
			})
		}
	}
	return a.analyzeDocument(ctx, file)
}

// analyzeDocument hands the raw PDF to the provider's file API.
func (a *ReportAnalyzer) analyzeDocument(ctx context.Context, file entities.ReportFile) (string, error) {
	path := file.Path
	if path == "" {
		tmp, cleanup, err := writeTempReport(file)
		if err != nil {
			return "", err
		}
		defer cleanup()
		path = tmp
	}

	fileID, err := a.ai.UploadDocument(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}
	defer func() {
		if err := a.ai.DeleteDocument(context.WithoutCancel(ctx), fileID); err != nil {
			log.Warn().Err(err).Str("file_id", fileID).Msg("Could not delete uploaded report")
		}
	}()

	return a.complete(ctx, a.cfg.Model, providers.AIMessage{
		Role:    providers.AIRoleUser,
		Content: fmt.Sprintf("Analyze this medical report PDF (file ID: %s). Provide detailed analysis in the exact JSON format specified.", fileID),
	})
}

func (a *ReportAnalyzer) analyzeImage(ctx context.Context, file entities.ReportFile) (string, error) {
	if len(file.Data) == 0 {
		return "", errors.New("image report is empty")
	}
	dataURL := "data:" + file.MimeType + ";base64," + base64.StdEncoding.EncodeToString(file.Data)
	return a.complete(ctx, a.cfg.VisionModel, providers.AIMessage{
		Role:         providers.AIRoleUser,
		Content:      "Analyze this medical report and provide analysis in JSON format as specified.",
		ImageDataURL: dataURL,
	})
}

func (a *ReportAnalyzer) complete(ctx context.Context, model string, user providers.AIMessage) (string, error) {
	return a.ai.Complete(ctx, providers.AICompletionRequest{
		Model: model,
		Messages: []providers.AIMessage{
			{Role: providers.AIRoleSystem, Content: reportSchemaPrompt},
			user,
		},
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		JSON:        true,
	})
}

func writeTempReport(file entities.ReportFile) (string, func(), error) {
	if len(file.Data) == 0 {
		return "", nil, errors.New("pdf report is empty")
	}
	name := filepath.Base(file.Name)
	if name == "." || name == "/" || name == "" {
		name = "report.pdf"
	}
	dir, err := os.MkdirTemp("", "report-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to stage report: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, file.Data, 0o600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage report: %w", err)
	}
	return path, cleanup, nil
}

func parseReportAnalysis(content string) (*entities.ReportAnalysis, error) {
	var raw rawReportAnalysis
	body, err := decodeJSONObject(content, &raw)
	if err != nil {
		return nil, err
	}

	reportType := strings.TrimSpace(raw.ReportType)
	summary := strings.TrimSpace(raw.Summary)
	if reportType == "" || summary == "" || strings.TrimSpace(raw.RiskLevel) == "" {
		return nil, errors.New("reportType, summary and riskLevel are required")
	}
	risk, ok := entities.ParseRiskLevel(raw.RiskLevel)
	if !ok {
		return nil, fmt.Errorf("invalid riskLevel %q", raw.RiskLevel)
	}
	params, err := parseParameters(raw.Parameters)
	if err != nil {
		return nil, err
	}

	return &entities.ReportAnalysis{
		ReportType:      reportType,
		Parameters:      params,
		Summary:         summary,
		RiskLevel:       risk,
		LifestyleAdvice: cleanStrings(raw.LifestyleAdvice),
		Raw:             body,
	}, nil
}
