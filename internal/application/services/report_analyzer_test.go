package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
)

func newTestAnalyzer(ai providers.AIModelProvider, extractor providers.TextExtractor) *ReportAnalyzer {
	return NewReportAnalyzer(ai, extractor, ReportAnalyzerConfig{Model: "gpt-4o-mini", VisionModel: "gpt-4o", Temperature: 0.2})
}

func captureRequest(ai *mockAIModel, content string) *providers.AICompletionRequest {
	captured := &providers.AICompletionRequest{}
	ai.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { *captured = args.Get(1).(providers.AICompletionRequest) }).
		Return(content, nil)
	return captured
}

func TestAnalyzeReport_Image(t *testing.T) {
	ai := new(mockAIModel)
	req := captureRequest(ai, validReportJSON)

	outcome := newTestAnalyzer(ai, nil).AnalyzeReport(context.Background(), entities.ReportFile{
		Name: "cbc.png", MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'},
	})

	require.True(t, outcome.Available(), outcome.Unavailable)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.True(t, req.JSON)
	assert.Equal(t, 2000, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, providers.AIRoleSystem, req.Messages[0].Role)
	assert.True(t, strings.HasPrefix(req.Messages[1].ImageDataURL, "data:image/png;base64,"))

	a := outcome.Analysis
	assert.Equal(t, "CBC", a.ReportType)
	assert.Equal(t, entities.RiskLevelMedium, a.RiskLevel)
	require.Len(t, a.Parameters, 3)
	assert.Equal(t, "10.2", a.Parameters[0].Value)
	assert.Equal(t, "7000", a.Parameters[1].Value)
	assert.Equal(t, entities.ParameterStatusHigh, a.Parameters[2].Status)
	assert.Equal(t, []string{"Hemoglobin is LOW", "Platelets is HIGH"}, a.KeyIssues())
	assert.NotEmpty(t, a.Raw)
	ai.AssertNotCalled(t, "UploadDocument", mock.Anything, mock.Anything)
}

func TestAnalyzeReport_PDFWithText(t *testing.T) {
	ai := new(mockAIModel)
	req := captureRequest(ai, validReportJSON)

	outcome := newTestAnalyzer(ai, stubExtractor{text: "Hemoglobin 10.2 g/dL"}).AnalyzeReport(context.Background(), entities.ReportFile{
		Name: "cbc.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4"),
	})

	require.True(t, outcome.Available())
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Contains(t, req.Messages[1].Content, "Hemoglobin 10.2 g/dL")
	assert.Empty(t, req.Messages[1].ImageDataURL)
	ai.AssertNotCalled(t, "UploadDocument", mock.Anything, mock.Anything)
}

func TestAnalyzeReport_PDFWithoutTextUploadsDocument(t *testing.T) {
	tests := []struct {
		name      string
		extractor stubExtractor
	}{
		{name: "no text", extractor: stubExtractor{text: "  "}},
		{name: "extraction error", extractor: stubExtractor{err: errors.New("bad xref")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := new(mockAIModel)
			var uploaded string
			ai.On("UploadDocument", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					uploaded = args.String(1)
					data, err := os.ReadFile(uploaded)
					require.NoError(t, err)
					assert.Equal(t, "%PDF-1.4 scanned", string(data))
				}).
				Return("file-42", nil).Once()
			ai.On("DeleteDocument", mock.Anything, "file-42").Return(nil).Once()
			req := captureRequest(ai, validReportJSON)

			outcome := newTestAnalyzer(ai, tt.extractor).AnalyzeReport(context.Background(), entities.ReportFile{
				Name: "scan.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4 scanned"),
			})

			require.True(t, outcome.Available())
			assert.Contains(t, req.Messages[1].Content, "file-42")
			ai.AssertExpectations(t)

			_, err := os.Stat(uploaded)
			assert.True(t, os.IsNotExist(err), "staged copy should be removed")
		})
	}
}

func TestAnalyzeReport_PDFOnDiskIsUploadedInPlace(t *testing.T) {
	ai := new(mockAIModel)
	ai.On("UploadDocument", mock.Anything, "/srv/uploads/scan.pdf").Return("file-7", nil).Once()
	ai.On("DeleteDocument", mock.Anything, "file-7").Return(errors.New("gone")).Once()
	captureRequest(ai, validReportJSON)

	outcome := newTestAnalyzer(ai, nil).AnalyzeReport(context.Background(), entities.ReportFile{
		Name: "scan.pdf", MimeType: "application/pdf", Path: "/srv/uploads/scan.pdf",
	})

	assert.True(t, outcome.Available())
	ai.AssertExpectations(t)
}

func TestAnalyzeReport_Unavailable(t *testing.T) {
	image := entities.ReportFile{Name: "x.jpg", MimeType: "image/jpeg", Data: []byte{1, 2, 3}}

	tests := []struct {
		name    string
		file    entities.ReportFile
		content string
		err     error
		reason  string
	}{
		{name: "unsupported type", file: entities.ReportFile{Name: "x.docx", MimeType: "application/msword"}, reason: "unsupported"},
		{name: "empty image", file: entities.ReportFile{Name: "x.png", MimeType: "image/png"}, reason: "empty"},
		{name: "model error", file: image, err: errors.New("rate limited"), reason: "rate limited"},
		{name: "not json", file: image, content: "Sorry, I can't read this.", reason: "invalid analysis response"},
		{name: "missing summary", file: image, content: `{"reportType": "CBC", "riskLevel": "Low"}`, reason: "required"},
		{name: "bad risk", file: image, content: `{"reportType": "CBC", "summary": "ok", "riskLevel": "Critical"}`, reason: "riskLevel"},
		{name: "bad parameter", file: image, content: `{"reportType": "CBC", "summary": "ok", "riskLevel": "Low", "parameters": [{"name": "", "status": "LOW"}]}`, reason: "invalid analysis response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := new(mockAIModel)
			ai.On("Complete", mock.Anything, mock.Anything).Return(tt.content, tt.err).Maybe()

			outcome := newTestAnalyzer(ai, nil).AnalyzeReport(context.Background(), tt.file)
			require.False(t, outcome.Available())
			assert.Nil(t, outcome.Analysis)
			assert.Contains(t, outcome.Unavailable.Reason, tt.reason)
		})
	}
}

func TestAnalyzeReport_WithoutProvider(t *testing.T) {
	outcome := NewReportAnalyzer(nil, nil, ReportAnalyzerConfig{}).AnalyzeReport(context.Background(), entities.ReportFile{MimeType: "image/png", Data: []byte{1}})
	require.False(t, outcome.Available())
	assert.Contains(t, outcome.Unavailable.Reason, "not configured")
}
