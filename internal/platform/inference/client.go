package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"imaging-intake/internal/analysis"
)

// Client talks to the remote inference service over HTTP:
//
//	POST /upload                      -> { success, data: { uploadId } }
//	POST /analyze/{uploadId}          -> { success, data: { analysisId } }
//	GET  /analyze/{analysisId}/status -> { success, data: { status, progress?, results?, error? } }
//
// No retry logic lives here; failures propagate to the orchestrator, which
// decides whether to fall back.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With().Str("component", "inference-client").Logger(),
	}
}

type uploadData struct {
	UploadID string `json:"uploadId"`
}

type analyzeData struct {
	AnalysisID string `json:"analysisId"`
}

type responseEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// Upload packages the image batch with the patient metadata as a multipart
// form and returns the opaque upload identifier.
func (c *Client) Upload(ctx context.Context, images []analysis.ImageInput, patient analysis.PatientContext) (analysis.UploadHandle, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, img := range images {
		part, err := writer.CreateFormFile("images", img.Filename)
		if err != nil {
			return "", errors.Wrap(err, "failed to create image form field")
		}
		if _, err := part.Write(img.Data); err != nil {
			return "", errors.Wrap(err, "failed to write image data")
		}
	}

	fields := map[string]string{
		"name":               patient.Name,
		"patientId":          patient.PatientID,
		"dateOfBirth":        patient.DateOfBirth,
		"age":                strconv.Itoa(patient.Age),
		"sex":                patient.Sex,
		"clinicalHistory":    patient.ClinicalHistory,
		"suspectedCondition": patient.SuspectedCondition,
		"examDate":           patient.ExamDate,
		"view":               patient.View,
		"referringPhysician": patient.ReferringPhysician,
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", errors.Wrapf(err, "failed to write field %s", key)
		}
	}

	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
	if err != nil {
		return "", errors.Wrap(err, "failed to create upload request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debug().Int("images", len(images)).Msg("uploading image batch")
	var data uploadData
	if err := c.do(req, &data); err != nil {
		return "", err
	}
	if data.UploadID == "" {
		return "", errors.New("upload response missing uploadId")
	}
	return analysis.UploadHandle(data.UploadID), nil
}

// StartAnalysis starts a remote job for a previously uploaded batch.
func (c *Client) StartAnalysis(ctx context.Context, handle analysis.UploadHandle) (*analysis.Job, error) {
	url := fmt.Sprintf("%s/analyze/%s", c.baseURL, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create analyze request")
	}

	var data analyzeData
	if err := c.do(req, &data); err != nil {
		return nil, err
	}
	if data.AnalysisID == "" {
		return nil, errors.New("analyze response missing analysisId")
	}

	c.logger.Debug().Str("job_id", data.AnalysisID).Msg("remote analysis job started")
	return &analysis.Job{ID: data.AnalysisID, Status: analysis.StatusQueued}, nil
}

// GetStatus queries the current state of a remote job.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*analysis.JobStatusReport, error) {
	url := fmt.Sprintf("%s/analyze/%s/status", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create status request")
	}

	var report analysis.JobStatusReport
	if err := c.do(req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// CheckHealth probes the remote service.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "failed to create health request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "inference service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("inference service returned status %d", resp.StatusCode)
	}
	return nil
}

// do sends the request and decodes the data field of the response envelope
// into out.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("inference service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var env responseEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return errors.Wrap(err, "failed to parse response envelope")
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "request rejected without detail"
		}
		return errors.Errorf("inference service error: %s", msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "failed to parse response data")
		}
	}
	return nil
}
