package inference

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"imaging-intake/internal/analysis"
)

func testClient(url string) *Client {
	return NewClient(url, 5*time.Second, zerolog.Nop())
}

func testPatient() analysis.PatientContext {
	return analysis.PatientContext{
		Name:            "Jane Doe",
		PatientID:       "P-1042",
		Age:             54,
		Sex:             "F",
		ClinicalHistory: "persistent cough for two weeks",
		ExamDate:        "2025-01-15",
		View:            "PA",
	}
}

func TestClient_Upload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("request is not multipart: %v", err)
		}
		if got := r.FormValue("patientId"); got != "P-1042" {
			t.Errorf("patientId field: expected P-1042, got %q", got)
		}
		if got := r.FormValue("age"); got != "54" {
			t.Errorf("age field: expected 54, got %q", got)
		}
		files := r.MultipartForm.File["images"]
		if len(files) != 2 {
			t.Errorf("expected 2 image parts, got %d", len(files))
		}
		fmt.Fprint(w, `{"success":true,"data":{"uploadId":"up-77"}}`)
	}))
	defer srv.Close()

	images := []analysis.ImageInput{
		{Filename: "a.jpg", MIMEType: "image/jpeg", Size: 4, Data: []byte("abcd")},
		{Filename: "b.png", MIMEType: "image/png", Size: 4, Data: []byte("efgh")},
	}
	handle, err := testClient(srv.URL).Upload(context.Background(), images, testPatient())
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if handle != analysis.UploadHandle("up-77") {
		t.Errorf("expected handle up-77, got %s", handle)
	}
}

func TestClient_Upload_MissingUploadID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Upload(context.Background(), []analysis.ImageInput{{Filename: "a.jpg"}}, testPatient())
	if err == nil || !strings.Contains(err.Error(), "uploadId") {
		t.Errorf("expected missing-uploadId error, got %v", err)
	}
}

func TestClient_StartAnalysis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze/up-77" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"success":true,"data":{"analysisId":"job-9"}}`)
	}))
	defer srv.Close()

	job, err := testClient(srv.URL).StartAnalysis(context.Background(), "up-77")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if job.ID != "job-9" || job.Status != analysis.StatusQueued {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestClient_GetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze/job-9/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"success":true,"data":{"status":"complete","results":[{"diagnosis":"Community-Acquired Pneumonia","confidence":88,"severity":3,"modelName":"chestxr-v3","urgencyLevel":"MEDIUM"}]}}`)
	}))
	defer srv.Close()

	report, err := testClient(srv.URL).GetStatus(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.Status != analysis.StatusComplete {
		t.Errorf("expected complete, got %s", report.Status)
	}
	if len(report.Results) != 1 || report.Results[0].ModelName != "chestxr-v3" {
		t.Errorf("unexpected results: %+v", report.Results)
	}
	if report.Results[0].Urgency != analysis.UrgencyMedium {
		t.Errorf("urgency not decoded: %+v", report.Results[0])
	}
}

func TestClient_EnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"upload expired"}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetStatus(context.Background(), "job-9")
	if err == nil || !strings.Contains(err.Error(), "upload expired") {
		t.Errorf("expected envelope error to surface, got %v", err)
	}
}

func TestClient_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).StartAnalysis(context.Background(), "up-1")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status-code error, got %v", err)
	}
}

func TestClient_CheckHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	if err := testClient(healthy.URL).CheckHealth(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	if err := testClient(down.URL).CheckHealth(context.Background()); err == nil {
		t.Error("expected health check failure")
	}
}
