package analysis

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// MIME types the pipeline accepts. DICOM files are commonly uploaded with
// either the official type or the bare "dicom" shorthand some PACS exports use.
var allowedMIMETypes = map[string]bool{
	"image/jpeg":        true,
	"image/png":         true,
	"application/dicom": true,
	"image/dicom":       true,
}

// ValidateRequest checks the patient context and image list against the intake
// constraints. It returns every violated constraint, not just the first, and
// performs no network access. A nil return means the request may proceed.
func ValidateRequest(patient PatientContext, images []ImageInput) *ValidationError {
	var merr *multierror.Error

	if strings.TrimSpace(patient.Name) == "" {
		merr = multierror.Append(merr, fmt.Errorf("patient name is required"))
	}
	if strings.TrimSpace(patient.DateOfBirth) == "" {
		merr = multierror.Append(merr, fmt.Errorf("date of birth is required"))
	}
	if strings.TrimSpace(patient.ClinicalHistory) == "" {
		merr = multierror.Append(merr, fmt.Errorf("clinical history is required"))
	}
	if strings.TrimSpace(patient.ExamDate) == "" {
		merr = multierror.Append(merr, fmt.Errorf("exam date is required"))
	}

	if len(images) == 0 {
		merr = multierror.Append(merr, fmt.Errorf("at least one image is required"))
	}

	for _, img := range images {
		if !allowedMIMETypes[strings.ToLower(img.MIMEType)] {
			merr = multierror.Append(merr, fmt.Errorf(
				"image %q: unsupported type %q (JPEG, PNG or DICOM expected)", img.Filename, img.MIMEType))
		}
		if img.Size > MaxImageSize {
			merr = multierror.Append(merr, fmt.Errorf(
				"image %q: %d bytes exceeds the 50 MiB limit", img.Filename, img.Size))
		}
		if img.Size <= 0 {
			merr = multierror.Append(merr, fmt.Errorf("image %q is empty", img.Filename))
		}
	}

	if merr == nil {
		return nil
	}

	violations := make([]string, 0, len(merr.Errors))
	for _, err := range merr.Errors {
		violations = append(violations, err.Error())
	}
	return &ValidationError{Violations: violations}
}
