package assignment

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/septivank/vitals-risk-worker/internal/threshold"
)

type restAssignment struct {
	AssignmentID     int64  `json:"assignment_id"`
	WearerID         int64  `json:"wearer_id"`
	PatientID        int64  `json:"patient_id"`
	ThresholdProfile string `json:"threshold_profile"`
}

// RESTSource asks the persistence API for the active assignment of a device
type RESTSource struct {
	httpClient *resty.Client
}

// NewRESTSource creates a source for GET {baseURL}/assignments/by-device/{id}
func NewRESTSource(baseURL string) *RESTSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")

	return &RESTSource{httpClient: client}
}

// ActiveAssignment implements Source. The caller's context bounds the request.
func (s *RESTSource) ActiveAssignment(ctx context.Context, deviceID int64) (*Assignment, error) {
	var body restAssignment
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(deviceID, 10)).
		SetResult(&body).
		Get("/assignments/by-device/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to call assignment API: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("assignment API returned status %d", resp.StatusCode())
	}

	wearer := body.WearerID
	if wearer == 0 {
		wearer = body.PatientID
	}
	if body.AssignmentID == 0 {
		return nil, fmt.Errorf("assignment API returned no assignment_id for device %d", deviceID)
	}

	return &Assignment{
		ID:        body.AssignmentID,
		DeviceID:  deviceID,
		PatientID: wearer,
		Profile:   threshold.Profile(body.ThresholdProfile),
	}, nil
}
