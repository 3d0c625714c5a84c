package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/kdimtricp/signassist/internal/models"
	"github.com/kdimtricp/signassist/internal/session"
)

type viewOutput struct {
	Body session.View
}

type sessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

func viewResult(v session.View, err error) (*viewOutput, error) {
	if err != nil {
		return nil, mapErr(err)
	}
	return &viewOutput{Body: v}, nil
}

func registerSessionHandlers(api huma.API, svc Sessions) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/api/sessions",
		Summary:       "Start an assistant session",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct{}) (*viewOutput, error) {
		return &viewOutput{Body: svc.Create()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{id}",
		Summary:     "Get the current session view",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *sessionInput) (*viewOutput, error) {
		return viewResult(svc.View(input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-session",
		Method:        http.MethodDelete,
		Path:          "/api/sessions/{id}",
		Summary:       "Close a session and release its media",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *sessionInput) (*struct{}, error) {
		if err := svc.Close(ctx, input.ID); err != nil {
			return nil, mapErr(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-webcam",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/webcam",
		Summary:     "Switch the session to the live camera",
		Tags:        []string{"Media"},
	}, func(ctx context.Context, input *sessionInput) (*viewOutput, error) {
		return viewResult(svc.SelectWebcam(ctx, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "capture-webcam-frame",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/webcam/capture",
		Summary:     "Identify signs in the latest camera frame",
		Tags:        []string{"Media"},
	}, func(ctx context.Context, input *sessionInput) (*viewOutput, error) {
		return viewResult(svc.CaptureWebcamFrame(ctx, input.ID))
	})

	type videoCaptureInput struct {
		ID   string `path:"id" doc:"Session ID"`
		Body struct {
			AtSeconds float64 `json:"at_seconds" doc:"Offset into the video in seconds"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "capture-video-frame",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/video/capture",
		Summary:     "Identify signs in a still taken from the current video",
		Tags:        []string{"Media"},
	}, func(ctx context.Context, input *videoCaptureInput) (*viewOutput, error) {
		return viewResult(svc.CaptureVideoFrame(ctx, input.ID, input.Body.AtSeconds))
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-audio",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/audio/toggle",
		Summary:     "Turn spoken announcements on or off",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *sessionInput) (*viewOutput, error) {
		return viewResult(svc.ToggleAudio(input.ID))
	})

	type selectSignInput struct {
		ID   string `path:"id" doc:"Session ID"`
		Body struct {
			Name    string `json:"name" doc:"Sign name as shown in the info list"`
			Meaning string `json:"meaning" doc:"Short meaning shown with the name"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "open-popup",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/popup",
		Summary:     "Open the detail popup for a sign",
		Tags:        []string{"Popup"},
	}, func(ctx context.Context, input *selectSignInput) (*viewOutput, error) {
		sign := models.TrafficSign{Name: input.Body.Name, Meaning: input.Body.Meaning}
		return viewResult(svc.SelectSign(ctx, input.ID, sign))
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-popup",
		Method:      http.MethodDelete,
		Path:        "/api/sessions/{id}/popup",
		Summary:     "Close the detail popup",
		Tags:        []string{"Popup"},
	}, func(ctx context.Context, input *sessionInput) (*viewOutput, error) {
		return viewResult(svc.ClosePopup(input.ID))
	})
}
