package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/kdimtricp/signassist/internal/models"
)

func registerSignHandlers(api huma.API, signs SignCatalog) {
	type getInput struct {
		Code string `path:"code" doc:"Detector class code, e.g. P.102"`
	}
	type signOutput struct {
		Body models.SignInfo
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-sign",
		Method:      http.MethodGet,
		Path:        "/api/signs/{code}",
		Summary:     "Look up a catalog sign by class code",
		Tags:        []string{"Catalog"},
	}, func(ctx context.Context, input *getInput) (*signOutput, error) {
		if signs == nil {
			return nil, huma.Error503ServiceUnavailable("sign catalog is not configured")
		}
		info, err := signs.GetByCode(ctx, input.Code)
		if err != nil {
			return nil, mapErr(err)
		}
		return &signOutput{Body: info}, nil
	})
}
