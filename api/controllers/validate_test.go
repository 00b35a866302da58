package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/keyhavenhq/keyhaven-backend/pkg/errors"

	"github.com/keyhavenhq/keyhaven-backend/internal/licenses"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
)

func TestPublicValidateReturnsVerdict(t *testing.T) {
	var gotKey string
	svc := &testLicensesService{
		validateFn: func(ctx context.Context, key string) (*licenses.Verdict, error) {
			gotKey = key
			return &licenses.Verdict{
				Valid:          true,
				Status:         enums.LicenseStatusActive,
				RemainingSeats: 4,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/public/v1/licenses/validate", strings.NewReader(`{"key":"ABCDE-FGHJK-MNPQR-STVWX-YZ012"}`))
	resp := httptest.NewRecorder()
	PublicValidate(svc, testControllerLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if gotKey != "ABCDE-FGHJK-MNPQR-STVWX-YZ012" {
		t.Fatalf("unexpected key %q", gotKey)
	}
	var envelope struct {
		Data licenses.Verdict `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !envelope.Data.Valid || envelope.Data.RemainingSeats != 4 {
		t.Fatalf("unexpected verdict %+v", envelope.Data)
	}
}

func TestPublicValidateInvalidVerdictStill200(t *testing.T) {
	svc := &testLicensesService{
		validateFn: func(ctx context.Context, key string) (*licenses.Verdict, error) {
			return &licenses.Verdict{Valid: false, Reason: "unknown license key"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/public/v1/licenses/validate", strings.NewReader(`{"key":"ZZZZZ-ZZZZZ-ZZZZZ-ZZZZZ-ZZZZZ"}`))
	resp := httptest.NewRecorder()
	PublicValidate(svc, testControllerLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data licenses.Verdict `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Valid {
		t.Fatal("expected invalid verdict")
	}
	if envelope.Data.Reason != "unknown license key" {
		t.Fatalf("unexpected reason %q", envelope.Data.Reason)
	}
}

func TestPublicValidateMalformedKeyStill200(t *testing.T) {
	var gotKey string
	svc := &testLicensesService{
		validateFn: func(ctx context.Context, key string) (*licenses.Verdict, error) {
			gotKey = key
			return &licenses.Verdict{Valid: false, Reason: "malformed license key"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/public/v1/licenses/validate", strings.NewReader(`{"key":"too-short"}`))
	resp := httptest.NewRecorder()
	PublicValidate(svc, testControllerLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if gotKey != "too-short" {
		t.Fatalf("expected key passed through, got %q", gotKey)
	}
	var envelope struct {
		Data licenses.Verdict `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Valid || envelope.Data.Reason != "malformed license key" {
		t.Fatalf("unexpected verdict %+v", envelope.Data)
	}
}

func TestPublicValidateRequiresKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/public/v1/licenses/validate", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	PublicValidate(&testLicensesService{}, testControllerLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestPublicValidateDependencyFailure(t *testing.T) {
	svc := &testLicensesService{
		validateFn: func(ctx context.Context, key string) (*licenses.Verdict, error) {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "validate license")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/public/v1/licenses/validate", strings.NewReader(`{"key":"ABCDE-FGHJK-MNPQR-STVWX-YZ012"}`))
	resp := httptest.NewRecorder()
	PublicValidate(svc, testControllerLogger())(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}
