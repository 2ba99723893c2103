package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/your-org/colony-strength/internal/datastore"
	"github.com/your-org/colony-strength/internal/dbwriter"
	"github.com/your-org/colony-strength/internal/model"
	"github.com/your-org/colony-strength/pkg/logger"
)

const maxBodyBytes = 10 << 20

// PredictRequest is the body of POST /predict: one record per instance.
type PredictRequest struct {
	Instances []map[string]any `json:"instances" validate:"required,min=1,dive,min=1"`
}

// PredictHandler はモデル推論のHTTPリクエストを処理します。
type PredictHandler struct {
	svc      *ModelService
	writer   dbwriter.DBWriter
	metrics  *Metrics
	validate *validator.Validate
}

// NewPredictHandler creates a handler. writer and metrics may be nil.
func NewPredictHandler(svc *ModelService, writer dbwriter.DBWriter, metrics *Metrics) *PredictHandler {
	v := validator.New()
	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &PredictHandler{svc: svc, writer: writer, metrics: metrics, validate: v}
}

// Predict runs the instances through the served pipeline. Instances removed
// by the outlier filter get no prediction; record ids are request positions.
func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		render.Render(w, r, InvalidRequest(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		render.Render(w, r, ValidationFailed(fieldErrors(err)))
		return
	}
	frame, err := datastore.FromRecords(req.Instances)
	if err != nil {
		render.Render(w, r, ValidationFailed([]FieldError{{Field: "instances", Message: err.Error()}}))
		return
	}

	p, err := h.svc.Predictor(r.Context())
	if err != nil {
		render.Render(w, r, ModelUnavailable(err))
		return
	}
	logger.Debugf("Making predictions for %d instances", frame.Len())
	preds, err := p.Predict(r.Context(), frame)
	if errors.Is(err, datastore.ErrNotNumeric) {
		render.Render(w, r, ValidationFailed([]FieldError{{Field: "instances", Message: err.Error()}}))
		return
	}
	if err != nil {
		logger.Errorf("Prediction error: %v", err)
		render.Render(w, r, PredictionFailed(err))
		return
	}

	h.metrics.ObservePredictions(frame.Len(), preds.Labels)
	if h.writer != nil {
		h.writer.SavePredictions(predictionRecords(middleware.GetReqID(r.Context()), p.Version(), preds))
	}
	render.JSON(w, r, preds)
}

// ModelInfo describes the served model.
func (h *PredictHandler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	status := h.svc.Status()
	if !status.Loaded {
		render.Render(w, r, ModelUnavailable(ErrModelNotLoaded))
		return
	}
	render.JSON(w, r, status)
}

func predictionRecords(requestID, version string, preds *model.Predictions) []dbwriter.PredictionRecord {
	now := time.Now().UTC()
	out := make([]dbwriter.PredictionRecord, preds.Len())
	for i := range out {
		out[i] = dbwriter.PredictionRecord{
			Time:         now,
			RequestID:    requestID,
			RecordID:     preds.RecordIDs[i],
			Label:        preds.Labels[i],
			ModelVersion: version,
		}
	}
	return out
}

func fieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "PredictRequest.")
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "min":
			if fe.Kind() == reflect.Map {
				msg = "instance must have at least one field"
			} else {
				msg = fmt.Sprintf("must contain at least %s instance", fe.Param())
			}
		default:
			msg = fmt.Sprintf("failed %s validation", fe.Tag())
		}
		out = append(out, FieldError{Field: field, Message: msg})
	}
	return out
}
