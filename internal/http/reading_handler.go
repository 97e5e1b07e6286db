package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/transformer"
	"wisefido-vitals/internal/validator"
)

// ReadingLister 查询已存储读数
type ReadingLister interface {
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.StoredReading, error)
	GetByID(ctx context.Context, id string) (*models.StoredReading, error)
}

// ReadingHandler 读数转换、校验、查询与导出
type ReadingHandler struct {
	transformer *transformer.Transformer
	validator   *validator.Validator
	// 未启用数据库时为 nil
	store  ReadingLister
	logger *zap.Logger
}

func NewReadingHandler(tr *transformer.Transformer, v *validator.Validator, store ReadingLister, logger *zap.Logger) *ReadingHandler {
	return &ReadingHandler{transformer: tr, validator: v, store: store, logger: logger}
}

// TransformRequest POST /readings/transform 请求体
type TransformRequest struct {
	DeviceType string                 `json:"device_type"`
	Raw        map[string]interface{} `json:"raw"`
}

// TransformResponse 转换结果
type TransformResponse struct {
	Data   *models.VitalData `json:"data"`
	Errors []string          `json:"errors"`
}

// ValidateRequest POST /readings/validate 请求体
type ValidateRequest struct {
	Reading  *models.VitalData `json:"reading"`
	AgeGroup string            `json:"age_group"`
	Gender   string            `json:"gender"`
}

// Transform POST /vitals/api/v1/readings/transform
func (h *ReadingHandler) Transform(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	if req.Raw == nil {
		writeJSON(w, http.StatusOK, Fail("raw is required"))
		return
	}
	rules := transformer.ResolveRules(req.DeviceType, req.Raw)
	data, errs := h.transformer.Transform(req.Raw, req.DeviceType, rules)
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, Ok(TransformResponse{Data: data, Errors: errs}))
}

// Validate POST /vitals/api/v1/readings/validate
func (h *ReadingHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	if req.Reading == nil {
		writeJSON(w, http.StatusOK, Fail("reading is required"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.validator.Validate(req.Reading, req.AgeGroup, req.Gender)))
}

// List GET /vitals/api/v1/readings?device_id=&limit=
func (h *ReadingHandler) List(w http.ResponseWriter, r *http.Request) {
	readings, ok := h.listReadings(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": readings,
		"total": len(readings),
	}))
}

// Get GET /vitals/api/v1/readings/{id}
func (h *ReadingHandler) Get(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/vitals/api/v1/readings/")
	if len(parts) != 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if h.store == nil {
		writeJSON(w, http.StatusOK, Fail("database not enabled"))
		return
	}
	reading, err := h.store.GetByID(r.Context(), parts[0])
	if err != nil {
		h.logger.Warn("Failed to get reading", zap.String("reading_id", parts[0]), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(reading))
}

// Export GET /vitals/api/v1/readings/export?device_id=
func (h *ReadingHandler) Export(w http.ResponseWriter, r *http.Request) {
	readings, ok := h.listReadings(w, r)
	if !ok {
		return
	}
	body, err := GenerateReadingsExport(readings)
	if err != nil {
		h.logger.Error("Failed to generate readings export", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to generate export"))
		return
	}
	deviceID := r.URL.Query().Get("device_id")
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=vital-readings-%s.xlsx", deviceID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *ReadingHandler) listReadings(w http.ResponseWriter, r *http.Request) ([]models.StoredReading, bool) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, Fail("database not enabled"))
		return nil, false
	}
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeJSON(w, http.StatusOK, Fail("device_id is required"))
		return nil, false
	}
	limit := parseInt(r.URL.Query().Get("limit"), 100)
	readings, err := h.store.ListByDevice(r.Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("Failed to list readings", zap.String("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return nil, false
	}
	if readings == nil {
		readings = []models.StoredReading{}
	}
	return readings, true
}
