package options

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pendulo/formstudio/internal/toolbind"
	"github.com/pendulo/formstudio/internal/toolschema"
	"github.com/pendulo/formstudio/model"
)

// Observer receives cache hit and miss notifications, keyed by tool name.
type Observer interface {
	RecordOptionCacheHit(tool string)
	RecordOptionCacheMiss(tool string)
}

// Service resolves dropdown options for fields backed by a tool.
type Service struct {
	cache    Cache
	http     *http.Client
	binder   *toolbind.Binder
	log      *zap.Logger
	observer Observer
	flight   singleflight.Group
}

// NewService creates an option service. A nil httpClient falls back to a
// default with a 10 second timeout.
func NewService(cache Cache, httpClient *http.Client, log *zap.Logger) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{
		cache:  cache,
		http:   httpClient,
		binder: toolbind.NewBinder(),
		log:    log,
	}
}

// SetObserver installs a cache hit/miss observer.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Resolve returns the options for one field of one form in the bundle. A
// field without a dropdown tool resolves to its static options; a tool
// result is cached under its cache_ttl_seconds when cache_enabled.
func (s *Service) Resolve(ctx context.Context, agentID string, bundle *model.ConfigBundle, formID, fieldName string) ([]string, error) {
	form := bundle.Forms.FormByID(formID)
	if form == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("form %q not found", formID))
	}
	field := form.FieldByName(fieldName)
	if field == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("field %q not found in form %q", fieldName, formID))
	}
	if !field.IsChoice() {
		return nil, model.NewBadRequestError(fmt.Sprintf("field %q has no options", fieldName))
	}

	if field.DropdownTool == "" {
		return append([]string(nil), field.DropdownOptions...), nil
	}

	tool := bundle.Tools.ToolByName(field.DropdownTool)
	if tool == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("tool %q not found", field.DropdownTool))
	}

	rctx := model.RequestContextFrom(ctx)
	var cacheKey string
	if tool.CacheEnabled && s.cache != nil {
		tenantID := ""
		if rctx != nil {
			tenantID = rctx.TenantID
		}
		cacheKey = Key(tenantID, agentID, tool.Name, field.Name)
		if cached, found, err := s.cache.Get(ctx, cacheKey); err == nil && found {
			if s.observer != nil {
				s.observer.RecordOptionCacheHit(tool.Name)
			}
			return cached, nil
		} else if err != nil {
			s.log.Warn("option cache read failed", zap.String("key", cacheKey), zap.Error(err))
		}
		if s.observer != nil {
			s.observer.RecordOptionCacheMiss(tool.Name)
		}
	}

	if cacheKey == "" {
		return s.invoke(ctx, rctx, tool, field)
	}

	// Concurrent misses on the same key share one tool call.
	v, err, _ := s.flight.Do(cacheKey, func() (any, error) {
		opts, err := s.invoke(ctx, rctx, tool, field)
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(tool.CacheTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		if err := s.cache.Set(ctx, cacheKey, opts, ttl); err != nil {
			s.log.Warn("option cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
		return opts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// invoke calls the dropdown tool endpoint. A hook on the field supplies
// call parameters; without one the tool is called bare. The built payload
// is checked against the tool's declared schemas before the request leaves.
func (s *Service) invoke(ctx context.Context, rctx *model.RequestContext, tool *model.Tool, field *model.Field) ([]string, error) {
	var hook *model.ToolHook
	if field.ToolHook != nil && field.ToolHook.Tool == tool.Name {
		hook = field.ToolHook
	}

	input := map[string]any{}
	if hook != nil {
		var err error
		input, err = s.binder.BuildInput(hook, nil, nil, rctx)
		if err != nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("tool input for %q: %v", tool.Name, err))
		}
	}

	method := strings.ToUpper(tool.HTTPMethod)
	if method == "" {
		method = http.MethodGet
	}

	if err := s.checkSchemas(tool, method, input); err != nil {
		return nil, err
	}

	reqURL := tool.URL

	var body io.Reader
	if method == http.MethodGet {
		if len(input) > 0 {
			q := url.Values{}
			for k, v := range input {
				q.Set(k, fmt.Sprint(v))
			}
			sep := "?"
			if strings.Contains(reqURL, "?") {
				sep = "&"
			}
			reqURL += sep + q.Encode()
		}
	} else {
		raw, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("options: marshal tool input: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("options: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range tool.Headers {
		req.Header.Set(k, v)
	}
	if tool.Auth == model.ToolAuthBearer && rctx != nil && rctx.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rctx.Token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, model.NewUpstreamUnavailableError()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, model.NewBadRequestError(
			fmt.Sprintf("tool %q returned status %d", tool.Name, resp.StatusCode),
		)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("options: read tool response: %w", err)
	}

	if hook != nil && (hook.OutputPath != "" || len(hook.OutputMap) > 0) {
		return s.extractBound(hook, field, raw)
	}
	return parseOptions(raw)
}

// checkSchemas validates the call payload against the tool's declared
// query_schema or body_schema, depending on how it will be sent.
func (s *Service) checkSchemas(tool *model.Tool, method string, input map[string]any) error {
	compiled, err := toolschema.Compile(tool)
	if err != nil {
		return model.NewBadRequestError(fmt.Sprintf("tool %q schema: %v", tool.Name, err))
	}

	var violations []toolschema.ValidationError
	if method == http.MethodGet {
		violations = compiled.ValidateQuery(input)
	} else {
		violations = compiled.ValidateBody(input)
	}
	if len(violations) == 0 {
		return nil
	}

	details := make([]model.FieldError, 0, len(violations))
	for _, v := range violations {
		details = append(details, model.FieldError{
			Field:   v.Field,
			Code:    "SCHEMA_VIOLATION",
			Message: v.Message,
		})
	}
	return model.NewValidationError(details)
}

// extractBound selects the option list from a tool response through the
// hook's output bindings: output_path when set, otherwise the output_map
// entry bound to the field.
func (s *Service) extractBound(hook *model.ToolHook, field *model.Field, raw []byte) ([]string, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("options: decode tool response: %w", err)
	}

	var selected any
	if hook.OutputPath != "" {
		val, err := s.binder.ExtractOutput(hook, decoded)
		if err != nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("tool %q: %v", hook.Tool, err))
		}
		selected = val
	} else {
		mapped := s.binder.ApplyOutputMap(hook, decoded)
		val, ok := mapped[field.Name]
		if !ok {
			return nil, model.NewBadRequestError(
				fmt.Sprintf("tool %q response binds nothing to field %q", hook.Tool, field.Name),
			)
		}
		selected = val
	}
	return coerceOptions(selected)
}

func coerceOptions(v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("options: non-string option %v", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("options: bound value %T is not an option list", v)
	}
}

// parseOptions accepts either a bare JSON array of strings or an object
// with an "options" array.
func parseOptions(raw []byte) ([]string, error) {
	var direct []string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}

	var wrapped struct {
		Options []string `json:"options"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Options != nil {
		return wrapped.Options, nil
	}
	return nil, fmt.Errorf("options: unrecognized tool response shape")
}
