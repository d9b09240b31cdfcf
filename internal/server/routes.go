package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/stepflow/pkg/api"
	"github.com/kode4food/stepflow/pkg/log"
)

const paramPrefix = ":"

func (s *Server) routeAPIStep(c *gin.Context) {
	step, params, ok := s.matchAPIStep(c.Request.Method, c.Request.URL.Path)
	if !ok {
		abortError(c, http.StatusNotFound, "route not found")
		return
	}

	req, err := buildAPIRequest(c, params)
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}

	res, traceID, err := s.engine.CallAPI(c.Request.Context(), step, req)
	if err != nil {
		s.engine.Logger().Error("API step failed",
			log.Step(step.Name), log.TraceID(traceID), log.Error(err))
		abortError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if len(res) == 0 {
		abortError(c, http.StatusInternalServerError,
			"step reported no response")
		return
	}

	var out api.APIResponse
	if err := json.Unmarshal(res, &out); err != nil {
		abortError(c, http.StatusInternalServerError,
			"step reported a malformed response")
		return
	}
	writeAPIResponse(c, &out)
}

func (s *Server) matchAPIStep(
	method, path string,
) (*api.Step, map[string]string, bool) {
	for _, step := range s.engine.Registry().APISteps() {
		if step.Virtual || !strings.EqualFold(step.API.Method, method) {
			continue
		}
		if params, ok := matchPath(step.API.Path, path); ok {
			return step, params, true
		}
	}
	return nil, nil, false
}

// matchPath matches a request path against a pattern whose segments may be
// :name parameters
func matchPath(pattern, path string) (map[string]string, bool) {
	want := splitPath(pattern)
	got := splitPath(path)
	if len(want) != len(got) {
		return nil, false
	}

	params := map[string]string{}
	for i, seg := range want {
		if name, ok := strings.CutPrefix(seg, paramPrefix); ok && name != "" {
			params[name] = got[i]
			continue
		}
		if seg != got[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func buildAPIRequest(
	c *gin.Context, params map[string]string,
) (*api.APIRequest, error) {
	res := &api.APIRequest{
		Headers:     map[string]string{},
		PathParams:  params,
		QueryParams: map[string]any{},
	}

	for k, v := range c.Request.Header {
		res.Headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	for k, v := range c.Request.URL.Query() {
		if len(v) == 1 {
			res.QueryParams[k] = v[0]
			continue
		}
		res.QueryParams[k] = v
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return res, nil
	}
	if !json.Valid(body) {
		return nil, errInvalidBody
	}
	res.Body = body
	return res, nil
}

func writeAPIResponse(c *gin.Context, res *api.APIResponse) {
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	for k, v := range res.Headers {
		c.Header(k, v)
	}
	if len(res.Body) == 0 {
		c.Status(status)
		return
	}
	c.Data(status, "application/json; charset=utf-8", res.Body)
}
