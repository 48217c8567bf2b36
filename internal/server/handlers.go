package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	doc2pdf "github.com/alnah/go-doc2pdf"
)

// Response headers set on successful compilations.
const (
	headerRequestID = "X-Request-ID"
	headerEngine    = "X-Compile-Engine"
	pdfContentType  = "application/pdf"
)

// failure is the JSON body of every error response.
type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type compileBody struct {
	Latex   string         `json:"latex" form:"latex"`
	Options map[string]any `json:"options" form:"-"`
}

type renderBody struct {
	HTML    string         `json:"html" form:"html"`
	Options map[string]any `json:"options" form:"-"`
}

type convertBody struct {
	ID      string         `json:"id" form:"id"`
	Options map[string]any `json:"options" form:"-"`
}

type saveResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type healthResponse struct {
	Status  string            `json:"status"`
	Engines map[string]string `json:"engines"`
}

// POST /compile {"latex": "..."}
func (s *Server) handleCompile(c *gin.Context) {
	var body compileBody
	if !s.bind(c, &body) {
		return
	}
	if strings.TrimSpace(body.Latex) == "" {
		s.badRequest(c, "no LaTeX content provided")
		return
	}
	s.compile(c, doc2pdf.Request{
		Kind:    doc2pdf.KindMarkup,
		Content: []byte(body.Latex),
		Options: s.parseOptions(body.Options),
	})
}

// POST /render {"html": "..."}
func (s *Server) handleRender(c *gin.Context) {
	var body renderBody
	if !s.bind(c, &body) {
		return
	}
	if strings.TrimSpace(body.HTML) == "" {
		s.badRequest(c, "no HTML content provided")
		return
	}
	s.compile(c, doc2pdf.Request{
		Kind:    doc2pdf.KindHTML,
		Content: []byte(body.HTML),
		Options: s.parseOptions(body.Options),
	})
}

// POST /save, multipart field "file".
func (s *Server) handleSave(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, err)
			return
		}
		s.badRequest(c, "no file uploaded")
		return
	}
	if fh.Size == 0 {
		s.badRequest(c, "uploaded file is empty")
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, fmt.Errorf("%w: opening upload: %v", doc2pdf.ErrIO, err))
		return
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: reading upload: %v", doc2pdf.ErrIO, err))
		return
	}

	doc, err := s.backend.Save(c.Request.Context(), fh.Filename, content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saveResponse{
		Success:  true,
		ID:       doc.ID,
		Filename: fh.Filename,
		Size:     doc.Size,
	})
}

// POST /convert {"id": "...", "options": {...}}
func (s *Server) handleConvert(c *gin.Context) {
	var body convertBody
	if !s.bind(c, &body) {
		return
	}
	id := strings.TrimSpace(body.ID)
	if id == "" {
		s.badRequest(c, "no document id provided")
		return
	}

	res, err := s.backend.ConvertSaved(c.Request.Context(), id, s.parseOptions(body.Options))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.sendPDF(c, res)
}

// GET /health
func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{Status: "ok", Engines: map[string]string{}}
	for engine, err := range s.backend.Health() {
		if err != nil {
			resp.Status = "degraded"
			resp.Engines[engine] = err.Error()
			continue
		}
		resp.Engines[engine] = "ok"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) compile(c *gin.Context, req doc2pdf.Request) {
	res, err := s.backend.Compile(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.sendPDF(c, res)
}

func (s *Server) sendPDF(c *gin.Context, res *doc2pdf.Result) {
	c.Header(headerRequestID, res.RequestID)
	c.Header(headerEngine, res.Engine)
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", res.RequestID+".pdf"))
	c.Data(http.StatusOK, pdfContentType, res.PDF)
}

// bind decodes a JSON or form body. It writes the error response itself
// and reports whether the handler should continue.
func (s *Server) bind(c *gin.Context, dst any) bool {
	var err error
	if c.ContentType() == binding.MIMEJSON {
		err = c.ShouldBindJSON(dst)
	} else {
		err = c.ShouldBindWith(dst, binding.Form)
	}
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.fail(c, err)
		return false
	}
	s.logger.Debug("invalid request body", zap.Error(err))
	s.badRequest(c, "invalid request body")
	return false
}

// parseOptions flattens JSON option values to strings and parses them
// leniently. Ignored keys are logged, never rejected.
func (s *Server) parseOptions(raw map[string]any) doc2pdf.Options {
	if len(raw) == 0 {
		return doc2pdf.Options{}
	}
	flat := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			flat[k] = v
		case bool:
			flat[k] = strconv.FormatBool(v)
		case float64:
			flat[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			flat[k] = fmt.Sprint(v)
		}
	}
	opts, ignored := doc2pdf.ParseOptions(flat)
	if len(ignored) > 0 {
		s.logger.Debug("ignored compile options", zap.Strings("keys", ignored))
	}
	return opts
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, failure{Error: msg})
}

// fail maps err to a status code and a failure body.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	resp := failure{Error: err.Error()}

	var ce *doc2pdf.CompileError
	if errors.As(err, &ce) {
		if ce.Message != "" {
			resp.Error = ce.Message
		}
		resp.Details = ce.Detail
		c.Header(headerRequestID, ce.RequestID)
	}

	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, resp)
}

// statusFor maps library errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, doc2pdf.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, doc2pdf.ErrInvalidInput),
		errors.Is(err, doc2pdf.ErrEmptyDocument),
		errors.Is(err, doc2pdf.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, doc2pdf.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
