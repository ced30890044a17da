package server

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"exprc/pkg/compiler"
	"exprc/pkg/cpu"
)

type compileRequest struct {
	Source   string `json:"source"`
	Fold     *bool  `json:"fold,omitempty"`
	Peephole *bool  `json:"peephole,omitempty"`
	Division string `json:"division,omitempty"`
	Input    string `json:"input,omitempty"` // /run only
}

type compileResponse struct {
	Assembly  string   `json:"assembly"`
	Encoding  string   `json:"encoding"`
	Variables []string `json:"variables"`
}

type runResponse struct {
	compileResponse
	Output string   `json:"output"`
	State  runState `json:"state"`
}

type runState struct {
	Registers map[string]int32 `json:"registers"`
	Stack     []int32          `json:"stack"`
	Memory    map[string]int32 `json:"memory"`
	ExitCode  int32            `json:"exit_code"`
	Steps     int              `json:"steps"`
}

type errorItem struct {
	Line        *int   `json:"line,omitempty"`
	FirstColumn *int   `json:"first_column,omitempty"`
	LastColumn  *int   `json:"last_column,omitempty"`
	Message     string `json:"message"`
	Kind        string `json:"kind,omitempty"`
}

type errorResponse struct {
	Stage  string      `json:"stage,omitempty"`
	Errors []errorItem `json:"errors"`
	Output string      `json:"output,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	out, asmText, ok := s.compile(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newCompileResponse(out, asmText))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	out, asmText, ok := s.compile(w, req)
	if !ok {
		return
	}

	var stdout bytes.Buffer
	machine, err := cpu.Load(asmText, cpu.Options{
		Stdin:  strings.NewReader(req.Input),
		Stdout: &stdout,
	})
	if err != nil {
		s.log.Error("generated assembly failed to load", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Stage:  "load",
			Errors: []errorItem{{Message: err.Error()}},
		})
		return
	}
	if err := machine.Run(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Stage:  "run",
			Errors: []errorItem{{Message: err.Error(), Kind: runErrorKind(err)}},
			Output: stdout.String(),
		})
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		compileResponse: newCompileResponse(out, asmText),
		Output:          stdout.String(),
		State:           snapshot(machine),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (*compileRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req compileRequest
	if err := gojson.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Errors: []errorItem{{Message: fmt.Sprintf("invalid request body: %v", err)}},
		})
		return nil, false
	}
	return &req, true
}

// options merges the per-request overrides into the configured defaults.
func (s *Server) options(req *compileRequest) (compiler.Options, error) {
	division := s.cfg.Codegen.Division
	if req.Division != "" {
		division = req.Division
	}
	mode, err := compiler.ParseDivisionMode(division)
	if err != nil {
		return compiler.Options{}, err
	}
	opts := compiler.Options{
		Fold:     s.cfg.Optimize.Fold,
		Peephole: s.cfg.Optimize.Peephole,
		Division: mode,
		Encoding: s.cfg.Encoding,
		Logger:   s.log,
	}
	if req.Fold != nil {
		opts.Fold = *req.Fold
	}
	if req.Peephole != nil {
		opts.Peephole = *req.Peephole
	}
	return opts, nil
}

// compile runs the pipeline and writes the error response itself when it
// fails. The returned text is the assembly decoded back to UTF-8.
func (s *Server) compile(w http.ResponseWriter, req *compileRequest) (*compiler.Output, string, bool) {
	opts, err := s.options(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Errors: []errorItem{{Message: err.Error()}}})
		return nil, "", false
	}

	start := time.Now()
	out, err := compiler.Compile(req.Source, opts)
	elapsed := time.Since(start)
	if err != nil {
		var ce *compiler.CompileError
		if !errors.As(err, &ce) {
			s.metrics.observeCompile("internal", "error", elapsed)
			s.log.Error("compile failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Errors: []errorItem{{Message: err.Error()}}})
			return nil, "", false
		}
		s.metrics.observeCompile(ce.Stage, "error", elapsed)
		writeJSON(w, http.StatusUnprocessableEntity, newErrorResponse(ce))
		return nil, "", false
	}
	s.metrics.observeCompile("translate", "ok", elapsed)

	text, err := (&compiler.Success{Bytes: out.Assembly, Encoding: out.Encoding}).Text()
	if err != nil {
		s.log.Error("assembly could not be decoded", "encoding", out.Encoding, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Errors: []errorItem{{Message: err.Error()}}})
		return nil, "", false
	}
	return out, text, true
}

func newCompileResponse(out *compiler.Output, text string) compileResponse {
	vars := out.Variables
	if vars == nil {
		vars = []string{}
	}
	return compileResponse{Assembly: text, Encoding: out.Encoding, Variables: vars}
}

func newErrorResponse(ce *compiler.CompileError) errorResponse {
	resp := errorResponse{Stage: ce.Stage, Errors: make([]errorItem, 0, len(ce.Errors))}
	for _, err := range ce.Errors {
		item := errorItem{Message: err.Error(), Kind: errorKind(err)}
		var pe compiler.Positioned
		if errors.As(err, &pe) {
			pos := pe.Position()
			first, last := pos.FirstColumn(), pos.LastColumn()
			item.Line, item.FirstColumn, item.LastColumn = &pos.Line, &first, &last
			item.Message = pe.Message()
		}
		resp.Errors = append(resp.Errors, item)
	}
	return resp
}

func errorKind(err error) string {
	var lexErr *compiler.LexError
	var transErr *compiler.TranslationError
	switch {
	case errors.As(err, &lexErr):
		return lexErr.Kind.String()
	case errors.As(err, &transErr):
		return transErr.Kind.String()
	case errors.Is(err, compiler.ErrExpectedToken):
		return "ExpectedToken"
	case errors.Is(err, compiler.ErrInvalidAssignmentTarget):
		return "InvalidAssignmentTarget"
	case errors.Is(err, compiler.ErrTrailingInput):
		return "TrailingInput"
	case errors.Is(err, compiler.ErrUnexpectedExpression):
		return "UnexpectedExpression"
	}
	return ""
}

func runErrorKind(err error) string {
	switch {
	case errors.Is(err, cpu.ErrDivideError):
		return "DivideError"
	case errors.Is(err, cpu.ErrStepLimit):
		return "StepLimit"
	case errors.Is(err, cpu.ErrInput):
		return "Input"
	}
	return ""
}

// snapshot converts the machine state into its JSON form. Memory holds the
// first word of every .bss reservation, keyed by label.
func snapshot(c *cpu.CPU) runState {
	st := c.State()
	mem := make(map[string]int32, len(st.BSS))
	for label, b := range st.BSS {
		if len(b) >= 4 {
			mem[label] = int32(binary.LittleEndian.Uint32(b))
		}
	}
	stack := st.Stack
	if stack == nil {
		stack = []int32{}
	}
	return runState{
		Registers: st.Registers,
		Stack:     stack,
		Memory:    mem,
		ExitCode:  c.ExitCode(),
		Steps:     c.Steps,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = gojson.NewEncoder(w).Encode(v)
}
