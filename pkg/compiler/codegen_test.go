package compiler

import (
	"errors"
	"strings"
	"testing"
)

func translate(t *testing.T, src string, opts Options) TranslationResult {
	t.Helper()
	e := parseExpr(t, src)
	return NewTranslator(opts).Translate(e, CollectIdentifiers(e))
}

func translateText(t *testing.T, src string, opts Options) string {
	t.Helper()
	res, ok := translate(t, src, opts).(*Success)
	if !ok {
		t.Fatalf("Translate(%q) failed: %v", src, translate(t, src, opts))
	}
	text, err := res.Text()
	if err != nil {
		t.Fatal(err)
	}
	return text
}

func lines(s ...string) string { return strings.Join(s, "\n") + "\n" }

func TestTranslate_Program(t *testing.T) {
	got := translateText(t, "a + 1", Options{Peephole: true})
	want := lines(
		"section .text",
		"  global main",
		"  extern printf",
		"  extern scanf",
		"  main:",
		"  push prompt_a",
		"  call printf",
		"  add esp, 4",
		"  push var_a",
		"  push read_format",
		"  call scanf",
		"  add esp, 8",
		"  push dword [var_a]",
		"  mov ebx, 1",
		"  pop eax",
		"  add eax, ebx",
		"  push eax",
		"  push write_format",
		"  call printf",
		"  add esp, 8",
		"  mov eax, 0",
		"  ret",
		"section .rdata",
		`  read_format: db "%d", 0`,
		`  write_format: db "%d", 10, 0`,
		`  prompt_a: db "a = ", 0`,
		"section .bss",
		"  var_a: resd 1",
	)
	if got != want {
		t.Errorf("Translate =\n%s\nwant\n%s", got, want)
	}
}

func TestTranslate_NoVariables(t *testing.T) {
	got := translateText(t, "7", Options{Peephole: true})
	if strings.Contains(got, "scanf\n  add") || strings.Contains(got, "prompt_") {
		t.Errorf("a constant program should not read input:\n%s", got)
	}
	if !strings.HasSuffix(got, "section .bss\n") {
		t.Errorf("the .bss section is always emitted:\n%s", got)
	}
	if !strings.Contains(got, "  main:\n  push 7\n  push write_format\n") {
		t.Errorf("unexpected body:\n%s", got)
	}
}

func TestTranslate_VariablesInSortedOrder(t *testing.T) {
	got := translateText(t, "zed * alpha - mid", Options{})
	ia, im, iz := strings.Index(got, "push var_alpha"), strings.Index(got, "push var_mid"), strings.Index(got, "push var_zed")
	if !(ia < im && im < iz) || ia < 0 {
		t.Errorf("variables are not read in sorted order:\n%s", got)
	}
}

func TestTranslate_Operators(t *testing.T) {
	tests := []struct {
		src      string
		division DivisionMode
		contains []string
		absent   []string
	}{
		{"a - b", SignExtend, []string{"  sub eax, ebx\n"}, nil},
		{"a * b", SignExtend, []string{"  imul eax, ebx\n"}, nil},
		{"-a", SignExtend, []string{"  neg eax\n"}, nil},
		{"a / b", SignExtend, []string{"  cdq\n  idiv ebx\n"}, []string{"mov edx, 0"}},
		{"a / b", ZeroExtend, []string{"  mov edx, 0\n  idiv ebx\n"}, []string{"cdq"}},
		{"a % b", SignExtend, []string{"  idiv ebx\n  mov eax, edx\n"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.src+"/"+tt.division.String(), func(t *testing.T) {
			got := translateText(t, tt.src, Options{Division: tt.division})
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("missing %q in\n%s", s, got)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(got, s) {
					t.Errorf("unexpected %q in\n%s", s, got)
				}
			}
		})
	}
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		src      string
		expected []string
	}{
		{"a and b", []string{"UnsupportedExpression: (and a b)"}},
		{"x := 1", []string{"UnsupportedExpression: (:= x 1)"}},
		{"1 < 2", []string{"UnsupportedOperation: LESS"}},
		{"a == b", []string{"UnsupportedOperation: EQUAL_EQUAL"}},
		{"not 1", []string{"UnsupportedOperation: NOT"}},
		{"true", []string{"UnsupportedOperand: true"}},
		{`"s" + 1`, []string{`UnsupportedOperand: "s"`}},
		{"true + (a < b)", []string{"UnsupportedOperand: true", "UnsupportedOperation: LESS"}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			res, ok := translate(t, tt.src, Options{}).(*Failure)
			if !ok {
				t.Fatalf("Translate(%q) should fail", tt.src)
			}
			if len(res.Errors) != len(tt.expected) {
				t.Fatalf("got errors %v, want %v", res.Errors, tt.expected)
			}
			for i, want := range tt.expected {
				if got := res.Errors[i].Error(); got != want {
					t.Errorf("error %d = %q, want %q", i, got, want)
				}
			}
		})
	}
}

func TestTranslate_UndeclaredVariable(t *testing.T) {
	e := parseExpr(t, "a + b * c")
	vars := IdentifierSet{}
	vars.Add("b")

	res, ok := NewTranslator(DefaultOptions()).Translate(e, vars).(*Failure)
	if !ok {
		t.Fatal("variables without storage must fail translation")
	}
	want := []string{
		"UnsupportedOperand: variable a is not declared",
		"UnsupportedOperand: variable c is not declared",
	}
	if len(res.Errors) != len(want) {
		t.Fatalf("got errors %v, want %v", res.Errors, want)
	}
	for i, w := range want {
		if got := res.Errors[i].Error(); got != w {
			t.Errorf("error %d = %q, want %q", i, got, w)
		}
	}
}

func TestTranslate_ErrorKindsUnwrap(t *testing.T) {
	res := translate(t, "(a and b) + not 1 + true", Options{}).(*Failure)
	want := []error{ErrUnsupportedExpression, ErrUnsupportedOperation, ErrUnsupportedOperand}
	if len(res.Errors) != len(want) {
		t.Fatalf("got %v", res.Errors)
	}
	for i, sentinel := range want {
		if !errors.Is(res.Errors[i], sentinel) {
			t.Errorf("error %d (%v) should unwrap to %v", i, res.Errors[i], sentinel)
		}
	}
}

func TestTranslate_Encoding(t *testing.T) {
	res, ok := translate(t, "1", Options{Encoding: "ISO-8859-1"}).(*Success)
	if !ok {
		t.Fatal("translation failed")
	}
	if res.Encoding == "" {
		t.Error("the canonical encoding name should be reported")
	}
	if !strings.HasPrefix(string(res.Bytes), "section .text\n") {
		t.Errorf("ASCII output should be unchanged, got %q", res.Bytes[:20])
	}

	fail, ok := translate(t, "1", Options{Encoding: "klingon-8"}).(*Failure)
	if !ok {
		t.Fatal("an unknown encoding should fail")
	}
	if fail.Errors[0].Kind != UnsupportedEncoding || !errors.Is(fail.Errors[0], ErrUnknownEncoding) {
		t.Errorf("error = %v", fail.Errors[0])
	}
}

func TestParseDivisionMode(t *testing.T) {
	for in, want := range map[string]DivisionMode{"": SignExtend, "sign": SignExtend, " Zero ": ZeroExtend} {
		got, err := ParseDivisionMode(in)
		if err != nil || got != want {
			t.Errorf("ParseDivisionMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDivisionMode("floor"); !errors.Is(err, ErrUnknownDivisionMode) {
		t.Errorf("expected ErrUnknownDivisionMode, got %v", err)
	}
}
