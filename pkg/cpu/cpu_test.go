package cpu

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"exprc/pkg/asm"
)

// load assembles src into a CPU that reads input and writes to the returned
// buffer.
func load(t *testing.T, src, input string) (*CPU, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	c, err := Load(src, Options{Stdin: strings.NewReader(input), Stdout: &out})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return c, &out
}

// text wraps instructions in a .text section with a main label.
func text(lines ...string) string {
	return "section .text\nglobal main\nmain:\n  " + strings.Join(lines, "\n  ") + "\n"
}

func mustRun(t *testing.T, c *CPU) {
	t.Helper()
	if err := c.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestMovPushPop(t *testing.T) {
	c, _ := load(t, text("mov eax, 7", "push eax", "push 5", "pop ebx", "pop ecx", "ret"), "")
	mustRun(t, c)

	if c.Regs[EAX] != 7 || c.Regs[EBX] != 5 || c.Regs[ECX] != 7 {
		t.Errorf("eax=%d ebx=%d ecx=%d, want 7 5 7", c.Regs[EAX], c.Regs[EBX], c.Regs[ECX])
	}
	if c.Regs[ESP] != DefaultMemorySize {
		t.Errorf("esp = 0x%x, want the top of memory", c.Regs[ESP])
	}
	if !c.Halted || c.Steps != 6 {
		t.Errorf("halted=%v steps=%d", c.Halted, c.Steps)
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   string
		a, b int32
		want int32
	}{
		{"add", "add", 2, 3, 5},
		{"add wraps", "add", math.MaxInt32, 1, math.MinInt32},
		{"sub", "sub", 2, 5, -3},
		{"sub wraps", "sub", math.MinInt32, 1, math.MaxInt32},
		{"imul", "imul", -6, 7, -42},
		{"imul wraps", "imul", 65536, 65536, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := load(t, text(
				"mov eax, "+itoa(tt.a),
				"mov ebx, "+itoa(tt.b),
				tt.op+" eax, ebx",
				"ret",
			), "")
			mustRun(t, c)
			if got := int32(c.Regs[EAX]); got != tt.want {
				t.Errorf("%d %s %d = %d, want %d", tt.a, tt.op, tt.b, got, tt.want)
			}
		})
	}

	c, _ := load(t, text("mov eax, -2147483648", "neg eax", "mov ebx, 5", "neg ebx", "ret"), "")
	mustRun(t, c)
	if int32(c.Regs[EAX]) != math.MinInt32 || int32(c.Regs[EBX]) != -5 {
		t.Errorf("neg: eax=%d ebx=%d", int32(c.Regs[EAX]), int32(c.Regs[EBX]))
	}
}

func TestCdq(t *testing.T) {
	for _, tt := range []struct {
		eax  int32
		want uint32
	}{
		{5, 0},
		{0, 0},
		{-1, math.MaxUint32},
		{math.MinInt32, math.MaxUint32},
	} {
		c, _ := load(t, text("mov edx, 12345", "mov eax, "+itoa(tt.eax), "cdq", "ret"), "")
		mustRun(t, c)
		if c.Regs[EDX] != tt.want {
			t.Errorf("cdq with eax=%d: edx = 0x%x, want 0x%x", tt.eax, c.Regs[EDX], tt.want)
		}
	}
}

func TestIdiv(t *testing.T) {
	tests := []struct {
		name      string
		extend    string
		a, b      int32
		quotient  int32
		remainder int32
		err       error
	}{
		{"positive", "cdq", 7, 2, 3, 1, nil},
		{"negative dividend truncates", "cdq", -7, 2, -3, -1, nil},
		{"negative divisor", "cdq", 7, -2, -3, 1, nil},
		{"zero extended negative", "mov edx, 0", -10, 2, 2147483643, 0, nil},
		{"zero divisor", "cdq", 1, 0, 0, 0, ErrDivideError},
		{"quotient overflow", "cdq", math.MinInt32, -1, 0, 0, ErrDivideError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := load(t, text(
				"mov eax, "+itoa(tt.a),
				tt.extend,
				"mov ebx, "+itoa(tt.b),
				"idiv ebx",
				"ret",
			), "")
			err := c.Run()
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("Run error = %v, want %v", err, tt.err)
				}
				if !strings.Contains(err.Error(), "line 7: idiv ebx") {
					t.Errorf("error %q should name the faulting instruction", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if int32(c.Regs[EAX]) != tt.quotient || int32(c.Regs[EDX]) != tt.remainder {
				t.Errorf("eax=%d edx=%d, want %d %d", int32(c.Regs[EAX]), int32(c.Regs[EDX]), tt.quotient, tt.remainder)
			}
		})
	}
}

func TestMemoryOperands(t *testing.T) {
	src := text(
		"mov dword [x], 41",
		"mov eax, [x]",
		"add eax, 1",
		"mov [x], eax",
		"mov ebx, x",
		"mov ecx, [ebx]",
		"mov [ebx+4], -1",
		"push dword [y]",
		"pop edx",
		"ret",
	) + "section .bss\nx: resd 1\ny: resd 1\n"
	c, _ := load(t, src, "")
	mustRun(t, c)

	addr, ok := c.Symbol("x")
	if !ok || addr != DataBase {
		t.Fatalf("Symbol(x) = 0x%x, %v", addr, ok)
	}
	if c.Regs[EBX] != addr || c.Regs[ECX] != 42 || int32(c.Regs[EDX]) != -1 {
		t.Errorf("ebx=0x%x ecx=%d edx=%d", c.Regs[EBX], c.Regs[ECX], int32(c.Regs[EDX]))
	}
	if v, _ := c.Read32(addr); v != 42 {
		t.Errorf("[x] = %d, want 42", v)
	}
}

func TestDataLayout(t *testing.T) {
	src := text("ret") + "section .rdata\ns: db \"abc\", 0\nt: db \"z\", 0\nsection .bss\nv: resd 1\n"
	c, _ := load(t, src, "")

	s, _ := c.Symbol("s")
	tt, _ := c.Symbol("t")
	v, _ := c.Symbol("v")
	if s != DataBase || tt != DataBase+4 || v%16 != 0 || v <= tt {
		t.Errorf("s=0x%x t=0x%x v=0x%x", s, tt, v)
	}
	if got, err := c.ReadCString(s); err != nil || got != "abc" {
		t.Errorf("ReadCString(s) = %q, %v", got, err)
	}
	if _, ok := c.Symbol("main"); ok {
		t.Error("code labels are not data symbols")
	}
}

func TestCallRet(t *testing.T) {
	src := `section .text
global main
double:
  add eax, eax
  ret
main:
  mov eax, 21
  call double
  ret
`
	c, _ := load(t, src, "")
	if c.IP != 2 {
		t.Fatalf("IP = %d, want the main label", c.IP)
	}
	mustRun(t, c)
	if c.Regs[EAX] != 42 || c.Steps != 5 {
		t.Errorf("eax=%d steps=%d, want 42 5", c.Regs[EAX], c.Steps)
	}
	if c.Regs[ESP] != DefaultMemorySize {
		t.Error("call must not touch the data stack")
	}
}

func TestStepLimit(t *testing.T) {
	var out bytes.Buffer
	c, err := Load(text("call main"), Options{Stdout: &out, MaxSteps: 10})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(); !errors.Is(err, ErrStepLimit) {
		t.Fatalf("Run error = %v, want ErrStepLimit", err)
	}
	if c.Steps != 10 {
		t.Errorf("steps = %d, want 10", c.Steps)
	}
}

func TestFallingOffTheEndHalts(t *testing.T) {
	c, _ := load(t, text("mov eax, 3"), "")
	mustRun(t, c)
	if !c.Halted || c.ExitCode() != 3 {
		t.Errorf("halted=%v exit=%d", c.Halted, c.ExitCode())
	}
	if err := c.Step(); err != nil || c.Steps != 1 {
		t.Errorf("Step after halt = %v, steps %d", err, c.Steps)
	}
}

func TestPrintf(t *testing.T) {
	src := "section .text\nextern printf\nmain:\n" +
		"  push 42\n  push -3\n  push fmt\n  call printf\n  add esp, 12\n  ret\n" +
		"section .rdata\nfmt: db \"%d and %i is 100%% %x\", 10, 0\n"
	c, out := load(t, src, "")
	mustRun(t, c)

	want := "-3 and 42 is 100% %x\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if c.Regs[EAX] != uint32(len(want)) {
		t.Errorf("eax = %d, want the byte count %d", c.Regs[EAX], len(want))
	}
	if c.Regs[ESP] != DefaultMemorySize {
		t.Errorf("esp = 0x%x after cleanup", c.Regs[ESP])
	}
}

const scanfProgram = `section .text
extern scanf
main:
  push y
  push x
  push fmt
  call scanf
  add esp, 12
  mov ecx, [x]
  mov edx, [y]
  ret
section .rdata
fmt: db "%d %d", 0
section .bss
x: resd 1
y: resd 1
`

func TestScanf(t *testing.T) {
	c, _ := load(t, scanfProgram, " 12\n\t-5 ")
	mustRun(t, c)
	if c.Regs[EAX] != 2 || c.Regs[ECX] != 12 || int32(c.Regs[EDX]) != -5 {
		t.Errorf("eax=%d ecx=%d edx=%d", c.Regs[EAX], c.Regs[ECX], int32(c.Regs[EDX]))
	}

	for _, input := range []string{"", "12", "12 x", "99999999999 1"} {
		c, _ := load(t, scanfProgram, input)
		if err := c.Run(); !errors.Is(err, ErrInput) {
			t.Errorf("input %q: Run error = %v, want ErrInput", input, err)
		}
	}
}

func TestExterns(t *testing.T) {
	c, _ := load(t, "section .text\nextern puts\nmain:\n  call puts\n  ret\n", "")
	if err := c.Run(); !errors.Is(err, ErrUnsupportedExtern) {
		t.Errorf("Run error = %v, want ErrUnsupportedExtern", err)
	}

	RegisterExtern("cpu_test_answer", func(c *CPU) error {
		v, err := c.arg(0)
		if err != nil {
			return err
		}
		c.Regs[EAX] = v * 2
		return nil
	})
	c, _ = load(t, "section .text\nextern cpu_test_answer\nmain:\n  push 21\n  call cpu_test_answer\n  add esp, 4\n  ret\n", "")
	mustRun(t, c)
	if c.Regs[EAX] != 42 {
		t.Errorf("eax = %d, want 42", c.Regs[EAX])
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name string
		src  string
		err  error
	}{
		{"unknown instruction", text("jmp main"), ErrUnknownOpcode},
		{"store to immediate", text("mov 5, eax"), ErrBadOperand},
		{"missing operand", text("push"), ErrBadOperand},
		{"too many operands", text("neg eax, ebx"), ErrBadOperand},
		{"call through register", text("call eax"), ErrBadOperand},
		{"read out of bounds", text("mov eax, -2", "mov ebx, [eax]"), ErrMemoryFault},
		{"stack overflow", text("mov esp, 2", "push 1"), ErrMemoryFault},
		{"pop from empty stack", text("pop eax"), ErrMemoryFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := load(t, tt.src, "")
			if err := c.Run(); !errors.Is(err, tt.err) {
				t.Errorf("Run error = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("section .text\n  mov eax, [x", Options{}); !errors.Is(err, asm.ErrSyntax) {
		t.Errorf("Load error = %v, want asm.ErrSyntax", err)
	}

	src := text("ret") + "section .bss\nbuf: resd 1\n"
	if _, err := Load(src, Options{MemorySize: 2 * DataBase}); !errors.Is(err, ErrProgramTooLarge) {
		t.Errorf("Load error = %v, want ErrProgramTooLarge", err)
	}
}

func TestState(t *testing.T) {
	c, _ := load(t, text("push 1", "push -2", "mov [v], 7", "mov eax, 9", "ret")+"section .bss\nv: resd 1\n", "")
	mustRun(t, c)

	s := c.State()
	if s.Registers["eax"] != 9 || s.Registers["esp"] != DefaultMemorySize-8 {
		t.Errorf("registers = %v", s.Registers)
	}
	if !reflect.DeepEqual(s.Stack, []int32{-2, 1}) {
		t.Errorf("stack = %v, want [-2 1]", s.Stack)
	}
	if !reflect.DeepEqual(s.BSS, map[string][]byte{"v": {7, 0, 0, 0}}) {
		t.Errorf("bss = %v", s.BSS)
	}

	// the snapshot does not alias machine memory
	s.BSS["v"][0] = 99
	if again := c.State(); again.BSS["v"][0] != 7 {
		t.Error("State must copy memory")
	}
}

func itoa(v int32) string { return strconv.FormatInt(int64(v), 10) }
