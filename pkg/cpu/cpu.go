// Package cpu interprets the x86 subset emitted by the compiler. It is a
// test and debugging aid: programs run against a flat byte memory with the
// C library's printf and scanf provided as built-ins.
package cpu

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"exprc/pkg/asm"
)

var (
	ErrDivideError       = errors.New("divide error")
	ErrStepLimit         = errors.New("step limit exceeded")
	ErrMemoryFault       = errors.New("memory access out of bounds")
	ErrUnknownOpcode     = errors.New("unknown instruction")
	ErrBadOperand        = errors.New("bad operand")
	ErrUnresolvedSymbol  = errors.New("unresolved symbol")
	ErrInput             = errors.New("input error")
	ErrProgramTooLarge   = errors.New("program does not fit in memory")
	ErrUnsupportedExtern = errors.New("unsupported extern")
)

// Memory layout. Data sections are placed from DataBase upwards and the stack
// grows down from the end of memory.
const (
	DefaultMemorySize = 1 << 16
	DataBase          = 0x1000
	DefaultMaxSteps   = 1_000_000
)

// Register indices, in the order x86 encodes them.
const (
	EAX = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

var regIndex = map[string]int{
	"eax": EAX, "ecx": ECX, "edx": EDX, "ebx": EBX,
	"esp": ESP, "ebp": EBP, "esi": ESI, "edi": EDI,
}

// RegisterNames lists the registers in encoding order.
var RegisterNames = [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

// Options configures a CPU. Zero values select the defaults.
type Options struct {
	Stdin      io.Reader
	Stdout     io.Writer
	MaxSteps   int
	MemorySize int
}

type CPU struct {
	Regs   [8]uint32
	IP     int // index into prog.Text
	Memory []byte
	Halted bool
	Steps  int

	prog      *asm.Program
	symbols   map[string]uint32 // data label -> address
	callStack []int
	stackTop  uint32

	in       *bufio.Reader
	out      io.Writer
	maxSteps int
}

// New loads prog into a fresh machine. The instruction pointer starts at the
// program's entry label.
func New(prog *asm.Program, opts Options) (*CPU, error) {
	size := opts.MemorySize
	if size <= 0 {
		size = DefaultMemorySize
	}
	c := &CPU{
		Memory:   make([]byte, size),
		prog:     prog,
		symbols:  make(map[string]uint32),
		stackTop: uint32(size),
		maxSteps: opts.MaxSteps,
		out:      opts.Stdout,
	}
	if c.maxSteps <= 0 {
		c.maxSteps = DefaultMaxSteps
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	in := opts.Stdin
	if in == nil {
		in = os.Stdin
	}
	c.in = bufio.NewReader(in)

	addr := uint32(DataBase)
	for _, d := range prog.RData {
		if err := c.place(d, &addr); err != nil {
			return nil, err
		}
	}
	addr = align(addr, 16)
	for _, d := range prog.BSS {
		if err := c.place(d, &addr); err != nil {
			return nil, err
		}
	}

	c.Regs[ESP] = c.stackTop
	c.IP = prog.Entry()
	return c, nil
}

// Load parses assembly text and loads it into a new machine.
func Load(text string, opts Options) (*CPU, error) {
	prog, err := asm.Parse(text)
	if err != nil {
		return nil, err
	}
	return New(prog, opts)
}

func align(v, n uint32) uint32 { return (v + n - 1) &^ (n - 1) }

func (c *CPU) place(d asm.Data, addr *uint32) error {
	*addr = align(*addr, 4)
	end := uint64(*addr) + uint64(len(d.Bytes))
	if end > uint64(c.stackTop)/2 {
		return fmt.Errorf("%w: %s at line %d", ErrProgramTooLarge, d.Label, d.Line)
	}
	copy(c.Memory[*addr:], d.Bytes)
	c.symbols[d.Label] = *addr
	*addr = uint32(end)
	return nil
}

// Symbol returns the address of a data label.
func (c *CPU) Symbol(name string) (uint32, bool) {
	addr, ok := c.symbols[name]
	return addr, ok
}

func (c *CPU) Read32(addr uint32) (uint32, error) {
	if uint64(addr)+4 > uint64(len(c.Memory)) {
		return 0, fmt.Errorf("%w: read at 0x%x", ErrMemoryFault, addr)
	}
	return binary.LittleEndian.Uint32(c.Memory[addr:]), nil
}

func (c *CPU) Write32(addr, val uint32) error {
	if uint64(addr)+4 > uint64(len(c.Memory)) {
		return fmt.Errorf("%w: write at 0x%x", ErrMemoryFault, addr)
	}
	binary.LittleEndian.PutUint32(c.Memory[addr:], val)
	return nil
}

// ReadCString reads a NUL-terminated string starting at ptr.
func (c *CPU) ReadCString(ptr uint32) (string, error) {
	for i := uint64(ptr); i < uint64(len(c.Memory)); i++ {
		if c.Memory[i] == 0 {
			return string(c.Memory[ptr:i]), nil
		}
	}
	return "", fmt.Errorf("%w: unterminated string at 0x%x", ErrMemoryFault, ptr)
}

func (c *CPU) push(v uint32) error {
	c.Regs[ESP] -= 4
	return c.Write32(c.Regs[ESP], v)
}

func (c *CPU) pop() (uint32, error) {
	v, err := c.Read32(c.Regs[ESP])
	if err != nil {
		return 0, err
	}
	c.Regs[ESP] += 4
	return v, nil
}

// arg reads the n-th 32-bit cdecl argument of a built-in call.
func (c *CPU) arg(n int) (uint32, error) {
	return c.Read32(c.Regs[ESP] + uint32(4*n))
}

// address resolves the effective address of a memory operand.
func (c *CPU) address(op asm.Operand) (uint32, error) {
	var base uint32
	if op.Base != "" {
		base = c.Regs[regIndex[op.Base]]
	} else {
		addr, ok := c.symbols[op.Label]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnresolvedSymbol, op.Label)
		}
		base = addr
	}
	return base + uint32(op.Disp), nil
}

// load evaluates a source operand.
func (c *CPU) load(op asm.Operand) (uint32, error) {
	switch op.Kind {
	case asm.OperandRegister:
		return c.Regs[regIndex[op.Reg]], nil
	case asm.OperandImmediate:
		return uint32(op.Imm), nil
	case asm.OperandLabel:
		addr, ok := c.symbols[op.Label]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnresolvedSymbol, op.Label)
		}
		return addr, nil
	case asm.OperandMemory:
		addr, err := c.address(op)
		if err != nil {
			return 0, err
		}
		return c.Read32(addr)
	}
	return 0, fmt.Errorf("%w: %s", ErrBadOperand, op)
}

// store writes to a destination operand.
func (c *CPU) store(op asm.Operand, v uint32) error {
	switch op.Kind {
	case asm.OperandRegister:
		c.Regs[regIndex[op.Reg]] = v
		return nil
	case asm.OperandMemory:
		addr, err := c.address(op)
		if err != nil {
			return err
		}
		return c.Write32(addr, v)
	}
	return fmt.Errorf("%w: cannot write to %s", ErrBadOperand, op)
}

func expect(in asm.Instruction, n int) error {
	if len(in.Operands) != n {
		return fmt.Errorf("%w: %s expects %d operand(s) on line %d", ErrBadOperand, in.Mnemonic, n, in.Line)
	}
	return nil
}

// Step executes one instruction.
func (c *CPU) Step() error {
	if c.Halted {
		return nil
	}
	if c.IP < 0 || c.IP >= len(c.prog.Text) {
		c.Halted = true
		return nil
	}
	if c.Steps >= c.maxSteps {
		return fmt.Errorf("%w: %d", ErrStepLimit, c.maxSteps)
	}
	c.Steps++

	in := c.prog.Text[c.IP]
	c.IP++
	if err := c.exec(in); err != nil {
		return fmt.Errorf("line %d: %s: %w", in.Line, in, err)
	}
	return nil
}

func (c *CPU) exec(in asm.Instruction) error {
	ops := in.Operands
	switch in.Mnemonic {
	case "nop":
		return nil

	case "mov":
		if err := expect(in, 2); err != nil {
			return err
		}
		v, err := c.load(ops[1])
		if err != nil {
			return err
		}
		return c.store(ops[0], v)

	case "push":
		if err := expect(in, 1); err != nil {
			return err
		}
		v, err := c.load(ops[0])
		if err != nil {
			return err
		}
		return c.push(v)

	case "pop":
		if err := expect(in, 1); err != nil {
			return err
		}
		v, err := c.pop()
		if err != nil {
			return err
		}
		return c.store(ops[0], v)

	case "add", "sub", "imul":
		if err := expect(in, 2); err != nil {
			return err
		}
		a, err := c.load(ops[0])
		if err != nil {
			return err
		}
		b, err := c.load(ops[1])
		if err != nil {
			return err
		}
		switch in.Mnemonic {
		case "add":
			a += b
		case "sub":
			a -= b
		default:
			a = uint32(int32(a) * int32(b))
		}
		return c.store(ops[0], a)

	case "neg":
		if err := expect(in, 1); err != nil {
			return err
		}
		v, err := c.load(ops[0])
		if err != nil {
			return err
		}
		return c.store(ops[0], -v)

	case "cdq":
		if int32(c.Regs[EAX]) < 0 {
			c.Regs[EDX] = math.MaxUint32
		} else {
			c.Regs[EDX] = 0
		}
		return nil

	case "idiv":
		if err := expect(in, 1); err != nil {
			return err
		}
		v, err := c.load(ops[0])
		if err != nil {
			return err
		}
		return c.idiv(int32(v))

	case "call":
		if err := expect(in, 1); err != nil {
			return err
		}
		if ops[0].Kind != asm.OperandLabel {
			return fmt.Errorf("%w: call target %s", ErrBadOperand, ops[0])
		}
		name := ops[0].Label
		if target, ok := c.prog.Labels[name]; ok {
			c.callStack = append(c.callStack, c.IP)
			c.IP = target
			return nil
		}
		if c.prog.IsExtern(name) {
			return c.callExtern(name)
		}
		return fmt.Errorf("%w: %s", ErrUnresolvedSymbol, name)

	case "ret":
		if len(c.callStack) == 0 {
			c.Halted = true
			return nil
		}
		c.IP = c.callStack[len(c.callStack)-1]
		c.callStack = c.callStack[:len(c.callStack)-1]
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownOpcode, in.Mnemonic)
}

// idiv divides edx:eax by divisor like the hardware instruction, faulting on
// a zero divisor or a quotient that does not fit in 32 bits.
func (c *CPU) idiv(divisor int32) error {
	if divisor == 0 {
		return fmt.Errorf("%w: division by zero", ErrDivideError)
	}
	dividend := int64(uint64(c.Regs[EDX])<<32 | uint64(c.Regs[EAX]))
	q := dividend / int64(divisor)
	r := dividend % int64(divisor)
	if q > math.MaxInt32 || q < math.MinInt32 {
		return fmt.Errorf("%w: quotient overflow", ErrDivideError)
	}
	c.Regs[EAX] = uint32(int32(q))
	c.Regs[EDX] = uint32(int32(r))
	return nil
}

// Run executes until the program returns from its entry point.
func (c *CPU) Run() error {
	for !c.Halted {
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// ExitCode is the value of eax, meaningful once the program has halted.
func (c *CPU) ExitCode() int32 { return int32(c.Regs[EAX]) }

// State is a comparable snapshot of everything a program can observe.
type State struct {
	Registers map[string]int32
	Stack     []int32           // live words, from esp up to the top of memory
	BSS       map[string][]byte // label -> contents
}

func (c *CPU) State() State {
	s := State{
		Registers: make(map[string]int32, len(RegisterNames)),
		BSS:       make(map[string][]byte, len(c.prog.BSS)),
	}
	for i, name := range RegisterNames {
		s.Registers[name] = int32(c.Regs[i])
	}
	for addr := c.Regs[ESP]; uint64(addr)+4 <= uint64(c.stackTop); addr += 4 {
		v, _ := c.Read32(addr)
		s.Stack = append(s.Stack, int32(v))
	}
	for _, d := range c.prog.BSS {
		addr := c.symbols[d.Label]
		s.BSS[d.Label] = append([]byte(nil), c.Memory[addr:addr+uint32(len(d.Bytes))]...)
	}
	return s
}
