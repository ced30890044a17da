package cpu

import (
	"io"
	"strings"
	"testing"

	"exprc/pkg/asm"
)

// arithmeticBlock is a straight-line stack machine sequence like the ones
// the compiler emits, repeated to give the dispatch loop some work.
var arithmeticBlock = strings.Repeat(`  push 7
  push 3
  pop ebx
  pop eax
  imul eax, ebx
  push eax
  mov ebx, 5
  pop eax
  cdq
  idiv ebx
`, 100)

// BenchmarkCPU_Arithmetic measures Step dispatch over a pre-parsed program.
func BenchmarkCPU_Arithmetic(b *testing.B) {
	prog, err := asm.Parse("section .text\nmain:\n" + arithmeticBlock + "  ret\n")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := New(prog, Options{Stdout: io.Discard})
		if err != nil {
			b.Fatal(err)
		}
		if err := c.Run(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCPU_Printf measures the printf built-in.
func BenchmarkCPU_Printf(b *testing.B) {
	src := "section .text\nextern printf\nmain:\n" +
		strings.Repeat("  push 12345\n  push fmt\n  call printf\n  add esp, 8\n", 50) +
		"  ret\nsection .rdata\nfmt: db \"%d\", 10, 0\n"
	prog, err := asm.Parse(src)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := New(prog, Options{Stdout: io.Discard})
		if err != nil {
			b.Fatal(err)
		}
		if err := c.Run(); err != nil {
			b.Fatal(err)
		}
	}
}
