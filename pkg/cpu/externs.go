package cpu

import (
	"fmt"
	"strings"
)

// ExternFunc implements a routine the program declares with extern. It reads
// its cdecl arguments from the stack (the first at [esp]) and leaves its
// result in eax. The caller cleans up the arguments.
type ExternFunc func(c *CPU) error

// externRegistry holds the built-in externs by symbol name.
var externRegistry = map[string]ExternFunc{
	"printf": externPrintf,
	"scanf":  externScanf,
}

// RegisterExtern makes fn callable under name for every CPU created
// afterwards. Registering an existing name replaces it.
func RegisterExtern(name string, fn ExternFunc) {
	externRegistry[name] = fn
}

func (c *CPU) callExtern(name string) error {
	fn, ok := externRegistry[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedExtern, name)
	}
	return fn(c)
}

// externPrintf supports %d and %%. Any other character is copied through.
func externPrintf(c *CPU) error {
	ptr, err := c.arg(0)
	if err != nil {
		return err
	}
	format, err := c.ReadCString(ptr)
	if err != nil {
		return err
	}

	var sb strings.Builder
	next := 1
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' || i+1 >= len(format) {
			sb.WriteByte(ch)
			continue
		}
		i++
		switch format[i] {
		case 'd', 'i':
			v, err := c.arg(next)
			if err != nil {
				return err
			}
			next++
			fmt.Fprintf(&sb, "%d", int32(v))
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}

	n, err := c.out.Write([]byte(sb.String()))
	if err != nil {
		return fmt.Errorf("printf: %w", err)
	}
	c.Regs[EAX] = uint32(n)
	return nil
}

// externScanf supports %d conversions; other characters in the format are
// ignored. eax receives the number of values stored.
func externScanf(c *CPU) error {
	ptr, err := c.arg(0)
	if err != nil {
		return err
	}
	format, err := c.ReadCString(ptr)
	if err != nil {
		return err
	}

	stored := 0
	next := 1
	for i := 0; i+1 < len(format); i++ {
		if format[i] != '%' || (format[i+1] != 'd' && format[i+1] != 'i') {
			continue
		}
		i++
		dst, err := c.arg(next)
		if err != nil {
			return err
		}
		next++
		var v int32
		if _, err := fmt.Fscan(c.in, &v); err != nil {
			return fmt.Errorf("%w: scanf: %v", ErrInput, err)
		}
		if err := c.Write32(dst, uint32(v)); err != nil {
			return err
		}
		stored++
	}
	c.Regs[EAX] = uint32(stored)
	return nil
}
