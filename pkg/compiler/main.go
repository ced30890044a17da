// Package compiler implements a small expression language that compiles to
// 32-bit x86 assembly in NASM syntax.
//
// Pipeline: source → Lex → Parse → Fold → CollectIdentifiers → Translate → NASM text
//
// Lexing and parsing never stop at the first problem: each stage collects
// every error it finds, and a stage only runs when the previous one reported
// none. Compile drives the whole pipeline.
package compiler
