// Package logx is the relay's structured logging on top of zerolog.
//
// Console output is human-readable, file output is JSON, and an optional
// alert sink forwards WARN and above to an operator through NAVER WORKS,
// rate limited and never blocking the caller.
package logx
