// Package logx configures pricewatch's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable (short timestamp + short caller), file output JSON-structured,
// and allows an optional Telegram sink gated by min-level and rate limit.
package logx
