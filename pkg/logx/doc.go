// Package logx configures structured logging for the bot.
//
// Logger is a thin wrapper over zerolog:
//   - console output is human readable (short timestamp + short caller)
//   - file output stays JSON-structured
//   - an optional Telegram sink mirrors warnings to an operator chat,
//     filtered by min level and rate limited
package logx
