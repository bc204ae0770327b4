// Package model defines shared data types used across the market stream.
//
// Conventions:
//   - Prices: shopspring/decimal, absent fields are optional.None
//   - Symbols: trimmed, upper-case (see NormalizeSymbol)
//   - Timestamps: time.Time, UTC
package model
