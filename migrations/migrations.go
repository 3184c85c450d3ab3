// Package migrations はゲートウェイのスキーマ変更SQLを埋め込む。
package migrations

import "embed"

// FS はバイナリに埋め込まれたマイグレーションファイル。
//
//go:embed *.sql
var FS embed.FS
