package server

import (
	"embed"
	"fmt"
)

//go:embed static
var embedFS embed.FS

// indexHTML は視聴ページの内容を返す
func indexHTML() ([]byte, error) {
	data, err := embedFS.ReadFile("static/index.html")
	if err != nil {
		return nil, fmt.Errorf("埋め込みindex.htmlの読み込みに失敗: %w", err)
	}
	return data, nil
}
