package xjson

import (
	"encoding/json"
	"fmt"
	"io"
)

// Write 将 v 以缩进格式写入 w，末尾带换行。
func Write(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("xjson: encode %T: %w", v, err)
	}
	return nil
}
