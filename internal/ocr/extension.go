package ocr

import (
	"path"
	"strings"
)

var supportedExtensions = map[string]struct{}{
	"jpeg": {},
	"jpg":  {},
	"png":  {},
	"bmp":  {},
	"pdf":  {},
	"tiff": {},
	"tif":  {},
}

// SupportedExtension reports whether the Read API accepts files with this
// name's extension. The comparison ignores case.
func SupportedExtension(fileName string) bool {
	ext := strings.TrimPrefix(path.Ext(fileName), ".")
	if ext == "" {
		return false
	}
	_, ok := supportedExtensions[strings.ToLower(ext)]
	return ok
}
