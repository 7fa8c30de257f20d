package dataset

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// PathFromURI resolves a file: URI to an absolute filesystem path.
//
// Accepted forms include file:///path, file://localhost/path, file:/path,
// and the DOS drive variants file:///c:/path and file:c|/path. A URI that
// resolves to a relative path is rejected, since the agent has no base
// directory to resolve it against.
func PathFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, "file:") {
		return "", fmt.Errorf("%w: %s", ErrInvalidFileURI, uri)
	}
	path := uri[5:]

	if strings.HasPrefix(path, "///") {
		// Remove empty authority.
		path = path[2:]
	} else if strings.HasPrefix(path, "//localhost/") {
		// Remove localhost authority.
		path = path[11:]
	}
	if strings.HasPrefix(path, "///") || (len(path) >= 3 && path[0] == '/' && (path[2] == ':' || path[2] == '|')) {
		// Remove slash before DOS drive.
		path = path[1:]
	}
	if len(path) >= 2 && path[1] == '|' {
		// Replace bar with colon in DOS drive.
		path = path[:1] + ":" + path[2:]
	}

	decoded, err := url.PathUnescape(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidFileURI, uri)
	}

	if !filepath.IsAbs(decoded) {
		return "", fmt.Errorf("%w: %s", ErrNonAbsoluteURI, uri)
	}
	return decoded, nil
}
