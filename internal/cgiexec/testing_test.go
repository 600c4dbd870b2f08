package cgiexec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// envScript prints the CGI variables the tests look at, the command line and the request body.
const envScript = `#!/bin/sh
printf 'Content-Type: text/plain\r\n'
printf 'X-Script: env\r\n\r\n'
echo "SCRIPT_NAME=$SCRIPT_NAME"
echo "PATH_INFO=$PATH_INFO"
echo "PATH_TRANSLATED=$PATH_TRANSLATED"
echo "QUERY_STRING=$QUERY_STRING"
echo "REQUEST_METHOD=$REQUEST_METHOD"
echo "SERVER_SOFTWARE=$SERVER_SOFTWARE"
echo "ARGS=$*"
echo "PWD=$(pwd)"
echo "BODY=$(cat)"
`

// writeFile creates name below root with the given mode, creating parent directories.
func writeFile(t *testing.T, root, name, content string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), mode))
	require.NoError(t, os.Chmod(p, mode))
	return p
}

// newTree lays out a small document root:
//
//	/index.html           static page
//	/hello.sh             executable script
//	/sub/deep/env.sh      executable script
//	/sub/notes.txt        plain file, not executable
//	/sub/greet.sh         plain file, run through the "sh" interpreter
//	/cgi-bin/run.sh       executable script
func newTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "index.html", "<h1>hi</h1>", 0o644)
	writeFile(t, root, "hello.sh", envScript, 0o755)
	writeFile(t, root, "sub/deep/env.sh", envScript, 0o755)
	writeFile(t, root, "sub/notes.txt", "notes", 0o644)
	writeFile(t, root, "sub/greet.sh", envScript, 0o644)
	writeFile(t, root, "cgi-bin/run.sh", envScript, 0o755)
	return root
}
