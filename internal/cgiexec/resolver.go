// Package cgiexec decides which request paths are CGI scripts and executes them.
//
// A Resolver maps a URL path onto the filesystem below a root directory. Any file found in a
// CGI-eligible directory is a script; the directory "/" makes every directory eligible.
// A Runner turns a resolved script into an http.Handler backed by net/http/cgi.
package cgiexec

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound      = errors.New("no such file or script")
	ErrNotPlainFile  = errors.New("cgi script is not a plain file")
	ErrNotExecutable = errors.New("cgi script is not executable")
)

// Kind classifies a resolved request path.
type Kind int

const (
	KindDirectory Kind = iota
	KindStatic
	KindScript
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindStatic:
		return "static"
	case KindScript:
		return "script"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Target is the result of resolving a request path.
type Target struct {
	Kind Kind
	// URLPath is the collapsed request path.
	URLPath string
	// FilePath is the filesystem location of the directory, file or script.
	FilePath string
	// ScriptName is the URL path of the script, e.g. "/sub/hello.py".
	ScriptName string
	// PathInfo is what follows ScriptName, e.g. "/extra/info". Empty when nothing follows.
	PathInfo string
	// PathTranslated maps PathInfo onto the filesystem root. Empty when PathInfo is.
	PathTranslated string
	// Interpreter is the configured command for the script's extension, if any.
	Interpreter string
}

// Resolver maps URL paths to Targets.
type Resolver struct {
	root           string
	directories    []string
	interpreters   map[string]string
	staticFallback bool
}

// ResolverOptions configure a Resolver.
type ResolverOptions struct {
	// Root is the directory the URL space maps onto.
	Root string
	// Directories lists URL directories holding scripts. "/" matches every directory.
	Directories []string
	// Interpreters maps lowercase extensions (without dot) to a command line.
	Interpreters map[string]string
	// StaticFallback serves non-executable files in script directories as static files.
	StaticFallback bool
}

// NewResolver validates opts and returns a Resolver with an absolute root.
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.Root == "" {
		return nil, errors.New("root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	dirs := make([]string, 0, len(opts.Directories))
	for _, d := range opts.Directories {
		dirs = append(dirs, CollapsePath(d))
	}
	return &Resolver{
		root:           root,
		directories:    dirs,
		interpreters:   opts.Interpreters,
		staticFallback: opts.StaticFallback,
	}, nil
}

// Root returns the absolute filesystem root.
func (r *Resolver) Root() string {
	return r.root
}

// CollapsePath normalizes a URL path: it always starts with "/", has no "." or ".." segments,
// and never climbs above "/". A trailing slash is dropped.
func CollapsePath(p string) string {
	return path.Clean("/" + p)
}

// IsScriptDir reports whether the URL directory dir may hold CGI scripts.
func (r *Resolver) IsScriptDir(dir string) bool {
	dir = CollapsePath(dir)
	for _, d := range r.directories {
		if d == "/" || dir == d || strings.HasPrefix(dir, d+"/") {
			return true
		}
	}
	return false
}

// Resolve walks urlPath segment by segment below the root. The first segment that is not a
// directory ends the walk; whatever follows it becomes PathInfo.
func (r *Resolver) Resolve(urlPath string) (Target, error) {
	clean := CollapsePath(urlPath)
	var segments []string
	if clean != "/" {
		segments = strings.Split(clean[1:], "/")
	}

	dir := "/"
	for i := range segments {
		urlSoFar := "/" + strings.Join(segments[:i+1], "/")
		fsPath := filepath.Join(r.root, filepath.FromSlash(urlSoFar))

		fi, err := os.Stat(fsPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return Target{}, fmt.Errorf("%w: %s", ErrNotFound, urlSoFar)
			}
			return Target{}, fmt.Errorf("stat %s: %w", urlSoFar, err)
		}
		if fi.IsDir() {
			dir = urlSoFar
			continue
		}

		rest := segments[i+1:]
		if !r.IsScriptDir(dir) {
			if len(rest) > 0 {
				return Target{}, fmt.Errorf("%w: %s", ErrNotFound, clean)
			}
			return Target{Kind: KindStatic, URLPath: clean, FilePath: fsPath}, nil
		}
		return r.script(clean, urlSoFar, rest, fsPath, fi)
	}

	return Target{Kind: KindDirectory, URLPath: clean, FilePath: filepath.Join(r.root, filepath.FromSlash(clean))}, nil
}

func (r *Resolver) script(clean, scriptName string, rest []string, fsPath string, fi fs.FileInfo) (Target, error) {
	if !fi.Mode().IsRegular() {
		return Target{}, fmt.Errorf("%w: %s", ErrNotPlainFile, scriptName)
	}

	t := Target{
		Kind:        KindScript,
		URLPath:     clean,
		FilePath:    fsPath,
		ScriptName:  scriptName,
		Interpreter: r.interpreterFor(fsPath),
	}
	if len(rest) > 0 {
		t.PathInfo = "/" + strings.Join(rest, "/")
		t.PathTranslated = filepath.Join(r.root, filepath.FromSlash(t.PathInfo))
	}

	if t.Interpreter == "" && fi.Mode().Perm()&0o111 == 0 {
		if r.staticFallback && len(rest) == 0 {
			return Target{Kind: KindStatic, URLPath: clean, FilePath: fsPath}, nil
		}
		return Target{}, fmt.Errorf("%w: %s", ErrNotExecutable, scriptName)
	}
	return t, nil
}

func (r *Resolver) interpreterFor(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
	if ext == "" {
		return ""
	}
	return r.interpreters[ext]
}
