package architecture_test

import (
	"bufio"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// layerRules keeps the dependency direction honest: leaves stay leaves and
// the composition root stays at the top. allow prefixes are exceptions to
// the disallow prefixes and win when both match.
type layerRules struct {
	disallow []string
	allow    []string
}

func rulesFor(modulePath, rel string) layerRules {
	mp := modulePath + "/internal/"
	switch {
	case strings.HasPrefix(rel, "internal/platform/"):
		return layerRules{disallow: []string{mp}, allow: []string{mp + "platform/"}}
	case strings.HasPrefix(rel, "internal/domain/"):
		return layerRules{disallow: []string{mp}, allow: []string{mp + "domain/"}}
	case strings.HasPrefix(rel, "internal/storage/"):
		return layerRules{disallow: []string{mp}, allow: []string{mp + "storage/"}}
	case strings.HasPrefix(rel, "internal/clients/"):
		return layerRules{disallow: []string{
			mp + "http/", mp + "services/", mp + "pipeline/", mp + "worker/", mp + "data/", mp + "app/",
		}}
	case strings.HasPrefix(rel, "internal/data/"):
		return layerRules{disallow: []string{
			mp + "http/", mp + "services/", mp + "pipeline/", mp + "worker/", mp + "app/",
		}}
	case strings.HasPrefix(rel, "internal/services/"):
		return layerRules{disallow: []string{
			mp + "http/", mp + "pipeline/", mp + "worker/", mp + "app/",
		}}
	case strings.HasPrefix(rel, "internal/queue/"),
		strings.HasPrefix(rel, "internal/session/"),
		strings.HasPrefix(rel, "internal/ratelimit/"),
		strings.HasPrefix(rel, "internal/reportid/"),
		strings.HasPrefix(rel, "internal/costs/"),
		strings.HasPrefix(rel, "internal/notify/"),
		strings.HasPrefix(rel, "internal/provider/"),
		strings.HasPrefix(rel, "internal/observability/"),
		strings.HasPrefix(rel, "internal/pipeline/"),
		strings.HasPrefix(rel, "internal/worker/"):
		return layerRules{disallow: []string{mp + "http/", mp + "app/"}}
	default:
		return layerRules{}
	}
}

func TestImportBoundaries(t *testing.T) {
	root, modulePath := moduleInfo(t)

	internalDir := filepath.Join(root, "internal")
	fset := token.NewFileSet()

	type violation struct {
		file string
		imp  string
		rule string
	}
	var violations []violation

	walkErr := filepath.WalkDir(internalDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "vendor", "node_modules", ".gocache":
				return filepath.SkipDir
			default:
				return nil
			}
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		rules := rulesFor(modulePath, rel)
		if len(rules.disallow) == 0 {
			return nil
		}

		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, spec := range f.Imports {
			if spec == nil || spec.Path == nil {
				continue
			}
			imp, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				continue
			}
			allowed := false
			for _, ok := range rules.allow {
				if strings.HasPrefix(imp, ok) {
					allowed = true
					break
				}
			}
			if allowed {
				continue
			}
			for _, bad := range rules.disallow {
				if strings.HasPrefix(imp, bad) {
					violations = append(violations, violation{file: rel, imp: imp, rule: bad})
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		t.Fatalf("walk internal/: %v", walkErr)
	}

	if len(violations) > 0 {
		var b strings.Builder
		b.WriteString("import boundary violations:\n")
		for _, v := range violations {
			fmt.Fprintf(&b, "- %s imports %q (disallowed: %q)\n", v.file, v.imp, v.rule)
		}
		t.Fatal(b.String())
	}
}

// TestAppIsCompositionRoot pins internal/app and internal/http to the top of
// the graph: only cmd wires app, and only app wires the router.
func TestAppIsCompositionRoot(t *testing.T) {
	root, modulePath := moduleInfo(t)

	internalDir := filepath.Join(root, "internal")
	fset := token.NewFileSet()

	type violation struct {
		file string
		imp  string
	}
	var violations []violation

	walkErr := filepath.WalkDir(internalDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "app" && filepath.Dir(path) == internalDir {
				return filepath.SkipDir
			}
			if d.Name() == "http" && filepath.Dir(path) == internalDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, spec := range f.Imports {
			if spec == nil || spec.Path == nil {
				continue
			}
			imp, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				continue
			}
			if strings.HasPrefix(imp, modulePath+"/internal/app") || strings.HasPrefix(imp, modulePath+"/internal/http") {
				violations = append(violations, violation{file: rel, imp: imp})
				break
			}
		}
		return nil
	})
	if walkErr != nil {
		t.Fatalf("walk internal/: %v", walkErr)
	}

	if len(violations) > 0 {
		var b strings.Builder
		b.WriteString("wiring-layer imports found below the composition root:\n")
		for _, v := range violations {
			fmt.Fprintf(&b, "- %s imports %q\n", v.file, v.imp)
		}
		t.Fatal(b.String())
	}
}

func moduleInfo(t *testing.T) (root, modulePath string) {
	t.Helper()
	start, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	root, err = findModuleRoot(start)
	if err != nil {
		t.Fatalf("find module root: %v", err)
	}
	modulePath, err = readModulePath(filepath.Join(root, "go.mod"))
	if err != nil {
		t.Fatalf("read module path: %v", err)
	}
	return root, modulePath
}

func findModuleRoot(start string) (string, error) {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found from %s", start)
		}
		dir = parent
	}
}

func readModulePath(goModPath string) (string, error) {
	f, err := os.Open(goModPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if !strings.HasPrefix(line, "module ") {
			continue
		}
		mp := strings.TrimSpace(strings.TrimPrefix(line, "module "))
		if mp == "" {
			return "", fmt.Errorf("empty module path in %s", goModPath)
		}
		return mp, nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("module path not found in %s", goModPath)
}
