package chunker

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// grammar ties a tree-sitter language to the node types that define
// chunk-worthy symbols in it.
type grammar struct {
	name    string
	lang    *sitter.Language
	symbols map[string]SymbolKind
}

var grammars = map[string]*grammar{
	"go": {
		name: "go",
		lang: golang.GetLanguage(),
		symbols: map[string]SymbolKind{
			"function_declaration": SymbolFunction,
			"method_declaration":   SymbolMethod,
			"type_declaration":     SymbolType,
		},
	},
	"python": {
		name: "python",
		lang: python.GetLanguage(),
		symbols: map[string]SymbolKind{
			"function_definition": SymbolFunction,
			"class_definition":    SymbolClass,
		},
	},
	"javascript": {
		name: "javascript",
		lang: javascript.GetLanguage(),
		symbols: map[string]SymbolKind{
			"function_declaration": SymbolFunction,
			"class_declaration":    SymbolClass,
			"method_definition":    SymbolMethod,
		},
	},
	"typescript": {
		name: "typescript",
		lang: typescript.GetLanguage(),
		symbols: map[string]SymbolKind{
			"function_declaration":   SymbolFunction,
			"class_declaration":      SymbolClass,
			"interface_declaration":  SymbolInterface,
			"type_alias_declaration": SymbolType,
			"enum_declaration":       SymbolType,
			"method_definition":      SymbolMethod,
		},
	},
	"tsx": {
		name: "tsx",
		lang: tsx.GetLanguage(),
		symbols: map[string]SymbolKind{
			"function_declaration":   SymbolFunction,
			"class_declaration":      SymbolClass,
			"interface_declaration":  SymbolInterface,
			"type_alias_declaration": SymbolType,
			"enum_declaration":       SymbolType,
			"method_definition":      SymbolMethod,
		},
	},
}

// astLanguages maps file extensions to grammar names. Only these languages
// take the AST path; everything else uses the character splitter.
var astLanguages = map[string]string{
	".go":  "go",
	".py":  "python",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "tsx",
}

// extLanguages labels extensions the AST path does not cover. The label is
// stored as chunk metadata for filtering, nothing parses these.
var extLanguages = map[string]string{
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".tf":    "terraform",
	".md":    "markdown",
	".rst":   "restructuredtext",
	".txt":   "text",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
}

// DetectLanguage labels a file by extension. Unknown extensions return "".
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if name, ok := astLanguages[ext]; ok {
		return name
	}
	return extLanguages[ext]
}

// grammarForPath returns the tree-sitter grammar for a file, if the
// language has one.
func grammarForPath(path string) (*grammar, bool) {
	name, ok := astLanguages[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, false
	}
	g, ok := grammars[name]
	return g, ok
}

// grammarForName resolves a grammar by language name or common alias, used
// for fenced code blocks whose info string names the language.
func grammarForName(name string) (*grammar, bool) {
	switch strings.ToLower(name) {
	case "go", "golang":
		return grammars["go"], true
	case "python", "py":
		return grammars["python"], true
	case "javascript", "js", "jsx", "node":
		return grammars["javascript"], true
	case "typescript", "ts":
		return grammars["typescript"], true
	case "tsx":
		return grammars["tsx"], true
	default:
		return nil, false
	}
}
