package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/internal/util"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(ctx context.Context) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx context.Context) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx context.Context) (string, error) { return f(ctx) }

// Instruction represents either a static instruction string or a dynamic provider.
// Text from either source may reference {{.AgentName}} and {{.Description}}.
type Instruction struct {
	text     string
	provider Provider
	doc      *InstructionDocument
	rendered bool // text is final; Resolve returns it as is
}

// InstructionDocument is an instruction loaded from a file.
type InstructionDocument struct {
	Path     string
	Text     string
	Title    string   // First top-level markdown heading, if any
	Sections []string // Headings of level 2 in document order
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// LoadInstruction reads a .txt or .md instruction file. Markdown files are
// parsed to expose their title and section outline.
func LoadInstruction(path string) (Instruction, error) {
	doc, err := ParseInstructionFile(path)
	if err != nil {
		return Instruction{}, err
	}
	if strings.Contains(doc.Text, "{{") {
		if _, err := util.ParseTemplate(doc.Text); err != nil {
			return Instruction{}, &core.ConfigurationError{
				Field:   "instructions",
				Message: fmt.Sprintf("invalid template in %s", path),
				Err:     err,
			}
		}
	}
	return Instruction{text: doc.Text, doc: doc}, nil
}

// ParseInstructionFile loads path into an InstructionDocument.
func ParseInstructionFile(path string) (*InstructionDocument, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".markdown", ".txt", "":
	default:
		return nil, core.NewConfigurationError("instructions", "unsupported instruction file type %q", ext)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ConfigurationError{Field: "instructions", Message: "read instruction file", Err: err}
	}

	content := strings.TrimSpace(string(raw))
	if content == "" {
		return nil, core.NewConfigurationError("instructions", "instruction file %s is empty", path)
	}

	doc := &InstructionDocument{Path: path, Text: content}
	if ext == ".md" || ext == ".markdown" {
		doc.Title, doc.Sections = outline([]byte(content))
	}
	return doc, nil
}

// outline walks the markdown AST collecting the first h1 and every h2.
func outline(source []byte) (string, []string) {
	root := goldmark.New().Parser().Parse(text.NewReader(source))

	var (
		title    string
		sections []string
	)
	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := node.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		label := headingText(heading, source)
		switch {
		case heading.Level == 1 && title == "":
			title = label
		case heading.Level == 2:
			sections = append(sections, label)
		}
		return ast.WalkSkipChildren, nil
	})

	return title, sections
}

func headingText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(source))
		case *ast.String:
			buf.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether no instruction was supplied.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Document returns the file the instruction was loaded from, or nil.
func (i Instruction) Document() *InstructionDocument { return i.doc }

// Bind renders static text with data once, so template errors surface as a
// *core.ConfigurationError before the first call. Provider-backed
// instructions are returned unchanged and rendered on every Resolve.
func (i Instruction) Bind(data map[string]any) (Instruction, error) {
	if i.provider != nil || i.rendered {
		return i, nil
	}
	text, err := render(i.text, data)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{text: text, doc: i.doc, rendered: true}, nil
}

// Resolve returns the instruction text, invoking the provider if needed, and
// expands template placeholders with data.
func (i Instruction) Resolve(ctx context.Context, data map[string]any) (string, error) {
	if i.rendered {
		return i.text, nil
	}
	raw := i.text
	if i.provider != nil {
		var err error
		if raw, err = i.provider.Instruction(ctx); err != nil {
			return "", fmt.Errorf("resolve instruction: %w", err)
		}
	}
	return render(raw, data)
}

func render(text string, data map[string]any) (string, error) {
	out, err := util.RenderTemplate(text, data)
	if err != nil {
		return "", &core.ConfigurationError{Field: "instruction", Message: "render instruction template", Err: err}
	}
	return out, nil
}
